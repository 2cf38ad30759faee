// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package svc

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrUnknownScalabilityMode = errors.New("unknown scalability mode")

type ScalabilityMode int

const (
	ScalabilityModeL1T1 ScalabilityMode = iota
	ScalabilityModeL1T2
	ScalabilityModeL1T3
	ScalabilityModeL2T1
	ScalabilityModeL2T1h
	ScalabilityModeL2T1Key
	ScalabilityModeL2T2
	ScalabilityModeL2T2h
	ScalabilityModeL2T2Key
	ScalabilityModeL2T2KeyShift
	ScalabilityModeL2T3
	ScalabilityModeL2T3h
	ScalabilityModeL2T3Key
	ScalabilityModeL3T1
	ScalabilityModeL3T1h
	ScalabilityModeL3T1Key
	ScalabilityModeL3T2
	ScalabilityModeL3T2h
	ScalabilityModeL3T2Key
	ScalabilityModeL3T3
	ScalabilityModeL3T3h
	ScalabilityModeL3T3Key
	ScalabilityModeS2T1
	ScalabilityModeS2T1h
	ScalabilityModeS2T2
	ScalabilityModeS2T2h
	ScalabilityModeS2T3
	ScalabilityModeS2T3h
	ScalabilityModeS3T1
	ScalabilityModeS3T1h
	ScalabilityModeS3T2
	ScalabilityModeS3T2h
	ScalabilityModeS3T3
	ScalabilityModeS3T3h
)

type InterLayerPredMode int

const (
	InterLayerPredModeOff InterLayerPredMode = iota
	InterLayerPredModeOn
	// only key pictures predict across spatial layers
	InterLayerPredModeOnKeyPic
)

func (i InterLayerPredMode) String() string {
	switch i {
	case InterLayerPredModeOff:
		return "Off"
	case InterLayerPredModeOn:
		return "On"
	case InterLayerPredModeOnKeyPic:
		return "OnKeyPic"
	default:
		return fmt.Sprintf("InterLayerPredMode(%d)", int(i))
	}
}

type ResolutionRatio int

const (
	ResolutionRatioNone ResolutionRatio = iota
	ResolutionRatioTwoToOne
	ResolutionRatioThreeToTwo
)

func (r ResolutionRatio) String() string {
	switch r {
	case ResolutionRatioTwoToOne:
		return "2:1"
	case ResolutionRatioThreeToTwo:
		return "1.5:1"
	default:
		return "-"
	}
}

type scalabilityModeParams struct {
	name           string
	numSpatial     int
	numTemporal    int
	interLayerPred InterLayerPredMode
	ratio          ResolutionRatio
	shift          bool
}

var scalabilityModes = []scalabilityModeParams{
	ScalabilityModeL1T1:         {"L1T1", 1, 1, InterLayerPredModeOff, ResolutionRatioNone, false},
	ScalabilityModeL1T2:         {"L1T2", 1, 2, InterLayerPredModeOff, ResolutionRatioNone, false},
	ScalabilityModeL1T3:         {"L1T3", 1, 3, InterLayerPredModeOff, ResolutionRatioNone, false},
	ScalabilityModeL2T1:         {"L2T1", 2, 1, InterLayerPredModeOn, ResolutionRatioTwoToOne, false},
	ScalabilityModeL2T1h:        {"L2T1h", 2, 1, InterLayerPredModeOn, ResolutionRatioThreeToTwo, false},
	ScalabilityModeL2T1Key:      {"L2T1_KEY", 2, 1, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, false},
	ScalabilityModeL2T2:         {"L2T2", 2, 2, InterLayerPredModeOn, ResolutionRatioTwoToOne, false},
	ScalabilityModeL2T2h:        {"L2T2h", 2, 2, InterLayerPredModeOn, ResolutionRatioThreeToTwo, false},
	ScalabilityModeL2T2Key:      {"L2T2_KEY", 2, 2, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, false},
	ScalabilityModeL2T2KeyShift: {"L2T2_KEY_SHIFT", 2, 2, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, true},
	ScalabilityModeL2T3:         {"L2T3", 2, 3, InterLayerPredModeOn, ResolutionRatioTwoToOne, false},
	ScalabilityModeL2T3h:        {"L2T3h", 2, 3, InterLayerPredModeOn, ResolutionRatioThreeToTwo, false},
	ScalabilityModeL2T3Key:      {"L2T3_KEY", 2, 3, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, false},
	ScalabilityModeL3T1:         {"L3T1", 3, 1, InterLayerPredModeOn, ResolutionRatioTwoToOne, false},
	ScalabilityModeL3T1h:        {"L3T1h", 3, 1, InterLayerPredModeOn, ResolutionRatioThreeToTwo, false},
	ScalabilityModeL3T1Key:      {"L3T1_KEY", 3, 1, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, false},
	ScalabilityModeL3T2:         {"L3T2", 3, 2, InterLayerPredModeOn, ResolutionRatioTwoToOne, false},
	ScalabilityModeL3T2h:        {"L3T2h", 3, 2, InterLayerPredModeOn, ResolutionRatioThreeToTwo, false},
	ScalabilityModeL3T2Key:      {"L3T2_KEY", 3, 2, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, false},
	ScalabilityModeL3T3:         {"L3T3", 3, 3, InterLayerPredModeOn, ResolutionRatioTwoToOne, false},
	ScalabilityModeL3T3h:        {"L3T3h", 3, 3, InterLayerPredModeOn, ResolutionRatioThreeToTwo, false},
	ScalabilityModeL3T3Key:      {"L3T3_KEY", 3, 3, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, false},
	ScalabilityModeS2T1:         {"S2T1", 2, 1, InterLayerPredModeOff, ResolutionRatioTwoToOne, false},
	ScalabilityModeS2T1h:        {"S2T1h", 2, 1, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false},
	ScalabilityModeS2T2:         {"S2T2", 2, 2, InterLayerPredModeOff, ResolutionRatioTwoToOne, false},
	ScalabilityModeS2T2h:        {"S2T2h", 2, 2, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false},
	ScalabilityModeS2T3:         {"S2T3", 2, 3, InterLayerPredModeOff, ResolutionRatioTwoToOne, false},
	ScalabilityModeS2T3h:        {"S2T3h", 2, 3, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false},
	ScalabilityModeS3T1:         {"S3T1", 3, 1, InterLayerPredModeOff, ResolutionRatioTwoToOne, false},
	ScalabilityModeS3T1h:        {"S3T1h", 3, 1, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false},
	ScalabilityModeS3T2:         {"S3T2", 3, 2, InterLayerPredModeOff, ResolutionRatioTwoToOne, false},
	ScalabilityModeS3T2h:        {"S3T2h", 3, 2, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false},
	ScalabilityModeS3T3:         {"S3T3", 3, 3, InterLayerPredModeOff, ResolutionRatioTwoToOne, false},
	ScalabilityModeS3T3h:        {"S3T3h", 3, 3, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false},
}

func AllScalabilityModes() []ScalabilityMode {
	modes := make([]ScalabilityMode, 0, len(scalabilityModes))
	for idx := range scalabilityModes {
		modes = append(modes, ScalabilityMode(idx))
	}
	return modes
}

func ScalabilityModeFromString(name string) (ScalabilityMode, error) {
	for idx, params := range scalabilityModes {
		if params.name == name {
			return ScalabilityMode(idx), nil
		}
	}
	return ScalabilityModeL1T1, errors.Wrapf(ErrUnknownScalabilityMode, "%q", name)
}

// MakeScalabilityMode looks up the mode with the given shape. Ratio, prediction
// and shift are ignored for single spatial layer modes.
func MakeScalabilityMode(numSpatial, numTemporal int, interLayerPred InterLayerPredMode, ratio ResolutionRatio, shift bool) (ScalabilityMode, bool) {
	for idx, params := range scalabilityModes {
		if params.numSpatial != numSpatial || params.numTemporal != numTemporal {
			continue
		}
		if numSpatial == 1 || (params.interLayerPred == interLayerPred && params.ratio == ratio && params.shift == shift) {
			return ScalabilityMode(idx), true
		}
	}
	return ScalabilityModeL1T1, false
}

func (s ScalabilityMode) valid() bool {
	return s >= 0 && int(s) < len(scalabilityModes)
}

func (s ScalabilityMode) String() string {
	if !s.valid() {
		return fmt.Sprintf("ScalabilityMode(%d)", int(s))
	}
	return scalabilityModes[s].name
}

func (s ScalabilityMode) NumSpatialLayers() int {
	if !s.valid() {
		return 0
	}
	return scalabilityModes[s].numSpatial
}

func (s ScalabilityMode) NumTemporalLayers() int {
	if !s.valid() {
		return 0
	}
	return scalabilityModes[s].numTemporal
}

func (s ScalabilityMode) InterLayerPredMode() InterLayerPredMode {
	if !s.valid() {
		return InterLayerPredModeOff
	}
	return scalabilityModes[s].interLayerPred
}

func (s ScalabilityMode) ResolutionRatio() ResolutionRatio {
	if !s.valid() {
		return ResolutionRatioNone
	}
	return scalabilityModes[s].ratio
}

func (s ScalabilityMode) IsShiftMode() bool {
	return s.valid() && scalabilityModes[s].shift
}

// IsSimulcast is true for modes with independent spatial streams.
func (s ScalabilityMode) IsSimulcast() bool {
	return s.NumSpatialLayers() > 1 && s.InterLayerPredMode() == InterLayerPredModeOff
}

func (s ScalabilityMode) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *ScalabilityMode) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	mode, err := ScalabilityModeFromString(name)
	if err != nil {
		return err
	}
	*s = mode
	return nil
}

// LimitNumSpatialLayers drops the top spatial layers above maxSpatialLayers,
// keeping temporal layers and the kind of spatial prediction.
func LimitNumSpatialLayers(mode ScalabilityMode, maxSpatialLayers int) ScalabilityMode {
	if !mode.valid() || maxSpatialLayers >= mode.NumSpatialLayers() {
		return mode
	}
	if maxSpatialLayers <= 1 {
		limited, _ := MakeScalabilityMode(1, mode.NumTemporalLayers(), InterLayerPredModeOff, ResolutionRatioNone, false)
		return limited
	}

	// three spatial layers down to two, shift modes only exist with two
	params := scalabilityModes[mode]
	limited, ok := MakeScalabilityMode(maxSpatialLayers, params.numTemporal, params.interLayerPred, params.ratio, false)
	if !ok {
		limited, _ = MakeScalabilityMode(1, params.numTemporal, InterLayerPredModeOff, ResolutionRatioNone, false)
	}
	return limited
}
