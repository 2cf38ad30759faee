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

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

var (
	ErrUnsupportedScalabilityMode = errors.New("unsupported scalability mode")
	ErrNoMatchingTemplate         = errors.New("no template for frame layer")
)

type StreamLayersConfig struct {
	NumSpatialLayers     int
	NumTemporalLayers    int
	UsesReferenceScaling bool
	// resolution of spatial layer i is ScalingFactorNum[i]/ScalingFactorDen[i] of the top layer
	ScalingFactorNum [dd.MaxSpatialIds]int
	ScalingFactorDen [dd.MaxSpatialIds]int
}

func (s StreamLayersConfig) String() string {
	factors := ""
	for sid := 0; sid < s.NumSpatialLayers; sid++ {
		factors += fmt.Sprintf(" %d/%d", s.ScalingFactorNum[sid], s.ScalingFactorDen[sid])
	}
	return fmt.Sprintf("L%dT%d scaling[%s ] reference scaling: %v", s.NumSpatialLayers, s.NumTemporalLayers, factors, s.UsesReferenceScaling)
}

// ScalableVideoController decides which layer frames the encoder produces each
// temporal unit, which buffers they use, and describes the resulting frames.
//
// Not safe for concurrent use.
//
//counterfeiter:generate . ScalableVideoController
type ScalableVideoController interface {
	StreamConfig() StreamLayersConfig
	// DependencyStructure returns a copy of the static template set.
	DependencyStructure() *dd.FrameDependencyStructure
	// NextFrameConfig returns the layer frames for the next temporal unit,
	// ordered by spatial id. restart forces key pictures for active layers.
	NextFrameConfig(restart bool) []LayerFrameConfig
	// OnEncodeDone is called once per config returned by NextFrameConfig that
	// the encoder actually produced.
	OnEncodeDone(config LayerFrameConfig) (GenericFrameInfo, error)
	OnRatesUpdated(bitrates *VideoBitrateAllocation)
}
