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
	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

type keyShiftPattern int

const (
	keyShiftKey keyShiftPattern = iota
	keyShiftDelta0
	keyShiftDelta1
)

func (k keyShiftPattern) String() string {
	switch k {
	case keyShiftKey:
		return "Key"
	case keyShiftDelta0:
		return "Delta0"
	case keyShiftDelta1:
		return "Delta1"
	default:
		return "Unknown"
	}
}

const (
	keyShiftNumSpatial  = 2
	keyShiftNumTemporal = 2
)

// L2T2KeyShift is two spatial layers sharing only the key picture. After the
// key, the temporal patterns of the two layers are offset by one frame so T0
// frames of both layers never land in the same temporal unit.
//
//	Key:    S0T0 key      S1T0 from S0T0
//	Delta0: S0T0          S1T1
//	Delta1: S0T1          S1T0
//	Delta0: ...
type L2T2KeyShift struct {
	*frameTracker

	next   keyShiftPattern
	active DecodeTargetMask
}

func NewL2T2KeyShift(logger logger.Logger) *L2T2KeyShift {
	l := &L2T2KeyShift{
		next:   keyShiftKey,
		active: AllDecodeTargets(keyShiftNumSpatial * keyShiftNumTemporal),
	}
	l.frameTracker = newFrameTracker(l.DependencyStructure(), logger)
	return l
}

func (l *L2T2KeyShift) isActive(sid, tid int) bool {
	return l.active.IsSet(sid*keyShiftNumTemporal + tid)
}

func (l *L2T2KeyShift) StreamConfig() StreamLayersConfig {
	return StreamLayersConfig{
		NumSpatialLayers:     keyShiftNumSpatial,
		NumTemporalLayers:    keyShiftNumTemporal,
		UsesReferenceScaling: true,
		ScalingFactorNum:     [dd.MaxSpatialIds]int{1, 1, 1, 1},
		ScalingFactorDen:     [dd.MaxSpatialIds]int{2, 1, 1, 1},
	}
}

func (l *L2T2KeyShift) DependencyStructure() *dd.FrameDependencyStructure {
	return &dd.FrameDependencyStructure{
		NumDecodeTargets:             4,
		NumChains:                    2,
		DecodeTargetProtectedByChain: []int{0, 0, 1, 1},
		Templates: []*dd.FrameDependencyTemplate{
			dd.NewTemplate().S(0).T(0).Dtis("SSSS").ChainDiffs(0, 0).Build(),
			dd.NewTemplate().S(0).T(0).Dtis("SS--").ChainDiffs(2, 1).FrameDiffs(2).Build(),
			dd.NewTemplate().S(0).T(0).Dtis("SS--").ChainDiffs(4, 1).FrameDiffs(4).Build(),
			dd.NewTemplate().S(0).T(1).Dtis("-D--").ChainDiffs(2, 3).FrameDiffs(2).Build(),
			dd.NewTemplate().S(1).T(0).Dtis("--SS").ChainDiffs(1, 1).FrameDiffs(1).Build(),
			dd.NewTemplate().S(1).T(0).Dtis("--SS").ChainDiffs(3, 4).FrameDiffs(4).Build(),
			dd.NewTemplate().S(1).T(1).Dtis("---D").ChainDiffs(1, 2).FrameDiffs(2).Build(),
		},
	}
}

func (l *L2T2KeyShift) NextFrameConfig(restart bool) []LayerFrameConfig {
	var configs []LayerFrameConfig
	if restart {
		l.next = keyShiftKey
	}
	if l.active.None() {
		return configs
	}

	// buffer 0 holds the latest S0T0 frame, buffer 1 the latest S1T0 frame
	switch l.next {
	case keyShiftKey:
		if l.isActive(0, 0) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftKey)).S(0).T(0).Update(0).Keyframe())
		}
		if l.isActive(1, 0) {
			config := NewLayerFrameConfig().WithID(int(keyShiftKey)).S(1).T(0).Update(1)
			if l.isActive(0, 0) {
				config.Reference(0)
			} else {
				config.Keyframe()
			}
			configs = append(configs, *config)
		}
		l.next = keyShiftDelta0

	case keyShiftDelta0:
		if l.isActive(0, 0) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftDelta0)).S(0).T(0).ReferenceAndUpdate(0))
		}
		if l.isActive(1, 1) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftDelta0)).S(1).T(1).Reference(1))
		}
		if len(configs) == 0 && l.isActive(1, 0) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftDelta0)).S(1).T(0).ReferenceAndUpdate(1))
		}
		l.next = keyShiftDelta1

	case keyShiftDelta1:
		if l.isActive(0, 1) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftDelta1)).S(0).T(1).Reference(0))
		}
		if l.isActive(1, 0) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftDelta1)).S(1).T(0).ReferenceAndUpdate(1))
		}
		if len(configs) == 0 && l.isActive(0, 0) {
			configs = append(configs, *NewLayerFrameConfig().WithID(int(keyShiftDelta1)).S(0).T(0).ReferenceAndUpdate(0))
		}
		l.next = keyShiftDelta0
	}
	return configs
}

func (l *L2T2KeyShift) OnEncodeDone(config LayerFrameConfig) (GenericFrameInfo, error) {
	dtis := make([]dd.DecodeTargetIndication, 4)
	for sid := 0; sid < keyShiftNumSpatial; sid++ {
		for tid := 0; tid < keyShiftNumTemporal; tid++ {
			dt := sid*keyShiftNumTemporal + tid
			switch {
			case config.IsKeyframe:
				if sid >= config.SpatialID {
					dtis[dt] = dd.DecodeTargetSwitch
				}
			case sid != config.SpatialID || tid < config.TemporalID:
				dtis[dt] = dd.DecodeTargetNotPresent
			case tid == config.TemporalID && tid > 0:
				dtis[dt] = dd.DecodeTargetDiscardable
			default:
				dtis[dt] = dd.DecodeTargetSwitch
			}
		}
	}

	var partOfChain []bool
	switch {
	case config.IsKeyframe:
		partOfChain = []bool{true, true}
	case config.TemporalID == 0:
		partOfChain = []bool{config.SpatialID == 0, config.SpatialID == 1}
	default:
		partOfChain = []bool{false, false}
	}

	return l.describe(config, dtis, partOfChain, l.active)
}

func (l *L2T2KeyShift) OnRatesUpdated(bitrates *VideoBitrateAllocation) {
	previous := l.active
	for sid := 0; sid < keyShiftNumSpatial; sid++ {
		baseActive := bitrates.GetBitrate(sid, 0) > 0
		if !l.isActive(sid, 0) && baseActive {
			// a spatial layer coming back needs a key picture to join
			l.next = keyShiftKey
		}
		l.active.SetTo(sid*keyShiftNumTemporal, baseActive)
		l.active.SetTo(sid*keyShiftNumTemporal+1, baseActive && bitrates.GetBitrate(sid, 1) > 0)
	}
	if previous != l.active {
		l.logger.Debugw("active decode targets changed", "previous", previous, "active", l.active)
	}
}
