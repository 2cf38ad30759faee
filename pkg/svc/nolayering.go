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

// NoLayering is L1T1: a single chain of frames, each referencing the previous one.
type NoLayering struct {
	*frameTracker

	started bool
	enabled bool
}

func NewNoLayering(logger logger.Logger) *NoLayering {
	n := &NoLayering{
		enabled: true,
	}
	n.frameTracker = newFrameTracker(n.DependencyStructure(), logger)
	return n
}

func (n *NoLayering) StreamConfig() StreamLayersConfig {
	return StreamLayersConfig{
		NumSpatialLayers:  1,
		NumTemporalLayers: 1,
		ScalingFactorNum:  [dd.MaxSpatialIds]int{1, 1, 1, 1},
		ScalingFactorDen:  [dd.MaxSpatialIds]int{1, 1, 1, 1},
	}
}

func (n *NoLayering) DependencyStructure() *dd.FrameDependencyStructure {
	return &dd.FrameDependencyStructure{
		NumDecodeTargets:             1,
		NumChains:                    1,
		DecodeTargetProtectedByChain: []int{0},
		Templates: []*dd.FrameDependencyTemplate{
			dd.NewTemplate().Dtis("S").ChainDiffs(0).Build(),
			dd.NewTemplate().Dtis("S").ChainDiffs(1).FrameDiffs(1).Build(),
		},
	}
}

func (n *NoLayering) NextFrameConfig(restart bool) []LayerFrameConfig {
	if !n.enabled {
		return nil
	}

	config := NewLayerFrameConfig()
	if !n.started || restart {
		n.started = true
		config.Keyframe().Update(0)
	} else {
		config.ReferenceAndUpdate(0)
	}
	return []LayerFrameConfig{*config}
}

func (n *NoLayering) OnEncodeDone(config LayerFrameConfig) (GenericFrameInfo, error) {
	active := AllDecodeTargets(1)
	if !n.enabled {
		active = 0
	}
	return n.describe(
		config,
		[]dd.DecodeTargetIndication{dd.DecodeTargetSwitch},
		[]bool{true},
		active,
	)
}

func (n *NoLayering) OnRatesUpdated(bitrates *VideoBitrateAllocation) {
	enabled := bitrates.GetBitrate(0, 0) > 0
	if enabled != n.enabled {
		n.logger.Debugw("layer enabled changed", "enabled", enabled)
	}
	n.enabled = enabled
}
