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

// Simulcast encodes independent spatial streams, each with its own temporal
// layering, that only share a frame numbering space.
type Simulcast struct {
	*layeredStructure
}

func NewSimulcast(numSpatial, numTemporal int, scaling scalingFactor, logger logger.Logger) *Simulcast {
	temporalLayers := make([]int, numSpatial)
	protected := make([]int, 0, numSpatial*numTemporal)
	for sid := range temporalLayers {
		temporalLayers[sid] = numTemporal
		for tid := 0; tid < numTemporal; tid++ {
			protected = append(protected, sid)
		}
	}
	return &Simulcast{
		layeredStructure: newLayeredStructure(numSpatial, numTemporal, scaling, protected, SimulcastTemplates(temporalLayers), logger),
	}
}

func (s *Simulcast) nextPattern() framePattern {
	if s.lastPattern == patternNone {
		return patternDeltaT0
	}
	return s.layeredStructure.nextPattern()
}

func (s *Simulcast) NextFrameConfig(restart bool) []LayerFrameConfig {
	var configs []LayerFrameConfig
	if s.active.None() {
		s.lastPattern = patternNone
		return configs
	}
	if s.lastPattern == patternNone || restart {
		s.resetReferences()
		s.lastPattern = patternNone
	}

	pattern := s.nextPattern()
	switch pattern {
	case patternDeltaT0:
		s.canRefT1 = [dd.MaxSpatialIds]bool{}
		for sid := 0; sid < s.numSpatial; sid++ {
			if !s.isActive(sid, 0) {
				s.canRefT0[sid] = false
				continue
			}
			config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(0)
			if s.canRefT0[sid] {
				config.ReferenceAndUpdate(s.bufferIndex(sid, 0))
			} else {
				config.Keyframe().Update(s.bufferIndex(sid, 0))
			}
			s.canRefT0[sid] = true
			configs = append(configs, *config)
		}

	case patternDeltaT1:
		for sid := 0; sid < s.numSpatial; sid++ {
			if !s.isActive(sid, 1) || !s.canRefT0[sid] {
				continue
			}
			config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(1).Reference(s.bufferIndex(sid, 0))
			if s.numTemporal > 2 {
				config.Update(s.bufferIndex(sid, 1))
				s.canRefT1[sid] = true
			}
			configs = append(configs, *config)
		}

	case patternDeltaT2A, patternDeltaT2B:
		for sid := 0; sid < s.numSpatial; sid++ {
			if !s.isActive(sid, 2) || !s.canRefT0[sid] {
				continue
			}
			config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(2)
			if s.canRefT1[sid] {
				config.Reference(s.bufferIndex(sid, 1))
			} else {
				config.Reference(s.bufferIndex(sid, 0))
			}
			configs = append(configs, *config)
		}
	}

	if len(configs) == 0 && !restart {
		s.logger.Warnw("no frames for active streams, restarting", nil, "pattern", pattern, "active", s.active)
		return s.NextFrameConfig(true)
	}
	return configs
}

func (s *Simulcast) OnEncodeDone(config LayerFrameConfig) (GenericFrameInfo, error) {
	s.lastPattern = framePattern(config.ID)

	dtis := make([]dd.DecodeTargetIndication, s.numSpatial*s.numTemporal)
	for sid := 0; sid < s.numSpatial; sid++ {
		for tid := 0; tid < s.numTemporal; tid++ {
			var dti dd.DecodeTargetIndication
			switch {
			case sid != config.SpatialID || tid < config.TemporalID:
				dti = dd.DecodeTargetNotPresent
			case tid == 0:
				dti = dd.DecodeTargetSwitch
			case tid == config.TemporalID:
				dti = dd.DecodeTargetDiscardable
			default:
				dti = dd.DecodeTargetSwitch
			}
			dtis[s.decodeTarget(sid, tid)] = dti
		}
	}

	partOfChain := make([]bool, s.numSpatial)
	partOfChain[config.SpatialID] = config.TemporalID == 0

	return s.describe(config, dtis, partOfChain, s.active)
}

func (s *Simulcast) OnRatesUpdated(bitrates *VideoBitrateAllocation) {
	s.onRatesUpdated(bitrates)
}

// ------------------------------------------------------------------------------

// SimulcastTemplates combines single spatial layer template sets, one per
// stream, into a set where stream i is spatial layer i and is protected by
// chain i. temporalLayers[i] is the temporal layer count of stream i. Diffs
// assume one frame per stream per temporal unit, in stream order.
func SimulcastTemplates(temporalLayers []int) []*dd.FrameDependencyTemplate {
	numStreams := len(temporalLayers)
	numDecodeTargets := 0
	for _, numTemporal := range temporalLayers {
		numDecodeTargets += numTemporal
	}

	var templates []*dd.FrameDependencyTemplate
	offset := 0
	for stream, numTemporal := range temporalLayers {
		for _, t := range singleLayerTemplates(numTemporal) {
			combined := &dd.FrameDependencyTemplate{
				SpatialId:               stream,
				TemporalId:              t.TemporalId,
				DecodeTargetIndications: make([]dd.DecodeTargetIndication, numDecodeTargets),
				ChainDiffs:              make([]int, numStreams),
			}
			copy(combined.DecodeTargetIndications[offset:], t.DecodeTargetIndications)
			for _, fd := range t.FrameDiffs {
				combined.FrameDiffs = append(combined.FrameDiffs, min(fd*numStreams, dd.MaxTemplateFrameDiff))
			}

			// units back to the latest frame of this stream's chain
			units := t.ChainDiffs[0]
			for chain := range combined.ChainDiffs {
				var diff int
				switch {
				case chain == stream:
					diff = units * numStreams
				case chain < stream:
					if t.TemporalId == 0 {
						// same unit as this frame
						diff = stream - chain
					} else {
						diff = units*numStreams + stream - chain
					}
				case units == 0:
					diff = 0
				default:
					diff = units*numStreams - (chain - stream)
				}
				combined.ChainDiffs[chain] = min(diff, dd.MaxTemplateChainDiff)
			}
			templates = append(templates, combined)
		}
		offset += numTemporal
	}
	return templates
}

func singleLayerTemplates(numTemporal int) []*dd.FrameDependencyTemplate {
	switch numTemporal {
	case 1:
		return []*dd.FrameDependencyTemplate{
			dd.NewTemplate().T(0).Dtis("S").ChainDiffs(0).Build(),
			dd.NewTemplate().T(0).Dtis("S").ChainDiffs(1).FrameDiffs(1).Build(),
		}
	case 2:
		return l1t2Templates()
	case 3:
		return l1t3Templates()
	default:
		return nil
	}
}
