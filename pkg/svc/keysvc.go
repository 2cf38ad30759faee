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

// KeySvc shares only the key picture between spatial layers. Every delta
// frame references its own spatial layer, so a receiver can drop lower layers
// once it has decoded a key picture.
type KeySvc struct {
	*layeredStructure

	spatialEnabled [dd.MaxSpatialIds]bool
}

func NewKeySvc(numSpatial, numTemporal int, protected []int, templates []*dd.FrameDependencyTemplate, logger logger.Logger) *KeySvc {
	return &KeySvc{
		layeredStructure: newLayeredStructure(numSpatial, numTemporal, scalingTwoToOne, protected, templates, logger),
	}
}

func (k *KeySvc) StreamConfig() StreamLayersConfig {
	config := k.layeredStructure.StreamConfig()
	config.UsesReferenceScaling = true
	return config
}

func (k *KeySvc) NextFrameConfig(restart bool) []LayerFrameConfig {
	if restart {
		k.lastPattern = patternNone
	}
	if k.active.None() {
		k.lastPattern = patternNone
		return nil
	}

	switch pattern := k.nextPattern(); pattern {
	case patternKey:
		return k.keyConfigs()
	case patternDeltaT0:
		return k.t0Configs()
	case patternDeltaT1:
		return k.t1Configs()
	default:
		return k.t2Configs(pattern)
	}
}

func (k *KeySvc) keyConfigs() []LayerFrameConfig {
	var configs []LayerFrameConfig
	k.resetReferences()
	k.spatialEnabled = [dd.MaxSpatialIds]bool{}
	spatialDependency := -1
	for sid := 0; sid < k.numSpatial; sid++ {
		if !k.isActive(sid, 0) {
			continue
		}
		config := NewLayerFrameConfig().WithID(int(patternKey)).S(sid).T(0)
		if spatialDependency >= 0 {
			config.Reference(spatialDependency)
		} else {
			config.Keyframe()
		}
		config.Update(k.bufferIndex(sid, 0))
		k.spatialEnabled[sid] = true
		spatialDependency = k.bufferIndex(sid, 0)
		configs = append(configs, *config)
	}
	return configs
}

func (k *KeySvc) t0Configs() []LayerFrameConfig {
	var configs []LayerFrameConfig
	k.canRefT1 = [dd.MaxSpatialIds]bool{}
	for sid := 0; sid < k.numSpatial; sid++ {
		if !k.isActive(sid, 0) {
			k.spatialEnabled[sid] = false
			continue
		}
		configs = append(configs, *NewLayerFrameConfig().WithID(int(patternDeltaT0)).S(sid).T(0).ReferenceAndUpdate(k.bufferIndex(sid, 0)))
	}
	return configs
}

func (k *KeySvc) t1Configs() []LayerFrameConfig {
	var configs []LayerFrameConfig
	for sid := 0; sid < k.numSpatial; sid++ {
		if !k.isActive(sid, 1) {
			continue
		}
		config := NewLayerFrameConfig().WithID(int(patternDeltaT1)).S(sid).T(1).Reference(k.bufferIndex(sid, 0))
		if k.numTemporal > 2 {
			config.Update(k.bufferIndex(sid, 1))
		}
		configs = append(configs, *config)
	}
	return configs
}

func (k *KeySvc) t2Configs(pattern framePattern) []LayerFrameConfig {
	var configs []LayerFrameConfig
	for sid := 0; sid < k.numSpatial; sid++ {
		if !k.isActive(sid, 2) {
			continue
		}
		config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(2)
		if k.canRefT1[sid] {
			config.Reference(k.bufferIndex(sid, 1))
		} else {
			config.Reference(k.bufferIndex(sid, 0))
		}
		configs = append(configs, *config)
	}
	return configs
}

func (k *KeySvc) OnEncodeDone(config LayerFrameConfig) (GenericFrameInfo, error) {
	k.onEncodeDone(config)

	keyPicture := config.IsKeyframe || framePattern(config.ID) == patternKey
	dtis := make([]dd.DecodeTargetIndication, k.numSpatial*k.numTemporal)
	for sid := 0; sid < k.numSpatial; sid++ {
		for tid := 0; tid < k.numTemporal; tid++ {
			switch {
			case keyPicture:
				if sid >= config.SpatialID {
					dtis[k.decodeTarget(sid, tid)] = dd.DecodeTargetSwitch
				}
			case sid != config.SpatialID || tid < config.TemporalID:
				dtis[k.decodeTarget(sid, tid)] = dd.DecodeTargetNotPresent
			case tid == config.TemporalID && tid > 0:
				dtis[k.decodeTarget(sid, tid)] = dd.DecodeTargetDiscardable
			default:
				dtis[k.decodeTarget(sid, tid)] = dd.DecodeTargetSwitch
			}
		}
	}

	partOfChain := make([]bool, k.numSpatial)
	switch {
	case keyPicture:
		for sid := config.SpatialID; sid < k.numSpatial; sid++ {
			partOfChain[sid] = true
		}
	case config.TemporalID == 0:
		partOfChain[config.SpatialID] = true
	}

	return k.describe(config, dtis, partOfChain, k.active)
}

// OnRatesUpdated toggles spatial layers independently. A spatial layer coming
// back waits for the next key picture.
func (k *KeySvc) OnRatesUpdated(bitrates *VideoBitrateAllocation) {
	k.onRatesUpdated(bitrates)
	for sid := 0; sid < k.numSpatial; sid++ {
		if !k.spatialEnabled[sid] && k.isActive(sid, 0) {
			k.lastPattern = patternNone
		}
	}
}

// ------------------------------------------------------------------------------

func l2t1KeyTemplates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).Dtis("SS").ChainDiffs(0, 0).Build(),
		dd.NewTemplate().S(0).Dtis("S-").ChainDiffs(2, 1).FrameDiffs(2).Build(),
		dd.NewTemplate().S(1).Dtis("-S").ChainDiffs(1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).Dtis("-S").ChainDiffs(1, 2).FrameDiffs(2).Build(),
	}
}

func l2t2KeyTemplates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSS").ChainDiffs(0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SS--").ChainDiffs(4, 3).FrameDiffs(4).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-D--").ChainDiffs(2, 1).FrameDiffs(2).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SS").ChainDiffs(1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SS").ChainDiffs(1, 4).FrameDiffs(4).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("---D").ChainDiffs(3, 2).FrameDiffs(2).Build(),
	}
}

func l2t3KeyTemplates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSSSS").ChainDiffs(0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SSS---").ChainDiffs(8, 7).FrameDiffs(8).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-DS---").ChainDiffs(4, 3).FrameDiffs(4).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D---").ChainDiffs(2, 1).FrameDiffs(2).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D---").ChainDiffs(6, 5).FrameDiffs(2).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSS").ChainDiffs(1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSS").ChainDiffs(1, 8).FrameDiffs(8).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("----DS").ChainDiffs(5, 4).FrameDiffs(4).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D").ChainDiffs(3, 2).FrameDiffs(2).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D").ChainDiffs(7, 6).FrameDiffs(2).Build(),
	}
}

func l3t1KeyTemplates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).Dtis("SSS").ChainDiffs(0, 0, 0).Build(),
		dd.NewTemplate().S(0).Dtis("S--").ChainDiffs(3, 2, 1).FrameDiffs(3).Build(),
		dd.NewTemplate().S(1).Dtis("-SS").ChainDiffs(1, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).Dtis("-S-").ChainDiffs(1, 3, 2).FrameDiffs(3).Build(),
		dd.NewTemplate().S(2).Dtis("--S").ChainDiffs(2, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(2).Dtis("--S").ChainDiffs(2, 1, 3).FrameDiffs(3).Build(),
	}
}

func l3t2KeyTemplates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSSSS").ChainDiffs(0, 0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SS----").ChainDiffs(6, 5, 4).FrameDiffs(6).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-D----").ChainDiffs(3, 2, 1).FrameDiffs(3).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SSSS").ChainDiffs(1, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SS--").ChainDiffs(1, 6, 5).FrameDiffs(6).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("---D--").ChainDiffs(4, 3, 2).FrameDiffs(3).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("----SS").ChainDiffs(2, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("----SS").ChainDiffs(2, 1, 6).FrameDiffs(6).Build(),
		dd.NewTemplate().S(2).T(1).Dtis("-----D").ChainDiffs(5, 4, 3).FrameDiffs(3).Build(),
	}
}

func l3t3KeyTemplates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSSSSSSS").ChainDiffs(0, 0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SSS------").ChainDiffs(12, 11, 10).FrameDiffs(12).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-DS------").ChainDiffs(6, 5, 4).FrameDiffs(6).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D------").ChainDiffs(3, 2, 1).FrameDiffs(3).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D------").ChainDiffs(9, 8, 7).FrameDiffs(3).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSSSSS").ChainDiffs(1, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSS---").ChainDiffs(1, 12, 11).FrameDiffs(12).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("----DS---").ChainDiffs(7, 6, 5).FrameDiffs(6).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D---").ChainDiffs(4, 3, 2).FrameDiffs(3).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D---").ChainDiffs(10, 9, 8).FrameDiffs(3).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("------SSS").ChainDiffs(2, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("------SSS").ChainDiffs(2, 1, 12).FrameDiffs(12).Build(),
		dd.NewTemplate().S(2).T(1).Dtis("-------DS").ChainDiffs(8, 7, 6).FrameDiffs(6).Build(),
		dd.NewTemplate().S(2).T(2).Dtis("--------D").ChainDiffs(5, 4, 3).FrameDiffs(3).Build(),
		dd.NewTemplate().S(2).T(2).Dtis("--------D").ChainDiffs(11, 10, 9).FrameDiffs(3).Build(),
	}
}
