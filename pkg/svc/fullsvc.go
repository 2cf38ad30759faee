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

type framePattern int

const (
	patternNone framePattern = iota
	patternKey
	patternDeltaT2A
	patternDeltaT1
	patternDeltaT2B
	patternDeltaT0
)

func (f framePattern) String() string {
	switch f {
	case patternNone:
		return "None"
	case patternKey:
		return "Key"
	case patternDeltaT2A:
		return "DeltaT2A"
	case patternDeltaT1:
		return "DeltaT1"
	case patternDeltaT2B:
		return "DeltaT2B"
	case patternDeltaT0:
		return "DeltaT0"
	default:
		return "Unknown"
	}
}

type scalingFactor struct {
	num int
	den int
}

// layeredStructure holds what full SVC and simulcast controllers share: layer
// counts, the active decode target mask and the pattern cycle. Decode target
// index is sid*numTemporal+tid, buffer index is tid*numSpatial+sid.
type layeredStructure struct {
	*frameTracker

	numSpatial  int
	numTemporal int
	scaling     scalingFactor
	templates   []*dd.FrameDependencyTemplate
	protected   []int

	lastPattern framePattern
	canRefT0    [dd.MaxSpatialIds]bool
	canRefT1    [dd.MaxSpatialIds]bool
	active      DecodeTargetMask
}

func newLayeredStructure(
	numSpatial, numTemporal int,
	scaling scalingFactor,
	protected []int,
	templates []*dd.FrameDependencyTemplate,
	logger logger.Logger,
) *layeredStructure {
	l := &layeredStructure{
		numSpatial:  numSpatial,
		numTemporal: numTemporal,
		scaling:     scaling,
		templates:   templates,
		protected:   protected,
		active:      AllDecodeTargets(numSpatial * numTemporal),
	}
	l.frameTracker = newFrameTracker(l.DependencyStructure(), logger)
	return l
}

func (l *layeredStructure) decodeTarget(sid, tid int) int {
	return sid*l.numTemporal + tid
}

func (l *layeredStructure) bufferIndex(sid, tid int) int {
	return tid*l.numSpatial + sid
}

func (l *layeredStructure) isActive(sid, tid int) bool {
	return l.active.IsSet(l.decodeTarget(sid, tid))
}

func (l *layeredStructure) temporalLayerIsActive(tid int) bool {
	if tid >= l.numTemporal {
		return false
	}
	for sid := 0; sid < l.numSpatial; sid++ {
		if l.isActive(sid, tid) {
			return true
		}
	}
	return false
}

// nextPattern walks T0 -> T2A -> T1 -> T2B -> T0 skipping inactive temporal layers.
func (l *layeredStructure) nextPattern() framePattern {
	switch l.lastPattern {
	case patternNone:
		return patternKey
	case patternDeltaT2B:
		return patternDeltaT0
	case patternDeltaT2A:
		if l.temporalLayerIsActive(1) {
			return patternDeltaT1
		}
		return patternDeltaT0
	case patternDeltaT1:
		if l.temporalLayerIsActive(2) {
			return patternDeltaT2B
		}
		return patternDeltaT0
	default:
		if l.temporalLayerIsActive(2) {
			return patternDeltaT2A
		}
		if l.temporalLayerIsActive(1) {
			return patternDeltaT1
		}
		return patternDeltaT0
	}
}

func (l *layeredStructure) StreamConfig() StreamLayersConfig {
	config := StreamLayersConfig{
		NumSpatialLayers:  l.numSpatial,
		NumTemporalLayers: l.numTemporal,
	}
	num, den := 1, 1
	for sid := l.numSpatial - 1; sid >= 0; sid-- {
		config.ScalingFactorNum[sid] = num
		config.ScalingFactorDen[sid] = den
		num *= l.scaling.num
		den *= l.scaling.den
	}
	for sid := l.numSpatial; sid < dd.MaxSpatialIds; sid++ {
		config.ScalingFactorNum[sid] = 1
		config.ScalingFactorDen[sid] = 1
	}
	return config
}

func (l *layeredStructure) DependencyStructure() *dd.FrameDependencyStructure {
	structure := &dd.FrameDependencyStructure{
		NumDecodeTargets:             l.numSpatial * l.numTemporal,
		NumChains:                    l.numSpatial,
		DecodeTargetProtectedByChain: append([]int{}, l.protected...),
		Templates:                    make([]*dd.FrameDependencyTemplate, 0, len(l.templates)),
	}
	for _, t := range l.templates {
		structure.Templates = append(structure.Templates, t.Clone())
	}
	return structure
}

// onRatesUpdated toggles spatial layers independently. A temporal layer is
// active only when it and all lower temporal layers have bitrate.
func (l *layeredStructure) onRatesUpdated(bitrates *VideoBitrateAllocation) {
	previous := l.active
	for sid := 0; sid < l.numSpatial; sid++ {
		active := true
		for tid := 0; tid < l.numTemporal; tid++ {
			active = active && bitrates.GetBitrate(sid, tid) > 0
			l.active.SetTo(l.decodeTarget(sid, tid), active)
		}
	}
	if previous != l.active {
		l.logger.Debugw("active decode targets changed", "previous", previous, "active", l.active)
	}
}

func (l *layeredStructure) onEncodeDone(config LayerFrameConfig) {
	l.lastPattern = framePattern(config.ID)
	switch config.TemporalID {
	case 0:
		l.canRefT0[config.SpatialID] = true
	case 1:
		l.canRefT1[config.SpatialID] = true
	}
}

func (l *layeredStructure) resetReferences() {
	l.canRefT0 = [dd.MaxSpatialIds]bool{}
	l.canRefT1 = [dd.MaxSpatialIds]bool{}
}

// ------------------------------------------------------------------------------

// FullSvc predicts every spatial layer from the one below it in the same
// temporal unit and every temporal layer from lower temporal layers.
type FullSvc struct {
	*layeredStructure
}

func NewFullSvc(numSpatial, numTemporal int, scaling scalingFactor, protected []int, templates []*dd.FrameDependencyTemplate, logger logger.Logger) *FullSvc {
	return &FullSvc{
		layeredStructure: newLayeredStructure(numSpatial, numTemporal, scaling, protected, templates, logger),
	}
}

func (f *FullSvc) StreamConfig() StreamLayersConfig {
	config := f.layeredStructure.StreamConfig()
	config.UsesReferenceScaling = f.numSpatial > 1
	return config
}

func (f *FullSvc) NextFrameConfig(restart bool) []LayerFrameConfig {
	var configs []LayerFrameConfig
	if f.active.None() {
		f.lastPattern = patternNone
		return configs
	}
	if f.lastPattern == patternNone || restart {
		f.resetReferences()
		f.lastPattern = patternNone
	}

	pattern := f.nextPattern()
	spatialDependency := -1
	switch pattern {
	case patternKey, patternDeltaT0:
		f.canRefT1 = [dd.MaxSpatialIds]bool{}
		for sid := 0; sid < f.numSpatial; sid++ {
			if !f.isActive(sid, 0) {
				// next frame from this layer cannot reference the last one
				f.canRefT0[sid] = false
				continue
			}
			config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(0)
			if spatialDependency >= 0 {
				config.Reference(spatialDependency)
			} else if pattern == patternKey {
				config.Keyframe()
			}
			if f.canRefT0[sid] {
				config.ReferenceAndUpdate(f.bufferIndex(sid, 0))
			} else {
				config.Update(f.bufferIndex(sid, 0))
			}
			spatialDependency = f.bufferIndex(sid, 0)
			configs = append(configs, *config)
		}

	case patternDeltaT1:
		for sid := 0; sid < f.numSpatial; sid++ {
			if !f.isActive(sid, 1) || !f.canRefT0[sid] {
				continue
			}
			config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(1)
			config.Reference(f.bufferIndex(sid, 0))
			if spatialDependency >= 0 {
				config.Reference(spatialDependency)
			}
			// last spatial layer of L*T2 has nothing referencing its T1 frames
			if f.numTemporal > 2 || sid < f.numSpatial-1 {
				config.Update(f.bufferIndex(sid, 1))
			}
			spatialDependency = f.bufferIndex(sid, 1)
			configs = append(configs, *config)
		}

	case patternDeltaT2A, patternDeltaT2B:
		for sid := 0; sid < f.numSpatial; sid++ {
			if !f.isActive(sid, 2) || !f.canRefT0[sid] {
				continue
			}
			config := NewLayerFrameConfig().WithID(int(pattern)).S(sid).T(2)
			if pattern == patternDeltaT2B && f.canRefT1[sid] {
				config.Reference(f.bufferIndex(sid, 1))
			} else {
				config.Reference(f.bufferIndex(sid, 0))
			}
			if spatialDependency >= 0 {
				config.Reference(spatialDependency)
			}
			if sid < f.numSpatial-1 {
				config.Update(f.bufferIndex(sid, 2))
			}
			spatialDependency = f.bufferIndex(sid, 2)
			configs = append(configs, *config)
		}
	}

	if len(configs) == 0 && !restart {
		f.logger.Warnw("no frames for active layers, restarting", nil, "pattern", pattern, "active", f.active)
		return f.NextFrameConfig(true)
	}
	return configs
}

func (f *FullSvc) OnEncodeDone(config LayerFrameConfig) (GenericFrameInfo, error) {
	f.onEncodeDone(config)

	dtis := make([]dd.DecodeTargetIndication, f.numSpatial*f.numTemporal)
	for sid := 0; sid < f.numSpatial; sid++ {
		for tid := 0; tid < f.numTemporal; tid++ {
			dtis[f.decodeTarget(sid, tid)] = f.dti(sid, tid, config)
		}
	}

	partOfChain := make([]bool, f.numSpatial)
	if config.TemporalID == 0 {
		for sid := 0; sid < f.numSpatial; sid++ {
			partOfChain[sid] = config.SpatialID <= sid
		}
	}

	return f.describe(config, dtis, partOfChain, f.active)
}

func (f *FullSvc) dti(sid, tid int, config LayerFrameConfig) dd.DecodeTargetIndication {
	if sid < config.SpatialID || tid < config.TemporalID {
		return dd.DecodeTargetNotPresent
	}
	if sid == config.SpatialID {
		switch {
		case tid == 0:
			return dd.DecodeTargetSwitch
		case tid == config.TemporalID:
			return dd.DecodeTargetDiscardable
		default:
			return dd.DecodeTargetSwitch
		}
	}
	if config.IsKeyframe || framePattern(config.ID) == patternKey {
		return dd.DecodeTargetSwitch
	}
	return dd.DecodeTargetRequired
}

func (f *FullSvc) OnRatesUpdated(bitrates *VideoBitrateAllocation) {
	f.onRatesUpdated(bitrates)
}

// ------------------------------------------------------------------------------

func l1t2Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().T(0).Dtis("SS").ChainDiffs(0).Build(),
		dd.NewTemplate().T(0).Dtis("SS").ChainDiffs(2).FrameDiffs(2).Build(),
		dd.NewTemplate().T(1).Dtis("-D").ChainDiffs(1).FrameDiffs(1).Build(),
	}
}

func l1t3Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().T(0).Dtis("SSS").ChainDiffs(0).Build(),
		dd.NewTemplate().T(0).Dtis("SSS").ChainDiffs(4).FrameDiffs(4).Build(),
		dd.NewTemplate().T(1).Dtis("-DS").ChainDiffs(2).FrameDiffs(2).Build(),
		dd.NewTemplate().T(2).Dtis("--D").ChainDiffs(1).FrameDiffs(1).Build(),
		dd.NewTemplate().T(2).Dtis("--D").ChainDiffs(3).FrameDiffs(1).Build(),
	}
}

func l2t1Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).Dtis("SR").ChainDiffs(2, 1).FrameDiffs(2).Build(),
		dd.NewTemplate().S(0).Dtis("SS").ChainDiffs(0, 0).Build(),
		dd.NewTemplate().S(1).Dtis("-S").ChainDiffs(1, 1).FrameDiffs(2, 1).Build(),
		dd.NewTemplate().S(1).Dtis("-S").ChainDiffs(1, 1).FrameDiffs(1).Build(),
	}
}

func l2t2Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSS").ChainDiffs(0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SSRR").ChainDiffs(4, 3).FrameDiffs(4).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-D-R").ChainDiffs(2, 1).FrameDiffs(2).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SS").ChainDiffs(1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SS").ChainDiffs(1, 1).FrameDiffs(4, 1).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("---D").ChainDiffs(3, 2).FrameDiffs(2, 1).Build(),
	}
}

func l3t1Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).Dtis("SRR").ChainDiffs(3, 2, 1).FrameDiffs(3).Build(),
		dd.NewTemplate().S(0).Dtis("SSS").ChainDiffs(0, 0, 0).Build(),
		dd.NewTemplate().S(1).Dtis("-SR").ChainDiffs(1, 1, 1).FrameDiffs(3, 1).Build(),
		dd.NewTemplate().S(1).Dtis("-SS").ChainDiffs(1, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(2).Dtis("--S").ChainDiffs(2, 1, 1).FrameDiffs(3, 1).Build(),
		dd.NewTemplate().S(2).Dtis("--S").ChainDiffs(2, 1, 1).FrameDiffs(1).Build(),
	}
}

func l2t3Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSSSS").ChainDiffs(0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SSSRRR").ChainDiffs(8, 7).FrameDiffs(8).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-DS-RR").ChainDiffs(4, 3).FrameDiffs(4).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D--R").ChainDiffs(2, 1).FrameDiffs(2).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D--R").ChainDiffs(6, 5).FrameDiffs(2).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSS").ChainDiffs(1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSS").ChainDiffs(1, 1).FrameDiffs(8, 1).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("----DS").ChainDiffs(5, 4).FrameDiffs(4, 1).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D").ChainDiffs(3, 2).FrameDiffs(2, 1).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D").ChainDiffs(7, 6).FrameDiffs(2, 1).Build(),
	}
}

func l3t2Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSSSS").ChainDiffs(0, 0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SSRRRR").ChainDiffs(6, 5, 4).FrameDiffs(6).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-D-R-R").ChainDiffs(3, 2, 1).FrameDiffs(3).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SSSS").ChainDiffs(1, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("--SSRR").ChainDiffs(1, 1, 1).FrameDiffs(6, 1).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("---D-R").ChainDiffs(4, 3, 2).FrameDiffs(3, 1).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("----SS").ChainDiffs(2, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("----SS").ChainDiffs(2, 1, 1).FrameDiffs(6, 1).Build(),
		dd.NewTemplate().S(2).T(1).Dtis("-----D").ChainDiffs(5, 4, 3).FrameDiffs(3, 1).Build(),
	}
}

func l3t3Templates() []*dd.FrameDependencyTemplate {
	return []*dd.FrameDependencyTemplate{
		dd.NewTemplate().S(0).T(0).Dtis("SSSSSSSSS").ChainDiffs(0, 0, 0).Build(),
		dd.NewTemplate().S(0).T(0).Dtis("SSSRRRRRR").ChainDiffs(12, 11, 10).FrameDiffs(12).Build(),
		dd.NewTemplate().S(0).T(1).Dtis("-DS-RR-RR").ChainDiffs(6, 5, 4).FrameDiffs(6).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D--R--R").ChainDiffs(3, 2, 1).FrameDiffs(3).Build(),
		dd.NewTemplate().S(0).T(2).Dtis("--D--R--R").ChainDiffs(9, 8, 7).FrameDiffs(3).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSSSSS").ChainDiffs(1, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(1).T(0).Dtis("---SSSRRR").ChainDiffs(1, 1, 1).FrameDiffs(12, 1).Build(),
		dd.NewTemplate().S(1).T(1).Dtis("----DS-RR").ChainDiffs(7, 6, 5).FrameDiffs(6, 1).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D--R").ChainDiffs(4, 3, 2).FrameDiffs(3, 1).Build(),
		dd.NewTemplate().S(1).T(2).Dtis("-----D--R").ChainDiffs(10, 9, 8).FrameDiffs(3, 1).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("------SSS").ChainDiffs(2, 1, 1).FrameDiffs(1).Build(),
		dd.NewTemplate().S(2).T(0).Dtis("------SSS").ChainDiffs(2, 1, 1).FrameDiffs(12, 1).Build(),
		dd.NewTemplate().S(2).T(1).Dtis("-------DS").ChainDiffs(8, 7, 6).FrameDiffs(6, 1).Build(),
		dd.NewTemplate().S(2).T(2).Dtis("--------D").ChainDiffs(5, 4, 3).FrameDiffs(3, 1).Build(),
		dd.NewTemplate().S(2).T(2).Dtis("--------D").ChainDiffs(11, 10, 9).FrameDiffs(3, 1).Build(),
	}
}
