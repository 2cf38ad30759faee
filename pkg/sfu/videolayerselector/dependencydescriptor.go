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

package videolayerselector

import (
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

const (
	decisionCacheSize = 256
	nackWindow        = 80
)

var ErrNoStructure = errors.New("no dependency structure received")

type VideoLayerSelectorResult struct {
	IsSelected                    bool
	IsRelevant                    bool
	IsSwitching                   bool
	IsResuming                    bool
	RTPMarker                     bool
	DependencyDescriptorExtension []byte
}

// Selector forwards the frames of one incoming stream that a receiver of the
// target layer needs. It follows the decode target indications and chains of
// the dependency descriptor only, without looking at the codec payload.
type Selector struct {
	logger logger.Logger

	decisions     *SelectorDecisionCache
	structure     *dd.FrameDependencyStructure
	chains        []*FrameChain
	decodeTargets []*DecodeTarget

	target        VideoLayer
	current       *DecodeTarget
	activeBitmask *uint32
}

func NewSelector(logger logger.Logger) *Selector {
	return &Selector{
		logger:    logger,
		decisions: NewSelectorDecisionCache(decisionCacheSize, nackWindow),
		target:    InvalidLayer,
	}
}

func (s *Selector) SetTarget(target VideoLayer) {
	s.target = target
	s.updateActiveBitmask()
}

func (s *Selector) GetTarget() VideoLayer {
	return s.target
}

// GetCurrent is the layer of the decode target being forwarded.
func (s *Selector) GetCurrent() VideoLayer {
	if s.current == nil {
		return InvalidLayer
	}
	return s.current.Layer
}

// NeedsKeyframe reports whether the highest active decode target within the
// target layer waits for its chain to restart.
func (s *Selector) NeedsKeyframe() bool {
	if s.structure == nil || !s.target.IsValid() {
		return false
	}
	for _, dt := range s.decodeTargets {
		if dt.Layer.Within(s.target) && dt.Active() {
			return !dt.Valid()
		}
	}
	return false
}

func (s *Selector) Select(extPkt *ExtPacket) (result VideoLayerSelectorResult, err error) {
	descriptor := extPkt.DependencyDescriptor
	if descriptor == nil || descriptor.FrameDependencies == nil {
		return result, ErrNoDependencyDescriptor
	}
	if descriptor.AttachedStructure != nil {
		s.updateDependencyStructure(descriptor.AttachedStructure)
	}
	if s.structure == nil {
		return result, ErrNoStructure
	}
	if descriptor.ActiveDecodeTargetsBitmask != nil {
		s.updateActiveDecodeTargets(*descriptor.ActiveDecodeTargetsBitmask)
	}

	fd := descriptor.FrameDependencies
	if len(fd.DecodeTargetIndications) != s.structure.NumDecodeTargets {
		return result, errors.Wrapf(dd.ErrDDReaderNumDTIMismatch, "frame %d", extPkt.ExtFrameNumber)
	}

	// later packets follow the decision made for the frame
	switch sd, _ := s.decisions.GetDecision(extPkt.ExtFrameNumber); sd {
	case selectorDecisionForwarded:
		return s.forward(extPkt, result)
	case selectorDecisionDropped:
		return result, nil
	}

	for _, chain := range s.chains {
		chain.OnFrame(extPkt.ExtFrameNumber, fd)
	}

	if next := s.selectDecodeTarget(); next != nil && next != s.current {
		// a new decode target is entered on switch frames only
		if fd.DecodeTargetIndications[next.Target] == dd.DecodeTargetSwitch {
			s.logger.Debugw(
				"switching decode target",
				"from", s.GetCurrent(),
				"to", next.Layer,
				"target", s.target,
				"frame", extPkt.ExtFrameNumber,
			)
			result.IsResuming = s.current == nil
			result.IsSwitching = s.current != nil
			s.current = next
		}
	}

	if s.current == nil || !s.current.Active() {
		s.decisions.AddDropped(extPkt.ExtFrameNumber)
		return result, nil
	}

	detection, err := s.current.OnFrame(extPkt.ExtFrameNumber, fd)
	if err != nil {
		return result, err
	}
	if !detection.TargetValid {
		s.logger.Debugw("decode target broken, waiting for restart", "current", s.current.Layer, "frame", extPkt.ExtFrameNumber)
		s.current = nil
		s.decisions.AddDropped(extPkt.ExtFrameNumber)
		return VideoLayerSelectorResult{}, nil
	}

	result.IsRelevant = true
	if detection.DTI == dd.DecodeTargetNotPresent {
		s.decisions.AddDropped(extPkt.ExtFrameNumber)
		return result, nil
	}

	s.decisions.AddForwarded(extPkt.ExtFrameNumber)
	return s.forward(extPkt, result)
}

func (s *Selector) forward(extPkt *ExtPacket, result VideoLayerSelectorResult) (VideoLayerSelectorResult, error) {
	descriptor := extPkt.DependencyDescriptor
	result.IsSelected = true
	result.IsRelevant = true
	result.RTPMarker = extPkt.Packet.Marker
	if s.current != nil && descriptor.LastPacketInFrame && int32(descriptor.FrameDependencies.SpatialId) == s.current.Layer.Spatial {
		result.RTPMarker = true
	}

	outgoing := *descriptor
	if s.activeBitmask != nil && descriptor.ActiveDecodeTargetsBitmask != nil {
		mask := *descriptor.ActiveDecodeTargetsBitmask & *s.activeBitmask
		outgoing.ActiveDecodeTargetsBitmask = &mask
	}
	ext := &dd.DependencyDescriptorExtension{
		Descriptor: &outgoing,
		Structure:  s.structure,
	}
	buf, err := ext.Marshal()
	if err != nil {
		return result, errors.Wrapf(err, "frame %d", extPkt.ExtFrameNumber)
	}
	result.DependencyDescriptorExtension = buf
	return result, nil
}

// selectDecodeTarget picks the highest active decode target within the target
// layer whose chain is intact.
func (s *Selector) selectDecodeTarget() *DecodeTarget {
	for _, dt := range s.decodeTargets {
		if dt.Layer.Within(s.target) && dt.Active() && dt.Valid() {
			return dt
		}
	}
	return nil
}

func (s *Selector) updateDependencyStructure(structure *dd.FrameDependencyStructure) {
	if s.structure != nil && s.structure.StructureId == structure.StructureId && s.structure.String() == structure.String() {
		return
	}

	s.structure = structure
	s.chains = s.chains[:0]
	for idx := 0; idx < structure.NumChains; idx++ {
		s.chains = append(s.chains, NewFrameChain(s.decisions, idx, s.logger))
	}

	s.decodeTargets = s.decodeTargets[:0]
	for target, layer := range DecodeTargetLayers(structure) {
		var chain *FrameChain
		if target < len(structure.DecodeTargetProtectedByChain) {
			if chainIdx := structure.DecodeTargetProtectedByChain[target]; chainIdx < len(s.chains) {
				chain = s.chains[chainIdx]
			}
		}
		s.decodeTargets = append(s.decodeTargets, NewDecodeTarget(target, layer, chain))
	}
	sortDecodeTargets(s.decodeTargets)
	s.current = nil

	s.logger.Debugw("dependency structure updated", "structureID", structure.StructureId, "decodeTargets", s.decodeTargets)
	s.updateActiveDecodeTargets(^uint32(0))
	s.updateActiveBitmask()
}

func (s *Selector) updateActiveDecodeTargets(activeBitmask uint32) {
	for _, chain := range s.chains {
		chain.BeginUpdateActive()
	}
	for _, dt := range s.decodeTargets {
		dt.UpdateActive(activeBitmask)
	}
	for _, chain := range s.chains {
		chain.EndUpdateActive()
	}
}

// updateActiveBitmask limits the active decode targets sent downstream to
// those within the target layer.
func (s *Selector) updateActiveBitmask() {
	if s.structure == nil {
		return
	}
	var mask uint32
	for _, dt := range s.decodeTargets {
		if dt.Layer.Within(s.target) {
			mask |= 1 << dt.Target
		}
	}
	if mask == uint32(1)<<s.structure.NumDecodeTargets-1 {
		s.activeBitmask = nil
		return
	}
	s.activeBitmask = &mask
}
