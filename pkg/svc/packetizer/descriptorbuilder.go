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

package packetizer

import (
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
)

var (
	ErrNoStructure       = errors.New("no dependency structure sent yet")
	ErrFrameOutOfOrder   = errors.New("packet does not belong to current frame")
	ErrExtensionTooLarge = errors.New("dependency descriptor does not fit header extension")
	ErrNoHistory         = errors.New("packetizer keeps no send history")
)

// DescriptorBuilder turns generic frame info into dependency descriptors for
// one RTP stream. It keeps the structure the receiver knows about and resends
// the active decode targets until every chain has carried them.
type DescriptorBuilder struct {
	logger logger.Logger

	structure     *dd.FrameDependencyStructure
	nextStructure int

	active        svc.DecodeTargetMask
	unsentOnChain uint32
}

func NewDescriptorBuilder(logger logger.Logger) *DescriptorBuilder {
	return &DescriptorBuilder{
		logger: logger,
	}
}

// Structure is the structure descriptors are currently written against.
func (b *DescriptorBuilder) Structure() *dd.FrameDependencyStructure {
	return b.structure
}

// Build describes one frame. structure is attached when given, which must be
// done at least for the first frame and for every key frame.
func (b *DescriptorBuilder) Build(info *svc.GenericFrameInfo, structure *dd.FrameDependencyStructure) (*dd.DependencyDescriptor, error) {
	descriptor := &dd.DependencyDescriptor{
		FirstPacketInFrame: true,
		LastPacketInFrame:  true,
		FrameNumber:        uint16(info.FrameID),
		FrameDependencies:  info.FrameDependencies(),
	}

	if structure != nil {
		b.attach(structure)
		descriptor.AttachedStructure = b.structure
		if descriptor.FrameDependencies.SpatialId < len(b.structure.Resolutions) {
			resolution := b.structure.Resolutions[descriptor.FrameDependencies.SpatialId]
			descriptor.Resolution = &resolution
		}
	}
	if b.structure == nil {
		return nil, ErrNoStructure
	}
	if len(info.DecodeTargetIndications) != b.structure.NumDecodeTargets {
		return nil, errors.Wrapf(dd.ErrDTILengthMismatch, "frame %d has %d, structure %d", info.FrameID, len(info.DecodeTargetIndications), b.structure.NumDecodeTargets)
	}

	if b.includeActiveDecodeTargets(info, structure != nil) {
		mask := uint32(info.ActiveDecodeTargets)
		descriptor.ActiveDecodeTargetsBitmask = &mask
	}
	return descriptor, nil
}

// attach keeps the structure id when the same structure is sent again, picks
// the next free template id range otherwise.
func (b *DescriptorBuilder) attach(structure *dd.FrameDependencyStructure) {
	if b.structure != nil && sameStructure(b.structure, structure) {
		return
	}

	attached := structure.Clone()
	attached.StructureId = b.nextStructure
	b.nextStructure = (b.nextStructure + len(attached.Templates)) % dd.MaxTemplates
	b.structure = attached

	// a new structure implies all decode targets active
	b.active = svc.AllDecodeTargets(attached.NumDecodeTargets)
	b.unsentOnChain = 0
	b.logger.Debugw("dependency structure changed", "structureID", attached.StructureId, "structure", attached)
}

func (b *DescriptorBuilder) includeActiveDecodeTargets(info *svc.GenericFrameInfo, attached bool) bool {
	all := svc.AllDecodeTargets(b.structure.NumDecodeTargets)
	if info.ActiveDecodeTargets != b.active {
		b.logger.Debugw("active decode targets changed", "previous", b.active, "active", info.ActiveDecodeTargets, "frame", info.FrameID)
		b.active = info.ActiveDecodeTargets
		b.unsentOnChain = uint32(1)<<b.structure.NumChains - 1
		if b.structure.NumChains == 0 {
			// nothing to piggyback on, send once
			return true
		}
	}
	if attached && b.active == all {
		b.unsentOnChain = 0
		return false
	}

	include := b.unsentOnChain != 0 || (attached && b.active != all)
	for chain, member := range info.PartOfChain {
		if member {
			b.unsentOnChain &^= 1 << chain
		}
	}
	return include
}

// ActiveChains returns the chains that protect at least one active decode target.
func ActiveChains(structure *dd.FrameDependencyStructure, active svc.DecodeTargetMask) uint32 {
	if structure == nil {
		return 0
	}
	var chains uint32
	for dt, chain := range structure.DecodeTargetProtectedByChain {
		if active.IsSet(dt) && chain < structure.NumChains {
			chains |= 1 << chain
		}
	}
	return chains
}

func sameStructure(a, b *dd.FrameDependencyStructure) bool {
	if a.NumDecodeTargets != b.NumDecodeTargets || a.NumChains != b.NumChains || len(a.Templates) != len(b.Templates) {
		return false
	}
	// ids differ between sent and offered structures
	withID := b.Clone()
	withID.StructureId = a.StructureId
	return a.String() == withID.String()
}
