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
	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/sfu/utils"
)

var ErrNoDependencyDescriptor = errors.New("packet has no dependency descriptor")

type ExtPacket struct {
	Packet               *rtp.Packet
	DependencyDescriptor *dd.DependencyDescriptor
	ExtFrameNumber       uint64
	VideoLayer           VideoLayer
	KeyFrame             bool
}

// Parser reads dependency descriptors of one incoming stream, remembering the
// latest structure to resolve templates against.
type Parser struct {
	logger      logger.Logger
	extensionID uint8

	structure    *dd.FrameDependencyStructure
	frameNumbers *utils.WrapAround[uint16, uint64]
	maxLayer     VideoLayer

	onMaxLayerChanged func(VideoLayer)
}

func NewParser(extensionID uint8, logger logger.Logger) *Parser {
	return &Parser{
		logger:       logger,
		extensionID:  extensionID,
		frameNumbers: utils.NewWrapAround[uint16, uint64](),
		maxLayer:     InvalidLayer,
	}
}

func (p *Parser) OnMaxLayerChanged(f func(VideoLayer)) {
	p.onMaxLayerChanged = f
}

func (p *Parser) Structure() *dd.FrameDependencyStructure {
	return p.structure
}

func (p *Parser) Parse(pkt *rtp.Packet) (*ExtPacket, error) {
	buf := pkt.Header.GetExtension(p.extensionID)
	if buf == nil {
		return nil, ErrNoDependencyDescriptor
	}

	var descriptor dd.DependencyDescriptor
	ext := &dd.DependencyDescriptorExtension{
		Descriptor: &descriptor,
		Structure:  p.structure,
	}
	if _, err := ext.Unmarshal(buf); err != nil {
		return nil, errors.Wrapf(err, "sequence number %d", pkt.SequenceNumber)
	}

	if descriptor.AttachedStructure != nil {
		if p.structure == nil || p.structure.StructureId != descriptor.AttachedStructure.StructureId {
			p.logger.Debugw("dependency structure received", "structureID", descriptor.AttachedStructure.StructureId, "structure", descriptor.AttachedStructure)
		}
		p.structure = descriptor.AttachedStructure
		if maxLayer := MaxLayer(p.structure); maxLayer != p.maxLayer {
			p.maxLayer = maxLayer
			if p.onMaxLayerChanged != nil {
				p.onMaxLayerChanged(maxLayer)
			}
		}
	}

	fd := descriptor.FrameDependencies
	if fd == nil {
		return nil, errors.Wrapf(ErrNoDependencyDescriptor, "sequence number %d has no frame dependencies", pkt.SequenceNumber)
	}
	return &ExtPacket{
		Packet:               pkt,
		DependencyDescriptor: &descriptor,
		ExtFrameNumber:       p.frameNumbers.Update(descriptor.FrameNumber).ExtendedVal,
		VideoLayer:           VideoLayer{Spatial: int32(fd.SpatialId), Temporal: int32(fd.TemporalId)},
		KeyFrame:             descriptor.AttachedStructure != nil,
	}, nil
}
