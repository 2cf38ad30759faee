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
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/livekit/mediatransportutil/pkg/bucket"
	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
)

const (
	DefaultMTU = 1200

	maxTwoByteExtensionSize = 255
)

type Params struct {
	ExtensionID uint8
	SSRC        uint32
	PayloadType uint8
	MTU         int
	// packets kept for retransmission, none when 0
	HistorySize int
	Logger      logger.Logger
}

// Packetizer splits encoded frames into RTP packets carrying the dependency
// descriptor header extension.
type Packetizer struct {
	params  Params
	builder *DescriptorBuilder
	history *bucket.Bucket

	sequenceNumber uint16

	frame      *dd.DependencyDescriptor
	frameID    int64
	frameBytes int
	active     svc.DecodeTargetMask
}

func NewPacketizer(params Params) *Packetizer {
	if params.MTU <= 0 {
		params.MTU = DefaultMTU
	}
	p := &Packetizer{
		params:  params,
		builder: NewDescriptorBuilder(params.Logger),
	}
	if params.HistorySize > 0 {
		buf := make([]byte, params.HistorySize*bucket.MaxPktSize)
		p.history = bucket.NewBucket(&buf)
	}
	return p
}

func (p *Packetizer) Structure() *dd.FrameDependencyStructure {
	return p.builder.Structure()
}

// DescriptorBytes is the header extension overhead of the latest frame.
func (p *Packetizer) DescriptorBytes() int {
	return p.frameBytes
}

// Stamp sets the dependency descriptor of one packet of a frame. The first
// packet builds the descriptor and carries the structure and active decode
// targets when present; the rest repeat the frame dependencies only.
func (p *Packetizer) Stamp(pkt *rtp.Packet, info *svc.GenericFrameInfo, structure *dd.FrameDependencyStructure, first, last bool) error {
	var descriptor dd.DependencyDescriptor
	if first {
		built, err := p.builder.Build(info, structure)
		if err != nil {
			return err
		}
		p.frame = built
		p.frameID = info.FrameID
		p.frameBytes = 0
		p.active = info.ActiveDecodeTargets
		descriptor = *built
	} else {
		if p.frame == nil || p.frameID != info.FrameID {
			return errors.Wrapf(ErrFrameOutOfOrder, "frame %d", info.FrameID)
		}
		descriptor = *p.frame
		descriptor.AttachedStructure = nil
		descriptor.ActiveDecodeTargetsBitmask = nil
		descriptor.Resolution = nil
	}
	descriptor.FirstPacketInFrame = first
	descriptor.LastPacketInFrame = last

	ext := &dd.DependencyDescriptorExtension{
		Descriptor: &descriptor,
		Structure:  p.builder.Structure(),
	}
	buf, err := ext.MarshalWithActiveChains(ActiveChains(p.builder.Structure(), p.active))
	if err != nil {
		return err
	}
	if len(buf) > maxTwoByteExtensionSize {
		return errors.Wrapf(ErrExtensionTooLarge, "%d bytes", len(buf))
	}
	if err := pkt.Header.SetExtension(p.params.ExtensionID, buf); err != nil {
		return errors.Wrapf(err, "extension id %d, %d bytes", p.params.ExtensionID, len(buf))
	}
	p.frameBytes += len(buf)
	return nil
}

// Packetize produces the packets of one encoded frame of payloadSize bytes.
// Payload bytes are zero, only sizes matter.
func (p *Packetizer) Packetize(
	info *svc.GenericFrameInfo,
	structure *dd.FrameDependencyStructure,
	timestamp uint32,
	payloadSize int,
	endOfPicture bool,
) ([]*rtp.Packet, error) {
	numPackets := (payloadSize + p.params.MTU - 1) / p.params.MTU
	if numPackets == 0 {
		numPackets = 1
	}

	packets := make([]*rtp.Packet, 0, numPackets)
	remaining := payloadSize
	for idx := 0; idx < numPackets; idx++ {
		size := min(remaining, p.params.MTU)
		remaining -= size

		last := idx == numPackets-1
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         last && endOfPicture,
				PayloadType:    p.params.PayloadType,
				SequenceNumber: p.sequenceNumber,
				Timestamp:      timestamp,
				SSRC:           p.params.SSRC,
			},
			Payload: make([]byte, size),
		}
		p.sequenceNumber++

		if err := p.Stamp(pkt, info, structure, idx == 0, last); err != nil {
			return nil, err
		}
		p.remember(pkt)
		packets = append(packets, pkt)
	}
	return packets, nil
}

func (p *Packetizer) remember(pkt *rtp.Packet) {
	if p.history == nil {
		return
	}

	raw, err := pkt.Marshal()
	if err != nil {
		p.params.Logger.Warnw("could not marshal packet", err, "sn", pkt.SequenceNumber)
		return
	}
	if _, err := p.history.AddPacket(raw); err != nil {
		p.params.Logger.Warnw("could not store packet", err, "sn", pkt.SequenceNumber)
	}
}

// Retransmit returns a copy of a sent packet still held in the history.
func (p *Packetizer) Retransmit(sn uint16) (*rtp.Packet, error) {
	if p.history == nil {
		return nil, ErrNoHistory
	}

	buf := make([]byte, bucket.MaxPktSize)
	n, err := p.history.GetPacket(buf, sn)
	if err != nil {
		return nil, errors.Wrapf(err, "sequence number %d", sn)
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		return nil, errors.Wrapf(err, "sequence number %d", sn)
	}
	return pkt, nil
}

// NeedsKeyframe reports whether feedback asks for a key frame of ssrc.
func NeedsKeyframe(packets []rtcp.Packet, ssrc uint32) bool {
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.PictureLossIndication:
			if p.MediaSSRC == ssrc {
				return true
			}
		case *rtcp.FullIntraRequest:
			if p.MediaSSRC == ssrc {
				return true
			}
			for _, entry := range p.FIR {
				if entry.SSRC == ssrc {
					return true
				}
			}
		}
	}
	return false
}

// NackedSequenceNumbers collects the sequence numbers of ssrc feedback reports lost.
func NackedSequenceNumbers(packets []rtcp.Packet, ssrc uint32) []uint16 {
	var sns []uint16
	for _, packet := range packets {
		nack, ok := packet.(*rtcp.TransportLayerNack)
		if !ok || nack.MediaSSRC != ssrc {
			continue
		}
		for _, pair := range nack.Nacks {
			sns = append(sns, pair.PacketList()...)
		}
	}
	return sns
}
