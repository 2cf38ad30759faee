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

package simulator

import (
	"context"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/scalability/pkg/sfu/utils"
	"github.com/livekit/scalability/pkg/sfu/videolayerselector"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/packetizer"
	"github.com/livekit/scalability/pkg/svc/simulcast"
	"github.com/livekit/scalability/pkg/telemetry/prometheus"
)

const (
	mediaSSRC    = 0x5c0de
	receiverSSRC = 0x5ec0de

	maxNACKAttempts = 3
)

type Stats struct {
	Name string

	Units     int
	Frames    int
	Keyframes int
	Restarts  int

	Packets          int
	PacketsLost      int
	PacketsReordered int
	PayloadBytes     int
	DescriptorBytes  int

	Forwarded        int
	Dropped          int
	ParseErrors      int
	BrokenChains     int
	KeyframeRequests int

	NACKs            int
	Retransmitted    int
	PacketsRecovered int

	FinalLayer videolayerselector.VideoLayer
}

// DescriptorOverhead is the share of bytes sent spent on dependency descriptors.
func (s *Stats) DescriptorOverhead() float64 {
	if s.PayloadBytes+s.DescriptorBytes == 0 {
		return 0
	}
	return float64(s.DescriptorBytes) / float64(s.PayloadBytes+s.DescriptorBytes)
}

// Simulator encodes a scenario into RTP packets, sends them through a lossy
// channel and forwards them with the dependency descriptor selector.
type Simulator struct {
	logger   logger.Logger
	scenario *Scenario

	source     source
	packetizer *packetizer.Packetizer
	channel    *Channel
	parser     *videolayerselector.Parser
	selector   *videolayerselector.Selector

	allocation    *svc.VideoBitrateAllocation
	nextRate      int
	decided       map[uint64]bool
	needsKeyframe bool
	lastRequest   int
	restart       bool

	sequenceNumbers *utils.WrapAround[uint16, uint64]
	// extended sequence number -> retransmission requests sent
	missing map[uint64]int

	stats Stats
}

func New(scenario *Scenario, logger logger.Logger) (*Simulator, error) {
	src, err := newSource(scenario, logger)
	if err != nil {
		prometheus.IncrementConfigurationError(err)
		return nil, err
	}

	historySize := 0
	if scenario.NACK {
		historySize = scenario.NACKHistory
	}

	s := &Simulator{
		logger:   logger,
		scenario: scenario,
		source:   src,
		packetizer: packetizer.NewPacketizer(packetizer.Params{
			ExtensionID: scenario.ExtensionID,
			SSRC:        mediaSSRC,
			PayloadType: 96,
			MTU:         scenario.MTU,
			HistorySize: historySize,
			Logger:      logger,
		}),
		channel:         NewChannel(scenario.LossRate, scenario.ReorderWindow, scenario.Seed),
		parser:          videolayerselector.NewParser(scenario.ExtensionID, logger),
		selector:        videolayerselector.NewSelector(logger),
		decided:         make(map[uint64]bool),
		lastRequest:     -scenario.PLIInterval,
		restart:         true,
		sequenceNumbers: utils.NewWrapAround[uint16, uint64](),
		missing:         make(map[uint64]int),
		stats: Stats{
			Name: scenario.Name,
		},
	}
	s.selector.SetTarget(scenario.Target)
	s.parser.OnMaxLayerChanged(func(layer videolayerselector.VideoLayer) {
		s.logger.Debugw("max layer changed", "layer", layer)
	})
	return s, nil
}

func newSource(scenario *Scenario, logger logger.Logger) (source, error) {
	if scenario.Codec != nil {
		converter, err := simulcast.NewConverter(scenario.Codec, logger)
		if err != nil {
			return nil, err
		}
		return newConverterSource(scenario.Codec, converter), nil
	}

	controller, err := svc.CreateScalabilityStructure(scenario.Mode, logger)
	if err != nil {
		return nil, err
	}
	return newControllerSource(scenario.Mode.String(), controller), nil
}

func (s *Simulator) Run(ctx context.Context) (*Stats, error) {
	timestampStep := uint32(90000 / max(s.scenario.FrameRate, 1))
	for unit := 0; unit < s.scenario.Units; unit++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.applyRates(unit)
		if err := s.sendUnit(unit, uint32(unit)*timestampStep); err != nil {
			return nil, err
		}
		s.receive(s.channel.Deliver())
		s.feedback(unit)
	}
	s.receive(s.channel.Flush())

	s.stats.PacketsLost = s.channel.Lost()
	prometheus.IncrementPacketLoss(uint64(s.stats.PacketsLost))
	s.stats.PacketsReordered = s.channel.Reordered()
	s.stats.FinalLayer = s.selector.GetCurrent()
	s.logger.Infow(
		"simulation done",
		"scenario", s.scenario,
		"frames", s.stats.Frames,
		"forwarded", s.stats.Forwarded,
		"dropped", s.stats.Dropped,
		"brokenChains", s.stats.BrokenChains,
		"retransmitted", s.stats.Retransmitted,
		"finalLayer", s.stats.FinalLayer,
	)
	stats := s.stats
	return &stats, nil
}

func (s *Simulator) applyRates(unit int) {
	for s.nextRate < len(s.scenario.Rates) && s.scenario.Rates[s.nextRate].AtUnit <= unit {
		rate := s.scenario.Rates[s.nextRate]
		s.logger.Debugw("updating rates", "unit", unit, "allocation", rate.Allocation)
		s.allocation = rate.Allocation
		s.source.OnRatesUpdated(rate.Allocation)
		s.nextRate++
	}
}

func (s *Simulator) sendUnit(unit int, timestamp uint32) error {
	restart := s.restart
	s.restart = false
	if restart && unit > 0 {
		s.stats.Restarts++
		prometheus.IncrementRestart(s.source.Name())
		s.logger.Debugw("restarting", "unit", unit)
	}

	frames, err := s.source.NextUnit(restart)
	if err != nil {
		if errors.Is(err, svc.ErrChainCountMismatch) {
			prometheus.IncrementProtocolViolation()
		}
		return err
	}
	s.stats.Units++

	for _, frame := range frames {
		info := frame.info
		packets, err := s.packetizer.Packetize(&info, frame.structure, timestamp, s.payloadSize(&info), frame.endOfPicture)
		if err != nil {
			return errors.Wrapf(err, "unit %d, frame %d", unit, info.FrameID)
		}

		kind := prometheus.FrameKindDelta
		if info.IsKeyframe {
			kind = prometheus.FrameKindKey
			s.stats.Keyframes++
		}
		s.stats.Frames++
		prometheus.IncrementFrame(s.source.Name(), info.SpatialID, info.TemporalID, kind)
		prometheus.ObserveDescriptorBytes(s.packetizer.DescriptorBytes())

		s.stats.DescriptorBytes += s.packetizer.DescriptorBytes()
		for _, pkt := range packets {
			s.stats.Packets++
			s.stats.PayloadBytes += len(pkt.Payload)
			prometheus.IncrementPackets(prometheus.Outgoing, 1)
			prometheus.IncrementBytes(prometheus.Outgoing, uint64(len(pkt.Payload)))
			s.channel.Send(pkt)
		}
	}
	return nil
}

// payloadSize derives the frame size from the layer bitrate.
func (s *Simulator) payloadSize(info *svc.GenericFrameInfo) int {
	bitrate := uint32(defaultLayerBitrate * (info.SpatialID + 1))
	if s.allocation != nil && s.allocation.HasBitrate(info.SpatialID, info.TemporalID) {
		bitrate = s.allocation.GetBitrate(info.SpatialID, info.TemporalID)
	}
	size := max(int(bitrate)/8/max(s.scenario.FrameRate, 1), minPayloadSize)
	if info.IsKeyframe {
		size *= keyframeSizeFactor
	}
	return size
}

func (s *Simulator) receive(packets []*rtp.Packet) {
	for _, pkt := range packets {
		prometheus.IncrementPackets(prometheus.Incoming, 1)
		s.trackSequenceNumber(pkt.SequenceNumber)

		extPkt, err := s.parser.Parse(pkt)
		if err != nil {
			s.stats.ParseErrors++
			s.logger.Debugw("could not parse dependency descriptor", "err", err, "sn", pkt.SequenceNumber)
			continue
		}

		result, err := s.selector.Select(extPkt)
		if err != nil {
			s.stats.ParseErrors++
			s.logger.Debugw("could not select packet", "err", err, "sn", pkt.SequenceNumber)
			continue
		}

		if _, ok := s.decided[extPkt.ExtFrameNumber]; ok {
			continue
		}
		s.decided[extPkt.ExtFrameNumber] = result.IsSelected
		if result.IsSelected {
			s.stats.Forwarded++
			prometheus.IncrementSelectorDecision(prometheus.DecisionForwarded)
		} else {
			s.stats.Dropped++
			prometheus.IncrementSelectorDecision(prometheus.DecisionDropped)
		}
		if result.IsSwitching || result.IsResuming {
			s.logger.Debugw("layer switch", "current", s.selector.GetCurrent(), "resuming", result.IsResuming, "frame", extPkt.ExtFrameNumber)
		}
	}
}

// trackSequenceNumber remembers gaps in the received sequence numbers.
func (s *Simulator) trackSequenceNumber(sn uint16) {
	if !s.scenario.NACK {
		return
	}

	result := s.sequenceNumbers.Update(sn)
	if result.ExtendedVal <= result.PreExtendedHighest {
		// late, duplicate or retransmitted
		if _, ok := s.missing[result.ExtendedVal]; ok {
			delete(s.missing, result.ExtendedVal)
			s.stats.PacketsRecovered++
		}
		return
	}
	for esn := result.PreExtendedHighest + 1; esn < result.ExtendedVal; esn++ {
		s.missing[esn] = 0
	}
}

// feedback sends retransmission requests for missing packets and a keyframe
// request when the receiver cannot reach its target.
func (s *Simulator) feedback(unit int) {
	if s.scenario.NACK {
		s.requestRetransmissions()
	}

	needsKeyframe := s.selector.NeedsKeyframe() || (s.parser.Structure() == nil && s.stats.ParseErrors > 0)
	if needsKeyframe && !s.needsKeyframe && s.parser.Structure() != nil {
		s.stats.BrokenChains++
		prometheus.IncrementBrokenChain()
	}
	s.needsKeyframe = needsKeyframe
	if !needsKeyframe || unit-s.lastRequest < s.scenario.PLIInterval {
		return
	}

	buf, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.PictureLossIndication{SenderSSRC: receiverSSRC, MediaSSRC: mediaSSRC},
	})
	if err != nil {
		s.logger.Warnw("could not marshal keyframe request", err)
		return
	}
	s.lastRequest = unit
	s.stats.KeyframeRequests++
	prometheus.IncrementPLI(prometheus.Outgoing)

	// sender side
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		s.logger.Warnw("could not unmarshal keyframe request", err)
		return
	}
	if packetizer.NeedsKeyframe(packets, mediaSSRC) {
		s.restart = true
	}
}

func (s *Simulator) requestRetransmissions() {
	highest := s.sequenceNumbers.GetExtendedHighest()
	var esns []uint64
	for esn, attempts := range s.missing {
		if attempts >= maxNACKAttempts {
			delete(s.missing, esn)
			continue
		}
		// may still be in the reorder window
		if esn+uint64(s.scenario.ReorderWindow) >= highest {
			continue
		}
		s.missing[esn] = attempts + 1
		esns = append(esns, esn)
	}
	if len(esns) == 0 {
		return
	}
	slices.Sort(esns)

	sns := make([]uint16, 0, len(esns))
	for _, esn := range esns {
		sns = append(sns, uint16(esn))
	}

	buf, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.TransportLayerNack{
			SenderSSRC: receiverSSRC,
			MediaSSRC:  mediaSSRC,
			Nacks:      rtcp.NackPairsFromSequenceNumbers(sns),
		},
	})
	if err != nil {
		s.logger.Warnw("could not marshal retransmission request", err)
		return
	}
	s.stats.NACKs += len(sns)
	prometheus.IncrementNACK(prometheus.Outgoing, uint64(len(sns)))

	// sender side
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		s.logger.Warnw("could not unmarshal retransmission request", err)
		return
	}
	for _, sn := range packetizer.NackedSequenceNumbers(packets, mediaSSRC) {
		pkt, err := s.packetizer.Retransmit(sn)
		if err != nil {
			s.logger.Debugw("could not retransmit", "err", err, "sn", sn)
			continue
		}
		s.stats.Retransmitted++
		prometheus.IncrementRetransmit()
		s.channel.Send(pkt)
	}
}
