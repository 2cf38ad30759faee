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
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/packetizer"
)

const testExtensionID = 3

func TestDecodeTarget(t *testing.T) {
	layer := VideoLayer{Spatial: 1, Temporal: 2}

	t.Run("No Chain", func(t *testing.T) {
		dt := NewDecodeTarget(1, layer, nil)
		require.True(t, dt.Valid())
		// no indication found
		_, err := dt.OnFrame(1, &dd.FrameDependencyTemplate{
			DecodeTargetIndications: []dd.DecodeTargetIndication{},
		})
		require.ErrorIs(t, err, ErrDecodeTargetMismatch)

		ret, err := dt.OnFrame(1, &dd.FrameDependencyTemplate{
			DecodeTargetIndications: []dd.DecodeTargetIndication{dd.DecodeTargetNotPresent, dd.DecodeTargetRequired},
		})
		require.NoError(t, err)
		require.True(t, ret.TargetValid)
		require.Equal(t, dd.DecodeTargetRequired, ret.DTI)
	})

	t.Run("With Chain", func(t *testing.T) {
		decisions := NewSelectorDecisionCache(256, 80)
		chain := NewFrameChain(decisions, 1, logger.GetLogger())
		dt := NewDecodeTarget(1, layer, chain)
		chain.BeginUpdateActive()
		dt.UpdateActive(1 << dt.Target)
		chain.EndUpdateActive()
		require.True(t, dt.Active())
		require.False(t, dt.Valid())

		// chain intact
		frame := &dd.FrameDependencyTemplate{
			DecodeTargetIndications: []dd.DecodeTargetIndication{dd.DecodeTargetNotPresent, dd.DecodeTargetRequired},
			ChainDiffs:              []int{0, 0},
		}
		chain.OnFrame(1, frame)
		require.True(t, dt.Valid())
		ret, err := dt.OnFrame(1, frame)
		require.NoError(t, err)
		require.True(t, ret.TargetValid)
		require.Equal(t, dd.DecodeTargetRequired, ret.DTI)

		// deactivated
		chain.BeginUpdateActive()
		dt.UpdateActive(0)
		chain.EndUpdateActive()
		require.False(t, dt.Active())
		require.False(t, chain.Active())
	})
}

func TestFrameChain(t *testing.T) {
	decisions := NewSelectorDecisionCache(256, 3)
	chain := NewFrameChain(decisions, 0, logger.GetLogger())
	require.True(t, chain.Broken())

	// chain intact
	frameNoDiff := &dd.FrameDependencyTemplate{
		ChainDiffs: []int{0},
	}
	// not active
	require.False(t, chain.OnFrame(1, frameNoDiff))

	chain.BeginUpdateActive()
	chain.UpdateActive(true)
	chain.EndUpdateActive()

	require.True(t, chain.OnFrame(1, frameNoDiff))
	decisions.AddForwarded(1)

	frameDiff1 := &dd.FrameDependencyTemplate{
		ChainDiffs: []int{1},
	}

	require.True(t, chain.OnFrame(2, frameDiff1))
	decisions.AddForwarded(2)

	// frame 5 arrives first, frame 4 can still be recovered
	require.True(t, chain.OnFrame(5, frameDiff1))
	decisions.AddForwarded(5)

	// frame 4 arrives, chain remains intact
	require.True(t, chain.OnFrame(4, frameDiff1))
	decisions.AddForwarded(4)
	require.False(t, chain.Broken())

	// frame 3 falls out of the nack window, chain broken
	decisions.AddForwarded(7)
	require.True(t, chain.Broken())

	// recovery by non-diff frame
	require.True(t, chain.OnFrame(1000, frameNoDiff))
	require.False(t, chain.Broken())
	decisions.AddForwarded(1000)

	// broken by dropped frame
	require.True(t, chain.OnFrame(1002, frameDiff1))
	decisions.AddDropped(1001)
	require.True(t, chain.Broken())

	// recovery by non-diff frame
	require.True(t, chain.OnFrame(2000, frameNoDiff))
	decisions.AddForwarded(2000)
	decisions.AddDropped(2001)
	require.False(t, chain.OnFrame(2002, frameDiff1))
	require.True(t, chain.Broken())

	// diff reaching before the first frame
	require.True(t, chain.OnFrame(3000, frameNoDiff))
	require.False(t, chain.OnFrame(3, &dd.FrameDependencyTemplate{ChainDiffs: []int{255}}))
	require.True(t, chain.Broken())
}

func TestSelectorDecisionCache(t *testing.T) {
	decisions := NewSelectorDecisionCache(64, 4)

	sd, err := decisions.GetDecision(10)
	require.NoError(t, err)
	require.Equal(t, selectorDecisionUnknown, sd)

	decisions.AddForwarded(10)
	decisions.AddDropped(13)
	for entity, expected := range map[uint64]selectorDecision{
		10: selectorDecisionForwarded,
		11: selectorDecisionMissing,
		12: selectorDecisionMissing,
		13: selectorDecisionDropped,
		14: selectorDecisionUnknown,
		9:  selectorDecisionUnknown,
	} {
		sd, err = decisions.GetDecision(entity)
		require.NoError(t, err)
		require.Equal(t, expected, sd, "entity %d", entity)
	}

	var decided []selectorDecision
	onDecision := func(_ uint64, decision selectorDecision) {
		decided = append(decided, decision)
	}
	require.True(t, decisions.ExpectDecision(11, onDecision))
	require.True(t, decisions.ExpectDecision(12, onDecision))
	decisions.AddForwarded(11)
	require.Equal(t, []selectorDecision{selectorDecisionForwarded}, decided)

	// 12 leaves the window undecided
	decisions.AddForwarded(17)
	require.Equal(t, []selectorDecision{selectorDecisionForwarded, selectorDecisionMissing}, decided)
	require.False(t, decisions.ExpectDecision(12, onDecision))

	// entries beyond the cache size are too old
	decisions.AddForwarded(17 + 64)
	_, err = decisions.GetDecision(17)
	require.Error(t, err)
}

func TestDecodeTargetLayers(t *testing.T) {
	c, err := svc.CreateScalabilityStructure(svc.ScalabilityModeL2T2, logger.GetLogger())
	require.NoError(t, err)
	structure := c.DependencyStructure()

	require.Equal(t, []VideoLayer{
		{Spatial: 0, Temporal: 0},
		{Spatial: 0, Temporal: 1},
		{Spatial: 1, Temporal: 0},
		{Spatial: 1, Temporal: 1},
	}, DecodeTargetLayers(structure))
	require.Equal(t, VideoLayer{Spatial: 1, Temporal: 1}, MaxLayer(structure))

	targets := []*DecodeTarget{
		NewDecodeTarget(0, VideoLayer{Spatial: 0, Temporal: 0}, nil),
		NewDecodeTarget(2, VideoLayer{Spatial: 1, Temporal: 0}, nil),
		NewDecodeTarget(1, VideoLayer{Spatial: 0, Temporal: 1}, nil),
	}
	sortDecodeTargets(targets)
	require.Equal(t, []int{2, 1, 0}, []int{targets[0].Target, targets[1].Target, targets[2].Target})
}

func TestParserExtendsFrameNumbers(t *testing.T) {
	sender := newTestSender(t, svc.ScalabilityModeL1T1)
	parser := NewParser(testExtensionID, logger.GetLogger())

	var units [][]testFrame
	for i := 0; i < 3; i++ {
		units = append(units, sender.unit(t, false, 100))
	}

	extFrameNumber := func(frame testFrame) uint64 {
		extPkt, err := parser.Parse(frame.packets[0])
		require.NoError(t, err)
		return extPkt.ExtFrameNumber
	}

	first := extFrameNumber(units[0][0])
	require.Equal(t, uint64(uint16(units[0][0].info.FrameID)), first)
	// reordered frames keep their place in the extended space
	require.Equal(t, first+2, extFrameNumber(units[2][0]))
	require.Equal(t, first+1, extFrameNumber(units[1][0]))
	require.Equal(t, first+2, extFrameNumber(units[2][0]))
}

// ------------------------------------------------------------------------------

type testSender struct {
	controller svc.ScalableVideoController
	packetizer *packetizer.Packetizer
	timestamp  uint32
}

func newTestSender(t *testing.T, mode svc.ScalabilityMode) *testSender {
	c, err := svc.CreateScalabilityStructure(mode, logger.GetLogger())
	require.NoError(t, err)
	return &testSender{
		controller: c,
		packetizer: packetizer.NewPacketizer(packetizer.Params{
			ExtensionID: testExtensionID,
			SSRC:        1,
			PayloadType: 96,
			Logger:      logger.GetLogger(),
		}),
	}
}

type testFrame struct {
	info    svc.GenericFrameInfo
	packets []*rtp.Packet
}

func (s *testSender) unit(t *testing.T, restart bool, payloadSize int) []testFrame {
	configs := s.controller.NextFrameConfig(restart)
	s.timestamp += 3000

	var frames []testFrame
	for idx, config := range configs {
		info, err := s.controller.OnEncodeDone(config)
		require.NoError(t, err)

		var structure *dd.FrameDependencyStructure
		if info.IsKeyframe {
			structure = s.controller.DependencyStructure()
		}
		packets, err := s.packetizer.Packetize(&info, structure, s.timestamp, payloadSize, idx == len(configs)-1)
		require.NoError(t, err)
		frames = append(frames, testFrame{info: info, packets: packets})
	}
	return frames
}

type testReceiver struct {
	parser   *Parser
	selector *Selector
	maxLayer VideoLayer
}

func newTestReceiver(target VideoLayer) *testReceiver {
	r := &testReceiver{
		parser:   NewParser(testExtensionID, logger.GetLogger()),
		selector: NewSelector(logger.GetLogger()),
		maxLayer: InvalidLayer,
	}
	r.parser.OnMaxLayerChanged(func(layer VideoLayer) {
		r.maxLayer = layer
	})
	r.selector.SetTarget(target)
	return r
}

func (r *testReceiver) receive(t *testing.T, pkt *rtp.Packet) VideoLayerSelectorResult {
	extPkt, err := r.parser.Parse(pkt)
	require.NoError(t, err)
	result, err := r.selector.Select(extPkt)
	require.NoError(t, err)
	return result
}

func TestSelectorForwardsTargetLayer(t *testing.T) {
	for _, tc := range []struct {
		name      string
		mode      svc.ScalabilityMode
		target    VideoLayer
		forwarded func(info svc.GenericFrameInfo) bool
	}{
		{
			name:      "L1T3 all",
			mode:      svc.ScalabilityModeL1T3,
			target:    VideoLayer{Spatial: 0, Temporal: 2},
			forwarded: func(svc.GenericFrameInfo) bool { return true },
		},
		{
			name:      "L1T3 base",
			mode:      svc.ScalabilityModeL1T3,
			target:    VideoLayer{Spatial: 0, Temporal: 0},
			forwarded: func(info svc.GenericFrameInfo) bool { return info.TemporalID == 0 },
		},
		{
			name:      "L2T2 all",
			mode:      svc.ScalabilityModeL2T2,
			target:    VideoLayer{Spatial: 1, Temporal: 1},
			forwarded: func(svc.GenericFrameInfo) bool { return true },
		},
		{
			name:      "L2T2 lower spatial",
			mode:      svc.ScalabilityModeL2T2,
			target:    VideoLayer{Spatial: 0, Temporal: 1},
			forwarded: func(info svc.GenericFrameInfo) bool { return info.SpatialID == 0 },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sender := newTestSender(t, tc.mode)
			receiver := newTestReceiver(tc.target)

			for unit := 0; unit < 40; unit++ {
				for _, frame := range sender.unit(t, unit == 0, 2500) {
					expected := tc.forwarded(frame.info)
					for idx, pkt := range frame.packets {
						result := receiver.receive(t, pkt)
						require.Equal(t, expected, result.IsSelected, "unit %d, frame %s", unit, frame.info.String())
						if !expected {
							continue
						}
						require.NotEmpty(t, result.DependencyDescriptorExtension)
						last := idx == len(frame.packets)-1
						require.Equal(t, last && int32(frame.info.SpatialID) == tc.target.Spatial, result.RTPMarker)
					}
				}
				require.False(t, receiver.selector.NeedsKeyframe())
			}
			require.Equal(t, tc.target, receiver.selector.GetCurrent())
			require.Equal(t, MaxLayer(sender.controller.DependencyStructure()), receiver.maxLayer)
		})
	}
}

func TestSelectorLimitsActiveDecodeTargets(t *testing.T) {
	sender := newTestSender(t, svc.ScalabilityModeL2T2)
	receiver := newTestReceiver(VideoLayer{Spatial: 0, Temporal: 1})

	frames := sender.unit(t, true, 100)
	result := receiver.receive(t, frames[0].packets[0])
	require.True(t, result.IsSelected)
	require.True(t, result.IsResuming)

	var descriptor dd.DependencyDescriptor
	ext := &dd.DependencyDescriptorExtension{Descriptor: &descriptor}
	_, err := ext.Unmarshal(result.DependencyDescriptorExtension)
	require.NoError(t, err)
	require.NotNil(t, descriptor.AttachedStructure)
	require.NotNil(t, descriptor.ActiveDecodeTargetsBitmask)
	require.Equal(t, uint32(0b0011), *descriptor.ActiveDecodeTargetsBitmask)
}

func TestSelectorSwitchesOnSwitchFrames(t *testing.T) {
	sender := newTestSender(t, svc.ScalabilityModeL1T3)
	receiver := newTestReceiver(VideoLayer{Spatial: 0, Temporal: 0})

	for unit := 0; unit < 4; unit++ {
		for _, frame := range sender.unit(t, unit == 0, 100) {
			receiver.receive(t, frame.packets[0])
		}
	}
	require.Equal(t, VideoLayer{Spatial: 0, Temporal: 0}, receiver.selector.GetCurrent())

	// up switch happens on the next frame that is a switch point of the highest target
	receiver.selector.SetTarget(VideoLayer{Spatial: 0, Temporal: 2})
	switched := false
	for unit := 0; unit < 4 && !switched; unit++ {
		for _, frame := range sender.unit(t, false, 100) {
			result := receiver.receive(t, frame.packets[0])
			if result.IsSwitching {
				switched = true
				require.True(t, result.IsSelected)
				require.Equal(t, dd.DecodeTargetSwitch, frame.info.DecodeTargetIndications[2])
			}
		}
	}
	require.True(t, switched)
	require.Equal(t, VideoLayer{Spatial: 0, Temporal: 2}, receiver.selector.GetCurrent())
}

func TestSelectorBrokenChain(t *testing.T) {
	sender := newTestSender(t, svc.ScalabilityModeL1T3)
	receiver := newTestReceiver(VideoLayer{Spatial: 0, Temporal: 2})

	lost := false
	for unit := 0; unit < nackWindow+10; unit++ {
		for _, frame := range sender.unit(t, unit == 0, 100) {
			// lose a base layer frame
			if unit == 4 {
				require.Equal(t, 0, frame.info.TemporalID)
				lost = true
				continue
			}
			receiver.receive(t, frame.packets[0])
		}
	}
	require.True(t, lost)
	require.True(t, receiver.selector.NeedsKeyframe())
	require.Equal(t, InvalidLayer, receiver.selector.GetCurrent())

	frames := sender.unit(t, false, 100)
	result := receiver.receive(t, frames[0].packets[0])
	require.False(t, result.IsSelected)

	// restart recovers
	frames = sender.unit(t, true, 100)
	result = receiver.receive(t, frames[0].packets[0])
	require.True(t, result.IsSelected)
	require.True(t, result.IsResuming)
	require.False(t, receiver.selector.NeedsKeyframe())
}

func TestSelectorErrors(t *testing.T) {
	selector := NewSelector(logger.GetLogger())
	_, err := selector.Select(&ExtPacket{Packet: &rtp.Packet{}})
	require.ErrorIs(t, err, ErrNoDependencyDescriptor)

	_, err = selector.Select(&ExtPacket{
		Packet: &rtp.Packet{},
		DependencyDescriptor: &dd.DependencyDescriptor{
			FrameDependencies: &dd.FrameDependencyTemplate{},
		},
	})
	require.ErrorIs(t, err, ErrNoStructure)

	parser := NewParser(testExtensionID, logger.GetLogger())
	_, err = parser.Parse(&rtp.Packet{})
	require.ErrorIs(t, err, ErrNoDependencyDescriptor)
}
