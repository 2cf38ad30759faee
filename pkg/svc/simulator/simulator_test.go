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
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/scalability/pkg/config"
	"github.com/livekit/scalability/pkg/sfu/videolayerselector"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/simulcast"
	"github.com/livekit/scalability/pkg/svc/svcfakes"
)

var maxTarget = videolayerselector.VideoLayer{Spatial: 7, Temporal: 7}

func baseScenario() *Scenario {
	return &Scenario{
		Name:        "base",
		Mode:        svc.ScalabilityModeL1T3,
		Units:       60,
		FrameRate:   30,
		ExtensionID: 5,
		MTU:         1200,
		Seed:        1,
		PLIInterval: 10,
		Target:      maxTarget,
	}
}

func allocation(layers ...[]uint32) *svc.VideoBitrateAllocation {
	a := svc.NewVideoBitrateAllocation()
	for sid, rates := range layers {
		for tid, bps := range rates {
			a.SetBitrate(sid, tid, bps)
		}
	}
	return a
}

func TestSimulateLossless(t *testing.T) {
	scenarios := AllModeScenarios(baseScenario())
	require.NotEmpty(t, scenarios)

	results, err := RunAll(context.Background(), scenarios, 4, logger.GetLogger())
	require.NoError(t, err)
	require.Len(t, results, len(scenarios))

	for idx, stats := range results {
		mode := scenarios[idx].Mode
		t.Run(mode.String(), func(t *testing.T) {
			require.NotNil(t, stats)
			require.Equal(t, 60, stats.Units)
			require.Equal(t, 60*mode.NumSpatialLayers(), stats.Frames)
			require.Equal(t, stats.Frames, stats.Forwarded+stats.Dropped)
			require.Zero(t, stats.ParseErrors)
			require.Zero(t, stats.BrokenChains)
			require.Zero(t, stats.KeyframeRequests)
			require.Zero(t, stats.Restarts)
			require.Zero(t, stats.PacketsLost)
			require.Greater(t, stats.DescriptorOverhead(), 0.0)
			require.Less(t, stats.DescriptorOverhead(), 0.1)
			require.Equal(t, videolayerselector.VideoLayer{
				Spatial:  int32(mode.NumSpatialLayers() - 1),
				Temporal: int32(mode.NumTemporalLayers() - 1),
			}, stats.FinalLayer)

			// full svc receivers need every frame
			if mode.NumSpatialLayers() == 1 || mode.InterLayerPredMode() == svc.InterLayerPredModeOn {
				require.Zero(t, stats.Dropped)
			}
		})
	}
}

func TestSimulateTargetLayer(t *testing.T) {
	scenario := baseScenario().WithMode(svc.ScalabilityModeL2T2)
	scenario.Target = videolayerselector.VideoLayer{Spatial: 0, Temporal: 0}

	sim, err := New(scenario, logger.GetLogger())
	require.NoError(t, err)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)

	// S0T0 every other unit
	require.Equal(t, 30, stats.Forwarded)
	require.Equal(t, 90, stats.Dropped)
	require.Equal(t, scenario.Target, stats.FinalLayer)
}

func TestSimulateRateChanges(t *testing.T) {
	scenario := baseScenario()
	scenario.Rates = []RateChange{
		{AtUnit: 0, Allocation: allocation([]uint32{300_000})},
		{AtUnit: 30, Allocation: allocation([]uint32{300_000, 100_000, 100_000})},
	}

	sim, err := New(scenario, logger.GetLogger())
	require.NoError(t, err)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 60, stats.Frames)
	require.Zero(t, stats.BrokenChains)
	require.Zero(t, stats.KeyframeRequests)
	require.Equal(t, videolayerselector.VideoLayer{Spatial: 0, Temporal: 2}, stats.FinalLayer)
}

func TestSimulateSimulcast(t *testing.T) {
	scenario := baseScenario()
	scenario.Name = "simulcast"
	scenario.Codec = &simulcast.VideoCodec{
		MimeType: webrtc.MimeTypeVP8,
		Streams: []simulcast.SimulcastStream{
			{Width: 320, Height: 180, TemporalLayers: 2, Active: true},
			{Width: 640, Height: 360, TemporalLayers: 2, Active: true},
		},
	}

	t.Run("lossless", func(t *testing.T) {
		sim, err := New(scenario, logger.GetLogger())
		require.NoError(t, err)
		require.Equal(t, svc.ScalabilityModeS2T2.String(), sim.source.Name())

		stats, err := sim.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 120, stats.Frames)
		require.Zero(t, stats.ParseErrors)
		require.Zero(t, stats.BrokenChains)
		require.Equal(t, videolayerselector.VideoLayer{Spatial: 1, Temporal: 1}, stats.FinalLayer)
	})

	t.Run("upper stream paused", func(t *testing.T) {
		paused := scenario.clone()
		paused.Rates = []RateChange{
			{AtUnit: 20, Allocation: allocation([]uint32{200_000, 100_000})},
		}
		sim, err := New(paused, logger.GetLogger())
		require.NoError(t, err)

		stats, err := sim.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 40+40, stats.Frames)
		require.GreaterOrEqual(t, stats.KeyframeRequests, 1)
		require.GreaterOrEqual(t, stats.Restarts, 1)
		require.Equal(t, videolayerselector.VideoLayer{Spatial: 0, Temporal: 1}, stats.FinalLayer)
	})
}

func TestSimulateLoss(t *testing.T) {
	scenario := baseScenario()
	scenario.Units = 300
	scenario.LossRate = 0.05
	scenario.ReorderWindow = 2
	scenario.Seed = 7

	sim, err := New(scenario, logger.GetLogger())
	require.NoError(t, err)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)

	require.Greater(t, stats.PacketsLost, 0)
	require.Greater(t, stats.PacketsReordered, 0)
	require.Greater(t, stats.Forwarded, 0)
	require.LessOrEqual(t, stats.Forwarded+stats.Dropped, stats.Frames)
	require.LessOrEqual(t, stats.Restarts, stats.KeyframeRequests)
	require.Zero(t, stats.NACKs)
	require.Zero(t, stats.Retransmitted)
}

func TestSimulateRetransmissions(t *testing.T) {
	scenario := baseScenario()
	scenario.Units = 300
	scenario.LossRate = 0.05
	scenario.Seed = 7
	scenario.NACK = true
	scenario.NACKHistory = 500

	sim, err := New(scenario, logger.GetLogger())
	require.NoError(t, err)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)

	require.Greater(t, stats.PacketsLost, 0)
	require.Greater(t, stats.NACKs, 0)
	require.Greater(t, stats.Retransmitted, 0)
	require.LessOrEqual(t, stats.Retransmitted, stats.NACKs)
	require.Greater(t, stats.PacketsRecovered, 0)
	require.LessOrEqual(t, stats.PacketsRecovered, stats.Retransmitted)
	require.LessOrEqual(t, stats.Forwarded+stats.Dropped, stats.Frames)
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim, err := New(baseScenario(), logger.GetLogger())
	require.NoError(t, err)
	_, err = sim.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunAllErrors(t *testing.T) {
	bad := baseScenario()
	bad.Name = "bad"
	bad.Codec = &simulcast.VideoCodec{MimeType: webrtc.MimeTypeVP8}

	results, err := RunAll(context.Background(), []*Scenario{baseScenario(), bad}, 2, logger.GetLogger())
	require.ErrorIs(t, err, simulcast.ErrUnsupportedSimulcastConfig)
	require.NotNil(t, results[0])
	require.Nil(t, results[1])
}

func TestControllerSourceErrors(t *testing.T) {
	fake := &svcfakes.FakeScalableVideoController{}
	fake.NextFrameConfigReturns([]svc.LayerFrameConfig{*svc.NewLayerFrameConfig().Keyframe()})
	boom := errors.New("encoder failure")
	fake.OnEncodeDoneReturns(svc.GenericFrameInfo{}, boom)

	src := newControllerSource("fake", fake)
	_, err := src.NextUnit(true)
	require.ErrorIs(t, err, boom)
	require.True(t, fake.NextFrameConfigArgsForCall(0))

	fake.OnEncodeDoneReturns(svc.GenericFrameInfo{IsKeyframe: true}, nil)
	frames, err := src.NextUnit(true)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.True(t, frames[0].endOfPicture)
	require.Equal(t, 1, fake.DependencyStructureCallCount())

	src.OnRatesUpdated(svc.NewVideoBitrateAllocation())
	require.Equal(t, 1, fake.OnRatesUpdatedCallCount())
}

func TestChannel(t *testing.T) {
	packets := func(n int) []*rtp.Packet {
		var pkts []*rtp.Packet
		for i := 0; i < n; i++ {
			pkts = append(pkts, &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}})
		}
		return pkts
	}

	t.Run("perfect", func(t *testing.T) {
		c := NewChannel(0, 0, 1)
		for _, pkt := range packets(10) {
			c.Send(pkt)
		}
		delivered := c.Deliver()
		require.Len(t, delivered, 10)
		for i, pkt := range delivered {
			require.Equal(t, uint16(i), pkt.SequenceNumber)
		}
		require.Empty(t, c.Flush())
	})

	t.Run("reordering", func(t *testing.T) {
		c := NewChannel(0, 3, 1)
		for _, pkt := range packets(100) {
			c.Send(pkt)
		}
		delivered := c.Deliver()
		require.Len(t, delivered, 97)
		delivered = append(delivered, c.Flush()...)
		require.Len(t, delivered, 100)

		seen := map[uint16]bool{}
		inOrder := true
		for i, pkt := range delivered {
			seen[pkt.SequenceNumber] = true
			inOrder = inOrder && pkt.SequenceNumber == uint16(i)
		}
		require.Len(t, seen, 100)
		require.False(t, inOrder)
		require.Greater(t, c.Reordered(), 0)
	})

	t.Run("loss", func(t *testing.T) {
		c := NewChannel(0.5, 0, 1)
		for _, pkt := range packets(1000) {
			c.Send(pkt)
		}
		require.Equal(t, 1000, c.Lost()+len(c.Flush()))
		require.InDelta(t, 500, c.Lost(), 100)
	})
}

func TestScenarioFromConfig(t *testing.T) {
	conf, err := config.NewConfig(nil, nil, true)
	require.NoError(t, err)
	conf.Rates = []config.RateConfig{{AtFrame: 5, Layers: [][]uint32{{100_000}}}}

	scenario, err := ScenarioFromConfig(conf)
	require.NoError(t, err)
	require.Equal(t, svc.ScalabilityModeL2T2KeyShift, scenario.Mode)
	require.Equal(t, conf.Frames, scenario.Units)
	require.Nil(t, scenario.Codec)
	require.Len(t, scenario.Rates, 1)
	require.Equal(t, 5, scenario.Rates[0].AtUnit)
	require.Equal(t, uint32(100_000), scenario.Rates[0].Allocation.GetBitrate(0, 0))
	require.False(t, scenario.NACK)
	require.Equal(t, conf.NACK.History, scenario.NACKHistory)

	conf.Simulcast.Streams = []simulcast.SimulcastStream{{Width: 320, Height: 180, TemporalLayers: 1, Active: true}}
	scenario, err = ScenarioFromConfig(conf)
	require.NoError(t, err)
	require.Equal(t, "simulcast", scenario.Name)
	require.NotNil(t, scenario.Codec)
}
