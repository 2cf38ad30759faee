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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

func TestL2T2KeyShiftPatternCycle(t *testing.T) {
	c := NewL2T2KeyShift(logger.GetLogger())

	patterns := func(restart bool) keyShiftPattern {
		configs := c.NextFrameConfig(restart)
		require.NotEmpty(t, configs)
		for _, config := range configs {
			_, err := c.OnEncodeDone(config)
			require.NoError(t, err)
		}
		return keyShiftPattern(configs[0].ID)
	}

	require.Equal(t, keyShiftKey, patterns(true))
	require.Equal(t, keyShiftDelta0, patterns(false))
	require.Equal(t, keyShiftDelta1, patterns(false))
	require.Equal(t, keyShiftDelta0, patterns(false))
	require.Equal(t, keyShiftDelta1, patterns(false))

	// restart from any state goes back to key
	require.Equal(t, keyShiftKey, patterns(true))
	require.Equal(t, keyShiftDelta0, patterns(false))
}

func TestL2T2KeyShiftFrames(t *testing.T) {
	c := NewL2T2KeyShift(logger.GetLogger())
	structure := c.DependencyStructure()
	require.NoError(t, structure.Validate())

	units := encodeUnits(t, c, 4, 0)

	layers := func(unit encodedUnit) []string {
		var out []string
		for _, frame := range unit.frames {
			out = append(out, dd.FormatDecodeTargetIndications(frame.DecodeTargetIndications))
		}
		return out
	}
	require.Equal(t, []string{"SSSS", "--SS"}, layers(units[0]))
	require.Equal(t, []string{"SS--", "---D"}, layers(units[1]))
	require.Equal(t, []string{"-D--", "--SS"}, layers(units[2]))
	require.Equal(t, []string{"SS--", "---D"}, layers(units[3]))

	frames := allFrames(units)
	expected := []struct {
		sid, tid       int
		keyframe       bool
		wireChainDiffs []int
		frameDiffs     []int
	}{
		{0, 0, true, []int{0, 0}, []int{}},
		{1, 0, false, []int{1, 1}, []int{1}},
		{0, 0, false, []int{2, 1}, []int{2}},
		{1, 1, false, []int{1, 2}, []int{2}},
		{0, 1, false, []int{2, 3}, []int{2}},
		{1, 0, false, []int{3, 4}, []int{4}},
		{0, 0, false, []int{4, 1}, []int{4}},
		{1, 1, false, []int{1, 2}, []int{2}},
	}
	require.Len(t, frames, len(expected))
	for idx, e := range expected {
		frame := frames[idx]
		require.Equal(t, int64(idx+1), frame.FrameID)
		require.Equal(t, e.sid, frame.SpatialID, "frame %d", idx)
		require.Equal(t, e.tid, frame.TemporalID, "frame %d", idx)
		require.Equal(t, e.keyframe, frame.IsKeyframe, "frame %d", idx)
		require.Equal(t, e.wireChainDiffs, frame.WireChainDiffs, "frame %d", idx)
		require.Equal(t, e.frameDiffs, frame.FrameDiffs, "frame %d", idx)

		// steady state frames match a template exactly
		ext := &dd.DependencyDescriptorExtension{
			Descriptor: &dd.DependencyDescriptor{FrameDependencies: frame.FrameDependencies()},
			Structure:  structure,
		}
		size, err := ext.MarshalSizeWithActiveChains(dd.AllChainsAreActive)
		require.NoError(t, err)
		require.Equal(t, 3, size, "frame %d", idx)
	}

	checkFrames(t, structure, frames)
}

func TestL2T2KeyShiftRates(t *testing.T) {
	c := NewL2T2KeyShift(logger.GetLogger())
	encodeUnits(t, c, 1, 0)

	// upper spatial layer off
	rates := NewVideoBitrateAllocation()
	rates.SetBitrate(0, 0, 300_000)
	rates.SetBitrate(0, 1, 100_000)
	c.OnRatesUpdated(rates)

	units := encodeUnits(t, c, 2)
	require.Len(t, units[0].configs, 1)
	require.Equal(t, 0, units[0].configs[0].SpatialID)
	require.Equal(t, 0, units[0].configs[0].TemporalID)
	require.Equal(t, "SS--", dd.FormatDecodeTargetIndications(units[0].frames[0].DecodeTargetIndications))
	require.Len(t, units[1].configs, 1)
	require.Equal(t, 1, units[1].configs[0].TemporalID)

	// coming back forces a key picture for both layers
	rates.SetBitrate(1, 0, 600_000)
	rates.SetBitrate(1, 1, 200_000)
	c.OnRatesUpdated(rates)

	units = encodeUnits(t, c, 1)
	require.Len(t, units[0].configs, 2)
	require.Equal(t, int(keyShiftKey), units[0].configs[0].ID)
	require.True(t, units[0].frames[0].IsKeyframe)
	require.Equal(t, []bool{true, true}, units[0].frames[0].PartOfChain)

	// only the lower layer base left, nothing to alternate with
	rates = NewVideoBitrateAllocation()
	rates.SetBitrate(0, 0, 300_000)
	c.OnRatesUpdated(rates)
	for _, unit := range encodeUnits(t, c, 3) {
		require.Len(t, unit.configs, 1)
		require.Equal(t, 0, unit.configs[0].SpatialID)
		require.Equal(t, 0, unit.configs[0].TemporalID)
	}

	// nothing active
	c.OnRatesUpdated(NewVideoBitrateAllocation())
	require.Empty(t, c.NextFrameConfig(true))
	require.Equal(t, keyShiftKey, c.next)
	require.Empty(t, c.NextFrameConfig(false))
	require.Equal(t, keyShiftKey, c.next)

	// the restart requested while idle is honoured once layers are back
	rates = NewVideoBitrateAllocation()
	rates.SetBitrate(0, 0, 300_000)
	rates.SetBitrate(0, 1, 100_000)
	c.OnRatesUpdated(rates)
	units = encodeUnits(t, c, 3)
	require.Len(t, units[0].configs, 1)
	require.True(t, units[0].frames[0].IsKeyframe)
	require.Equal(t, 0, units[1].configs[0].TemporalID)
	require.Equal(t, 1, units[2].configs[0].TemporalID)
}
