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

package simulcast

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/telemetry/prometheus"
)

func twoStreams(temporalLayers int) *VideoCodec {
	return &VideoCodec{
		MimeType: webrtc.MimeTypeVP8,
		Streams: []SimulcastStream{
			{Width: 320, Height: 180, TemporalLayers: temporalLayers, Active: true},
			{Width: 640, Height: 360, TemporalLayers: temporalLayers, Active: true},
		},
	}
}

func streamImage(stream int) *EncodedImage {
	return &EncodedImage{SimulcastIndex: &stream}
}

// encodeUnit converts one frame per awaiting stream, in stream order.
func encodeUnit(t *testing.T, c *Converter, forceKeyframe bool, streams ...int) []*CodecSpecificInfo {
	c.EncodeStarted(forceKeyframe)

	var infos []*CodecSpecificInfo
	for _, stream := range streams {
		info := &CodecSpecificInfo{MimeType: webrtc.MimeTypeVP8}
		require.True(t, c.ConvertFrame(streamImage(stream), info), "stream %d", stream)
		infos = append(infos, info)
	}
	return infos
}

func TestConverterRoundTrip(t *testing.T) {
	codec := twoStreams(2)
	require.True(t, IsConfigSupported(codec))

	c, err := NewConverter(codec, logger.GetLogger())
	require.NoError(t, err)
	require.Equal(t, 2, c.NumLayers())

	mode, ok := c.ScalabilityMode()
	require.True(t, ok)
	require.Equal(t, svc.ScalabilityModeS2T2, mode)

	c.EncodeStarted(false)

	image := streamImage(0)
	info := &CodecSpecificInfo{}
	require.True(t, c.ConvertFrame(image, info))
	require.NotNil(t, image.SpatialIndex)
	require.Equal(t, 0, *image.SpatialIndex)
	require.Nil(t, image.SimulcastIndex)
	require.Equal(t, 0, info.GenericFrameInfo.SpatialID)
	require.True(t, info.GenericFrameInfo.IsKeyframe)
	require.NotNil(t, info.TemplateStructure)
	require.Equal(t, 4, info.TemplateStructure.NumDecodeTargets)
	require.Equal(t, []dd.RenderResolution{{Width: 320, Height: 180}, {Width: 640, Height: 360}}, info.TemplateStructure.Resolutions)
	require.Equal(t, svc.ScalabilityModeS2T2, *info.ScalabilityMode)
	require.False(t, info.EndOfPicture)

	image = streamImage(1)
	info = &CodecSpecificInfo{}
	require.True(t, c.ConvertFrame(image, info))
	require.Equal(t, 1, *image.SpatialIndex)
	require.Equal(t, 1, info.GenericFrameInfo.SpatialID)
	require.True(t, info.EndOfPicture)

	// stream 0 already delivered its frame for this encode
	image = streamImage(0)
	info = &CodecSpecificInfo{}
	require.False(t, c.ConvertFrame(image, info))
	require.Nil(t, image.SpatialIndex)
	require.Equal(t, 0, *image.SimulcastIndex)
	require.Nil(t, info.GenericFrameInfo)
	require.Nil(t, info.TemplateStructure)
}

func TestConverterFrames(t *testing.T) {
	c, err := NewConverter(twoStreams(2), logger.GetLogger())
	require.NoError(t, err)
	structure := c.DependencyStructure()
	require.NoError(t, structure.Validate())

	var frames []*svc.GenericFrameInfo
	for unit := 0; unit < 8; unit++ {
		for _, info := range encodeUnit(t, c, false, 0, 1) {
			frames = append(frames, info.GenericFrameInfo)
		}
	}

	expected := []struct {
		sid, tid       int
		keyframe       bool
		dtis           string
		wireChainDiffs []int
		frameDiffs     []int
	}{
		{0, 0, true, "SS--", []int{0, dd.MaxChainDiff}, []int{}},
		{1, 0, true, "--SS", []int{1, 0}, []int{}},
		{0, 1, false, "-D--", []int{2, 1}, []int{2}},
		{1, 1, false, "---D", []int{3, 2}, []int{2}},
		{0, 0, false, "SS--", []int{4, 3}, []int{4}},
		{1, 0, false, "--SS", []int{1, 4}, []int{4}},
	}
	for idx, e := range expected {
		frame := frames[idx]
		require.Equal(t, int64(idx+1), frame.FrameID)
		require.Equal(t, e.sid, frame.SpatialID, "frame %d", idx)
		require.Equal(t, e.tid, frame.TemporalID, "frame %d", idx)
		require.Equal(t, e.keyframe, frame.IsKeyframe, "frame %d", idx)
		require.Equal(t, e.dtis, dd.FormatDecodeTargetIndications(frame.DecodeTargetIndications), "frame %d", idx)
		require.Equal(t, e.wireChainDiffs, frame.WireChainDiffs, "frame %d", idx)
		require.Equal(t, e.frameDiffs, frame.FrameDiffs, "frame %d", idx)
	}

	for idx, frame := range frames {
		require.True(t, structure.HasTemplate(frame.SpatialID, frame.TemporalID))
		for chain, member := range frame.PartOfChain {
			require.Equal(t, member, frame.ChainDiffs[chain] == 0, "frame %d chain %d", idx, chain)
		}
		if idx == 0 {
			// chain of stream 1 has not started yet
			continue
		}

		ext := &dd.DependencyDescriptorExtension{
			Descriptor: &dd.DependencyDescriptor{FrameDependencies: frame.FrameDependencies()},
			Structure:  structure,
		}
		size, err := ext.MarshalSizeWithActiveChains(dd.AllChainsAreActive)
		require.NoError(t, err)
		require.Equal(t, 3, size, "frame %d: %s", idx, frame.String())
	}
}

func TestConverterCombineFailure(t *testing.T) {
	c, err := NewConverter(twoStreams(1), logger.GetLogger())
	require.NoError(t, err)
	encodeUnit(t, c, false, 0, 1)

	// chain state already past the next combined frame id
	_, err = c.chains.From(c.nextFrameID+10, make([]bool, c.structure.NumChains))
	require.NoError(t, err)

	c.EncodeStarted(false)
	require.True(t, c.ExpectsFrame(0))
	info := &CodecSpecificInfo{MimeType: webrtc.MimeTypeVP8}
	require.False(t, c.ConvertFrame(streamImage(0), info))
	require.Nil(t, info.GenericFrameInfo)
	require.False(t, c.ExpectsFrame(0))
	require.True(t, c.ExpectsFrame(1))

	// a duplicate of the failed frame is not described again
	require.False(t, c.ConvertFrame(streamImage(0), info))
}

func TestConverterForceKeyframe(t *testing.T) {
	c, err := NewConverter(twoStreams(1), logger.GetLogger())
	require.NoError(t, err)

	encodeUnit(t, c, false, 0, 1)
	infos := encodeUnit(t, c, false, 0, 1)
	require.False(t, infos[0].GenericFrameInfo.IsKeyframe)
	require.Nil(t, infos[0].TemplateStructure)

	infos = encodeUnit(t, c, true, 0, 1)
	for sid, info := range infos {
		require.True(t, info.GenericFrameInfo.IsKeyframe)
		require.NotNil(t, info.TemplateStructure)
		require.Equal(t, 0, info.GenericFrameInfo.ChainDiffs[sid])
		require.Equal(t, 0, info.GenericFrameInfo.WireChainDiffs[sid])
	}
}

func TestConverterMixedTemporalLayers(t *testing.T) {
	codec := &VideoCodec{
		MimeType: webrtc.MimeTypeVP8,
		Streams: []SimulcastStream{
			{Width: 320, Height: 180, TemporalLayers: 3, Active: true},
			{Width: 640, Height: 360, TemporalLayers: 2, Active: false},
			{Width: 1280, Height: 720, TemporalLayers: 1, Active: true},
		},
	}
	c, err := NewConverter(codec, logger.GetLogger())
	require.NoError(t, err)
	require.Equal(t, 2, c.NumLayers())

	_, ok := c.ScalabilityMode()
	require.False(t, ok)

	structure := c.DependencyStructure()
	require.Equal(t, 4, structure.NumDecodeTargets)
	require.Equal(t, 2, structure.NumChains)
	require.Equal(t, []int{0, 0, 0, 1}, structure.DecodeTargetProtectedByChain)

	c.EncodeStarted(false)

	// inactive stream has no layer
	info := &CodecSpecificInfo{}
	require.False(t, c.ConvertFrame(streamImage(1), info))
	require.Nil(t, info.GenericFrameInfo)

	image := streamImage(2)
	require.True(t, c.ConvertFrame(image, info))
	require.Equal(t, 1, *image.SpatialIndex)
	require.Equal(t, "---S", dd.FormatDecodeTargetIndications(info.GenericFrameInfo.DecodeTargetIndications))
	require.Nil(t, info.ScalabilityMode)

	// falls back to the spatial index
	spatialIndex := 0
	image = &EncodedImage{SpatialIndex: &spatialIndex}
	info = &CodecSpecificInfo{}
	require.True(t, c.ConvertFrame(image, info))
	require.Equal(t, "SSS-", dd.FormatDecodeTargetIndications(info.GenericFrameInfo.DecodeTargetIndications))

	// steady state follows each stream's own temporal pattern
	for unit := 0; unit < 4; unit++ {
		infos := encodeUnit(t, c, false, 0, 2)
		require.Equal(t, []int{2, 1, 2, 0}[unit], infos[0].GenericFrameInfo.TemporalID)
		require.Equal(t, 0, infos[1].GenericFrameInfo.TemporalID)
		require.Equal(t, 1, infos[1].GenericFrameInfo.SpatialID)
	}
}

func TestConverterRates(t *testing.T) {
	c, err := NewConverter(twoStreams(2), logger.GetLogger())
	require.NoError(t, err)
	encodeUnit(t, c, false, 0, 1)

	rates := svc.NewVideoBitrateAllocation()
	rates.SetBitrate(0, 0, 150_000)
	rates.SetBitrate(0, 1, 50_000)
	c.OnRatesUpdated(rates)
	require.Equal(t, svc.DecodeTargetMask(0b0011), c.ActiveDecodeTargets())

	c.EncodeStarted(false)
	require.True(t, c.ExpectsFrame(0))
	require.False(t, c.ExpectsFrame(1))
	require.False(t, c.ExpectsFrame(5))
	violations := prometheus.GetTotals().ProtocolViolations
	require.False(t, c.ConvertFrame(streamImage(1), &CodecSpecificInfo{}))
	require.Equal(t, violations+1, prometheus.GetTotals().ProtocolViolations)

	info := &CodecSpecificInfo{}
	require.True(t, c.ConvertFrame(streamImage(0), info))
	require.True(t, info.EndOfPicture)
	require.Equal(t, svc.DecodeTargetMask(0b0011), info.GenericFrameInfo.ActiveDecodeTargets)
	require.Equal(t, dd.DecodeTargetNotPresent, info.GenericFrameInfo.DecodeTargetIndications[2])
	require.Equal(t, dd.DecodeTargetNotPresent, info.GenericFrameInfo.DecodeTargetIndications[3])

	// stream 1 comes back with a key frame, base layer only
	rates.SetBitrate(1, 0, 500_000)
	c.OnRatesUpdated(rates)
	require.Equal(t, svc.DecodeTargetMask(0b0111), c.ActiveDecodeTargets())

	infos := encodeUnit(t, c, false, 0, 1)
	require.False(t, infos[0].GenericFrameInfo.IsKeyframe)
	require.True(t, infos[1].GenericFrameInfo.IsKeyframe)
	require.NotNil(t, infos[1].TemplateStructure)
	require.Equal(t, []bool{false, true}, infos[1].GenericFrameInfo.PartOfChain)
	require.Equal(t, svc.DecodeTargetMask(0b0111), infos[1].GenericFrameInfo.ActiveDecodeTargets)
}

func TestConverterUnsupported(t *testing.T) {
	stream := func(temporalLayers int, active bool) SimulcastStream {
		return SimulcastStream{Width: 640, Height: 360, TemporalLayers: temporalLayers, Active: active}
	}

	testCases := []struct {
		name  string
		codec *VideoCodec
	}{
		{"nil", nil},
		{"no active streams", &VideoCodec{MimeType: webrtc.MimeTypeVP8, Streams: []SimulcastStream{stream(1, false)}}},
		{"too many temporal layers", &VideoCodec{MimeType: webrtc.MimeTypeVP8, Streams: []SimulcastStream{stream(4, true)}}},
		{"no temporal layers", &VideoCodec{MimeType: webrtc.MimeTypeVP8, Streams: []SimulcastStream{stream(0, true)}}},
		{"too many streams", &VideoCodec{MimeType: webrtc.MimeTypeVP8, Streams: []SimulcastStream{
			stream(1, true), stream(1, true), stream(1, true), stream(1, true), stream(1, true),
		}}},
		{"not video", &VideoCodec{MimeType: webrtc.MimeTypeOpus, Streams: []SimulcastStream{stream(1, true)}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.False(t, IsConfigSupported(tc.codec))
			_, err := NewConverter(tc.codec, logger.GetLogger())
			require.ErrorIs(t, err, ErrUnsupportedSimulcastConfig)
		})
	}

	// inactive streams do not count
	codec := &VideoCodec{MimeType: webrtc.MimeTypeH264, Streams: []SimulcastStream{
		stream(3, true), stream(3, true), stream(3, false), stream(3, true), stream(3, true),
	}}
	require.True(t, IsConfigSupported(codec))
}
