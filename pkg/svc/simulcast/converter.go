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
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/scalability/pkg/sfu/mime"
	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/telemetry/prometheus"
)

const (
	maxTemporalLayersPerStream = 3
	// L1T3 uses one buffer per temporal layer
	buffersPerStream = maxTemporalLayersPerStream
)

var ErrUnsupportedSimulcastConfig = errors.New("unsupported simulcast config")

type layerState struct {
	stream             int
	position           int
	numTemporal        int
	decodeTargetOffset int
	controller         svc.ScalableVideoController
	config             svc.LayerFrameConfig
	awaiting           bool
}

// Converter presents independently encoded simulcast streams as one stream with
// a spatial layer per active stream, none of them referencing another.
type Converter struct {
	logger    logger.Logger
	codec     *VideoCodec
	layers    []*layerState
	byStream  map[int]*layerState
	structure *dd.FrameDependencyStructure
	mode      svc.ScalabilityMode
	hasMode   bool

	nextFrameID int64
	chains      *svc.ChainDiffCalculator
	frameDeps   *svc.FrameDependenciesCalculator
	active      svc.DecodeTargetMask
}

// IsConfigSupported reports whether the active streams fit in one dependency
// structure. Callers fall back to plain simulcast otherwise.
func IsConfigSupported(codec *VideoCodec) bool {
	if codec == nil || !mime.IsMimeTypeStringVideo(codec.MimeType) {
		return false
	}

	numActive, numDecodeTargets := 0, 0
	for _, stream := range codec.Streams {
		if !stream.Active {
			continue
		}
		if stream.TemporalLayers < 1 || stream.TemporalLayers > maxTemporalLayersPerStream {
			return false
		}
		numActive++
		numDecodeTargets += stream.TemporalLayers
	}
	return numActive > 0 && numActive <= dd.MaxSpatialIds && numDecodeTargets <= dd.MaxDecodeTargets
}

func NewConverter(codec *VideoCodec, logger logger.Logger) (*Converter, error) {
	if !IsConfigSupported(codec) {
		return nil, errors.Wrapf(ErrUnsupportedSimulcastConfig, "codec: %v", codec)
	}

	c := &Converter{
		logger:      logger,
		codec:       codec,
		byStream:    make(map[int]*layerState),
		nextFrameID: 1,
		frameDeps:   svc.NewFrameDependenciesCalculator(logger),
	}

	var temporalLayers []int
	numDecodeTargets := 0
	for idx, stream := range codec.Streams {
		if !stream.Active {
			continue
		}
		mode, _ := svc.MakeScalabilityMode(1, stream.TemporalLayers, svc.InterLayerPredModeOff, svc.ResolutionRatioNone, false)
		controller, err := svc.CreateScalabilityStructure(mode, logger.WithValues("simulcastIndex", idx))
		if err != nil {
			return nil, err
		}
		layer := &layerState{
			stream:             idx,
			position:           len(c.layers),
			numTemporal:        stream.TemporalLayers,
			decodeTargetOffset: numDecodeTargets,
			controller:         controller,
		}
		c.layers = append(c.layers, layer)
		c.byStream[idx] = layer
		temporalLayers = append(temporalLayers, stream.TemporalLayers)
		numDecodeTargets += stream.TemporalLayers
	}

	c.structure = &dd.FrameDependencyStructure{
		NumDecodeTargets: numDecodeTargets,
		NumChains:        len(c.layers),
		Templates:        svc.SimulcastTemplates(temporalLayers),
	}
	for _, layer := range c.layers {
		for tid := 0; tid < layer.numTemporal; tid++ {
			c.structure.DecodeTargetProtectedByChain = append(c.structure.DecodeTargetProtectedByChain, layer.position)
		}
		stream := codec.Streams[layer.stream]
		if stream.Width > 0 && stream.Height > 0 {
			c.structure.Resolutions = append(c.structure.Resolutions, dd.RenderResolution{Width: stream.Width, Height: stream.Height})
		}
	}
	if len(c.structure.Resolutions) != len(c.layers) {
		c.structure.Resolutions = nil
	}
	if err := c.structure.Validate(); err != nil {
		return nil, errors.Wrapf(ErrUnsupportedSimulcastConfig, "structure: %v", err)
	}

	c.chains = svc.NewChainDiffCalculator(c.structure.NumChains, logger)
	c.active = svc.AllDecodeTargets(numDecodeTargets)
	c.mode, c.hasMode = c.scalabilityMode()

	logger.Debugw("simulcast converter created", "codec", codec, "numDecodeTargets", numDecodeTargets, "scalabilityMode", c.mode)
	return c, nil
}

// scalabilityMode names the combined stream when all streams share a temporal
// layer count and a regular resolution ratio.
func (c *Converter) scalabilityMode() (svc.ScalabilityMode, bool) {
	numTemporal := c.layers[0].numTemporal
	for _, layer := range c.layers {
		if layer.numTemporal != numTemporal {
			return svc.ScalabilityModeL1T1, false
		}
	}

	ratio := svc.ResolutionRatioTwoToOne
	for idx := 1; idx < len(c.layers); idx++ {
		lower := c.codec.Streams[c.layers[idx-1].stream]
		upper := c.codec.Streams[c.layers[idx].stream]
		switch {
		case upper.Width == 2*lower.Width && upper.Height == 2*lower.Height:
			if idx > 1 && ratio != svc.ResolutionRatioTwoToOne {
				return svc.ScalabilityModeL1T1, false
			}
		case 2*upper.Width == 3*lower.Width && 2*upper.Height == 3*lower.Height:
			if idx > 1 && ratio != svc.ResolutionRatioThreeToTwo {
				return svc.ScalabilityModeL1T1, false
			}
			ratio = svc.ResolutionRatioThreeToTwo
		default:
			return svc.ScalabilityModeL1T1, false
		}
	}
	return svc.MakeScalabilityMode(len(c.layers), numTemporal, svc.InterLayerPredModeOff, ratio, false)
}

func (c *Converter) DependencyStructure() *dd.FrameDependencyStructure {
	return c.structure.Clone()
}

func (c *Converter) ScalabilityMode() (svc.ScalabilityMode, bool) {
	return c.mode, c.hasMode
}

func (c *Converter) NumLayers() int {
	return len(c.layers)
}

// EncodeStarted picks the next frame config of every stream. Streams whose
// controller has nothing to encode are not expected to produce a frame.
func (c *Converter) EncodeStarted(forceKeyframe bool) {
	for _, layer := range c.layers {
		configs := layer.controller.NextFrameConfig(forceKeyframe)
		if len(configs) == 0 {
			layer.awaiting = false
			continue
		}
		if len(configs) > 1 {
			c.logger.Errorw("single layer controller returned multiple configs", nil,
				"simulcastIndex", layer.stream,
				"configs", configs,
			)
		}
		layer.config = configs[0]
		layer.awaiting = true
	}
}

// ExpectsFrame reports whether the encoder of stream should produce a frame
// in the current temporal unit.
func (c *Converter) ExpectsFrame(stream int) bool {
	layer, ok := c.byStream[stream]
	return ok && layer.awaiting
}

// ConvertFrame rewrites a frame produced by one simulcast encoder as a spatial
// layer of the combined stream. Returns false, leaving the arguments untouched,
// for a stream that is not expected to produce a frame.
func (c *Converter) ConvertFrame(image *EncodedImage, info *CodecSpecificInfo) bool {
	stream := 0
	switch {
	case image.SimulcastIndex != nil:
		stream = *image.SimulcastIndex
	case image.SpatialIndex != nil:
		stream = *image.SpatialIndex
	}

	layer, ok := c.byStream[stream]
	if !ok || !layer.awaiting {
		c.logger.Debugw("unexpected simulcast frame", "simulcastIndex", stream, "image", image)
		prometheus.IncrementProtocolViolation()
		return false
	}

	frame, err := layer.controller.OnEncodeDone(layer.config)
	if err != nil {
		c.logger.Warnw("could not describe simulcast frame", err, "simulcastIndex", stream, "config", layer.config)
		return false
	}
	// the controller has consumed the config
	layer.awaiting = false
	if tid := image.TemporalIndex; tid != nil && *tid != frame.TemporalID {
		c.logger.Debugw("temporal index mismatch", "simulcastIndex", stream, "image", *tid, "config", frame.TemporalID)
	}

	combined, err := c.combine(layer, frame)
	if err != nil {
		c.logger.Errorw("could not combine simulcast frame", err, "simulcastIndex", stream)
		return false
	}

	position := layer.position
	temporalID := frame.TemporalID
	image.SpatialIndex = &position
	image.SimulcastIndex = nil
	image.TemporalIndex = &temporalID

	info.GenericFrameInfo = &combined
	info.TemplateStructure = nil
	if combined.IsKeyframe {
		info.TemplateStructure = c.DependencyStructure()
	}
	info.ScalabilityMode = nil
	if c.hasMode {
		mode := c.mode
		info.ScalabilityMode = &mode
	}
	info.EndOfPicture = c.isLastAwaiting(layer)
	return true
}

func (c *Converter) isLastAwaiting(layer *layerState) bool {
	for _, other := range c.layers[layer.position+1:] {
		if other.awaiting {
			return false
		}
	}
	return true
}

func (c *Converter) combine(layer *layerState, frame svc.GenericFrameInfo) (svc.GenericFrameInfo, error) {
	frameID := c.nextFrameID

	partOfChain := make([]bool, c.structure.NumChains)
	partOfChain[layer.position] = len(frame.PartOfChain) > 0 && frame.PartOfChain[0]
	if frame.IsKeyframe {
		// other streams keep their chains
		c.chains.Reset(partOfChain)
	}
	wireChainDiffs, err := c.chains.Fdiffs(frameID, partOfChain)
	if err != nil {
		return svc.GenericFrameInfo{}, err
	}
	chainDiffs, err := c.chains.From(frameID, partOfChain)
	if err != nil {
		return svc.GenericFrameInfo{}, err
	}
	c.nextFrameID++

	buffers := make([]svc.CodecBufferUsage, 0, len(frame.EncoderBuffers))
	for _, buffer := range frame.EncoderBuffers {
		buffer.ID += layer.position * buffersPerStream
		buffers = append(buffers, buffer)
	}

	for tid := 0; tid < layer.numTemporal; tid++ {
		c.active.SetTo(layer.decodeTargetOffset+tid, frame.ActiveDecodeTargets.IsSet(tid))
	}

	dtis := make([]dd.DecodeTargetIndication, c.structure.NumDecodeTargets)
	copy(dtis[layer.decodeTargetOffset:], frame.DecodeTargetIndications)

	return svc.GenericFrameInfo{
		FrameID:                 frameID,
		SpatialID:               layer.position,
		TemporalID:              frame.TemporalID,
		IsKeyframe:              frame.IsKeyframe,
		EncoderBuffers:          buffers,
		DecodeTargetIndications: dtis,
		PartOfChain:             partOfChain,
		ChainDiffs:              chainDiffs,
		WireChainDiffs:          wireChainDiffs,
		FrameDiffs:              c.frameDeps.FrameDiffs(frameID, buffers),
		ActiveDecodeTargets:     c.active,
	}, nil
}

// OnRatesUpdated splits a simulcast allocation, spatial index being the
// simulcast stream index, into one allocation per stream.
func (c *Converter) OnRatesUpdated(allocation *svc.VideoBitrateAllocation) {
	allocations := allocation.GetSimulcastAllocations()
	for _, layer := range c.layers {
		var streamAllocation *svc.VideoBitrateAllocation
		if layer.stream < len(allocations) {
			streamAllocation = allocations[layer.stream]
		}
		if streamAllocation == nil {
			streamAllocation = svc.NewVideoBitrateAllocation()
		}
		layer.controller.OnRatesUpdated(streamAllocation)

		// a temporal layer needs all lower ones
		active := true
		for tid := 0; tid < layer.numTemporal; tid++ {
			active = active && streamAllocation.GetBitrate(0, tid) > 0
			c.active.SetTo(layer.decodeTargetOffset+tid, active)
		}
	}
}

// ActiveDecodeTargets is the combined mask as of the latest rate update or frame.
func (c *Converter) ActiveDecodeTargets() svc.DecodeTargetMask {
	return c.active
}
