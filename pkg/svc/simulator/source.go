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
	"github.com/pkg/errors"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/simulcast"
)

var ErrFrameRejected = errors.New("encoded frame rejected by converter")

type encodedFrame struct {
	info         svc.GenericFrameInfo
	structure    *dd.FrameDependencyStructure
	endOfPicture bool
	width        int
	height       int
}

// source stands in for an encoder producing the frames of one temporal unit.
type source interface {
	Name() string
	NextUnit(restart bool) ([]encodedFrame, error)
	OnRatesUpdated(allocation *svc.VideoBitrateAllocation)
}

// ------------------------------------------------------------------------------

type controllerSource struct {
	name       string
	controller svc.ScalableVideoController
}

func newControllerSource(name string, controller svc.ScalableVideoController) *controllerSource {
	return &controllerSource{
		name:       name,
		controller: controller,
	}
}

func (c *controllerSource) Name() string {
	return c.name
}

func (c *controllerSource) NextUnit(restart bool) ([]encodedFrame, error) {
	configs := c.controller.NextFrameConfig(restart)
	frames := make([]encodedFrame, 0, len(configs))
	for idx, config := range configs {
		info, err := c.controller.OnEncodeDone(config)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", config.String())
		}

		frame := encodedFrame{
			info:         info,
			endOfPicture: idx == len(configs)-1,
		}
		if info.IsKeyframe {
			frame.structure = c.controller.DependencyStructure()
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (c *controllerSource) OnRatesUpdated(allocation *svc.VideoBitrateAllocation) {
	c.controller.OnRatesUpdated(allocation)
}

// ------------------------------------------------------------------------------

type converterSource struct {
	codec     *simulcast.VideoCodec
	converter *simulcast.Converter
	timestamp uint32
}

func newConverterSource(codec *simulcast.VideoCodec, converter *simulcast.Converter) *converterSource {
	return &converterSource{
		codec:     codec,
		converter: converter,
	}
}

func (c *converterSource) Name() string {
	if mode, ok := c.converter.ScalabilityMode(); ok {
		return mode.String()
	}
	return "simulcast"
}

func (c *converterSource) NextUnit(restart bool) ([]encodedFrame, error) {
	c.converter.EncodeStarted(restart)
	c.timestamp += 3000

	var frames []encodedFrame
	for idx, stream := range c.codec.Streams {
		if !stream.Active {
			continue
		}

		// streams without bitrate are not encoded
		if !c.converter.ExpectsFrame(idx) {
			continue
		}

		simulcastIndex := idx
		image := &simulcast.EncodedImage{
			RTPTimestamp:   c.timestamp,
			Width:          stream.Width,
			Height:         stream.Height,
			SimulcastIndex: &simulcastIndex,
		}
		info := &simulcast.CodecSpecificInfo{MimeType: c.codec.MimeType}
		if !c.converter.ConvertFrame(image, info) {
			return nil, errors.Wrapf(ErrFrameRejected, "simulcast index %d", idx)
		}

		frames = append(frames, encodedFrame{
			info:         *info.GenericFrameInfo,
			structure:    info.TemplateStructure,
			endOfPicture: info.EndOfPicture,
			width:        stream.Width,
			height:       stream.Height,
		})
	}
	return frames, nil
}

func (c *converterSource) OnRatesUpdated(allocation *svc.VideoBitrateAllocation) {
	c.converter.OnRatesUpdated(allocation)
}
