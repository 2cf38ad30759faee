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
	"fmt"
	"strings"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
)

type SimulcastStream struct {
	Width          int  `yaml:"width,omitempty"`
	Height         int  `yaml:"height,omitempty"`
	TemporalLayers int  `yaml:"temporal_layers,omitempty"`
	Active         bool `yaml:"active,omitempty"`
}

func (s SimulcastStream) String() string {
	return fmt.Sprintf("%dx%d T%d active: %v", s.Width, s.Height, s.TemporalLayers, s.Active)
}

// VideoCodec is the negotiated simulcast configuration, streams ordered from
// lowest to highest resolution.
type VideoCodec struct {
	MimeType string            `yaml:"mime_type,omitempty"`
	Streams  []SimulcastStream `yaml:"streams,omitempty"`
}

func (v *VideoCodec) String() string {
	streams := make([]string, 0, len(v.Streams))
	for _, s := range v.Streams {
		streams = append(streams, s.String())
	}
	return fmt.Sprintf("%s [%s]", v.MimeType, strings.Join(streams, ", "))
}

// EncodedImage is what the encoder reports for one produced frame. Encoded
// bytes are never looked at.
type EncodedImage struct {
	RTPTimestamp   uint32
	Width          int
	Height         int
	IsKeyframe     bool
	Size           int
	SpatialIndex   *int
	SimulcastIndex *int
	TemporalIndex  *int
}

func (e *EncodedImage) String() string {
	index := func(i *int) string {
		if i == nil {
			return "-"
		}
		return fmt.Sprint(*i)
	}
	return fmt.Sprintf("EncodedImage{ts: %d, %dx%d, key: %v, size: %d, spatial: %s, simulcast: %s, temporal: %s}",
		e.RTPTimestamp, e.Width, e.Height, e.IsKeyframe, e.Size,
		index(e.SpatialIndex), index(e.SimulcastIndex), index(e.TemporalIndex))
}

// CodecSpecificInfo carries the layering metadata that goes with an EncodedImage
// to packetization.
type CodecSpecificInfo struct {
	MimeType          string
	GenericFrameInfo  *svc.GenericFrameInfo
	TemplateStructure *dd.FrameDependencyStructure
	ScalabilityMode   *svc.ScalabilityMode
	EndOfPicture      bool
}
