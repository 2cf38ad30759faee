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
	"fmt"
	"strings"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

// CodecBufferUsage describes how a frame uses one encoder reference buffer.
type CodecBufferUsage struct {
	ID         int
	Referenced bool
	Updated    bool
}

func (c CodecBufferUsage) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("B%d", c.ID))
	if c.Referenced {
		sb.WriteString("r")
	}
	if c.Updated {
		sb.WriteString("u")
	}
	return sb.String()
}

// ------------------------------------------------------------------------------

// LayerFrameConfig is the encoder instruction for a single layer frame.
// ID is opaque to callers and is used by the controller to track its own
// pattern state between NextFrameConfig and OnEncodeDone.
type LayerFrameConfig struct {
	ID         int
	IsKeyframe bool
	SpatialID  int
	TemporalID int
	Buffers    []CodecBufferUsage
}

func NewLayerFrameConfig() *LayerFrameConfig {
	return &LayerFrameConfig{}
}

func (l *LayerFrameConfig) WithID(id int) *LayerFrameConfig {
	l.ID = id
	return l
}

func (l *LayerFrameConfig) S(spatialID int) *LayerFrameConfig {
	l.SpatialID = spatialID
	return l
}

func (l *LayerFrameConfig) T(temporalID int) *LayerFrameConfig {
	l.TemporalID = temporalID
	return l
}

func (l *LayerFrameConfig) Keyframe() *LayerFrameConfig {
	l.IsKeyframe = true
	return l
}

func (l *LayerFrameConfig) Reference(bufferID int) *LayerFrameConfig {
	l.Buffers = append(l.Buffers, CodecBufferUsage{ID: bufferID, Referenced: true})
	return l
}

func (l *LayerFrameConfig) Update(bufferID int) *LayerFrameConfig {
	l.Buffers = append(l.Buffers, CodecBufferUsage{ID: bufferID, Updated: true})
	return l
}

func (l *LayerFrameConfig) ReferenceAndUpdate(bufferID int) *LayerFrameConfig {
	l.Buffers = append(l.Buffers, CodecBufferUsage{ID: bufferID, Referenced: true, Updated: true})
	return l
}

func (l LayerFrameConfig) String() string {
	buffers := make([]string, 0, len(l.Buffers))
	for _, b := range l.Buffers {
		buffers = append(buffers, b.String())
	}
	key := ""
	if l.IsKeyframe {
		key = " key"
	}
	return fmt.Sprintf("S%dT%d%s [%s]", l.SpatialID, l.TemporalID, key, strings.Join(buffers, " "))
}

// ------------------------------------------------------------------------------

// GenericFrameInfo is the per-frame metadata produced after a frame is encoded.
//
// ChainDiffs is the chain state after the frame is applied: 0 for chains the
// frame belongs to, distance to the chain's latest frame otherwise.
// WireChainDiffs follows the descriptor wire semantics: distance from this
// frame to the previous frame of each chain, 0 when the chain was just reset.
type GenericFrameInfo struct {
	FrameID                 int64
	SpatialID               int
	TemporalID              int
	IsKeyframe              bool
	EncoderBuffers          []CodecBufferUsage
	DecodeTargetIndications []dd.DecodeTargetIndication
	PartOfChain             []bool
	ChainDiffs              []int
	WireChainDiffs          []int
	FrameDiffs              []int
	ActiveDecodeTargets     DecodeTargetMask
}

// FrameDependencies is the descriptor view of the frame.
func (g *GenericFrameInfo) FrameDependencies() *dd.FrameDependencyTemplate {
	return &dd.FrameDependencyTemplate{
		SpatialId:               g.SpatialID,
		TemporalId:              g.TemporalID,
		DecodeTargetIndications: append([]dd.DecodeTargetIndication{}, g.DecodeTargetIndications...),
		FrameDiffs:              append([]int{}, g.FrameDiffs...),
		ChainDiffs:              append([]int{}, g.WireChainDiffs...),
	}
}

func (g *GenericFrameInfo) String() string {
	return fmt.Sprintf("frame %d S%dT%d key %v %q chains %v cd%v fd%v active %s",
		g.FrameID, g.SpatialID, g.TemporalID, g.IsKeyframe,
		dd.FormatDecodeTargetIndications(g.DecodeTargetIndications),
		g.PartOfChain, g.ChainDiffs, g.FrameDiffs, g.ActiveDecodeTargets)
}
