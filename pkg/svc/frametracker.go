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
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

// frameTracker holds what every controller shares once a frame is encoded:
// frame numbering, chain state and buffer based dependencies.
type frameTracker struct {
	logger      logger.Logger
	structure   *dd.FrameDependencyStructure
	nextFrameID int64
	chains      *ChainDiffCalculator
	frameDeps   *FrameDependenciesCalculator
}

func newFrameTracker(structure *dd.FrameDependencyStructure, logger logger.Logger) *frameTracker {
	return &frameTracker{
		logger:      logger,
		structure:   structure,
		nextFrameID: 1,
		chains:      NewChainDiffCalculator(structure.NumChains, logger),
		frameDeps:   NewFrameDependenciesCalculator(logger),
	}
}

// describe turns an encoded layer frame into GenericFrameInfo. dtis and
// partOfChain come from the controller's pattern; decode targets outside
// active are reported NotPresent.
func (f *frameTracker) describe(
	config LayerFrameConfig,
	dtis []dd.DecodeTargetIndication,
	partOfChain []bool,
	active DecodeTargetMask,
) (GenericFrameInfo, error) {
	if !f.structure.HasTemplate(config.SpatialID, config.TemporalID) {
		f.logger.Warnw("encoded frame without template", nil, "config", config)
		return GenericFrameInfo{}, errors.Wrapf(ErrNoMatchingTemplate, "S%dT%d", config.SpatialID, config.TemporalID)
	}
	if len(dtis) != f.structure.NumDecodeTargets {
		return GenericFrameInfo{}, errors.Wrapf(dd.ErrDTILengthMismatch, "got %d, expected %d", len(dtis), f.structure.NumDecodeTargets)
	}

	frameID := f.nextFrameID
	if config.IsKeyframe {
		f.chains.Reset(partOfChain)
	}
	wireChainDiffs, err := f.chains.Fdiffs(frameID, partOfChain)
	if err != nil {
		return GenericFrameInfo{}, err
	}
	chainDiffs, err := f.chains.From(frameID, partOfChain)
	if err != nil {
		return GenericFrameInfo{}, err
	}
	f.nextFrameID++

	info := GenericFrameInfo{
		FrameID:                 frameID,
		SpatialID:               config.SpatialID,
		TemporalID:              config.TemporalID,
		IsKeyframe:              config.IsKeyframe,
		EncoderBuffers:          append([]CodecBufferUsage{}, config.Buffers...),
		DecodeTargetIndications: make([]dd.DecodeTargetIndication, len(dtis)),
		PartOfChain:             append([]bool{}, partOfChain...),
		ChainDiffs:              chainDiffs,
		WireChainDiffs:          wireChainDiffs,
		FrameDiffs:              f.frameDeps.FrameDiffs(frameID, config.Buffers),
		ActiveDecodeTargets:     active,
	}
	for idx, dti := range dtis {
		if active.IsSet(idx) {
			info.DecodeTargetIndications[idx] = dti
		}
	}
	return info, nil
}
