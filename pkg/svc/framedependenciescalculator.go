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
	"golang.org/x/exp/slices"

	"github.com/livekit/protocol/logger"
)

type bufferUsage struct {
	frameID      *int64
	dependencies []int64
}

// FrameDependenciesCalculator turns encoder buffer usage into the minimal set
// of frames a frame directly depends on.
type FrameDependenciesCalculator struct {
	logger  logger.Logger
	buffers []bufferUsage
}

func NewFrameDependenciesCalculator(logger logger.Logger) *FrameDependenciesCalculator {
	return &FrameDependenciesCalculator{
		logger: logger,
	}
}

// FromBuffersUsage returns the ids of the frames frameID depends on, ascending.
// Dependencies reachable through another dependency are dropped.
func (f *FrameDependenciesCalculator) FromBuffersUsage(frameID int64, buffersUsage []CodecBufferUsage) []int64 {
	var direct, indirect []int64
	for _, usage := range buffersUsage {
		if !usage.Referenced {
			continue
		}
		if usage.ID < 0 || usage.ID >= len(f.buffers) || f.buffers[usage.ID].frameID == nil {
			f.logger.Warnw("referenced buffer not updated yet", nil, "frameID", frameID, "bufferID", usage.ID)
			continue
		}
		buffer := &f.buffers[usage.ID]
		direct = append(direct, *buffer.frameID)
		indirect = append(indirect, buffer.dependencies...)
	}

	slices.Sort(direct)
	direct = slices.Compact(direct)
	slices.Sort(indirect)
	indirect = slices.Compact(indirect)

	dependencies := make([]int64, 0, len(direct))
	for _, id := range direct {
		if _, found := slices.BinarySearch(indirect, id); !found {
			dependencies = append(dependencies, id)
		}
	}

	for _, usage := range buffersUsage {
		if !usage.Updated || usage.ID < 0 {
			continue
		}
		if usage.ID >= len(f.buffers) {
			f.buffers = append(f.buffers, make([]bufferUsage, usage.ID+1-len(f.buffers))...)
		}
		id := frameID
		f.buffers[usage.ID] = bufferUsage{
			frameID:      &id,
			dependencies: append([]int64{}, dependencies...),
		}
	}

	return dependencies
}

// FrameDiffs is FromBuffersUsage expressed as distances back from frameID.
func (f *FrameDependenciesCalculator) FrameDiffs(frameID int64, buffersUsage []CodecBufferUsage) []int {
	dependencies := f.FromBuffersUsage(frameID, buffersUsage)
	diffs := make([]int, 0, len(dependencies))
	for _, id := range dependencies {
		diffs = append(diffs, int(frameID-id))
	}
	return diffs
}
