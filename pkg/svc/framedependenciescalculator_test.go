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
)

func buffers(config *LayerFrameConfig) []CodecBufferUsage {
	return config.Buffers
}

func TestFrameDependenciesCalculator(t *testing.T) {
	t.Run("single buffer", func(t *testing.T) {
		f := NewFrameDependenciesCalculator(logger.GetLogger())

		require.Empty(t, f.FromBuffersUsage(1, buffers(NewLayerFrameConfig().Update(0))))
		require.Equal(t, []int64{1}, f.FromBuffersUsage(3, buffers(NewLayerFrameConfig().ReferenceAndUpdate(0))))
		require.Equal(t, []int64{3}, f.FromBuffersUsage(6, buffers(NewLayerFrameConfig().Reference(0))))
		require.Equal(t, []int64{3}, f.FromBuffersUsage(7, buffers(NewLayerFrameConfig().Reference(0))))
	})

	t.Run("drops indirect dependencies", func(t *testing.T) {
		f := NewFrameDependenciesCalculator(logger.GetLogger())

		require.Empty(t, f.FromBuffersUsage(1, buffers(NewLayerFrameConfig().Update(0))))
		require.Equal(t, []int64{1}, f.FromBuffersUsage(2, buffers(NewLayerFrameConfig().Reference(0).Update(1))))
		// frame 1 is reachable through frame 2
		require.Equal(t, []int64{2}, f.FromBuffersUsage(3, buffers(NewLayerFrameConfig().Reference(0).Reference(1))))
	})

	t.Run("multiple independent references", func(t *testing.T) {
		f := NewFrameDependenciesCalculator(logger.GetLogger())

		require.Empty(t, f.FromBuffersUsage(1, buffers(NewLayerFrameConfig().Update(0))))
		require.Empty(t, f.FromBuffersUsage(2, buffers(NewLayerFrameConfig().Update(1))))
		require.Equal(t, []int64{1, 2}, f.FromBuffersUsage(3, buffers(NewLayerFrameConfig().Reference(0).Reference(1))))
	})

	t.Run("same frame through two buffers", func(t *testing.T) {
		f := NewFrameDependenciesCalculator(logger.GetLogger())

		require.Empty(t, f.FromBuffersUsage(1, buffers(NewLayerFrameConfig().Update(0).Update(3))))
		require.Equal(t, []int64{1}, f.FromBuffersUsage(2, buffers(NewLayerFrameConfig().Reference(0).Reference(3))))
	})

	t.Run("buffer never updated", func(t *testing.T) {
		f := NewFrameDependenciesCalculator(logger.GetLogger())

		require.Empty(t, f.FromBuffersUsage(1, buffers(NewLayerFrameConfig().Reference(5).Update(0))))
		require.Equal(t, []int64{1}, f.FromBuffersUsage(2, buffers(NewLayerFrameConfig().Reference(0).Reference(2))))
	})

	t.Run("frame diffs", func(t *testing.T) {
		f := NewFrameDependenciesCalculator(logger.GetLogger())

		require.Empty(t, f.FrameDiffs(1, buffers(NewLayerFrameConfig().Update(0))))
		require.Empty(t, f.FrameDiffs(2, buffers(NewLayerFrameConfig().Update(1))))
		// ascending frame ids, so descending diffs
		require.Equal(t, []int{4, 3}, f.FrameDiffs(5, buffers(NewLayerFrameConfig().Reference(0).Reference(1))))
	})
}
