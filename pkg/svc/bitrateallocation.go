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
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	MaxSpatialLayers   = 5
	MaxTemporalStreams = 4

	maxBitrateBps = math.MaxUint32
)

// VideoBitrateAllocation holds per layer target bitrates in bps. A layer that
// was never set is distinct from a layer set to zero.
type VideoBitrateAllocation struct {
	bitrates [MaxSpatialLayers][MaxTemporalStreams]*uint32
	sum      uint32
}

func NewVideoBitrateAllocation() *VideoBitrateAllocation {
	return &VideoBitrateAllocation{}
}

func inRange(spatialIndex, temporalIndex int) bool {
	return spatialIndex >= 0 && spatialIndex < MaxSpatialLayers && temporalIndex >= 0 && temporalIndex < MaxTemporalStreams
}

// SetBitrate returns false, leaving the allocation untouched, if the layer is out
// of range or the total would overflow.
func (v *VideoBitrateAllocation) SetBitrate(spatialIndex, temporalIndex int, bps uint32) bool {
	if !inRange(spatialIndex, temporalIndex) {
		return false
	}

	newSum := int64(v.sum)
	if current := v.bitrates[spatialIndex][temporalIndex]; current != nil {
		newSum -= int64(*current)
	}
	newSum += int64(bps)
	if newSum > maxBitrateBps {
		return false
	}

	v.bitrates[spatialIndex][temporalIndex] = &bps
	v.sum = uint32(newSum)
	return true
}

func (v *VideoBitrateAllocation) HasBitrate(spatialIndex, temporalIndex int) bool {
	if !inRange(spatialIndex, temporalIndex) {
		return false
	}
	return v.bitrates[spatialIndex][temporalIndex] != nil
}

func (v *VideoBitrateAllocation) GetBitrate(spatialIndex, temporalIndex int) uint32 {
	if !v.HasBitrate(spatialIndex, temporalIndex) {
		return 0
	}
	return *v.bitrates[spatialIndex][temporalIndex]
}

// IsSpatialLayerUsed reports whether any temporal layer of the spatial layer was set.
func (v *VideoBitrateAllocation) IsSpatialLayerUsed(spatialIndex int) bool {
	for tid := 0; tid < MaxTemporalStreams; tid++ {
		if v.HasBitrate(spatialIndex, tid) {
			return true
		}
	}
	return false
}

func (v *VideoBitrateAllocation) GetSpatialLayerSum(spatialIndex int) uint32 {
	return v.GetTemporalLayerSum(spatialIndex, MaxTemporalStreams-1)
}

// GetTemporalLayerSum is the sum of temporal layers 0..temporalIndex.
func (v *VideoBitrateAllocation) GetTemporalLayerSum(spatialIndex, temporalIndex int) uint32 {
	var sum uint32
	for tid := 0; tid <= temporalIndex; tid++ {
		sum += v.GetBitrate(spatialIndex, tid)
	}
	return sum
}

// GetTemporalLayerAllocation is sized up to the highest temporal layer that was set.
func (v *VideoBitrateAllocation) GetTemporalLayerAllocation(spatialIndex int) []uint32 {
	var rates []uint32
	for tid := MaxTemporalStreams; tid > 0; tid-- {
		if v.HasBitrate(spatialIndex, tid-1) {
			rates = make([]uint32, tid)
			break
		}
	}
	for tid := range rates {
		rates[tid] = v.GetBitrate(spatialIndex, tid)
	}
	return rates
}

func (v *VideoBitrateAllocation) GetSumBps() uint32 {
	return v.sum
}

// GetSimulcastAllocations splits into one single spatial layer allocation per
// used spatial layer, nil for unused ones.
func (v *VideoBitrateAllocation) GetSimulcastAllocations() []*VideoBitrateAllocation {
	allocations := make([]*VideoBitrateAllocation, MaxSpatialLayers)
	for sid := 0; sid < MaxSpatialLayers; sid++ {
		if !v.IsSpatialLayerUsed(sid) {
			continue
		}
		layer := NewVideoBitrateAllocation()
		for tid := 0; tid < MaxTemporalStreams; tid++ {
			if v.HasBitrate(sid, tid) {
				layer.SetBitrate(0, tid, v.GetBitrate(sid, tid))
			}
		}
		allocations[sid] = layer
	}
	return allocations
}

// ActiveSpatialLayers counts leading spatial layers with a non zero sum.
func (v *VideoBitrateAllocation) ActiveSpatialLayers() int {
	num := 0
	for sid := 0; sid < MaxSpatialLayers; sid++ {
		if v.GetSpatialLayerSum(sid) == 0 {
			break
		}
		num++
	}
	return num
}

func (v *VideoBitrateAllocation) Equal(other *VideoBitrateAllocation) bool {
	if other == nil {
		return false
	}
	for sid := 0; sid < MaxSpatialLayers; sid++ {
		for tid := 0; tid < MaxTemporalStreams; tid++ {
			if v.HasBitrate(sid, tid) != other.HasBitrate(sid, tid) || v.GetBitrate(sid, tid) != other.GetBitrate(sid, tid) {
				return false
			}
		}
	}
	return true
}

func (v *VideoBitrateAllocation) String() string {
	if v.sum == 0 {
		return "VideoBitrateAllocation[]"
	}

	layers := make([]string, 0, MaxSpatialLayers)
	for sid := 0; sid < MaxSpatialLayers; sid++ {
		if !v.IsSpatialLayerUsed(sid) {
			continue
		}
		rates := v.GetTemporalLayerAllocation(sid)
		humanized := make([]string, 0, len(rates))
		for _, rate := range rates {
			humanized = append(humanized, humanize.SI(float64(rate), "bps"))
		}
		layers = append(layers, fmt.Sprintf("S%d[%s]", sid, strings.Join(humanized, ", ")))
	}
	return fmt.Sprintf("VideoBitrateAllocation[%s, total: %s]", strings.Join(layers, " "), humanize.SI(float64(v.sum), "bps"))
}
