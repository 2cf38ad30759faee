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

package videolayerselector

import (
	"sort"

	"github.com/pkg/errors"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

var ErrDecodeTargetMismatch = errors.New("decode target not described by frame")

type DecodeTarget struct {
	Target int
	Layer  VideoLayer
	chain  *FrameChain
	active bool
}

type FrameDetectionResult struct {
	TargetValid bool
	DTI         dd.DecodeTargetIndication
}

func NewDecodeTarget(target int, layer VideoLayer, chain *FrameChain) *DecodeTarget {
	return &DecodeTarget{
		Target: target,
		Layer:  layer,
		chain:  chain,
	}
}

func (dt *DecodeTarget) String() string {
	return dt.Layer.String()
}

func (dt *DecodeTarget) Valid() bool {
	return dt.chain == nil || !dt.chain.Broken()
}

func (dt *DecodeTarget) Active() bool {
	return dt.active
}

func (dt *DecodeTarget) UpdateActive(activeBitmask uint32) {
	active := (activeBitmask & (1 << dt.Target)) != 0
	dt.active = active
	if dt.chain != nil {
		dt.chain.UpdateActive(active)
	}
}

func (dt *DecodeTarget) OnFrame(extFrameNum uint64, fd *dd.FrameDependencyTemplate) (FrameDetectionResult, error) {
	result := FrameDetectionResult{}
	if len(fd.DecodeTargetIndications) <= dt.Target {
		return result, errors.Wrapf(ErrDecodeTargetMismatch, "frame %d, target %d, indications %d", extFrameNum, dt.Target, len(fd.DecodeTargetIndications))
	}

	result.DTI = fd.DecodeTargetIndications[dt.Target]
	// targets without a chain are always considered decodable
	result.TargetValid = dt.Valid()
	return result, nil
}

// DecodeTargetLayers returns the highest layer each decode target of structure
// contains.
func DecodeTargetLayers(structure *dd.FrameDependencyStructure) []VideoLayer {
	layers := make([]VideoLayer, structure.NumDecodeTargets)
	for idx := range layers {
		layers[idx] = InvalidLayer
	}
	for _, template := range structure.Templates {
		for idx, dti := range template.DecodeTargetIndications {
			if idx >= len(layers) || dti == dd.DecodeTargetNotPresent {
				continue
			}
			if int32(template.SpatialId) > layers[idx].Spatial {
				layers[idx].Spatial = int32(template.SpatialId)
			}
			if int32(template.TemporalId) > layers[idx].Temporal {
				layers[idx].Temporal = int32(template.TemporalId)
			}
		}
	}
	return layers
}

// MaxLayer is the highest layer any decode target of structure contains.
func MaxLayer(structure *dd.FrameDependencyStructure) VideoLayer {
	max := InvalidLayer
	for _, layer := range DecodeTargetLayers(structure) {
		if layer.Spatial > max.Spatial {
			max.Spatial = layer.Spatial
		}
		if layer.Temporal > max.Temporal {
			max.Temporal = layer.Temporal
		}
	}
	return max
}

// sortDecodeTargets orders targets highest layer first.
func sortDecodeTargets(targets []*DecodeTarget) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Layer == targets[j].Layer {
			return targets[i].Target < targets[j].Target
		}
		return targets[i].Layer.GreaterThan(targets[j].Layer)
	})
}
