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

package dependencydescriptor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidStructure          = errors.New("invalid frame dependency structure")
	ErrTooManyDecodeTargets      = errors.Wrap(ErrInvalidStructure, "number of decode targets out of range")
	ErrDTILengthMismatch         = errors.Wrap(ErrInvalidStructure, "template decode target indications length mismatch")
	ErrChainsNotSupported        = errors.Wrap(ErrInvalidStructure, "chain count not supported by templates")
	ErrInvalidProtectedByChain   = errors.Wrap(ErrInvalidStructure, "invalid decode target protected by chain")
	ErrTemplatesOutOfRange       = errors.Wrap(ErrInvalidStructure, "template count or layer ids out of range")
	ErrTemplatesOutOfOrder       = errors.Wrap(ErrInvalidStructure, "templates not ordered by spatial and temporal id")
	ErrTemplateDiffOutOfRange    = errors.Wrap(ErrInvalidStructure, "template frame or chain diff out of range")
	ErrResolutionsLengthMismatch = errors.Wrap(ErrInvalidStructure, "resolutions do not match spatial layers")
)

type FrameDependencyStructure struct {
	StructureId      int
	NumDecodeTargets int
	NumChains        int
	// If chains are used (num_chains > 0), maps decode target index into index of
	// the chain protecting that target.
	DecodeTargetProtectedByChain []int
	Resolutions                  []RenderResolution
	Templates                    []*FrameDependencyTemplate
}

// Validate checks the structure can be used by a controller and carried on the wire.
func (f *FrameDependencyStructure) Validate() error {
	if f.NumDecodeTargets <= 0 || f.NumDecodeTargets > MaxDecodeTargets {
		return errors.Wrapf(ErrTooManyDecodeTargets, "got %d", f.NumDecodeTargets)
	}
	if f.NumChains < 0 || f.NumChains > f.NumDecodeTargets {
		return errors.Wrapf(ErrChainsNotSupported, "%d chains for %d decode targets", f.NumChains, f.NumDecodeTargets)
	}
	if f.NumChains > 0 {
		if len(f.DecodeTargetProtectedByChain) != f.NumDecodeTargets {
			return errors.Wrapf(ErrInvalidProtectedByChain, "length %d, expected %d", len(f.DecodeTargetProtectedByChain), f.NumDecodeTargets)
		}
		for dt, chain := range f.DecodeTargetProtectedByChain {
			if chain < 0 || chain >= f.NumChains {
				return errors.Wrapf(ErrInvalidProtectedByChain, "decode target %d protected by chain %d", dt, chain)
			}
		}
	}

	if len(f.Templates) == 0 || len(f.Templates) > MaxTemplates {
		return errors.Wrapf(ErrTemplatesOutOfRange, "%d templates", len(f.Templates))
	}
	if f.Templates[0].SpatialId != 0 || f.Templates[0].TemporalId != 0 {
		return errors.Wrapf(ErrTemplatesOutOfOrder, "first template is S%dT%d", f.Templates[0].SpatialId, f.Templates[0].TemporalId)
	}
	for idx, t := range f.Templates {
		if t.SpatialId < 0 || t.SpatialId >= MaxSpatialIds || t.TemporalId < 0 || t.TemporalId >= MaxTemporalIds {
			return errors.Wrapf(ErrTemplatesOutOfRange, "template %d is S%dT%d", idx, t.SpatialId, t.TemporalId)
		}
		if idx > 0 && getNextLayerIdc(f.Templates[idx-1], t) == invalidLayer {
			return errors.Wrapf(ErrTemplatesOutOfOrder, "template %d (%s) follows %s", idx, t, f.Templates[idx-1])
		}
		if len(t.DecodeTargetIndications) != f.NumDecodeTargets {
			return errors.Wrapf(ErrDTILengthMismatch, "template %d has %d, expected %d", idx, len(t.DecodeTargetIndications), f.NumDecodeTargets)
		}
		if len(t.ChainDiffs) < f.NumChains {
			return errors.Wrapf(ErrChainsNotSupported, "template %d has %d chain diffs, structure declares %d chains", idx, len(t.ChainDiffs), f.NumChains)
		}
		for _, fdiff := range t.FrameDiffs {
			if fdiff < 1 || fdiff > MaxTemplateFrameDiff {
				return errors.Wrapf(ErrTemplateDiffOutOfRange, "template %d frame diff %d", idx, fdiff)
			}
		}
		for _, cdiff := range t.ChainDiffs[:f.NumChains] {
			if cdiff < 0 || cdiff > MaxTemplateChainDiff {
				return errors.Wrapf(ErrTemplateDiffOutOfRange, "template %d chain diff %d", idx, cdiff)
			}
		}
	}

	if len(f.Resolutions) > 0 && len(f.Resolutions) != f.NumSpatialLayers() {
		return errors.Wrapf(ErrResolutionsLengthMismatch, "%d resolutions, %d spatial layers", len(f.Resolutions), f.NumSpatialLayers())
	}
	return nil
}

// NumSpatialLayers relies on templates being ordered by spatial id.
func (f *FrameDependencyStructure) NumSpatialLayers() int {
	if len(f.Templates) == 0 {
		return 0
	}
	return f.Templates[len(f.Templates)-1].SpatialId + 1
}

func (f *FrameDependencyStructure) TemplatesFor(spatialId, temporalId int) []*FrameDependencyTemplate {
	var templates []*FrameDependencyTemplate
	for _, t := range f.Templates {
		if t.SpatialId == spatialId && t.TemporalId == temporalId {
			templates = append(templates, t)
		}
	}
	return templates
}

func (f *FrameDependencyStructure) HasTemplate(spatialId, temporalId int) bool {
	for _, t := range f.Templates {
		if t.SpatialId == spatialId && t.TemporalId == temporalId {
			return true
		}
	}
	return false
}

func (f *FrameDependencyStructure) Clone() *FrameDependencyStructure {
	c := &FrameDependencyStructure{
		StructureId:                  f.StructureId,
		NumDecodeTargets:             f.NumDecodeTargets,
		NumChains:                    f.NumChains,
		DecodeTargetProtectedByChain: append([]int{}, f.DecodeTargetProtectedByChain...),
		Resolutions:                  append([]RenderResolution{}, f.Resolutions...),
		Templates:                    make([]*FrameDependencyTemplate, 0, len(f.Templates)),
	}
	for _, t := range f.Templates {
		c.Templates = append(c.Templates, t.Clone())
	}
	return c
}

func (f *FrameDependencyStructure) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "FrameDependencyStructure{StructureId: %v, NumDecodeTargets: %v, NumChains: %v, DecodeTargetProtectedByChain: %v, Resolutions: %+v, Templates: [",
		f.StructureId, f.NumDecodeTargets, f.NumChains, f.DecodeTargetProtectedByChain, f.Resolutions)
	for i, t := range f.Templates {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString("]}")
	return sb.String()
}

// ------------------------------------------------------------------------------

// TemplateBuilder keeps static template tables readable.
type TemplateBuilder struct {
	t FrameDependencyTemplate
}

func NewTemplate() *TemplateBuilder {
	return &TemplateBuilder{}
}

func (b *TemplateBuilder) S(spatialId int) *TemplateBuilder {
	b.t.SpatialId = spatialId
	return b
}

func (b *TemplateBuilder) T(temporalId int) *TemplateBuilder {
	b.t.TemporalId = temporalId
	return b
}

func (b *TemplateBuilder) Dtis(symbols string) *TemplateBuilder {
	b.t.DecodeTargetIndications = MustParseDecodeTargetIndications(symbols)
	return b
}

func (b *TemplateBuilder) FrameDiffs(diffs ...int) *TemplateBuilder {
	b.t.FrameDiffs = append([]int{}, diffs...)
	return b
}

func (b *TemplateBuilder) ChainDiffs(diffs ...int) *TemplateBuilder {
	b.t.ChainDiffs = append([]int{}, diffs...)
	return b
}

func (b *TemplateBuilder) Build() *FrameDependencyTemplate {
	return b.t.Clone()
}
