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
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

var (
	ErrDDWriterNoStructure         = errors.New("DependencyDescriptorWriter: Structure is nil")
	ErrDDWriterNoFrameDependencies = errors.New("DependencyDescriptorWriter: FrameDependencies is nil")
	ErrDDWriterNoTemplate          = errors.New("DependencyDescriptorWriter: no template for frame layer")
	ErrDDWriterInvalidStructure    = errors.New("DependencyDescriptorWriter: structure cannot be written")
)

type TemplateMatch struct {
	TemplateIdx      int
	NeedCustomDtis   bool
	NeedCustomFdiffs bool
	NeedCustomChains bool
	// Size in bits to store frame-specific details, i.e.
	// excluding mandatory fields and template dependency structure.
	ExtraSizeBits int
}

type DependencyDescriptorWriter struct {
	descriptor   *DependencyDescriptor
	structure    *FrameDependencyStructure
	activeChains uint32
	writer       *BitStreamWriter
	bestTemplate TemplateMatch
}

func NewDependencyDescriptorWriter(buf []byte, structure *FrameDependencyStructure, activeChains uint32, descriptor *DependencyDescriptor) (*DependencyDescriptorWriter, error) {
	if structure == nil {
		return nil, ErrDDWriterNoStructure
	}
	if descriptor == nil || descriptor.FrameDependencies == nil {
		return nil, ErrDDWriterNoFrameDependencies
	}
	w := &DependencyDescriptorWriter{
		descriptor:   descriptor,
		structure:    structure,
		activeChains: activeChains,
		writer:       NewBitStreamWriter(buf),
	}
	if err := w.findBestTemplate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *DependencyDescriptorWriter) ResetBuf(buf []byte) {
	w.writer = NewBitStreamWriter(buf)
}

func (w *DependencyDescriptorWriter) BestTemplate() TemplateMatch {
	return w.bestTemplate
}

func (w *DependencyDescriptorWriter) Write() error {
	if err := w.writeMandatoryFields(); err != nil {
		return err
	}

	if w.hasExtendedFields() {
		if err := w.writeExtendedFields(); err != nil {
			return err
		}
		if err := w.writeFrameDependencyDefinition(); err != nil {
			return err
		}
	}

	// zero the padding so the tail is never left uninitialized
	for remaining := w.writer.RemainingBits(); remaining > 0; remaining = w.writer.RemainingBits() {
		n := remaining
		if n > 64 {
			n = 64
		}
		if err := w.writer.WriteBits(0, n); err != nil {
			return err
		}
	}
	return nil
}

// findBestTemplate picks, among the templates of the frame's layer, the one needing the
// fewest custom bits. Templates of one layer are contiguous in a valid structure.
func (w *DependencyDescriptorWriter) findBestTemplate() error {
	fd := w.descriptor.FrameDependencies
	first, last := -1, -1
	for i, t := range w.structure.Templates {
		if t.SpatialId != fd.SpatialId || t.TemporalId != fd.TemporalId {
			if first >= 0 {
				break
			}
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return errors.Wrapf(ErrDDWriterNoTemplate, "spatial layer %d, temporal layer %d", fd.SpatialId, fd.TemporalId)
	}

	w.bestTemplate = w.calculateMatch(first, w.structure.Templates[first])
	for i := first + 1; i <= last && w.bestTemplate.ExtraSizeBits > 0; i++ {
		match := w.calculateMatch(i, w.structure.Templates[i])
		if match.ExtraSizeBits < w.bestTemplate.ExtraSizeBits {
			w.bestTemplate = match
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) calculateMatch(idx int, template *FrameDependencyTemplate) TemplateMatch {
	fd := w.descriptor.FrameDependencies
	result := TemplateMatch{TemplateIdx: idx}
	result.NeedCustomFdiffs = fd.FrameDiffs != nil && !slices.Equal(fd.FrameDiffs, template.FrameDiffs)
	result.NeedCustomDtis = fd.DecodeTargetIndications != nil && !slices.Equal(fd.DecodeTargetIndications, template.DecodeTargetIndications)

	for i := 0; i < w.structure.NumChains; i++ {
		if !w.isChainActive(i) {
			continue
		}
		if len(fd.ChainDiffs) <= i || len(template.ChainDiffs) <= i || fd.ChainDiffs[i] != template.ChainDiffs[i] {
			result.NeedCustomChains = true
			break
		}
	}

	if result.NeedCustomFdiffs {
		result.ExtraSizeBits = 2 * (1 + len(fd.FrameDiffs))
		for _, fdiff := range fd.FrameDiffs {
			result.ExtraSizeBits += 4 * fdiffSizeNibbles(fdiff)
		}
	}
	if result.NeedCustomDtis {
		result.ExtraSizeBits += 2 * len(fd.DecodeTargetIndications)
	}
	if result.NeedCustomChains {
		result.ExtraSizeBits += 8 * w.structure.NumChains
	}
	return result
}

func (w *DependencyDescriptorWriter) isChainActive(chainIdx int) bool {
	return w.activeChains&(1<<chainIdx) != 0
}

func fdiffSizeNibbles(fdiff int) int {
	switch {
	case fdiff <= 1<<4:
		return 1
	case fdiff <= 1<<8:
		return 2
	default:
		return 3
	}
}

func (w *DependencyDescriptorWriter) writeMandatoryFields() error {
	if err := w.writer.WriteBool(w.descriptor.FirstPacketInFrame); err != nil {
		return err
	}
	if err := w.writer.WriteBool(w.descriptor.LastPacketInFrame); err != nil {
		return err
	}

	templateId := (w.bestTemplate.TemplateIdx + w.structure.StructureId) % MaxTemplates
	if err := w.writer.WriteBits(uint64(templateId), 6); err != nil {
		return err
	}
	return w.writer.WriteBits(uint64(w.descriptor.FrameNumber), 16)
}

func (w *DependencyDescriptorWriter) hasExtendedFields() bool {
	return w.bestTemplate.ExtraSizeBits > 0 || w.descriptor.AttachedStructure != nil || w.descriptor.ActiveDecodeTargetsBitmask != nil
}

func (w *DependencyDescriptorWriter) writeExtendedFields() error {
	activeDecodeTargetsPresent := w.shouldWriteActiveDecodeTargetsBitmask()
	for _, flag := range []bool{
		w.descriptor.AttachedStructure != nil, // template_dependency_structure_present_flag
		activeDecodeTargetsPresent,            // active_decode_targets_present_flag
		w.bestTemplate.NeedCustomDtis,         // custom_dtis_flag
		w.bestTemplate.NeedCustomFdiffs,       // custom_fdiffs_flag
		w.bestTemplate.NeedCustomChains,       // custom_chains_flag
	} {
		if err := w.writer.WriteBool(flag); err != nil {
			return err
		}
	}

	if w.descriptor.AttachedStructure != nil {
		if err := w.writeTemplateDependencyStructure(); err != nil {
			return err
		}
	}

	if activeDecodeTargetsPresent {
		return w.writer.WriteBits(uint64(*w.descriptor.ActiveDecodeTargetsBitmask), w.structure.NumDecodeTargets)
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeTemplateDependencyStructure() error {
	if w.structure.StructureId < 0 || w.structure.StructureId >= MaxTemplates ||
		w.structure.NumDecodeTargets <= 0 || w.structure.NumDecodeTargets > MaxDecodeTargets {
		return errors.Wrapf(ErrDDWriterInvalidStructure, "structureId: %d, numDecodeTargets: %d", w.structure.StructureId, w.structure.NumDecodeTargets)
	}

	if err := w.writer.WriteBits(uint64(w.structure.StructureId), 6); err != nil {
		return err
	}
	if err := w.writer.WriteBits(uint64(w.structure.NumDecodeTargets-1), 5); err != nil {
		return err
	}

	for _, write := range []func() error{
		w.writeTemplateLayers,
		w.writeTemplateDtis,
		w.writeTemplateFdiffs,
		w.writeTemplateChains,
		w.writeResolutions,
	} {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeTemplateLayers() error {
	templates := w.structure.Templates
	if len(templates) == 0 || len(templates) > MaxTemplates || templates[0].SpatialId != 0 || templates[0].TemporalId != 0 {
		return errors.Wrapf(ErrDDWriterInvalidStructure, "invalid templates, len %d", len(templates))
	}
	for i := 1; i < len(templates); i++ {
		nextLayerIdc := getNextLayerIdc(templates[i-1], templates[i])
		if nextLayerIdc >= noMoreLayer {
			return errors.Wrapf(ErrDDWriterInvalidStructure, "invalid next_layer_idc %d at template %d", nextLayerIdc, i)
		}
		if err := w.writer.WriteBits(uint64(nextLayerIdc), 2); err != nil {
			return err
		}
	}
	return w.writer.WriteBits(uint64(noMoreLayer), 2)
}

func getNextLayerIdc(prev, next *FrameDependencyTemplate) nextLayerIdcType {
	switch {
	case next.SpatialId == prev.SpatialId && next.TemporalId == prev.TemporalId:
		return sameLayer
	case next.SpatialId == prev.SpatialId && next.TemporalId == prev.TemporalId+1:
		return nextTemporalLayer
	case next.SpatialId == prev.SpatialId+1 && next.TemporalId == 0:
		return nextSpatialLayer
	default:
		return invalidLayer
	}
}

func (w *DependencyDescriptorWriter) writeTemplateDtis() error {
	for _, t := range w.structure.Templates {
		if len(t.DecodeTargetIndications) != w.structure.NumDecodeTargets {
			return errors.Wrapf(ErrDDWriterInvalidStructure, "template %s has %d dtis", t, len(t.DecodeTargetIndications))
		}
		for _, dti := range t.DecodeTargetIndications {
			if err := w.writer.WriteBits(uint64(dti), 2); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeTemplateFdiffs() error {
	for _, t := range w.structure.Templates {
		for _, fdiff := range t.FrameDiffs {
			// fdiff_follows_flag followed by fdiff_minus_one
			if err := w.writer.WriteBits(uint64(1<<4)|uint64(fdiff-1), 1+4); err != nil {
				return err
			}
		}
		if err := w.writer.WriteBool(false); err != nil {
			return err
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeTemplateChains() error {
	if err := w.writer.WriteNonSymmetric(uint32(w.structure.NumChains), uint32(w.structure.NumDecodeTargets+1)); err != nil {
		return err
	}
	if w.structure.NumChains == 0 {
		return nil
	}

	for _, protectedBy := range w.structure.DecodeTargetProtectedByChain {
		if err := w.writer.WriteNonSymmetric(uint32(protectedBy), uint32(w.structure.NumChains)); err != nil {
			return err
		}
	}

	for _, t := range w.structure.Templates {
		if len(t.ChainDiffs) < w.structure.NumChains {
			return errors.Wrapf(ErrDDWriterInvalidStructure, "template %s has %d chain diffs", t, len(t.ChainDiffs))
		}
		for chainIdx := 0; chainIdx < w.structure.NumChains; chainIdx++ {
			if err := w.writer.WriteBits(uint64(t.ChainDiffs[chainIdx]), 4); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeResolutions() error {
	if err := w.writer.WriteBool(len(w.structure.Resolutions) > 0); err != nil {
		return err
	}
	for _, res := range w.structure.Resolutions {
		if err := w.writer.WriteBits(uint64(res.Width-1), 16); err != nil {
			return err
		}
		if err := w.writer.WriteBits(uint64(res.Height-1), 16); err != nil {
			return err
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeFrameDependencyDefinition() error {
	if w.bestTemplate.NeedCustomDtis {
		if err := w.writeFrameDtis(); err != nil {
			return err
		}
	}
	if w.bestTemplate.NeedCustomFdiffs {
		if err := w.writeFrameFdiffs(); err != nil {
			return err
		}
	}
	if w.bestTemplate.NeedCustomChains {
		return w.writeFrameChains()
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeFrameDtis() error {
	for _, dti := range w.descriptor.FrameDependencies.DecodeTargetIndications {
		if err := w.writer.WriteBits(uint64(dti), 2); err != nil {
			return err
		}
	}
	return nil
}

func (w *DependencyDescriptorWriter) writeFrameFdiffs() error {
	for _, fdiff := range w.descriptor.FrameDependencies.FrameDiffs {
		if fdiff < 1 || fdiff > MaxFrameDiff {
			return errors.Errorf("frame diff %d out of range", fdiff)
		}
		nibbles := fdiffSizeNibbles(fdiff)
		// next_fdiff_size followed by fdiff_minus_one
		if err := w.writer.WriteBits(uint64(nibbles)<<(4*nibbles)|uint64(fdiff-1), 2+4*nibbles); err != nil {
			return err
		}
	}
	return w.writer.WriteBits(0, 2)
}

func (w *DependencyDescriptorWriter) writeFrameChains() error {
	for i := 0; i < w.structure.NumChains; i++ {
		chainDiff := 0
		if w.isChainActive(i) && i < len(w.descriptor.FrameDependencies.ChainDiffs) {
			chainDiff = w.descriptor.FrameDependencies.ChainDiffs[i]
		}
		if chainDiff < 0 || chainDiff > MaxChainDiff {
			return errors.Errorf("chain diff %d out of range for chain %d", chainDiff, i)
		}
		if err := w.writer.WriteBits(uint64(chainDiff), 8); err != nil {
			return err
		}
	}
	return nil
}

const mandatoryFieldSize = 1 + 1 + 6 + 16

func (w *DependencyDescriptorWriter) ValueSizeBits() int {
	valueSizeBits := mandatoryFieldSize + w.bestTemplate.ExtraSizeBits
	if w.hasExtendedFields() {
		valueSizeBits += 5
		if w.descriptor.AttachedStructure != nil {
			valueSizeBits += w.structureSizeBits()
		}
		if w.shouldWriteActiveDecodeTargetsBitmask() {
			valueSizeBits += w.structure.NumDecodeTargets
		}
	}
	return valueSizeBits
}

// A freshly attached structure implies all decode targets active, so the bitmask is
// only needed when it says otherwise.
func (w *DependencyDescriptorWriter) shouldWriteActiveDecodeTargetsBitmask() bool {
	if w.descriptor.ActiveDecodeTargetsBitmask == nil {
		return false
	}

	allDecodeTargetsBitmask := (uint64(1) << w.structure.NumDecodeTargets) - 1
	if w.descriptor.AttachedStructure != nil && uint64(*w.descriptor.ActiveDecodeTargetsBitmask) == allDecodeTargetsBitmask {
		return false
	}
	return true
}

func (w *DependencyDescriptorWriter) structureSizeBits() int {
	// template_id offset (6 bits) and number of decode targets (5 bits)
	bits := 11
	// template layers
	bits += 2 * len(w.structure.Templates)
	// dtis
	bits += 2 * len(w.structure.Templates) * w.structure.NumDecodeTargets
	// fdiffs, each template uses 1 + 5 * len(fdiffs) bits
	bits += len(w.structure.Templates)
	for _, t := range w.structure.Templates {
		bits += 5 * len(t.FrameDiffs)
	}
	bits += SizeNonSymmetricBits(uint32(w.structure.NumChains), uint32(w.structure.NumDecodeTargets+1))
	if w.structure.NumChains > 0 {
		for _, protectedBy := range w.structure.DecodeTargetProtectedByChain {
			bits += SizeNonSymmetricBits(uint32(protectedBy), uint32(w.structure.NumChains))
		}
		bits += 4 * len(w.structure.Templates) * w.structure.NumChains
	}
	// resolutions
	bits += 1 + 32*len(w.structure.Resolutions)
	return bits
}
