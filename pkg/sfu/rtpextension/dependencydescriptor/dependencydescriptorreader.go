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
)

var (
	ErrDDReaderNoStructure              = errors.New("DependencyDescriptorReader: Structure is nil")
	ErrDDReaderTemplateWithoutStructure = errors.New("DependencyDescriptorReader: has templateDependencyStructurePresentFlag but AttachedStructure is nil")
	ErrDDReaderTooManyTemplates         = errors.New("DependencyDescriptorReader: too many templates")
	ErrDDReaderTooManyTemporalLayers    = errors.New("DependencyDescriptorReader: too many temporal layers")
	ErrDDReaderTooManySpatialLayers     = errors.New("DependencyDescriptorReader: too many spatial layers")
	ErrDDReaderInvalidTemplateIndex     = errors.New("DependencyDescriptorReader: invalid template index")
	ErrDDReaderInvalidSpatialLayer      = errors.New("DependencyDescriptorReader: invalid spatial layer, should be less than the number of resolutions")
	ErrDDReaderNumDTIMismatch           = errors.New("DependencyDescriptorReader: decode target indications length mismatch with structure num decode targets")
	ErrDDReaderNumChainDiffsMismatch    = errors.New("DependencyDescriptorReader: chain diffs length mismatch with structure num chains")
)

const mandatoryFieldsBytes = 3

type extendedFlags struct {
	structurePresent           bool
	activeDecodeTargetsPresent bool
	customDtis                 bool
	customFdiffs               bool
	customChains               bool
}

type DependencyDescriptorReader struct {
	// Output.
	descriptor *DependencyDescriptor

	// Values that are needed while reading the descriptor, but can be discarded
	// when reading is complete.
	buffer     *BitStreamReader
	templateId int
	flags      extendedFlags
	structure  *FrameDependencyStructure
}

func NewDependencyDescriptorReader(buf []byte, structure *FrameDependencyStructure, descriptor *DependencyDescriptor) *DependencyDescriptorReader {
	return &DependencyDescriptorReader{
		buffer:     NewBitStreamReader(buf),
		descriptor: descriptor,
		structure:  structure,
	}
}

// Parse fills the descriptor and returns the number of bytes consumed.
func (r *DependencyDescriptorReader) Parse() (int, error) {
	if err := r.readMandatoryFields(); err != nil {
		return 0, err
	}
	if r.buffer.Len() > mandatoryFieldsBytes {
		if err := r.readExtendedFields(); err != nil {
			return 0, err
		}
	}

	if r.descriptor.AttachedStructure != nil {
		r.structure = r.descriptor.AttachedStructure
	}
	if r.structure == nil {
		r.buffer.Invalidate()
		return 0, ErrDDReaderNoStructure
	}

	if r.flags.activeDecodeTargetsPresent {
		bitmask, err := r.buffer.ReadBits(r.structure.NumDecodeTargets)
		if err != nil {
			return 0, err
		}
		mask := uint32(bitmask)
		r.descriptor.ActiveDecodeTargetsBitmask = &mask
	}

	if err := r.readFrameDependencyDefinition(); err != nil {
		return 0, err
	}
	return r.buffer.BytesRead(), nil
}

func (r *DependencyDescriptorReader) readMandatoryFields() error {
	var err error
	if r.descriptor.FirstPacketInFrame, err = r.buffer.ReadBool(); err != nil {
		return err
	}
	if r.descriptor.LastPacketInFrame, err = r.buffer.ReadBool(); err != nil {
		return err
	}

	templateId, err := r.buffer.ReadBits(6)
	if err != nil {
		return err
	}
	r.templateId = int(templateId)

	frameNumber, err := r.buffer.ReadBits(16)
	if err != nil {
		return err
	}
	r.descriptor.FrameNumber = uint16(frameNumber)
	return nil
}

func (r *DependencyDescriptorReader) readExtendedFields() error {
	for _, flag := range []*bool{
		&r.flags.structurePresent,
		&r.flags.activeDecodeTargetsPresent,
		&r.flags.customDtis,
		&r.flags.customFdiffs,
		&r.flags.customChains,
	} {
		val, err := r.buffer.ReadBool()
		if err != nil {
			return err
		}
		*flag = val
	}

	if !r.flags.structurePresent {
		return nil
	}

	if err := r.readTemplateDependencyStructure(); err != nil {
		return err
	}
	if r.descriptor.AttachedStructure == nil {
		return ErrDDReaderTemplateWithoutStructure
	}
	// a new structure activates every decode target unless a bitmask follows
	bitmask := uint32((uint64(1) << r.descriptor.AttachedStructure.NumDecodeTargets) - 1)
	r.descriptor.ActiveDecodeTargetsBitmask = &bitmask
	return nil
}

func (r *DependencyDescriptorReader) readTemplateDependencyStructure() error {
	structure := &FrameDependencyStructure{}
	r.descriptor.AttachedStructure = structure

	structureId, err := r.buffer.ReadBits(6)
	if err != nil {
		return err
	}
	structure.StructureId = int(structureId)

	numDecodeTargets, err := r.buffer.ReadBits(5)
	if err != nil {
		return err
	}
	structure.NumDecodeTargets = int(numDecodeTargets) + 1

	for _, read := range []func(*FrameDependencyStructure) error{
		r.readTemplateLayers,
		r.readTemplateDtis,
		r.readTemplateFdiffs,
		r.readTemplateChains,
	} {
		if err := read(structure); err != nil {
			return err
		}
	}

	hasResolutions, err := r.buffer.ReadBool()
	if err != nil {
		return err
	}
	if hasResolutions {
		return r.readResolutions(structure)
	}
	return nil
}

type nextLayerIdcType int

const (
	sameLayer nextLayerIdcType = iota
	nextTemporalLayer
	nextSpatialLayer
	noMoreLayer
	invalidLayer
)

func (r *DependencyDescriptorReader) readTemplateLayers(structure *FrameDependencyStructure) error {
	var (
		templates             []*FrameDependencyTemplate
		temporalId, spatialId int
	)
	for {
		if len(templates) == MaxTemplates {
			return ErrDDReaderTooManyTemplates
		}
		templates = append(templates, &FrameDependencyTemplate{
			SpatialId:  spatialId,
			TemporalId: temporalId,
		})

		idc, err := r.buffer.ReadBits(2)
		if err != nil {
			return err
		}

		switch nextLayerIdcType(idc) {
		case nextTemporalLayer:
			temporalId++
			if temporalId >= MaxTemporalIds {
				return ErrDDReaderTooManyTemporalLayers
			}
		case nextSpatialLayer:
			spatialId++
			temporalId = 0
			if spatialId >= MaxSpatialIds {
				return ErrDDReaderTooManySpatialLayers
			}
		case noMoreLayer:
			structure.Templates = templates
			return nil
		}

		if !r.buffer.Ok() {
			structure.Templates = templates
			return nil
		}
	}
}

func (r *DependencyDescriptorReader) readTemplateDtis(structure *FrameDependencyStructure) error {
	for _, template := range structure.Templates {
		template.DecodeTargetIndications = make([]DecodeTargetIndication, structure.NumDecodeTargets)
		for i := range template.DecodeTargetIndications {
			indication, err := r.buffer.ReadBits(2)
			if err != nil {
				return err
			}
			template.DecodeTargetIndications[i] = DecodeTargetIndication(indication)
		}
	}
	return nil
}

func (r *DependencyDescriptorReader) readTemplateFdiffs(structure *FrameDependencyStructure) error {
	for _, template := range structure.Templates {
		for {
			fdiffFollows, err := r.buffer.ReadBool()
			if err != nil {
				return err
			}
			if !fdiffFollows {
				break
			}
			fdiffMinusOne, err := r.buffer.ReadBits(4)
			if err != nil {
				return err
			}
			template.FrameDiffs = append(template.FrameDiffs, int(fdiffMinusOne+1))
		}
	}
	return nil
}

func (r *DependencyDescriptorReader) readTemplateChains(structure *FrameDependencyStructure) error {
	numChains, err := r.buffer.ReadNonSymmetric(uint32(structure.NumDecodeTargets) + 1)
	if err != nil {
		return err
	}
	structure.NumChains = int(numChains)
	if structure.NumChains == 0 {
		return nil
	}

	for i := 0; i < structure.NumDecodeTargets; i++ {
		protectedByChain, err := r.buffer.ReadNonSymmetric(uint32(structure.NumChains))
		if err != nil {
			return err
		}
		structure.DecodeTargetProtectedByChain = append(structure.DecodeTargetProtectedByChain, int(protectedByChain))
	}

	for _, template := range structure.Templates {
		for chainId := 0; chainId < structure.NumChains; chainId++ {
			chainDiff, err := r.buffer.ReadBits(4)
			if err != nil {
				return err
			}
			template.ChainDiffs = append(template.ChainDiffs, int(chainDiff))
		}
	}
	return nil
}

func (r *DependencyDescriptorReader) readResolutions(structure *FrameDependencyStructure) error {
	for sid := 0; sid < structure.NumSpatialLayers(); sid++ {
		widthMinus1, err := r.buffer.ReadBits(16)
		if err != nil {
			return err
		}
		heightMinus1, err := r.buffer.ReadBits(16)
		if err != nil {
			return err
		}
		structure.Resolutions = append(structure.Resolutions, RenderResolution{
			Width:  int(widthMinus1 + 1),
			Height: int(heightMinus1 + 1),
		})
	}
	return nil
}

func (r *DependencyDescriptorReader) readFrameDependencyDefinition() error {
	templateIndex := (r.templateId + MaxTemplates - r.structure.StructureId) % MaxTemplates
	if templateIndex >= len(r.structure.Templates) {
		r.buffer.Invalidate()
		return errors.Wrapf(ErrDDReaderInvalidTemplateIndex, "template id %d, structure id %d", r.templateId, r.structure.StructureId)
	}

	// custom fields below override what the template carries
	r.descriptor.FrameDependencies = r.structure.Templates[templateIndex].Clone()

	if r.flags.customDtis {
		if err := r.readFrameDtis(); err != nil {
			return err
		}
	}
	if r.flags.customFdiffs {
		if err := r.readFrameFdiffs(); err != nil {
			return err
		}
	}
	if r.flags.customChains {
		if err := r.readFrameChains(); err != nil {
			return err
		}
	}

	if len(r.structure.Resolutions) == 0 {
		r.descriptor.Resolution = nil
		return nil
	}
	// Format guarantees that if there were resolutions in the last structure,
	// then each spatial layer got one.
	if r.descriptor.FrameDependencies.SpatialId >= len(r.structure.Resolutions) {
		r.buffer.Invalidate()
		return ErrDDReaderInvalidSpatialLayer
	}
	res := r.structure.Resolutions[r.descriptor.FrameDependencies.SpatialId]
	r.descriptor.Resolution = &res
	return nil
}

func (r *DependencyDescriptorReader) readFrameDtis() error {
	dtis := r.descriptor.FrameDependencies.DecodeTargetIndications
	if len(dtis) != r.structure.NumDecodeTargets {
		return ErrDDReaderNumDTIMismatch
	}
	for i := range dtis {
		indication, err := r.buffer.ReadBits(2)
		if err != nil {
			return err
		}
		dtis[i] = DecodeTargetIndication(indication)
	}
	return nil
}

func (r *DependencyDescriptorReader) readFrameFdiffs() error {
	fd := r.descriptor.FrameDependencies
	fd.FrameDiffs = fd.FrameDiffs[:0]
	for {
		fdiffSize, err := r.buffer.ReadBits(2)
		if err != nil {
			return err
		}
		if fdiffSize == 0 {
			return nil
		}
		fdiffMinusOne, err := r.buffer.ReadBits(int(fdiffSize * 4))
		if err != nil {
			return err
		}
		fd.FrameDiffs = append(fd.FrameDiffs, int(fdiffMinusOne+1))
	}
}

func (r *DependencyDescriptorReader) readFrameChains() error {
	chainDiffs := r.descriptor.FrameDependencies.ChainDiffs
	if len(chainDiffs) != r.structure.NumChains {
		return ErrDDReaderNumChainDiffsMismatch
	}
	for i := range chainDiffs {
		chainDiff, err := r.buffer.ReadBits(8)
		if err != nil {
			return err
		}
		chainDiffs[i] = int(chainDiff)
	}
	return nil
}
