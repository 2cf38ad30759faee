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

// DependencyDescriptorExtension is a extension payload format in
// https://aomediacodec.github.io/av1-rtp-spec/#dependency-descriptor-rtp-header-extension
//
// Structure is the latest structure known to the sender/receiver. When the descriptor
// carries an AttachedStructure, that one is used instead.
type DependencyDescriptorExtension struct {
	Descriptor *DependencyDescriptor
	Structure  *FrameDependencyStructure
}

func (d *DependencyDescriptorExtension) Marshal() ([]byte, error) {
	return d.MarshalWithActiveChains(^uint32(0))
}

func (d *DependencyDescriptorExtension) MarshalWithActiveChains(activeChains uint32) ([]byte, error) {
	writer, err := NewDependencyDescriptorWriter(nil, d.structure(), activeChains, d.Descriptor)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, bitsToBytes(writer.ValueSizeBits()))
	writer.ResetBuf(buf)
	if err = writer.Write(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *DependencyDescriptorExtension) MarshalSizeWithActiveChains(activeChains uint32) (int, error) {
	writer, err := NewDependencyDescriptorWriter(nil, d.structure(), activeChains, d.Descriptor)
	if err != nil {
		return 0, err
	}
	return bitsToBytes(writer.ValueSizeBits()), nil
}

func (d *DependencyDescriptorExtension) Unmarshal(buf []byte) (int, error) {
	reader := NewDependencyDescriptorReader(buf, d.Structure, d.Descriptor)
	return reader.Parse()
}

func (d *DependencyDescriptorExtension) structure() *FrameDependencyStructure {
	if d.Descriptor != nil && d.Descriptor.AttachedStructure != nil {
		return d.Descriptor.AttachedStructure
	}
	return d.Structure
}

func bitsToBytes(bits int) int {
	return (bits + 7) / 8
}
