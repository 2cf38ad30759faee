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

var ErrInsufficientSpace = errors.New("insufficient space")

type BitStreamWriter struct {
	buf       []byte
	pos       int
	bitOffset int // bit offset in the current byte
}

func NewBitStreamWriter(buf []byte) *BitStreamWriter {
	return &BitStreamWriter{buf: buf}
}

func (w *BitStreamWriter) RemainingBits() int {
	return (len(w.buf)-w.pos)*8 - w.bitOffset
}

// WriteBits writes the low `bitCount` bits of val, MSB first.
func (w *BitStreamWriter) WriteBits(val uint64, bitCount int) error {
	if bitCount < 0 || bitCount > 64 {
		return ErrInvalidBitCount
	}
	if bitCount > w.RemainingBits() {
		return errors.Wrapf(ErrInsufficientSpace, "writing %d bits, remaining %d", bitCount, w.RemainingBits())
	}

	for bitCount > 0 {
		free := 8 - w.bitOffset
		take := free
		if bitCount < take {
			take = bitCount
		}

		chunk := byte(val>>(bitCount-take)) & byte((1<<take)-1)
		shift := free - take
		mask := byte((1<<take)-1) << shift
		w.buf[w.pos] = (w.buf[w.pos] &^ mask) | (chunk << shift)

		bitCount -= take
		w.bitOffset += take
		if w.bitOffset == 8 {
			w.bitOffset = 0
			w.pos++
		}
	}
	return nil
}

func (w *BitStreamWriter) WriteBool(val bool) error {
	if val {
		return w.WriteBits(1, 1)
	}
	return w.WriteBits(0, 1)
}

// WriteNonSymmetric is the inverse of BitStreamReader.ReadNonSymmetric.
func (w *BitStreamWriter) WriteNonSymmetric(val, numValues uint32) error {
	if !(val < numValues && numValues <= 1<<31) {
		return errors.Errorf("invalid argument, val %d, numValues %d", val, numValues)
	}
	if numValues == 1 {
		// a single possible value takes zero bits
		return nil
	}

	countBits := bitwidth(numValues)
	numMinBitsValues := (uint32(1) << countBits) - numValues
	if val < numMinBitsValues {
		return w.WriteBits(uint64(val), countBits-1)
	}
	return w.WriteBits(uint64(val+numMinBitsValues), countBits)
}

func SizeNonSymmetricBits(val, numValues uint32) int {
	countBits := bitwidth(numValues)
	numMinBitsValues := (uint32(1) << countBits) - numValues
	if val < numMinBitsValues {
		return countBits - 1
	}
	return countBits
}
