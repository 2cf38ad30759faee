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
	"io"

	"github.com/pkg/errors"
)

var (
	ErrInvalidBitCount   = errors.New("invalid number of bits, expected 0-64")
	ErrInvalidValueRange = errors.New("invalid number of values, expected less than 2^31")
)

type BitStreamReader struct {
	buf           []byte
	pos           int
	remainingBits int
}

func NewBitStreamReader(buf []byte) *BitStreamReader {
	return &BitStreamReader{buf: buf, remainingBits: len(buf) * 8}
}

// Len is the size of the underlying buffer in bytes.
func (b *BitStreamReader) Len() int {
	return len(b.buf)
}

func (b *BitStreamReader) RemainingBits() int {
	return b.remainingBits
}

// ReadBits reads `bits` (0..64) MSB first. Reading past the end leaves the reader
// in the failed state and returns io.ErrUnexpectedEOF.
func (b *BitStreamReader) ReadBits(bits int) (uint64, error) {
	if bits < 0 || bits > 64 {
		return 0, ErrInvalidBitCount
	}
	if b.remainingBits < bits {
		b.remainingBits -= bits
		return 0, io.ErrUnexpectedEOF
	}

	var result uint64
	for bits > 0 {
		// bits still unread in the current byte
		available := b.remainingBits % 8
		if available == 0 {
			available = 8
		}
		take := available
		if bits < take {
			take = bits
		}

		shift := available - take
		chunk := (b.buf[b.pos] >> shift) & byte((1<<take)-1)
		result = (result << take) | uint64(chunk)

		b.remainingBits -= take
		bits -= take
		if take == available {
			b.pos++
		}
	}
	return result, nil
}

func (b *BitStreamReader) ReadBool() (bool, error) {
	val, err := b.ReadBits(1)
	return val != 0, err
}

func (b *BitStreamReader) Ok() bool {
	return b.remainingBits >= 0
}

func (b *BitStreamReader) Invalidate() {
	b.remainingBits = -1
}

// ReadNonSymmetric reads a value in [0, numValues - 1] using the AV1 ns(n) encoding:
// with w = bit_width(numValues) and k = 2^w - numValues, values below k take w-1
// bits and the rest are stored as v+k in w bits.
// https://aomediacodec.github.io/av1-spec/#nsn
func (b *BitStreamReader) ReadNonSymmetric(numValues uint32) (uint32, error) {
	if numValues >= (uint32(1) << 31) {
		return 0, ErrInvalidValueRange
	}

	width := bitwidth(numValues)
	numMinBitsValues := (uint32(1) << width) - numValues

	val, err := b.ReadBits(width - 1)
	if err != nil {
		return 0, err
	}
	if val < uint64(numMinBitsValues) {
		return uint32(val), nil
	}
	bit, err := b.ReadBits(1)
	if err != nil {
		return 0, err
	}
	return uint32((val << 1) + bit - uint64(numMinBitsValues)), nil
}

func (b *BitStreamReader) BytesRead() int {
	return bitsToBytes(len(b.buf)*8 - b.remainingBits)
}

func bitwidth(n uint32) int {
	var w int
	for n != 0 {
		n >>= 1
		w++
	}
	return w
}
