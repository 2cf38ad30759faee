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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitStreamRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	w := NewBitStreamWriter(buf)
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteBits(0x15, 5))
	require.NoError(t, w.WriteBits(0xabcd, 16))
	require.NoError(t, w.WriteBits(0x0123456789, 40))
	require.NoError(t, w.WriteNonSymmetric(3, 5))
	require.NoError(t, w.WriteNonSymmetric(0, 1))
	require.Equal(t, 16*8-1-5-16-40-SizeNonSymmetricBits(3, 5), w.RemainingBits())

	r := NewBitStreamReader(buf)
	b, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	v, err := r.ReadBits(5)
	require.NoError(t, err)
	require.Equal(t, uint64(0x15), v)

	v, err = r.ReadBits(16)
	require.NoError(t, err)
	require.Equal(t, uint64(0xabcd), v)

	v, err = r.ReadBits(40)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0123456789), v)

	ns, err := r.ReadNonSymmetric(5)
	require.NoError(t, err)
	require.Equal(t, uint32(3), ns)

	ns, err = r.ReadNonSymmetric(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0), ns)
	require.True(t, r.Ok())
}

func TestBitStreamBounds(t *testing.T) {
	w := NewBitStreamWriter(make([]byte, 1))
	require.NoError(t, w.WriteBits(0x7, 3))
	require.ErrorIs(t, w.WriteBits(0, 6), ErrInsufficientSpace)
	require.ErrorIs(t, w.WriteBits(0, 65), ErrInvalidBitCount)

	r := NewBitStreamReader([]byte{0xe0})
	v, err := r.ReadBits(3)
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)
	require.Equal(t, 1, r.BytesRead())

	_, err = r.ReadBits(6)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, r.Ok())
}

func TestNonSymmetricSizes(t *testing.T) {
	// 5 values: k = 3, so 0..2 take 2 bits and 3..4 take 3 bits
	require.Equal(t, 2, SizeNonSymmetricBits(2, 5))
	require.Equal(t, 3, SizeNonSymmetricBits(4, 5))
	require.Equal(t, 0, SizeNonSymmetricBits(0, 1))

	for numValues := uint32(1); numValues < 40; numValues++ {
		buf := make([]byte, 64)
		w := NewBitStreamWriter(buf)
		for val := uint32(0); val < numValues; val++ {
			require.NoError(t, w.WriteNonSymmetric(val, numValues))
		}
		r := NewBitStreamReader(buf)
		for val := uint32(0); val < numValues; val++ {
			got, err := r.ReadNonSymmetric(numValues)
			require.NoError(t, err)
			require.Equal(t, val, got)
		}
	}
}
