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


package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAroundUint16(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()
	testCases := []struct {
		name            string
		input           uint16
		updated         WrapAroundUpdateResult[uint64]
		start           uint16
		extendedStart   uint64
		highest         uint16
		extendedHighest uint64
	}{
		{
			name:  "initialize",
			input: 10,
			updated: WrapAroundUpdateResult[uint64]{
				PreExtendedHighest: 9,
				ExtendedVal:        10,
			},
			start:           10,
			extendedStart:   10,
			highest:         10,
			extendedHighest: 10,
		},
		// an older number without wrap around should reset start point
		{
			name:  "reset start no wrap around",
			input: 8,
			updated: WrapAroundUpdateResult[uint64]{
				IsRestart:          true,
				PreExtendedStart:   10,
				PreExtendedHighest: 10,
				ExtendedVal:        8,
			},
			start:           8,
			extendedStart:   8,
			highest:         10,
			extendedHighest: 10,
		},
		// an older number with wrap around should reset start point and move highest up a cycle
		{
			name:  "reset start wrap around",
			input: (1 << 16) - 6,
			updated: WrapAroundUpdateResult[uint64]{
				IsRestart:          true,
				PreExtendedStart:   8,
				PreExtendedHighest: 10,
				ExtendedVal:        (1 << 16) - 6,
			},
			start:           (1 << 16) - 6,
			extendedStart:   (1 << 16) - 6,
			highest:         10,
			extendedHighest: (1 << 16) + 10,
		},
		// out of order with highest, from before the wrap around
		{
			name:  "out of order before wrap around",
			input: (1 << 16) - 3,
			updated: WrapAroundUpdateResult[uint64]{
				PreExtendedHighest: (1 << 16) + 10,
				ExtendedVal:        (1 << 16) - 3,
			},
			start:           (1 << 16) - 6,
			extendedStart:   (1 << 16) - 6,
			highest:         10,
			extendedHighest: (1 << 16) + 10,
		},
		// duplicate should return same as highest
		{
			name:  "duplicate",
			input: 10,
			updated: WrapAroundUpdateResult[uint64]{
				PreExtendedHighest: (1 << 16) + 10,
				ExtendedVal:        (1 << 16) + 10,
			},
			start:           (1 << 16) - 6,
			extendedStart:   (1 << 16) - 6,
			highest:         10,
			extendedHighest: (1 << 16) + 10,
		},
		{
			name:  "in order",
			input: 12,
			updated: WrapAroundUpdateResult[uint64]{
				PreExtendedHighest: (1 << 16) + 10,
				ExtendedVal:        (1 << 16) + 12,
			},
			start:           (1 << 16) - 6,
			extendedStart:   (1 << 16) - 6,
			highest:         12,
			extendedHighest: (1 << 16) + 12,
		},
		// out of order with highest, same cycle
		{
			name:  "out of order",
			input: 11,
			updated: WrapAroundUpdateResult[uint64]{
				PreExtendedHighest: (1 << 16) + 12,
				ExtendedVal:        (1 << 16) + 11,
			},
			start:           (1 << 16) - 6,
			extendedStart:   (1 << 16) - 6,
			highest:         12,
			extendedHighest: (1 << 16) + 12,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.updated, w.Update(tc.input))
			require.Equal(t, tc.start, w.GetStart())
			require.Equal(t, tc.extendedStart, w.GetExtendedStart())
			require.Equal(t, tc.highest, w.GetHighest())
			require.Equal(t, tc.extendedHighest, w.GetExtendedHighest())
		})
	}
}

func TestWrapAroundUint16Rollover(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()
	testCases := []struct {
		input   uint16
		updated WrapAroundUpdateResult[uint64]
	}{
		{input: (1 << 16) - 2, updated: WrapAroundUpdateResult[uint64]{PreExtendedHighest: (1 << 16) - 3, ExtendedVal: (1 << 16) - 2}},
		{input: (1 << 16) - 1, updated: WrapAroundUpdateResult[uint64]{PreExtendedHighest: (1 << 16) - 2, ExtendedVal: (1 << 16) - 1}},
		{input: 0, updated: WrapAroundUpdateResult[uint64]{PreExtendedHighest: (1 << 16) - 1, ExtendedVal: 1 << 16}},
		{input: 1, updated: WrapAroundUpdateResult[uint64]{PreExtendedHighest: 1 << 16, ExtendedVal: (1 << 16) + 1}},
		// late arrival from the previous cycle
		{input: (1 << 16) - 1, updated: WrapAroundUpdateResult[uint64]{PreExtendedHighest: (1 << 16) + 1, ExtendedVal: (1 << 16) - 1}},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.updated, w.Update(tc.input))
	}
	require.Equal(t, uint16((1<<16)-2), w.GetStart())
	require.Equal(t, uint64((1<<16)+1), w.GetExtendedHighest())
}

func TestWrapAroundUint32(t *testing.T) {
	w := NewWrapAround[uint32, uint64]()
	require.Equal(t, WrapAroundUpdateResult[uint64]{
		PreExtendedHighest: (1 << 32) - 2,
		ExtendedVal:        (1 << 32) - 1,
	}, w.Update((1<<32)-1))

	require.Equal(t, WrapAroundUpdateResult[uint64]{
		PreExtendedHighest: (1 << 32) - 1,
		ExtendedVal:        1 << 32,
	}, w.Update(0))

	// older than start, from before the wrap around
	require.Equal(t, WrapAroundUpdateResult[uint64]{
		IsRestart:          true,
		PreExtendedStart:   (1 << 32) - 1,
		PreExtendedHighest: 1 << 32,
		ExtendedVal:        (1 << 32) - 6,
	}, w.Update((1<<32)-6))
	require.Equal(t, uint32((1<<32)-6), w.GetStart())
	require.Equal(t, uint64(1<<32), w.GetExtendedHighest())
}
