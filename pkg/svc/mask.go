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
	"math/bits"
	"strconv"
)

// DecodeTargetMask has bit i set when decode target i is active.
type DecodeTargetMask uint32

func AllDecodeTargets(numDecodeTargets int) DecodeTargetMask {
	if numDecodeTargets >= 32 {
		return DecodeTargetMask(^uint32(0))
	}
	return DecodeTargetMask((uint32(1) << numDecodeTargets) - 1)
}

func (m DecodeTargetMask) IsSet(idx int) bool {
	if idx < 0 || idx >= 32 {
		return false
	}
	return m&(1<<idx) != 0
}

func (m *DecodeTargetMask) Set(idx int) {
	*m |= 1 << idx
}

func (m *DecodeTargetMask) Clear(idx int) {
	*m &^= 1 << idx
}

func (m *DecodeTargetMask) SetTo(idx int, on bool) {
	if on {
		m.Set(idx)
	} else {
		m.Clear(idx)
	}
}

func (m DecodeTargetMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

func (m DecodeTargetMask) None() bool {
	return m == 0
}

func (m DecodeTargetMask) String() string {
	return "0b" + strconv.FormatUint(uint64(m), 2)
}
