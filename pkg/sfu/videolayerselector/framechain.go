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
	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

// FrameChain tracks whether every frame of one chain has been forwarded since
// the chain last restarted.
type FrameChain struct {
	logger         logger.Logger
	decisions      *SelectorDecisionCache
	broken         bool
	chainIdx       int
	active         bool
	updatingActive bool

	expectFrames []uint64
}

func NewFrameChain(decisions *SelectorDecisionCache, chainIdx int, logger logger.Logger) *FrameChain {
	return &FrameChain{
		logger:    logger.WithValues("chainIdx", chainIdx),
		decisions: decisions,
		broken:    true,
		chainIdx:  chainIdx,
	}
}

func (fc *FrameChain) OnFrame(extFrameNum uint64, fd *dd.FrameDependencyTemplate) bool {
	if !fc.active {
		return false
	}

	if len(fd.ChainDiffs) <= fc.chainIdx {
		fc.logger.Warnw("invalid frame chain diff", nil, "frame", extFrameNum, "fd", fd)
		return !fc.broken
	}

	chainDiff := fd.ChainDiffs[fc.chainIdx]
	// a frame with a zero chain diff restarts the chain
	if chainDiff == 0 {
		if fc.broken {
			fc.broken = false
			fc.logger.Debugw("frame chain intact", "frame", extFrameNum)
		}
		fc.expectFrames = fc.expectFrames[:0]
		return true
	}

	if fc.broken {
		return false
	}

	if uint64(chainDiff) > extFrameNum {
		fc.broken = true
		fc.logger.Debugw("frame chain broken, diff before first frame", "frame", extFrameNum, "chainDiff", chainDiff)
		return false
	}

	prevFrameInChain := extFrameNum - uint64(chainDiff)
	sd, err := fc.decisions.GetDecision(prevFrameInChain)
	if err != nil {
		fc.logger.Debugw("could not get decision", "err", err, "frame", extFrameNum, "prevFrame", prevFrameInChain)
	}

	var intact bool
	switch sd {
	case selectorDecisionForwarded:
		intact = true

	case selectorDecisionMissing, selectorDecisionUnknown:
		// not arrived yet, may still be recovered by retransmission or arrive out of order
		if err == nil && fc.decisions.ExpectDecision(prevFrameInChain, fc.OnExpectFrameChanged) {
			intact = true
			fc.expectFrames = append(fc.expectFrames, prevFrameInChain)
		}
	}

	if !intact {
		fc.broken = true
		fc.logger.Debugw("frame chain broken", "sd", sd, "frame", extFrameNum, "prevFrame", prevFrameInChain)
	}
	return intact
}

func (fc *FrameChain) OnExpectFrameChanged(frameNum uint64, decision selectorDecision) {
	if fc.broken {
		return
	}

	for i, f := range fc.expectFrames {
		if f == frameNum {
			if decision != selectorDecisionForwarded {
				fc.broken = true
				fc.logger.Debugw("frame chain broken", "sd", decision, "frame", frameNum)
			}
			fc.expectFrames[i] = fc.expectFrames[len(fc.expectFrames)-1]
			fc.expectFrames = fc.expectFrames[:len(fc.expectFrames)-1]
			break
		}
	}
}

func (fc *FrameChain) Broken() bool {
	return fc.broken
}

func (fc *FrameChain) Active() bool {
	return fc.active
}

func (fc *FrameChain) BeginUpdateActive() {
	fc.updatingActive = false
}

func (fc *FrameChain) UpdateActive(active bool) {
	fc.updatingActive = fc.updatingActive || active
}

func (fc *FrameChain) EndUpdateActive() {
	active := fc.updatingActive
	fc.updatingActive = false

	if active == fc.active {
		return
	}

	// an activated chain waits for its next restart
	if !fc.active {
		fc.broken = true
		fc.logger.Debugw("frame chain broken by inactive")
	}

	fc.active = active
}
