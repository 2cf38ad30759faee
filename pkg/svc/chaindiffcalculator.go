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
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

var (
	ErrChainCountMismatch   = errors.New("chain membership length does not match number of chains")
	ErrFrameIDNotIncreasing = errors.New("frame id not increasing")
)

// ChainDiffCalculator tracks the latest frame of every chain.
type ChainDiffCalculator struct {
	logger     logger.Logger
	lastFrames []*int64
	lastID     int64
	started    bool
}

func NewChainDiffCalculator(numChains int, logger logger.Logger) *ChainDiffCalculator {
	return &ChainDiffCalculator{
		logger:     logger,
		lastFrames: make([]*int64, numChains),
	}
}

func (c *ChainDiffCalculator) NumChains() int {
	return len(c.lastFrames)
}

// Reset resizes to len(chains) and forgets the latest frame of every chain
// flagged true. Chains flagged false keep their state when the count is unchanged.
func (c *ChainDiffCalculator) Reset(chains []bool) {
	if len(chains) != len(c.lastFrames) {
		resized := make([]*int64, len(chains))
		copy(resized, c.lastFrames)
		c.lastFrames = resized
	}
	for idx, reset := range chains {
		if reset {
			c.lastFrames[idx] = nil
		}
	}
}

// From returns 0 for chains the frame belongs to and records the frame as their
// latest. Other chains get the distance to their latest frame, MaxChainDiff when
// they never saw one.
func (c *ChainDiffCalculator) From(frameID int64, chains []bool) ([]int, error) {
	if err := c.check(frameID, chains); err != nil {
		return nil, err
	}

	diffs := make([]int, len(chains))
	for idx, member := range chains {
		if member {
			id := frameID
			c.lastFrames[idx] = &id
			continue
		}
		diffs[idx] = c.distance(frameID, c.lastFrames[idx], dd.MaxChainDiff)
	}
	c.lastID = frameID
	c.started = true
	return diffs, nil
}

// Fdiffs is the read only wire view: distance from frameID to the previous
// frame of each chain. A chain with no frame yet reports 0 if the frame starts
// it, MaxChainDiff otherwise.
func (c *ChainDiffCalculator) Fdiffs(frameID int64, chains []bool) ([]int, error) {
	if err := c.check(frameID, chains); err != nil {
		return nil, err
	}

	diffs := make([]int, len(chains))
	for idx, member := range chains {
		unset := 0
		if !member {
			unset = dd.MaxChainDiff
		}
		diffs[idx] = c.distance(frameID, c.lastFrames[idx], unset)
	}
	return diffs, nil
}

func (c *ChainDiffCalculator) check(frameID int64, chains []bool) error {
	if len(chains) != len(c.lastFrames) {
		c.logger.Errorw("chain membership mismatch", ErrChainCountMismatch, "expected", len(c.lastFrames), "got", len(chains))
		return errors.Wrapf(ErrChainCountMismatch, "expected %d, got %d", len(c.lastFrames), len(chains))
	}
	if c.started && frameID <= c.lastID {
		return errors.Wrapf(ErrFrameIDNotIncreasing, "frame %d after %d", frameID, c.lastID)
	}
	return nil
}

func (c *ChainDiffCalculator) distance(frameID int64, last *int64, unset int) int {
	if last == nil {
		return unset
	}
	diff := frameID - *last
	if diff > dd.MaxChainDiff {
		return dd.MaxChainDiff
	}
	return int(diff)
}
