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

package simulator

import (
	"math/rand"

	"github.com/gammazero/deque"
	"github.com/pion/rtp"
)

// Channel is a lossy network path. Packets are held for reorderWindow packets
// and adjacent packets may swap places while held.
type Channel struct {
	rng           *rand.Rand
	lossRate      float64
	reorderWindow int

	queue deque.Deque[*rtp.Packet]

	lost      int
	reordered int
}

func NewChannel(lossRate float64, reorderWindow int, seed int64) *Channel {
	return &Channel{
		rng:           rand.New(rand.NewSource(seed)),
		lossRate:      lossRate,
		reorderWindow: reorderWindow,
	}
}

func (c *Channel) Send(pkt *rtp.Packet) {
	if c.lossRate > 0 && c.rng.Float64() < c.lossRate {
		c.lost++
		return
	}

	if c.reorderWindow > 0 && c.queue.Len() > 0 && c.rng.Intn(2) == 0 {
		prev := c.queue.PopBack()
		c.queue.PushBack(pkt)
		c.queue.PushBack(prev)
		c.reordered++
		return
	}
	c.queue.PushBack(pkt)
}

// Deliver returns the packets that left the reorder window.
func (c *Channel) Deliver() []*rtp.Packet {
	var packets []*rtp.Packet
	for c.queue.Len() > c.reorderWindow {
		packets = append(packets, c.queue.PopFront())
	}
	return packets
}

func (c *Channel) Flush() []*rtp.Packet {
	packets := make([]*rtp.Packet, 0, c.queue.Len())
	for c.queue.Len() > 0 {
		packets = append(packets, c.queue.PopFront())
	}
	return packets
}

func (c *Channel) Lost() int {
	return c.lost
}

func (c *Channel) Reordered() int {
	return c.reordered
}
