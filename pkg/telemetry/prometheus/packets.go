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

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

var (
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	packetLoss atomic.Uint64
	pliTotal   atomic.Uint64
	nackTotal  atomic.Uint64
	rtxTotal   atomic.Uint64

	promPacketLabels = []string{"direction"}

	promPacketTotal *prometheus.CounterVec
	promPacketBytes *prometheus.CounterVec
	promPacketLoss  prometheus.Counter
	promPliTotal    *prometheus.CounterVec
	promNackTotal   *prometheus.CounterVec
	promRtxTotal    prometheus.Counter
)

func initPacketStats(nodeID string) {
	promPacketTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "packet",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promPacketBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "packet",
		Name:        "bytes",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promPacketLoss = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "packet",
		Name:        "loss",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Packets dropped by the simulated channel.",
	})
	promPliTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "pli",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)

	promNackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "nack",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promRtxTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "packet",
		Name:        "retransmitted",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Packets resent from the send history.",
	})

	prometheus.MustRegister(promPacketTotal)
	prometheus.MustRegister(promPacketBytes)
	prometheus.MustRegister(promPacketLoss)
	prometheus.MustRegister(promPliTotal)
	prometheus.MustRegister(promNackTotal)
	prometheus.MustRegister(promRtxTotal)
}

func IncrementPackets(direction Direction, count uint64) {
	if direction == Incoming {
		packetsIn.Add(count)
	} else {
		packetsOut.Add(count)
	}
	if initialized.Load() {
		promPacketTotal.WithLabelValues(string(direction)).Add(float64(count))
	}
}

func IncrementBytes(direction Direction, count uint64) {
	if direction == Incoming {
		bytesIn.Add(count)
	} else {
		bytesOut.Add(count)
	}
	if initialized.Load() {
		promPacketBytes.WithLabelValues(string(direction)).Add(float64(count))
	}
}

func IncrementPacketLoss(count uint64) {
	packetLoss.Add(count)
	if initialized.Load() {
		promPacketLoss.Add(float64(count))
	}
}

func IncrementPLI(direction Direction) {
	pliTotal.Inc()
	if initialized.Load() {
		promPliTotal.WithLabelValues(string(direction)).Inc()
	}
}

// IncrementNACK counts sequence numbers reported lost.
func IncrementNACK(direction Direction, count uint64) {
	nackTotal.Add(count)
	if initialized.Load() {
		promNackTotal.WithLabelValues(string(direction)).Add(float64(count))
	}
}

func IncrementRetransmit() {
	rtxTotal.Inc()
	if initialized.Load() {
		promRtxTotal.Inc()
	}
}
