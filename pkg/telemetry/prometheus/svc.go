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
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

type FrameKind string

const (
	FrameKindKey   FrameKind = "key"
	FrameKindDelta FrameKind = "delta"
)

type Decision string

const (
	DecisionForwarded Decision = "forwarded"
	DecisionDropped   Decision = "dropped"
)

var (
	framesTotal        atomic.Uint64
	keyframesTotal     atomic.Uint64
	restartsTotal      atomic.Uint64
	configErrors       atomic.Uint64
	protocolViolations atomic.Uint64
	forwardedTotal     atomic.Uint64
	droppedTotal       atomic.Uint64
	brokenChainsTotal  atomic.Uint64

	promFrameTotal         *prometheus.CounterVec
	promRestartTotal       *prometheus.CounterVec
	promConfigErrors       *prometheus.CounterVec
	promProtocolViolations prometheus.Counter
	promSelectorDecisions  *prometheus.CounterVec
	promBrokenChains       prometheus.Counter
	promDescriptorBytes    prometheus.Histogram
)

func initSVCStats(nodeID string) {
	promFrameTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "frames",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"mode", "spatial", "temporal", "kind"})
	promRestartTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "restarts",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"mode"})
	promConfigErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "configuration_errors",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"error_type"})
	promProtocolViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "protocol_violations",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Frames delivered by the encoder that were not asked for.",
	})
	promSelectorDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "selector_decisions",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"decision"})
	promBrokenChains = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "broken_chains",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promDescriptorBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "svc",
		Name:        "descriptor_bytes",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Buckets:     []float64{3, 4, 5, 6, 8, 12, 16, 32, 64, 128, 256},
	})

	prometheus.MustRegister(promFrameTotal)
	prometheus.MustRegister(promRestartTotal)
	prometheus.MustRegister(promConfigErrors)
	prometheus.MustRegister(promProtocolViolations)
	prometheus.MustRegister(promSelectorDecisions)
	prometheus.MustRegister(promBrokenChains)
	prometheus.MustRegister(promDescriptorBytes)
}

func IncrementFrame(mode string, spatialID, temporalID int, kind FrameKind) {
	framesTotal.Inc()
	if kind == FrameKindKey {
		keyframesTotal.Inc()
	}
	if initialized.Load() {
		promFrameTotal.WithLabelValues(mode, strconv.Itoa(spatialID), strconv.Itoa(temporalID), string(kind)).Inc()
	}
}

func IncrementRestart(mode string) {
	restartsTotal.Inc()
	if initialized.Load() {
		promRestartTotal.WithLabelValues(mode).Inc()
	}
}

func IncrementConfigurationError(err error) {
	configErrors.Inc()
	if initialized.Load() {
		promConfigErrors.WithLabelValues(errorType(err)).Inc()
	}
}

func IncrementProtocolViolation() {
	protocolViolations.Inc()
	if initialized.Load() {
		promProtocolViolations.Inc()
	}
}

func IncrementSelectorDecision(decision Decision) {
	if decision == DecisionForwarded {
		forwardedTotal.Inc()
	} else {
		droppedTotal.Inc()
	}
	if initialized.Load() {
		promSelectorDecisions.WithLabelValues(string(decision)).Inc()
	}
}

func IncrementBrokenChain() {
	brokenChainsTotal.Inc()
	if initialized.Load() {
		promBrokenChains.Inc()
	}
}

func ObserveDescriptorBytes(size int) {
	if initialized.Load() {
		promDescriptorBytes.Observe(float64(size))
	}
}

// Totals are process wide counts since start, independent of registration.
type Totals struct {
	Frames             uint64
	Keyframes          uint64
	Restarts           uint64
	ConfigErrors       uint64
	ProtocolViolations uint64
	Forwarded          uint64
	Dropped            uint64
	BrokenChains       uint64
	PacketsOut         uint64
	PacketsIn          uint64
	PacketLoss         uint64
	BytesOut           uint64
	PLIs               uint64
	NACKs              uint64
	Retransmitted      uint64
}

func GetTotals() Totals {
	return Totals{
		Frames:             framesTotal.Load(),
		Keyframes:          keyframesTotal.Load(),
		Restarts:           restartsTotal.Load(),
		ConfigErrors:       configErrors.Load(),
		ProtocolViolations: protocolViolations.Load(),
		Forwarded:          forwardedTotal.Load(),
		Dropped:            droppedTotal.Load(),
		BrokenChains:       brokenChainsTotal.Load(),
		PacketsOut:         packetsOut.Load(),
		PacketsIn:          packetsIn.Load(),
		PacketLoss:         packetLoss.Load(),
		BytesOut:           bytesOut.Load(),
		PLIs:               pliTotal.Load(),
		NACKs:              nackTotal.Load(),
		Retransmitted:      rtxTotal.Load(),
	}
}

func errorType(err error) string {
	cause := errors.Cause(err)
	if cause == nil {
		return ""
	}
	return cause.Error()
}
