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

const (
	livekitNamespace string = "livekit"
)

var (
	initialized atomic.Bool

	ServiceOperationCounter *prometheus.CounterVec
)

func Init(nodeID string) {
	if initialized.Swap(true) {
		return
	}

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   livekitNamespace,
			Subsystem:   "node",
			Name:        "service_operation",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(ServiceOperationCounter)

	initPacketStats(nodeID)
	initSVCStats(nodeID)
}

// RecordOperation counts one run of a CLI operation.
func RecordOperation(operation string, err error) {
	if !initialized.Load() {
		return
	}
	if err != nil {
		ServiceOperationCounter.WithLabelValues(operation, "error", errorType(err)).Add(1)
		return
	}
	ServiceOperationCounter.WithLabelValues(operation, "success", "").Add(1)
}
