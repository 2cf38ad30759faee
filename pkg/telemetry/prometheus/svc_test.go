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
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	Init("test-node")
	// second init is a no-op
	Init("test-node")

	before := GetTotals()

	IncrementFrame("L1T3", 0, 0, FrameKindKey)
	IncrementFrame("L1T3", 0, 2, FrameKindDelta)
	IncrementRestart("L1T3")
	IncrementSelectorDecision(DecisionForwarded)
	IncrementSelectorDecision(DecisionDropped)
	IncrementPackets(Outgoing, 3)
	IncrementBytes(Outgoing, 3000)
	IncrementPacketLoss(1)
	IncrementPLI(Incoming)
	IncrementNACK(Outgoing, 4)
	IncrementRetransmit()

	cause := errors.New("unsupported scalability mode")
	IncrementConfigurationError(errors.Wrapf(cause, "%q", "L9T9"))

	after := GetTotals()
	require.Equal(t, before.Frames+2, after.Frames)
	require.Equal(t, before.Keyframes+1, after.Keyframes)
	require.Equal(t, before.Restarts+1, after.Restarts)
	require.Equal(t, before.Forwarded+1, after.Forwarded)
	require.Equal(t, before.Dropped+1, after.Dropped)
	require.Equal(t, before.PacketsOut+3, after.PacketsOut)
	require.Equal(t, before.BytesOut+3000, after.BytesOut)
	require.Equal(t, before.PacketLoss+1, after.PacketLoss)
	require.Equal(t, before.PLIs+1, after.PLIs)
	require.Equal(t, before.NACKs+4, after.NACKs)
	require.Equal(t, before.Retransmitted+1, after.Retransmitted)
	require.Equal(t, before.ConfigErrors+1, after.ConfigErrors)

	require.Equal(t, float64(1), testutil.ToFloat64(promFrameTotal.WithLabelValues("L1T3", "0", "2", string(FrameKindDelta))))
	require.Equal(t, float64(1), testutil.ToFloat64(promConfigErrors.WithLabelValues("unsupported scalability mode")))

	RecordOperation("simulate", nil)
	require.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("simulate", "success", "")))
}
