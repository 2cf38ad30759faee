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
	"context"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/livekit/protocol/logger"
)

// RunAll runs scenarios on a pool of workers. Stats are returned in scenario
// order, nil for scenarios that failed.
func RunAll(ctx context.Context, scenarios []*Scenario, workers int, logger logger.Logger) ([]*Stats, error) {
	pool := workerpool.New(max(workers, 1))

	results := make([]*Stats, len(scenarios))
	errs := make([]error, len(scenarios))
	for idx, scenario := range scenarios {
		idx, scenario := idx, scenario
		pool.Submit(func() {
			sim, err := New(scenario, logger.WithValues("scenario", scenario.Name))
			if err != nil {
				errs[idx] = errors.Wrapf(err, "scenario %s", scenario.Name)
				return
			}
			if results[idx], err = sim.Run(ctx); err != nil {
				errs[idx] = errors.Wrapf(err, "scenario %s", scenario.Name)
			}
		})
	}
	pool.StopWait()

	return results, multierr.Combine(errs...)
}
