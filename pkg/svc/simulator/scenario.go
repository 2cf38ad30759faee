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
	"fmt"

	"github.com/pkg/errors"

	"github.com/livekit/scalability/pkg/config"
	"github.com/livekit/scalability/pkg/sfu/videolayerselector"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/simulcast"
)

const (
	defaultLayerBitrate = 250_000
	minPayloadSize      = 100
	keyframeSizeFactor  = 4
)

type RateChange struct {
	AtUnit     int
	Allocation *svc.VideoBitrateAllocation
}

// Scenario describes one simulated stream, from encoder to forwarding unit.
type Scenario struct {
	Name  string
	Mode  svc.ScalabilityMode
	Codec *simulcast.VideoCodec

	Units         int
	FrameRate     int
	ExtensionID   uint8
	MTU           int
	LossRate      float64
	ReorderWindow int
	Seed          int64
	PLIInterval   int
	NACK          bool
	NACKHistory   int

	Target videolayerselector.VideoLayer
	Rates  []RateChange
}

func (s *Scenario) String() string {
	return fmt.Sprintf("Scenario{name: %s, units: %d, loss: %.2f, reorder: %d, nack: %t, target: %s}", s.Name, s.Units, s.LossRate, s.ReorderWindow, s.NACK, s.Target)
}

func (s *Scenario) clone() *Scenario {
	c := *s
	c.Rates = append([]RateChange{}, s.Rates...)
	return &c
}

// WithMode returns a copy of the scenario encoding with mode.
func (s *Scenario) WithMode(mode svc.ScalabilityMode) *Scenario {
	c := s.clone()
	c.Name = mode.String()
	c.Mode = mode
	c.Codec = nil
	return c
}

func ScenarioFromConfig(conf *config.Config) (*Scenario, error) {
	scenario := &Scenario{
		Codec:         conf.VideoCodec(),
		Units:         conf.Frames,
		FrameRate:     conf.FrameRate,
		ExtensionID:   conf.RTPExtensionID,
		MTU:           conf.MTU,
		LossRate:      conf.LossRate,
		ReorderWindow: conf.ReorderWindow,
		Seed:          conf.Seed,
		PLIInterval:   conf.PLI.Interval,
		NACK:          conf.NACK.Enabled,
		NACKHistory:   conf.NACK.History,
		Target: videolayerselector.VideoLayer{
			Spatial:  conf.Target.Spatial,
			Temporal: conf.Target.Temporal,
		},
	}

	if scenario.Codec != nil {
		scenario.Name = "simulcast"
	} else {
		mode, err := svc.ScalabilityModeFromString(conf.ScalabilityMode)
		if err != nil {
			return nil, errors.Wrap(err, "scenario")
		}
		scenario.Name = mode.String()
		scenario.Mode = mode
	}

	for _, rate := range conf.Rates {
		scenario.Rates = append(scenario.Rates, RateChange{
			AtUnit:     rate.AtFrame,
			Allocation: rate.Allocation(),
		})
	}
	return scenario, nil
}

// AllModeScenarios runs base against every supported mode.
func AllModeScenarios(base *Scenario) []*Scenario {
	var scenarios []*Scenario
	for _, mode := range svc.AllScalabilityModes() {
		if svc.IsScalabilityModeSupported(mode) {
			scenarios = append(scenarios, base.WithMode(mode))
		}
	}
	return scenarios
}
