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

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/thoas/go-funk"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/scalability/pkg/config"
	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/simulator"
	"github.com/livekit/scalability/pkg/svc/simulcast"
	"github.com/livekit/scalability/pkg/telemetry/prometheus"
)

func listModes(c *cli.Context) error {
	modes := svc.AllScalabilityModes()
	if c.Bool("supported") {
		modes = funk.Filter(modes, svc.IsScalabilityModeSupported).([]svc.ScalabilityMode)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Mode", "Spatial", "Temporal", "Inter Layer Pred", "Ratio", "Shift", "Supported"})
	for _, mode := range modes {
		table.Append([]string{
			mode.String(),
			strconv.Itoa(mode.NumSpatialLayers()),
			strconv.Itoa(mode.NumTemporalLayers()),
			mode.InterLayerPredMode().String(),
			mode.ResolutionRatio().String(),
			strconv.FormatBool(mode.IsShiftMode()),
			strconv.FormatBool(svc.IsScalabilityModeSupported(mode)),
		})
	}
	table.Render()
	return nil
}

func printStructure(c *cli.Context) (err error) {
	defer func() { prometheus.RecordOperation("structure", err) }()

	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	mode, err := svc.ScalabilityModeFromString(conf.ScalabilityMode)
	if err != nil {
		return err
	}
	controller, err := svc.CreateScalabilityStructure(mode, logger.GetLogger())
	if err != nil {
		return err
	}

	fmt.Println(mode.String())
	renderStructure(controller.DependencyStructure())
	return nil
}

func printSimulcast(c *cli.Context) (err error) {
	defer func() { prometheus.RecordOperation("simulcast", err) }()

	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	codec := conf.VideoCodec()
	if codec == nil {
		return errors.Wrap(config.ErrInvalidConfig, "no simulcast streams configured")
	}
	converter, err := simulcast.NewConverter(codec, logger.GetLogger())
	if err != nil {
		return err
	}

	if mode, ok := converter.ScalabilityMode(); ok {
		fmt.Printf("%s, %d layers\n", mode.String(), converter.NumLayers())
	} else {
		fmt.Printf("no scalability mode matches, %d layers\n", converter.NumLayers())
	}
	renderStructure(converter.DependencyStructure())
	return nil
}

func renderStructure(structure *dd.FrameDependencyStructure) {
	fmt.Printf(
		"decode targets: %d, chains: %d, protected by chain: %v\n",
		structure.NumDecodeTargets,
		structure.NumChains,
		structure.DecodeTargetProtectedByChain,
	)
	for sid, resolution := range structure.Resolutions {
		fmt.Printf("S%d: %dx%d\n", sid, resolution.Width, resolution.Height)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Template", "Layer", "DTIs", "Frame Diffs", "Chain Diffs"})
	for idx, template := range structure.Templates {
		var dtis strings.Builder
		for _, dti := range template.DecodeTargetIndications {
			dtis.WriteString(dti.String())
		}
		table.Append([]string{
			strconv.Itoa(idx),
			fmt.Sprintf("S%dT%d", template.SpatialId, template.TemporalId),
			dtis.String(),
			fmt.Sprint(template.FrameDiffs),
			fmt.Sprint(template.ChainDiffs),
		})
	}
	table.Render()
}

func simulate(c *cli.Context) (err error) {
	defer func() { prometheus.RecordOperation("simulate", err) }()

	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	stopPrometheus := startPrometheus(conf)
	defer stopPrometheus()

	scenario, err := simulator.ScenarioFromConfig(conf)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !c.Bool("all-modes") {
		sim, err := simulator.New(scenario, logger.GetLogger())
		if err != nil {
			return err
		}
		stats, err := sim.Run(ctx)
		if err != nil {
			return err
		}
		renderStats([]*simulator.Stats{stats})
		return nil
	}

	// every mode, plus the configured simulcast streams
	var svcStats []*simulator.Stats
	var simulcastStats *simulator.Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		svcStats, err = simulator.RunAll(ctx, simulator.AllModeScenarios(scenario), c.Int("workers"), logger.GetLogger())
		return err
	})
	if scenario.Codec != nil {
		g.Go(func() error {
			sim, err := simulator.New(scenario, logger.GetLogger().WithValues("scenario", scenario.Name))
			if err != nil {
				return err
			}
			simulcastStats, err = sim.Run(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if simulcastStats != nil {
		svcStats = append(svcStats, simulcastStats)
	}
	renderStats(svcStats)
	return nil
}

func renderStats(results []*simulator.Stats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Scenario",
		"Frames",
		"Keyframes",
		"Packets",
		"Lost",
		"Forwarded",
		"Dropped",
		"Broken Chains",
		"PLIs",
		"NACKs",
		"Retransmitted",
		"Payload",
		"Descriptor",
		"Overhead",
		"Final Layer",
	})
	for _, stats := range results {
		if stats == nil {
			continue
		}
		table.Append([]string{
			stats.Name,
			humanize.Comma(int64(stats.Frames)),
			humanize.Comma(int64(stats.Keyframes)),
			humanize.Comma(int64(stats.Packets)),
			humanize.Comma(int64(stats.PacketsLost)),
			humanize.Comma(int64(stats.Forwarded)),
			humanize.Comma(int64(stats.Dropped)),
			strconv.Itoa(stats.BrokenChains),
			strconv.Itoa(stats.KeyframeRequests),
			strconv.Itoa(stats.NACKs),
			strconv.Itoa(stats.Retransmitted),
			humanize.Bytes(uint64(stats.PayloadBytes)),
			humanize.Bytes(uint64(stats.DescriptorBytes)),
			fmt.Sprintf("%.2f%%", stats.DescriptorOverhead()*100),
			stats.FinalLayer.String(),
		})
	}
	table.Render()

	totals := prometheus.GetTotals()
	fmt.Printf(
		"frames sent: %s, forwarded: %s, dropped: %s\n",
		humanize.Comma(int64(totals.Frames)),
		humanize.Comma(int64(totals.Forwarded)),
		humanize.Comma(int64(totals.Dropped)),
	)
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
