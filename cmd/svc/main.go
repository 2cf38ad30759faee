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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils"

	"github.com/livekit/scalability/pkg/config"
	"github.com/livekit/scalability/pkg/telemetry/prometheus"
	"github.com/livekit/scalability/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"SVC_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "mode",
		Usage:   "scalability mode, e.g. L2T2_KEY_SHIFT",
		EnvVars: []string{"SVC_MODE"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "svc",
		Usage:       "scalable video coding structures and dependency descriptors",
		Description: "run without subcommands to simulate the configured stream",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      simulate,
		Commands: []*cli.Command{
			{
				Name:   "modes",
				Usage:  "lists scalability modes",
				Action: listModes,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "supported",
						Usage: "only list modes with a structure implementation",
					},
				},
			},
			{
				Name:   "structure",
				Usage:  "prints the frame dependency structure of a scalability mode",
				Action: printStructure,
			},
			{
				Name:   "simulate",
				Usage:  "encodes, packetizes and forwards a stream through a lossy channel",
				Action: simulate,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all-modes",
						Usage: "run the scenario for every supported scalability mode",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "number of scenarios simulated in parallel",
						Value: 4,
					},
				},
			},
			{
				Name:   "simulcast",
				Usage:  "prints the structure the configured simulcast streams convert to",
				Action: printSimulcast,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(c, baseFlags, strictMode)
	if err != nil {
		prometheus.IncrementConfigurationError(err)
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)
	if conf.Development {
		logger.Infow("starting in development mode")
	}
	return conf, nil
}

// startPrometheus serves metrics when a port is configured. The returned
// function stops the server.
func startPrometheus(conf *config.Config) func() {
	prometheus.Init(utils.NewGuid("SVC_"))
	if conf.Prometheus.Port == 0 {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Prometheus.Port),
		Handler: mux,
	}
	go func() {
		logger.Infow("starting prometheus server", "port", conf.Prometheus.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("prometheus server failed", err)
		}
	}()
	return func() {
		_ = server.Shutdown(context.Background())
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}
