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

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/scalability/pkg/sfu/mime"
	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
	"github.com/livekit/scalability/pkg/svc"
	"github.com/livekit/scalability/pkg/svc/simulcast"
)

const (
	generatedCLIFlagUsage = "generated"
	envPrefix             = "SVC"

	DefaultExtensionID = 5
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	ScalabilityMode string           `yaml:"scalability_mode,omitempty"`
	Frames          int              `yaml:"frames,omitempty"`
	FrameRate       int              `yaml:"frame_rate,omitempty"`
	RTPExtensionID  uint8            `yaml:"rtp_extension_id,omitempty"`
	MTU             int              `yaml:"mtu,omitempty"`
	LossRate        float64          `yaml:"loss_rate,omitempty"`
	ReorderWindow   int              `yaml:"reorder_window,omitempty"`
	Seed            int64            `yaml:"seed,omitempty"`
	Target          LayerConfig      `yaml:"target,omitempty"`
	Rates           []RateConfig     `yaml:"rates,omitempty"`
	Simulcast       SimulcastConfig  `yaml:"simulcast,omitempty"`
	PLI             PLIConfig        `yaml:"pli,omitempty"`
	NACK            NACKConfig       `yaml:"nack,omitempty"`
	Logging         LoggingConfig    `yaml:"logging,omitempty" config:"allowempty"`
	Prometheus      PrometheusConfig `yaml:"prometheus,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type LayerConfig struct {
	Spatial  int32 `yaml:"spatial,omitempty"`
	Temporal int32 `yaml:"temporal,omitempty"`
}

// RateConfig sets the allocation in bps per [spatial][temporal] layer from
// temporal unit AtFrame on.
type RateConfig struct {
	AtFrame int        `yaml:"at_frame,omitempty"`
	Layers  [][]uint32 `yaml:"layers,omitempty"`
}

type SimulcastConfig struct {
	MimeType string                      `yaml:"mime_type,omitempty"`
	Streams  []simulcast.SimulcastStream `yaml:"streams,omitempty"`
}

type PLIConfig struct {
	// minimum temporal units between keyframe requests
	Interval int `yaml:"interval,omitempty"`
}

type NACKConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// packets the sender keeps for retransmission
	History int `yaml:"history,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

type PrometheusConfig struct {
	Port uint32 `yaml:"port,omitempty"`
}

var DefaultConfig = Config{
	ScalabilityMode: svc.ScalabilityModeL2T2KeyShift.String(),
	Frames:          300,
	FrameRate:       30,
	RTPExtensionID:  DefaultExtensionID,
	MTU:             1200,
	Seed:            1,
	Target: LayerConfig{
		Spatial:  dependencyMaxLayer,
		Temporal: dependencyMaxLayer,
	},
	Simulcast: SimulcastConfig{
		MimeType: webrtc.MimeTypeVP8,
	},
	PLI: PLIConfig{
		Interval: 10,
	},
	NACK: NACKConfig{
		History: 500,
	},
	Logging: LoggingConfig{
		Config: logger.Config{
			Level: "info",
		},
	},
}

// highest layer any structure can have, forwards everything by default
const dependencyMaxLayer = 7

func NewConfig(c *cli.Context, baseFlags []cli.Flag, strictMode bool) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	var confString string
	if c != nil {
		if confString, err = getConfigString(c.String("config"), c.String("config-body")); err != nil {
			return nil, err
		}
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	path, err := homedir.Expand(os.ExpandEnv(configFile))
	if err != nil {
		return "", err
	}
	outConfigBody, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(outConfigBody), nil
}

func (conf *Config) Validate() error {
	if len(conf.Simulcast.Streams) == 0 {
		mode, err := svc.ScalabilityModeFromString(conf.ScalabilityMode)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "scalability_mode %q: %v", conf.ScalabilityMode, err)
		}
		if !svc.IsScalabilityModeSupported(mode) {
			return errors.Wrapf(ErrInvalidConfig, "scalability_mode %s not supported", mode)
		}
	} else if !mime.IsMimeTypeStringVideo(conf.Simulcast.MimeType) {
		return errors.Wrapf(ErrInvalidConfig, "simulcast mime_type %q", conf.Simulcast.MimeType)
	}

	switch {
	case conf.Frames <= 0:
		return errors.Wrapf(ErrInvalidConfig, "frames %d", conf.Frames)
	case conf.FrameRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "frame_rate %d", conf.FrameRate)
	case conf.RTPExtensionID == 0:
		return errors.Wrap(ErrInvalidConfig, "rtp_extension_id must not be 0")
	case conf.MTU <= 0:
		return errors.Wrapf(ErrInvalidConfig, "mtu %d", conf.MTU)
	case conf.LossRate < 0 || conf.LossRate >= 1:
		return errors.Wrapf(ErrInvalidConfig, "loss_rate %f", conf.LossRate)
	case conf.ReorderWindow < 0:
		return errors.Wrapf(ErrInvalidConfig, "reorder_window %d", conf.ReorderWindow)
	case conf.NACK.Enabled && conf.NACK.History <= 0:
		return errors.Wrapf(ErrInvalidConfig, "nack history %d", conf.NACK.History)
	}

	for idx, rate := range conf.Rates {
		if idx > 0 && rate.AtFrame < conf.Rates[idx-1].AtFrame {
			return errors.Wrapf(ErrInvalidConfig, "rates not ordered by at_frame at %d", idx)
		}
		if len(rate.Layers) > dd.MaxSpatialIds {
			return errors.Wrapf(ErrInvalidConfig, "rates[%d] has %d spatial layers", idx, len(rate.Layers))
		}
	}
	return nil
}

// Allocation returns the bitrate allocation of rates as a svc allocation.
func (r RateConfig) Allocation() *svc.VideoBitrateAllocation {
	allocation := svc.NewVideoBitrateAllocation()
	for sid, layers := range r.Layers {
		for tid, bps := range layers {
			allocation.SetBitrate(sid, tid, bps)
		}
	}
	return allocation
}

func (conf *Config) VideoCodec() *simulcast.VideoCodec {
	if len(conf.Simulcast.Streams) == 0 {
		return nil
	}
	return &simulcast.VideoCodec{
		MimeType: conf.Simulcast.MimeType,
		Streams:  append([]simulcast.SimulcastStream{}, conf.Simulcast.Streams...),
	}
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := len(yamlTagArray) > 1 && yamlTagArray[1] == "inline"
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		envVars := []string{fmt.Sprintf("%s_%s", envPrefix, strings.ToUpper(strings.ReplaceAll(name, ".", "_")))}

		var flag cli.Flag
		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.String:
			flag = &cli.StringFlag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.Int64:
			flag = &cli.Int64Flag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{Name: name, EnvVars: envVars, Usage: generatedCLIFlagUsage}
		case reflect.Slice, reflect.Map, reflect.Struct, reflect.Interface:
			// set through yaml only
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("mode") {
		conf.ScalabilityMode = c.String("mode")
	}
	return nil
}

// Note: only pass in logr.Logger with default depth
func SetLogger(l logger.Logger) {
	logger.SetLogger(l, "svc")
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(config.Config, "svc")
}
