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

package svc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestScalabilityModeNames(t *testing.T) {
	modes := AllScalabilityModes()
	require.Len(t, modes, 34)

	for _, mode := range modes {
		parsed, err := ScalabilityModeFromString(mode.String())
		require.NoError(t, err)
		require.Equal(t, mode, parsed)
	}

	_, err := ScalabilityModeFromString("L4T1")
	require.ErrorIs(t, err, ErrUnknownScalabilityMode)
	require.Equal(t, "ScalabilityMode(99)", ScalabilityMode(99).String())
}

func TestScalabilityModeParams(t *testing.T) {
	require.Equal(t, 2, ScalabilityModeL2T2KeyShift.NumSpatialLayers())
	require.Equal(t, 2, ScalabilityModeL2T2KeyShift.NumTemporalLayers())
	require.Equal(t, InterLayerPredModeOnKeyPic, ScalabilityModeL2T2KeyShift.InterLayerPredMode())
	require.True(t, ScalabilityModeL2T2KeyShift.IsShiftMode())
	require.False(t, ScalabilityModeL2T2Key.IsShiftMode())

	require.Equal(t, ResolutionRatioThreeToTwo, ScalabilityModeL3T1h.ResolutionRatio())
	require.Equal(t, ResolutionRatioNone, ScalabilityModeL1T3.ResolutionRatio())

	require.True(t, ScalabilityModeS3T3.IsSimulcast())
	require.False(t, ScalabilityModeL3T3.IsSimulcast())
	require.False(t, ScalabilityModeL1T3.IsSimulcast())
}

func TestMakeScalabilityMode(t *testing.T) {
	mode, ok := MakeScalabilityMode(2, 2, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, true)
	require.True(t, ok)
	require.Equal(t, ScalabilityModeL2T2KeyShift, mode)

	mode, ok = MakeScalabilityMode(3, 1, InterLayerPredModeOff, ResolutionRatioThreeToTwo, false)
	require.True(t, ok)
	require.Equal(t, ScalabilityModeS3T1h, mode)

	// single spatial layer ignores the rest
	mode, ok = MakeScalabilityMode(1, 3, InterLayerPredModeOn, ResolutionRatioThreeToTwo, true)
	require.True(t, ok)
	require.Equal(t, ScalabilityModeL1T3, mode)

	_, ok = MakeScalabilityMode(3, 3, InterLayerPredModeOnKeyPic, ResolutionRatioTwoToOne, true)
	require.False(t, ok)
}

func TestLimitNumSpatialLayers(t *testing.T) {
	testCases := []struct {
		mode     ScalabilityMode
		max      int
		expected ScalabilityMode
	}{
		{ScalabilityModeL1T3, 1, ScalabilityModeL1T3},
		{ScalabilityModeL2T2KeyShift, 1, ScalabilityModeL1T2},
		{ScalabilityModeL2T2KeyShift, 2, ScalabilityModeL2T2KeyShift},
		{ScalabilityModeL3T3Key, 2, ScalabilityModeL2T3Key},
		{ScalabilityModeL3T1h, 2, ScalabilityModeL2T1h},
		{ScalabilityModeL3T2, 1, ScalabilityModeL1T2},
		{ScalabilityModeS3T2, 2, ScalabilityModeS2T2},
		{ScalabilityModeS3T3h, 1, ScalabilityModeL1T3},
		{ScalabilityModeS2T1, 4, ScalabilityModeS2T1},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, LimitNumSpatialLayers(tc.mode, tc.max), "%s limited to %d", tc.mode, tc.max)
	}
}

func TestScalabilityModeYAML(t *testing.T) {
	var conf struct {
		Mode ScalabilityMode `yaml:"mode"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("mode: L2T2_KEY_SHIFT"), &conf))
	require.Equal(t, ScalabilityModeL2T2KeyShift, conf.Mode)

	out, err := yaml.Marshal(&conf)
	require.NoError(t, err)
	require.Equal(t, "mode: L2T2_KEY_SHIFT\n", string(out))

	require.Error(t, yaml.Unmarshal([]byte("mode: L9T9"), &conf))
}
