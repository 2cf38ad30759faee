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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/scalability/pkg/config"
)

func TestGeneratedFlagsDoNotShadowBaseFlags(t *testing.T) {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags)
	require.NoError(t, err)
	require.NotEmpty(t, generatedFlags)

	names := make(map[string]bool)
	for _, flag := range append(baseFlags, generatedFlags...) {
		for _, name := range flag.Names() {
			require.False(t, names[name], "duplicate flag %s", name)
			names[name] = true
		}
	}
	require.True(t, names["frames"])
	require.True(t, names["mode"])
	require.True(t, names["logging.level"])
}
