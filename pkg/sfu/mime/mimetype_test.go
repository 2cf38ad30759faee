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

package mime

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMimeType(t *testing.T) {
	require.Equal(t, MimeTypeVP8, NormalizeMimeType("video/vp8"))
	require.Equal(t, MimeTypeAV1, NormalizeMimeType(webrtc.MimeTypeAV1))
	require.Equal(t, MimeTypeH265, NormalizeMimeType("VIDEO/H265"))
	require.Equal(t, MimeTypeUnknown, NormalizeMimeType(webrtc.MimeTypeOpus))
	require.Equal(t, webrtc.MimeTypeVP9, MimeTypeVP9.String())

	require.True(t, IsMimeTypeStringEqual("video/h264", webrtc.MimeTypeH264))
	require.False(t, IsMimeTypeStringEqual(webrtc.MimeTypeVP8, webrtc.MimeTypeVP9))
	require.True(t, IsMimeTypeStringVideo(webrtc.MimeTypeVP8))
	require.False(t, IsMimeTypeStringVideo(""))

	require.True(t, IsMimeTypeStringSVC("video/av1"))
	require.True(t, IsMimeTypeStringSVC(webrtc.MimeTypeVP9))
	require.False(t, IsMimeTypeStringSVC(webrtc.MimeTypeVP8))
	require.False(t, IsMimeTypeStringSVC(webrtc.MimeTypeH264))
}
