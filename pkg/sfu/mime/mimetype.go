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
	"strings"

	"github.com/pion/webrtc/v3"
)

const (
	MimeTypePrefixVideo = "video/"

	mimeTypeH265 = "video/H265"
)

// MimeType is a normalized video codec mime type.
type MimeType string

const (
	MimeTypeUnknown MimeType = "MimeTypeUnknown"
	MimeTypeVP8     MimeType = MimeTypePrefixVideo + "VP8"
	MimeTypeVP9     MimeType = MimeTypePrefixVideo + "VP9"
	MimeTypeAV1     MimeType = MimeTypePrefixVideo + "AV1"
	MimeTypeH264    MimeType = MimeTypePrefixVideo + "H264"
	MimeTypeH265    MimeType = MimeTypePrefixVideo + "H265"
)

func (m MimeType) String() string {
	switch m {
	case MimeTypeVP8:
		return webrtc.MimeTypeVP8
	case MimeTypeVP9:
		return webrtc.MimeTypeVP9
	case MimeTypeAV1:
		return webrtc.MimeTypeAV1
	case MimeTypeH264:
		return webrtc.MimeTypeH264
	case MimeTypeH265:
		return mimeTypeH265
	}

	return string(m)
}

func NormalizeMimeType(mime string) MimeType {
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return MimeTypeVP8
	case strings.EqualFold(mime, webrtc.MimeTypeVP9):
		return MimeTypeVP9
	case strings.EqualFold(mime, webrtc.MimeTypeAV1):
		return MimeTypeAV1
	case strings.EqualFold(mime, webrtc.MimeTypeH264):
		return MimeTypeH264
	case strings.EqualFold(mime, mimeTypeH265):
		return MimeTypeH265
	}

	return MimeTypeUnknown
}

func IsMimeTypeStringEqual(mime1 string, mime2 string) bool {
	return NormalizeMimeType(mime1) == NormalizeMimeType(mime2)
}

func IsMimeTypeStringVideo(mime string) bool {
	return NormalizeMimeType(mime) != MimeTypeUnknown
}

// IsMimeTypeSVC reports codecs that can encode spatial layers in one stream.
// Others need one encoder per resolution, i. e. simulcast.
func IsMimeTypeSVC(mimeType MimeType) bool {
	switch mimeType {
	case MimeTypeAV1, MimeTypeVP9:
		return true
	}
	return false
}

func IsMimeTypeStringSVC(mime string) bool {
	return IsMimeTypeSVC(NormalizeMimeType(mime))
}
