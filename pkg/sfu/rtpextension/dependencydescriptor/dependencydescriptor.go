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

package dependencydescriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	MaxSpatialIds    = 4
	MaxTemporalIds   = 8
	MaxDecodeTargets = 32
	MaxTemplates     = 64

	// largest chain diff a template can carry (4 bits)
	MaxTemplateChainDiff = 15
	// largest frame diff a template can carry (4 bits, minus one encoded)
	MaxTemplateFrameDiff = 16
	// largest chain diff a frame can carry (8 bits)
	MaxChainDiff = 255
	// largest frame diff a frame can carry (12 bits, minus one encoded)
	MaxFrameDiff = 1 << 12

	AllChainsAreActive = ^uint32(0)

	ExtensionURI = "https://aomediacodec.github.io/av1-rtp-spec/#dependency-descriptor-rtp-header-extension"
)

var ErrInvalidDTISymbol = errors.New("invalid decode target indication symbol")

// ------------------------------------------------------------------------------

// Relationship of a frame to a Decode target.
type DecodeTargetIndication int

const (
	DecodeTargetNotPresent  DecodeTargetIndication = iota // DecodeTargetInfo symbol '-'
	DecodeTargetDiscardable                               // DecodeTargetInfo symbol 'D'
	DecodeTargetSwitch                                    // DecodeTargetInfo symbol 'S'
	DecodeTargetRequired                                  // DecodeTargetInfo symbol 'R'
)

func DTIFromSymbol(symbol byte) (DecodeTargetIndication, error) {
	switch symbol {
	case '-':
		return DecodeTargetNotPresent, nil
	case 'D':
		return DecodeTargetDiscardable, nil
	case 'S':
		return DecodeTargetSwitch, nil
	case 'R':
		return DecodeTargetRequired, nil
	default:
		return DecodeTargetNotPresent, errors.Wrapf(ErrInvalidDTISymbol, "symbol %q", symbol)
	}
}

// Symbol returns the textual encoding, '?' for values outside the closed set.
func (i DecodeTargetIndication) Symbol() byte {
	switch i {
	case DecodeTargetNotPresent:
		return '-'
	case DecodeTargetDiscardable:
		return 'D'
	case DecodeTargetSwitch:
		return 'S'
	case DecodeTargetRequired:
		return 'R'
	default:
		return '?'
	}
}

func (i DecodeTargetIndication) String() string {
	if s := i.Symbol(); s != '?' {
		return string(s)
	}
	return "Unknown"
}

// ParseDecodeTargetIndications maps each character of s to a DTI, keeping order and length.
func ParseDecodeTargetIndications(s string) ([]DecodeTargetIndication, error) {
	dtis := make([]DecodeTargetIndication, 0, len(s))
	for idx := 0; idx < len(s); idx++ {
		dti, err := DTIFromSymbol(s[idx])
		if err != nil {
			return nil, errors.Wrapf(err, "position %d of %q", idx, s)
		}
		dtis = append(dtis, dti)
	}
	return dtis, nil
}

// MustParseDecodeTargetIndications is for static template tables only.
func MustParseDecodeTargetIndications(s string) []DecodeTargetIndication {
	dtis, err := ParseDecodeTargetIndications(s)
	if err != nil {
		panic(err)
	}
	return dtis
}

func FormatDecodeTargetIndications(dtis []DecodeTargetIndication) string {
	var sb strings.Builder
	sb.Grow(len(dtis))
	for _, dti := range dtis {
		sb.WriteByte(dti.Symbol())
	}
	return sb.String()
}

// ------------------------------------------------------------------------------

type FrameDependencyTemplate struct {
	SpatialId               int
	TemporalId              int
	DecodeTargetIndications []DecodeTargetIndication
	FrameDiffs              []int
	ChainDiffs              []int
}

func (t *FrameDependencyTemplate) Clone() *FrameDependencyTemplate {
	return &FrameDependencyTemplate{
		SpatialId:               t.SpatialId,
		TemporalId:              t.TemporalId,
		DecodeTargetIndications: append([]DecodeTargetIndication{}, t.DecodeTargetIndications...),
		FrameDiffs:              append([]int{}, t.FrameDiffs...),
		ChainDiffs:              append([]int{}, t.ChainDiffs...),
	}
}

func (t *FrameDependencyTemplate) String() string {
	return fmt.Sprintf("S%dT%d %q fd%v cd%v", t.SpatialId, t.TemporalId, FormatDecodeTargetIndications(t.DecodeTargetIndications), t.FrameDiffs, t.ChainDiffs)
}

// ------------------------------------------------------------------------------

type RenderResolution struct {
	Width  int
	Height int
}

// ------------------------------------------------------------------------------

type DependencyDescriptor struct {
	FirstPacketInFrame         bool
	LastPacketInFrame          bool
	FrameNumber                uint16
	FrameDependencies          *FrameDependencyTemplate
	Resolution                 *RenderResolution
	ActiveDecodeTargetsBitmask *uint32
	AttachedStructure          *FrameDependencyStructure
}

func (d *DependencyDescriptor) String() string {
	resolution, dependencies := "-", "-"
	if d.Resolution != nil {
		resolution = fmt.Sprintf("%dx%d", d.Resolution.Width, d.Resolution.Height)
	}
	if d.FrameDependencies != nil {
		dependencies = d.FrameDependencies.String()
	}
	return fmt.Sprintf("DependencyDescriptor{FirstPacketInFrame: %v, LastPacketInFrame: %v, FrameNumber: %v, FrameDependencies: %s, Resolution: %s, ActiveDecodeTargetsBitmask: %v, AttachedStructure: %v}",
		d.FirstPacketInFrame, d.LastPacketInFrame, d.FrameNumber, dependencies, resolution, formatBitmask(d.ActiveDecodeTargetsBitmask), d.AttachedStructure != nil)
}

func formatBitmask(b *uint32) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatInt(int64(*b), 2)
}
