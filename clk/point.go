// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clk

import (
	"fmt"
	"strings"
)

// Tuple is the frequency tuple of a VF point, one frequency per clock
// domain position.
type Tuple struct {
	Freqs [MaxPositions]uint16 `json:"freqs"`

	// Secondary curves only.
	CPMMaxFreqOffsetMHz uint16 `json:"cpm_max_freq_offset_mhz,omitempty"`
	DVCOOffsetCode      uint8  `json:"dvco_offset_code,omitempty"`
}

// DeltaKind is the unit of a frequency delta.
type DeltaKind uint8

const (
	DeltaStatic  DeltaKind = iota // kHz
	DeltaPercent                  // 1/100 of a percent
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaStatic:
		return "static"
	case DeltaPercent:
		return "percent"
	}
	return fmt.Sprintf("DeltaKind(%d)", uint8(k))
}

func (k DeltaKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *DeltaKind) UnmarshalText(p []byte) error {
	switch strings.ToLower(string(p)) {
	case "static":
		*k = DeltaStatic
	case "percent":
		*k = DeltaPercent
	default:
		return fmt.Errorf("clk: invalid delta kind %q", p)
	}
	return nil
}

// FreqDelta is an over/under-clocking frequency offset.
type FreqDelta struct {
	Kind  DeltaKind `json:"kind"`
	Value int32     `json:"value"`
}

// IsZero reports whether the delta leaves frequencies unchanged.
func (d FreqDelta) IsZero() bool { return d.Value == 0 }

// Apply returns mhz with the delta applied, saturated at 0.
func (d FreqDelta) Apply(mhz uint32) uint32 {
	var khz int64
	switch d.Kind {
	case DeltaPercent:
		khz = int64(mhz)*1000 + int64(mhz)*int64(d.Value)*1000/10000
	default:
		khz = int64(mhz)*1000 + int64(d.Value)
	}
	if khz <= 0 {
		return 0
	}
	return uint32(khz / 1000)
}

// PointKind is the kind of the points of a curve.
type PointKind uint8

const (
	VoltPrimary   PointKind = iota
	VoltSecondary           // carries CPM headroom and DVCO offset codes
)

func (k PointKind) String() string {
	switch k {
	case VoltPrimary:
		return "primary"
	case VoltSecondary:
		return "secondary"
	}
	return fmt.Sprintf("PointKind(%d)", uint8(k))
}

func (k PointKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PointKind) UnmarshalText(p []byte) error {
	switch strings.ToLower(string(p)) {
	case "primary":
		*k = VoltPrimary
	case "secondary":
		*k = VoltSecondary
	default:
		return fmt.Errorf("clk: invalid point kind %q", p)
	}
	return nil
}

// Point is one voltage-indexed point of a VF curve.
type Point struct {
	SourceUV uint32    `json:"source_uv"`
	Base     Tuple     `json:"base"`
	Offset   Tuple     `json:"offset"`
	Delta    FreqDelta `json:"delta"`

	// Cached reports whether Base holds an evaluated frequency.
	Cached bool `json:"cached"`
}

// MHz returns the offset frequency of the primary domain.
func (pt *Point) MHz() uint32 { return uint32(pt.Offset.Freqs[0]) }
