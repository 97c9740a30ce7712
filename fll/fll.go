// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fll drives NAFLL adaptive frequency generators: regime
// classification, hazard-ordered regime programming and LUT double
// buffering.
package fll // import "github.com/go-lpc/nafll/fll"

import (
	"fmt"
	"strings"
)

// Version is the hardware revision of a NAFLL.
type Version uint8

const (
	V10 Version = iota + 1 // NDIV and VF gain
	V20                    // adds PLDIV and secondary NDIV offsets
	V30                    // adds CPM and DVCO offset codes
)

func (v Version) String() string {
	switch v {
	case V10:
		return "v10"
	case V20:
		return "v20"
	case V30:
		return "v30"
	}
	return fmt.Sprintf("Version(%d)", uint8(v))
}

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Version) UnmarshalText(p []byte) error {
	switch strings.ToLower(string(p)) {
	case "v10":
		*v = V10
	case "v20":
		*v = V20
	case "v30":
		*v = V30
	default:
		return fmt.Errorf("fll: invalid version %q", p)
	}
	return nil
}

func (v Version) valid() bool { return V10 <= v && v <= V30 }

// HasPLDiv reports whether the NAFLL has a post divider.
func (v Version) HasPLDiv() bool { return v >= V20 }

// HasCPM reports whether the NAFLL supports CPM headroom offsets.
func (v Version) HasCPM() bool { return v >= V30 }

// Regime is the operating mode of a NAFLL.
type Regime uint8

const (
	Invalid         Regime = iota
	FFR                    // fixed frequency
	FFRBelowDVCOMin        // fixed frequency below DVCO min, through PLDIV
	FR                     // frequency regulation
	VR                     // voltage regulation
	VRWithCPM              // voltage regulation with CPM headroom
)

var regimeNames = [...]string{
	Invalid:         "invalid",
	FFR:             "ffr",
	FFRBelowDVCOMin: "ffr-below-dvco-min",
	FR:              "fr",
	VR:              "vr",
	VRWithCPM:       "vr-with-cpm",
}

func (r Regime) String() string {
	if int(r) < len(regimeNames) {
		return regimeNames[r]
	}
	return fmt.Sprintf("Regime(%d)", uint8(r))
}

// ParseRegime parses the name of a regime.
func ParseRegime(s string) (Regime, error) {
	for i, name := range regimeNames {
		if i != int(Invalid) && strings.EqualFold(name, s) {
			return Regime(i), nil
		}
	}
	return Invalid, fmt.Errorf("fll: invalid regime %q", s)
}

// fixed reports whether the regime runs open-loop at a fixed frequency.
func (r Regime) fixed() bool { return r == FFR || r == FFRBelowDVCOMin }

// Override is a client request forcing the regime of a NAFLL.
type Override uint8

const (
	OverrideNone Override = iota
	OverrideFFR
	OverrideFFRBelowDVCOMin
	OverrideFR
	OverrideVR
	OverrideVRWithCPM

	// OverrideVRAboveNoiseUnawareVmin selects VR, but only while the rail
	// voltage is above the noise-unaware Vmin.
	OverrideVRAboveNoiseUnawareVmin
)

var overrideNames = [...]string{
	OverrideNone:                    "none",
	OverrideFFR:                     "ffr",
	OverrideFFRBelowDVCOMin:         "ffr-below-dvco-min",
	OverrideFR:                      "fr",
	OverrideVR:                      "vr",
	OverrideVRWithCPM:               "vr-with-cpm",
	OverrideVRAboveNoiseUnawareVmin: "vr-above-nu-vmin",
}

func (o Override) String() string {
	if int(o) < len(overrideNames) {
		return overrideNames[o]
	}
	return fmt.Sprintf("Override(%d)", uint8(o))
}

// ParseOverride parses the name of a regime override.
func ParseOverride(s string) (Override, error) {
	for i, name := range overrideNames {
		if strings.EqualFold(name, s) {
			return Override(i), nil
		}
	}
	return OverrideNone, fmt.Errorf("fll: invalid regime override %q", s)
}

func (o Override) regime() Regime {
	switch o {
	case OverrideFFR:
		return FFR
	case OverrideFFRBelowDVCOMin:
		return FFRBelowDVCOMin
	case OverrideFR:
		return FR
	case OverrideVR, OverrideVRAboveNoiseUnawareVmin:
		return VR
	case OverrideVRWithCPM:
		return VRWithCPM
	}
	return Invalid
}

// Status is the dynamic state of a NAFLL.
//
// Current fields are only updated once a whole program sequence
// succeeded.
type Status struct {
	CurrentRegime Regime
	TargetRegime  Regime
	CurrentMHz    uint32
	TargetMHz     uint32
	PLDiv         uint8
	TargetPLDiv   uint8

	DVCOMinMHz     uint32
	DVCOMinReached bool
}

// OverrideMode is the frequency source selected by SW_FREQ_REQ.
type OverrideMode uint8

const (
	ModeHW  OverrideMode = iota // LUT
	ModeSW                      // software NDIV
	ModeMin                     // min of LUT and software NDIV
)

func (m OverrideMode) String() string {
	switch m {
	case ModeHW:
		return "hw"
	case ModeSW:
		return "sw"
	case ModeMin:
		return "min"
	}
	return fmt.Sprintf("OverrideMode(%d)", uint8(m))
}

// SWOverride is the last value written to the software frequency request.
type SWOverride struct {
	Mode       OverrideMode
	NDiv       uint16
	VFGain     uint8
	NDivOffset uint8
	DVCOOffset uint8
}

// LUT is the state of the LUT a NAFLL reads.
type LUT struct {
	CurrentTempIndex uint8
	PrevTempIndex    uint8
	Initialized      bool
	Override         SWOverride
}
