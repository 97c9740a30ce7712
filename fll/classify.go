// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fll

// Inputs holds what the regime of a NAFLL depends on.
type Inputs struct {
	TargetMHz     uint32
	DVCOMinMHz    uint32
	FixedLimitMHz uint32
	FMaxMHz       uint32 // curve frequency at the target voltage
	VoltDeltaUV   int32  // closed-loop voltage contribution

	// SkipPLDiv selects FFR instead of FFRBelowDVCOMin.
	SkipPLDiv bool

	Override           Override
	VoltageUV          uint32
	NoiseUnawareVminUV uint32
}

// Classify returns the regime a NAFLL should run in.
// Invalid is only returned when the target or the DVCO min is zero.
func Classify(in Inputs) Regime {
	if in.TargetMHz == 0 || in.DVCOMinMHz == 0 {
		return Invalid
	}

	switch in.Override {
	case OverrideNone:
	case OverrideVRAboveNoiseUnawareVmin:
		if in.VoltageUV > in.NoiseUnawareVminUV {
			return VR
		}
	default:
		if r := in.Override.regime(); r != Invalid {
			return r
		}
	}

	switch {
	case in.TargetMHz < in.DVCOMinMHz:
		if in.SkipPLDiv {
			return FFR
		}
		return FFRBelowDVCOMin
	case in.TargetMHz < in.FixedLimitMHz:
		return FFR
	case in.TargetMHz < in.FMaxMHz:
		if in.VoltDeltaUV > 0 {
			return VR
		}
		return FR
	default:
		return VRWithCPM
	}
}
