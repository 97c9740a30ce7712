// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package volt describes voltage rails and the sources reporting their
// current voltage.
package volt // import "github.com/go-lpc/nafll/volt"

import (
	"fmt"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/vfe"
)

// Rail describes a voltage rail and the voltage span its LUT rows cover.
type Rail struct {
	Index uint8  `json:"index"`
	Name  string `json:"name"`

	VminUV uint32 `json:"vmin_uv"`
	VmaxUV uint32 `json:"vmax_uv"`
	StepUV uint32 `json:"step_uv"`

	NoiseUnawareVminUV uint32    `json:"noise_unaware_vmin_uv"`
	DVCOMinEquation    vfe.Index `json:"dvco_min_equation"`
}

// Validate checks the calibrated span of the rail.
func (r Rail) Validate() error {
	switch {
	case r.StepUV == 0:
		return fmt.Errorf("volt: rail %q has a zero voltage step: %w", r.Name, nafll.ErrInvalidArgument)
	case r.VmaxUV < r.VminUV:
		return fmt.Errorf(
			"volt: rail %q has vmax=%d < vmin=%d: %w",
			r.Name, r.VmaxUV, r.VminUV, nafll.ErrInvalidArgument,
		)
	}
	return nil
}

// Rows returns the number of LUT rows covering the rail span.
func (r Rail) Rows() int {
	if r.StepUV == 0 || r.VmaxUV < r.VminUV {
		return 0
	}
	return int((r.VmaxUV-r.VminUV)/r.StepUV) + 1
}

// RowVoltage returns the voltage of the i-th LUT row.
func (r Rail) RowVoltage(i int) uint32 {
	return r.VminUV + uint32(i)*r.StepUV
}

// Row returns the LUT row serving the provided voltage.
func (r Rail) Row(uv uint32) (int, error) {
	if uv < r.VminUV || uv > r.VmaxUV || r.StepUV == 0 {
		return 0, fmt.Errorf(
			"volt: voltage %duV outside rail %q span [%d, %d]: %w",
			uv, r.Name, r.VminUV, r.VmaxUV, nafll.ErrOutOfRange,
		)
	}
	return int((uv - r.VminUV) / r.StepUV), nil
}
