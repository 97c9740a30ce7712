// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dvco estimates the minimum frequency at which the DVCO of a NAFLL
// stays stable, as a function of its rail voltage.
package dvco // import "github.com/go-lpc/nafll/dvco"

import (
	"fmt"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/vfe"
)

// DefaultMinMHz is the DVCO minimum used when no equation is configured.
const DefaultMinMHz = 1

type entry struct {
	eq    vfe.Index
	uv    uint32
	mhz   uint32
	valid bool
}

// Estimator tracks the DVCO minimum of every rail.
//
// Estimator is not safe for concurrent use: the owner serializes accesses.
type Estimator struct {
	eval  vfe.Evaluator
	rails map[uint8]*entry
}

// New creates an estimator evaluating DVCO-min equations with eval.
func New(eval vfe.Evaluator) *Estimator {
	return &Estimator{
		eval:  eval,
		rails: make(map[uint8]*entry),
	}
}

// Register declares that a NAFLL reads the LUT of rail with the provided
// DVCO-min equation. All NAFLLs of a rail must share the same equation.
func (est *Estimator) Register(rail uint8, eq vfe.Index) error {
	e, ok := est.rails[rail]
	if !ok {
		est.rails[rail] = &entry{eq: eq}
		return nil
	}
	if e.eq != eq {
		return fmt.Errorf(
			"dvco: rail %d DVCO-min equation mismatch (got=%d, want=%d): %w",
			rail, eq, e.eq, nafll.ErrInvalidState,
		)
	}
	return nil
}

// Equation returns the DVCO-min equation of a rail.
func (est *Estimator) Equation(rail uint8) (vfe.Index, error) {
	e, err := est.entry(rail)
	if err != nil {
		return vfe.InvalidIndex, err
	}
	return e.eq, nil
}

// Update evaluates the DVCO minimum of a rail at its new voltage.
// The equation is only evaluated when the voltage differs from the last
// update; changed reports whether the minimum was recomputed.
func (est *Estimator) Update(rail uint8, uv uint32) (mhz uint32, changed bool, err error) {
	e, err := est.entry(rail)
	if err != nil {
		return 0, false, err
	}
	if e.valid && e.uv == uv {
		return e.mhz, false, nil
	}

	mhz, err = est.at(rail, e.eq, uv)
	if err != nil {
		return 0, false, err
	}
	e.uv = uv
	e.mhz = mhz
	e.valid = true
	return mhz, true, nil
}

// Min returns the DVCO minimum of a rail at its last updated voltage.
func (est *Estimator) Min(rail uint8) (uint32, error) {
	e, err := est.entry(rail)
	if err != nil {
		return 0, err
	}
	if !e.valid {
		return 0, fmt.Errorf("dvco: rail %d voltage never updated: %w", rail, nafll.ErrInvalidState)
	}
	return e.mhz, nil
}

// At evaluates the DVCO minimum of a rail at the provided voltage, without
// updating the rail state.
func (est *Estimator) At(rail uint8, uv uint32) (uint32, error) {
	e, err := est.entry(rail)
	if err != nil {
		return 0, err
	}
	return est.at(rail, e.eq, uv)
}

func (est *Estimator) at(rail uint8, eq vfe.Index, uv uint32) (uint32, error) {
	if !eq.Valid() || est.eval == nil {
		return DefaultMinMHz, nil
	}
	res, err := est.eval.Evaluate(eq, []vfe.VarValue{vfe.Voltage(uv)}, vfe.OutputFreqMHz)
	if err != nil {
		return 0, fmt.Errorf("dvco: could not evaluate rail %d DVCO-min at %duV: %w", rail, uv, err)
	}
	if res.Value == 0 {
		return DefaultMinMHz, nil
	}
	return res.Value, nil
}

func (est *Estimator) entry(rail uint8) (*entry, error) {
	e, ok := est.rails[rail]
	if !ok {
		return nil, fmt.Errorf("dvco: no NAFLL registered on rail %d: %w", rail, nafll.ErrInvalidState)
	}
	return e, nil
}
