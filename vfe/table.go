// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vfe

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-lpc/nafll"
)

// Kind is the kind of an equation.
type Kind uint8

const (
	KindConstant  Kind = iota // Value
	KindQuadratic             // Coeffs[0] + Coeffs[1]*x + Coeffs[2]*x^2
	KindMinMax                // min or max of Eqs[0] and Eqs[1]
	KindCompare               // x Op Threshold ? Eqs[0] : Eqs[1]
)

var kindNames = [...]string{
	KindConstant:  "constant",
	KindQuadratic: "quadratic",
	KindMinMax:    "minmax",
	KindCompare:   "compare",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(p []byte) error {
	for i, name := range kindNames {
		if strings.EqualFold(name, string(p)) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("vfe: invalid equation kind %q", p)
}

// CompareOp is the comparison of a compare equation.
type CompareOp string

const (
	OpEqual        CompareOp = "=="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

// Equation is one entry of an equation table.
//
// Quadratic and compare equations read the Var input, scaled to volts,
// degrees Celsius or MHz.
type Equation struct {
	Kind      Kind       `json:"kind"`
	Output    OutputType `json:"output"`
	Var       Var        `json:"var,omitempty"`
	Value     float64    `json:"value,omitempty"`
	Coeffs    [3]float64 `json:"coeffs,omitempty"`
	Max       bool       `json:"max,omitempty"`
	Op        CompareOp  `json:"op,omitempty"`
	Threshold float64    `json:"threshold,omitempty"`
	Eqs       [2]Index   `json:"eqs,omitempty"`
}

const maxDepth = 8

// Table evaluates equations stored in a flat table.
// A Table is read-only once created and safe for concurrent use.
type Table struct {
	eqs []Equation
}

// NewTable creates an evaluator from the provided equations.
// References between equations are checked, cycles are rejected.
func NewTable(eqs []Equation) (*Table, error) {
	if len(eqs) >= int(InvalidIndex) {
		return nil, fmt.Errorf("vfe: too many equations (%d): %w", len(eqs), nafll.ErrInvalidArgument)
	}
	tbl := &Table{eqs: make([]Equation, len(eqs))}
	copy(tbl.eqs, eqs)

	for i, eq := range tbl.eqs {
		switch eq.Kind {
		case KindConstant, KindQuadratic:
		case KindMinMax, KindCompare:
			for _, sub := range eq.Eqs {
				if int(sub) >= len(tbl.eqs) {
					return nil, fmt.Errorf(
						"vfe: equation %d references invalid equation %d: %w",
						i, sub, nafll.ErrInvalidArgument,
					)
				}
			}
			if eq.Kind == KindCompare {
				switch eq.Op {
				case OpEqual, OpGreater, OpGreaterEqual:
				default:
					return nil, fmt.Errorf(
						"vfe: equation %d has invalid compare op %q: %w",
						i, eq.Op, nafll.ErrInvalidArgument,
					)
				}
			}
		default:
			return nil, fmt.Errorf("vfe: equation %d has invalid kind %v: %w", i, eq.Kind, nafll.ErrInvalidArgument)
		}
	}

	for i := range tbl.eqs {
		if err := tbl.checkDepth(Index(i), 0); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (tbl *Table) checkDepth(idx Index, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("vfe: equation %d nests too deep: %w", idx, nafll.ErrInvalidArgument)
	}
	eq := tbl.eqs[idx]
	switch eq.Kind {
	case KindMinMax, KindCompare:
		for _, sub := range eq.Eqs {
			if err := tbl.checkDepth(sub, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of equations in the table.
func (tbl *Table) Len() int { return len(tbl.eqs) }

// Evaluate implements Evaluator.
func (tbl *Table) Evaluate(idx Index, inputs []VarValue, out OutputType) (Result, error) {
	if !idx.Valid() || int(idx) >= len(tbl.eqs) {
		return Result{}, fmt.Errorf("vfe: invalid equation index %d: %w", idx, nafll.ErrInvalidArgument)
	}
	eq := tbl.eqs[idx]
	if eq.Output != out {
		return Result{}, fmt.Errorf(
			"vfe: equation %d output is %v, requested %v: %w",
			idx, eq.Output, out, nafll.ErrEquationFailure,
		)
	}

	v, err := tbl.eval(idx, inputs)
	if err != nil {
		return Result{}, err
	}
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return Result{}, fmt.Errorf("vfe: equation %d is not finite: %w", idx, nafll.ErrEquationFailure)
	case v < 0:
		v = 0
	case v > math.MaxUint32:
		v = math.MaxUint32
	}
	return Result{Type: out, Value: uint32(math.Round(v))}, nil
}

func (tbl *Table) eval(idx Index, inputs []VarValue) (float64, error) {
	eq := tbl.eqs[idx]
	switch eq.Kind {
	case KindConstant:
		return eq.Value, nil

	case KindQuadratic:
		x, err := input(idx, eq.Var, inputs)
		if err != nil {
			return 0, err
		}
		return eq.Coeffs[0] + eq.Coeffs[1]*x + eq.Coeffs[2]*x*x, nil

	case KindMinMax:
		a, err := tbl.eval(eq.Eqs[0], inputs)
		if err != nil {
			return 0, err
		}
		b, err := tbl.eval(eq.Eqs[1], inputs)
		if err != nil {
			return 0, err
		}
		if eq.Max {
			return math.Max(a, b), nil
		}
		return math.Min(a, b), nil

	case KindCompare:
		x, err := input(idx, eq.Var, inputs)
		if err != nil {
			return 0, err
		}
		var ok bool
		switch eq.Op {
		case OpEqual:
			ok = x == eq.Threshold
		case OpGreater:
			ok = x > eq.Threshold
		case OpGreaterEqual:
			ok = x >= eq.Threshold
		}
		if ok {
			return tbl.eval(eq.Eqs[0], inputs)
		}
		return tbl.eval(eq.Eqs[1], inputs)
	}
	return 0, fmt.Errorf("vfe: equation %d has invalid kind %v: %w", idx, eq.Kind, nafll.ErrEquationFailure)
}

func input(idx Index, v Var, inputs []VarValue) (float64, error) {
	for _, in := range inputs {
		if in.Var != v {
			continue
		}
		switch v {
		case VarVoltage:
			return float64(in.Value) / 1e6, nil
		case VarTemperature:
			return float64(in.Value) / 1e3, nil
		default:
			return float64(in.Value), nil
		}
	}
	return 0, fmt.Errorf("vfe: equation %d needs missing input %v: %w", idx, v, nafll.ErrEquationFailure)
}

var _ Evaluator = (*Table)(nil)
