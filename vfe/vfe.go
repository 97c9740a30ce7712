// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vfe describes the VF equation evaluator consumed by the curve
// engine, and provides a table-driven implementation of it.
package vfe // import "github.com/go-lpc/nafll/vfe"

import (
	"fmt"
	"strings"
)

// Index identifies an equation in the evaluator.
type Index uint8

// InvalidIndex marks an absent equation.
const InvalidIndex Index = 0xff

// Valid reports whether idx refers to an equation.
func (idx Index) Valid() bool { return idx != InvalidIndex }

// Var is an independent variable an equation can be evaluated against.
type Var uint8

const (
	VarVoltage     Var = iota // micro-volts
	VarTemperature            // milli-degrees Celsius
	VarFrequency              // MHz
)

var varNames = [...]string{
	VarVoltage:     "voltage",
	VarTemperature: "temperature",
	VarFrequency:   "frequency",
}

func (v Var) String() string {
	if int(v) < len(varNames) {
		return varNames[v]
	}
	return fmt.Sprintf("Var(%d)", uint8(v))
}

func (v Var) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Var) UnmarshalText(p []byte) error {
	for i, name := range varNames {
		if strings.EqualFold(name, string(p)) {
			*v = Var(i)
			return nil
		}
	}
	return fmt.Errorf("vfe: invalid variable %q", p)
}

// VarValue binds a value to an independent variable.
type VarValue struct {
	Var   Var
	Value int64
}

// Voltage returns a voltage input, in micro-volts.
func Voltage(uv uint32) VarValue { return VarValue{Var: VarVoltage, Value: int64(uv)} }

// Temperature returns a temperature input, in milli-degrees Celsius.
func Temperature(mc int32) VarValue { return VarValue{Var: VarTemperature, Value: int64(mc)} }

// Frequency returns a frequency input, in MHz.
func Frequency(mhz uint32) VarValue { return VarValue{Var: VarFrequency, Value: int64(mhz)} }

// OutputType is the unit an equation result is expressed in.
type OutputType uint8

const (
	OutputFreqMHz OutputType = iota
	OutputVoltUV
	OutputCode
)

var outputNames = [...]string{
	OutputFreqMHz: "freq-mhz",
	OutputVoltUV:  "volt-uv",
	OutputCode:    "code",
}

func (o OutputType) String() string {
	if int(o) < len(outputNames) {
		return outputNames[o]
	}
	return fmt.Sprintf("OutputType(%d)", uint8(o))
}

func (o OutputType) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OutputType) UnmarshalText(p []byte) error {
	for i, name := range outputNames {
		if strings.EqualFold(name, string(p)) {
			*o = OutputType(i)
			return nil
		}
	}
	return fmt.Errorf("vfe: invalid output type %q", p)
}

// Result is the value of an evaluated equation.
type Result struct {
	Type  OutputType
	Value uint32
}

// Evaluator evaluates equations against a set of input variables.
type Evaluator interface {
	Evaluate(idx Index, inputs []VarValue, out OutputType) (Result, error)
}
