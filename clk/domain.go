// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clk holds the voltage-indexed VF curves of the clock domains,
// and the engine caching and smoothing their points.
package clk // import "github.com/go-lpc/nafll/clk"

import (
	"fmt"
	"strings"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/ndiv"
	"github.com/go-lpc/nafll/vfe"
)

// MaxPositions is the number of clock domain positions of a VF tuple.
// Position 0 holds the primary domain.
const MaxPositions = 4

// Source is the kind of generator driving a clock domain.
type Source uint8

const (
	SourceNAFLL Source = iota
	SourcePLL
	SourceOnePLL
)

var sourceNames = [...]string{
	SourceNAFLL:  "nafll",
	SourcePLL:    "pll",
	SourceOnePLL: "one-pll",
}

func (src Source) String() string {
	if int(src) < len(sourceNames) {
		return sourceNames[src]
	}
	return fmt.Sprintf("Source(%d)", uint8(src))
}

func (src Source) MarshalText() ([]byte, error) { return []byte(src.String()), nil }

func (src *Source) UnmarshalText(p []byte) error {
	for i, name := range sourceNames {
		if strings.EqualFold(name, string(p)) {
			*src = Source(i)
			return nil
		}
	}
	return fmt.Errorf("clk: invalid clock source %q", p)
}

// RequiresSmoothing reports whether a generator of that kind needs its VF
// curve ramp-rate limited.
func (src Source) RequiresSmoothing() bool { return src == SourceNAFLL }

// Domain is a clock domain.
type Domain struct {
	Index          uint8          `json:"index"`
	Name           string         `json:"name"`
	Source         Source         `json:"source"`
	FreqMaxEnumMHz uint32         `json:"freq_max_enum_mhz"`
	OVOC           bool           `json:"ovoc"`
	Conv           ndiv.Converter `json:"-"`
}

// Smoothing configures the ramp-rate limit of a VF relationship.
type Smoothing struct {
	Enabled      bool      `json:"enabled"`
	StepEquation vfe.Index `json:"step_equation"`
	MaxStepMHz   uint32    `json:"max_step_mhz"`
}

// Relationship ties a VF curve to its clock domains.
type Relationship struct {
	FreqMaxMHz    uint32    `json:"freq_max_mhz"`
	OVOC          bool      `json:"ovoc"`
	TrimToEnumMax bool      `json:"trim_to_enum_max"`
	Smoothing     Smoothing `json:"smoothing"`

	// Ratios holds, for each secondary domain, its frequency as a
	// percentage of the primary one.
	Ratios []uint8 `json:"ratios"`
}

// StepMHz returns the largest frequency step allowed between two
// consecutive points at the provided voltage.
func (rel *Relationship) StepMHz(eval vfe.Evaluator, uv uint32, tempMC int32) (uint32, error) {
	sm := rel.Smoothing
	if !sm.StepEquation.Valid() {
		return sm.MaxStepMHz, nil
	}
	if eval == nil {
		return 0, fmt.Errorf("clk: no evaluator for smoothing step: %w", nafll.ErrInvalidState)
	}
	res, err := eval.Evaluate(
		sm.StepEquation,
		[]vfe.VarValue{vfe.Voltage(uv), vfe.Temperature(tempMC)},
		vfe.OutputFreqMHz,
	)
	if err != nil {
		return 0, fmt.Errorf("clk: could not evaluate smoothing step at %duV: %w", uv, err)
	}
	step := res.Value
	if sm.MaxStepMHz != 0 && step > sm.MaxStepMHz {
		step = sm.MaxStepMHz
	}
	return step, nil
}

// trimMHz returns the frequency cap of the relationship, or 0 when the
// curve is not trimmed.
func (rel *Relationship) trimMHz(dom *Domain) uint32 {
	if !rel.TrimToEnumMax {
		return 0
	}
	limit := rel.FreqMaxMHz
	if limit == 0 || (dom.FreqMaxEnumMHz != 0 && dom.FreqMaxEnumMHz < limit) {
		limit = dom.FreqMaxEnumMHz
	}
	return limit
}
