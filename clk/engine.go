// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clk

import (
	"fmt"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/ndiv"
	"github.com/go-lpc/nafll/vfe"
)

// Engine computes and caches the VF points of curves.
//
// Engine is not safe for concurrent use: the owner serializes accesses
// to the engine and to the curves it refreshes.
type Engine struct {
	eval vfe.Evaluator
	tr   Translator

	tempMC int32 // milli-degrees Celsius
}

// NewEngine creates a curve engine. A nil translator selects
// RatioTranslator.
func NewEngine(eval vfe.Evaluator, tr Translator) *Engine {
	if tr == nil {
		tr = RatioTranslator{}
	}
	return &Engine{eval: eval, tr: tr}
}

// Temperature returns the temperature fed to equations.
func (eng *Engine) Temperature() int32 { return eng.tempMC }

// SetTemperature sets the temperature fed to equations and reports
// whether it changed.
func (eng *Engine) SetTemperature(mc int32) bool {
	changed := eng.tempMC != mc
	eng.tempMC = mc
	return changed
}

func (eng *Engine) inputs(uv uint32) []vfe.VarValue {
	return []vfe.VarValue{vfe.Voltage(uv), vfe.Temperature(eng.tempMC)}
}

// CachePoint computes the base and offset tuples of pt, a point of c.
// prev is the point right below pt on the curve, or nil for the first one.
// When requireEval is false, the previously cached base frequency is
// reused instead of evaluating the curve equation.
//
// On error pt is left untouched.
func (eng *Engine) CachePoint(c *Curve, pt, prev *Point, requireEval bool) error {
	if pt == nil {
		return fmt.Errorf("clk: nil VF point: %w", nafll.ErrInvalidArgument)
	}
	if c.Domain == nil || c.Rel == nil {
		return fmt.Errorf("clk: curve %q is not configured: %w", c.Name, nafll.ErrInvalidArgument)
	}

	var f uint32
	switch {
	case requireEval:
		if eng.eval == nil {
			return fmt.Errorf("clk: no evaluator: %w", nafll.ErrInvalidState)
		}
		res, err := eng.eval.Evaluate(c.Equation, eng.inputs(pt.SourceUV), vfe.OutputFreqMHz)
		if err != nil {
			return fmt.Errorf("clk: could not evaluate curve %q at %duV: %w", c.Name, pt.SourceUV, err)
		}
		f = res.Value
		if prev != nil && f < uint32(prev.Base.Freqs[0]) {
			f = uint32(prev.Base.Freqs[0])
		}
	case pt.Cached:
		f = uint32(pt.Base.Freqs[0])
	default:
		return fmt.Errorf(
			"clk: curve %q point at %duV was never evaluated: %w",
			c.Name, pt.SourceUV, nafll.ErrInvalidState,
		)
	}

	var (
		step   uint32
		smooth = prev != nil && c.smoothing()
	)
	if smooth {
		var err error
		step, err = c.Rel.StepMHz(eng.eval, pt.SourceUV, eng.tempMC)
		if err != nil {
			return err
		}
		if max := uint32(prev.Base.Freqs[0]) + step; f > max {
			f = max
		}
	}

	if lim := c.Rel.trimMHz(c.Domain); lim != 0 && f > lim {
		f = lim
	}
	f = c.Domain.Conv.Quantize(f, true)

	var base Tuple
	base.Freqs[0] = ndiv.Clamp16(f)

	for i, dom := range c.Secondaries {
		pos := i + 1
		sf, err := eng.tr.PrimaryToSecondary(c.Rel, dom, pos, f, false)
		if err != nil {
			return fmt.Errorf("clk: could not translate curve %q position %d: %w", c.Name, pos, err)
		}
		if smooth {
			sstep, err := eng.tr.PrimaryToSecondary(c.Rel, dom, pos, step, false)
			if err != nil {
				return fmt.Errorf("clk: could not translate curve %q position %d step: %w", c.Name, pos, err)
			}
			if max := uint32(prev.Base.Freqs[pos]) + sstep; sf > max {
				sf = max
			}
		}
		base.Freqs[pos] = ndiv.Clamp16(dom.Conv.Quantize(sf, true))
	}

	base.CPMMaxFreqOffsetMHz = pt.Base.CPMMaxFreqOffsetMHz
	base.DVCOOffsetCode = pt.Base.DVCOOffsetCode
	if c.Kind == VoltSecondary && requireEval {
		cpm, code, err := eng.secondary(c, pt.SourceUV)
		if err != nil {
			return err
		}
		base.CPMMaxFreqOffsetMHz = cpm
		base.DVCOOffsetCode = code
	}

	offset := base
	if !pt.Delta.IsZero() && c.ovoc() {
		offset.Freqs[0] = ndiv.Clamp16(c.Domain.Conv.Quantize(pt.Delta.Apply(f), true))
		for i, dom := range c.Secondaries {
			pos := i + 1
			sf := pt.Delta.Apply(uint32(base.Freqs[pos]))
			offset.Freqs[pos] = ndiv.Clamp16(dom.Conv.Quantize(sf, true))
		}
	}

	pt.Base = base
	pt.Offset = offset
	pt.Cached = true
	return nil
}

// secondary evaluates the CPM max frequency offset and the DVCO offset
// code of a secondary curve point.
func (eng *Engine) secondary(c *Curve, uv uint32) (cpm uint16, code uint8, err error) {
	if c.CPMEquation.Valid() {
		res, err := eng.eval.Evaluate(c.CPMEquation, eng.inputs(uv), vfe.OutputFreqMHz)
		if err != nil {
			return 0, 0, fmt.Errorf("clk: could not evaluate curve %q CPM offset at %duV: %w", c.Name, uv, err)
		}
		if res.Value != 0 {
			cpm = ndiv.Clamp16(c.Domain.Conv.Quantize(res.Value, true))
		}
	}
	if c.DVCOOffsetEquation.Valid() {
		res, err := eng.eval.Evaluate(c.DVCOOffsetEquation, eng.inputs(uv), vfe.OutputCode)
		if err != nil {
			return 0, 0, fmt.Errorf("clk: could not evaluate curve %q DVCO offset at %duV: %w", c.Name, uv, err)
		}
		code = 0xff
		if res.Value < 0xff {
			code = uint8(res.Value)
		}
	}
	return cpm, code, nil
}

// Refresh recomputes every point of the curve.
// Points are staged and committed together: on error the curve is left
// untouched.
func (eng *Engine) Refresh(c *Curve, requireEval bool) error {
	err := c.Validate()
	if err != nil {
		return err
	}

	pts := append([]Point(nil), c.Points...)
	for i := range pts {
		var prev *Point
		if i > 0 {
			prev = &pts[i-1]
		}
		err = eng.CachePoint(c, &pts[i], prev, requireEval)
		if err != nil {
			return fmt.Errorf("clk: could not cache curve %q point %d: %w", c.Name, i, err)
		}
	}

	// deltas may break the ordering of offsets.
	for i := 1; i < len(pts); i++ {
		for pos := 0; pos <= len(c.Secondaries); pos++ {
			if lo := pts[i-1].Offset.Freqs[pos]; pts[i].Offset.Freqs[pos] < lo {
				pts[i].Offset.Freqs[pos] = lo
			}
		}
	}

	if c.smoothing() {
		err = eng.smooth(c, pts)
		if err != nil {
			return err
		}
	}

	c.Points = pts
	return nil
}

// Smooth limits the frequency drop between consecutive offset tuples of
// the curve, walking from the highest voltage down. Offsets are only ever
// raised.
// Points are staged and committed together: on error the curve is left
// untouched.
func (eng *Engine) Smooth(c *Curve) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	if !c.smoothing() {
		return nil
	}
	pts := append([]Point(nil), c.Points...)
	err = eng.smooth(c, pts)
	if err != nil {
		return err
	}
	c.Points = pts
	return nil
}

func (eng *Engine) smooth(c *Curve, pts []Point) error {
	for i := len(pts) - 2; i >= 0; i-- {
		var (
			pt   = &pts[i]
			prev = &pts[i+1]
		)
		step, err := c.Rel.StepMHz(eng.eval, pt.SourceUV, eng.tempMC)
		if err != nil {
			return fmt.Errorf("clk: could not smooth curve %q point %d: %w", c.Name, i, err)
		}
		var expected uint32
		if hi := prev.MHz(); hi > step {
			expected = hi - step
		}
		if expected <= pt.MHz() {
			continue
		}

		f := c.Domain.Conv.Quantize(expected, false)
		pt.Offset.Freqs[0] = ndiv.Clamp16(f)
		for j, dom := range c.Secondaries {
			pos := j + 1
			sf, err := eng.tr.PrimaryToSecondary(c.Rel, dom, pos, f, true)
			if err != nil {
				return fmt.Errorf("clk: could not smooth curve %q point %d position %d: %w", c.Name, i, pos, err)
			}
			if v := ndiv.Clamp16(sf); v > pt.Offset.Freqs[pos] {
				pt.Offset.Freqs[pos] = v
			}
		}
	}
	return nil
}
