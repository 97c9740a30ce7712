// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perf

import (
	"fmt"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/fll"
)

// RefreshCurve recomputes the points of a VF curve.
// When requireEval is false, cached base frequencies are reused and only
// offsets are recomputed.
func (ctx *Context) RefreshCurve(name string, requireEval bool) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	c, err := ctx.curve(name)
	if err != nil {
		return err
	}
	err = ctx.eng.Refresh(c, requireEval)
	if err != nil {
		return fmt.Errorf("perf: could not refresh VF curve %q: %w", name, err)
	}
	return nil
}

// RefreshCurves recomputes the points of all the VF curves, in board
// order.
func (ctx *Context) RefreshCurves(requireEval bool) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	return ctx.refresh(requireEval)
}

func (ctx *Context) refresh(requireEval bool) error {
	for _, c := range ctx.curves {
		err := ctx.eng.Refresh(c, requireEval)
		if err != nil {
			return fmt.Errorf("perf: could not refresh VF curve %q: %w", c.Name, err)
		}
	}
	return nil
}

// Update recomputes all the VF curves and reprograms the LUTs from them.
func (ctx *Context) Update(requireEval bool) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if !ctx.booted {
		return fmt.Errorf("perf: NAFLLs not initialized: %w", nafll.ErrInvalidState)
	}
	err := ctx.refresh(requireEval)
	if err != nil {
		return err
	}
	return ctx.programLUT()
}

// ClassifyAndProgram selects the regime of a NAFLL for the requested
// frequency at the current rail voltage, and programs it.
func (ctx *Context) ClassifyAndProgram(name string, mhz uint32, override fll.Override) (fll.Status, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	dev, err := ctx.device(name)
	if err != nil {
		return fll.Status{}, err
	}
	if !ctx.booted {
		return dev.Status(), fmt.Errorf("perf: NAFLL %q not initialized: %w", name, nafll.ErrInvalidState)
	}

	cfg := dev.Config()
	rail, err := ctx.volts.Rail(cfg.Rail)
	if err != nil {
		return dev.Status(), err
	}
	uv, err := ctx.volts.Voltage(cfg.Rail)
	if err != nil {
		return dev.Status(), fmt.Errorf("perf: could not program %q: %w", name, err)
	}
	dmin, err := ctx.est.Min(cfg.Rail)
	if err != nil {
		return dev.Status(), fmt.Errorf("perf: could not program %q: %w", name, err)
	}

	in, err := dev.Inputs(mhz, dmin, uv, rail.NoiseUnawareVminUV, override)
	if err != nil {
		return dev.Status(), fmt.Errorf("perf: could not classify %q: %w", name, err)
	}
	r := dev.Classify(in)
	if r == fll.Invalid {
		return dev.Status(), fmt.Errorf(
			"perf: no regime for %q at %dMHz (dvco-min=%dMHz): %w",
			name, mhz, dmin, nafll.ErrInvalidArgument,
		)
	}

	err = dev.Configure(fll.Target{
		MHz:        mhz,
		Regime:     r,
		DVCOMinMHz: dmin,
		VoltageUV:  uv,
	})
	if err != nil {
		return dev.Status(), fmt.Errorf("perf: could not configure %q: %w", name, err)
	}

	err = dev.Program()
	if err != nil {
		ctx.alert(name, err)
		return dev.Status(), fmt.Errorf("perf: could not program %q: %w", name, err)
	}
	return dev.Status(), nil
}

// ProgramLUT recomputes and programs the LUTs of all the NAFLLs.
func (ctx *Context) ProgramLUT() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if !ctx.booted {
		return fmt.Errorf("perf: NAFLLs not initialized: %w", nafll.ErrInvalidState)
	}
	return ctx.programLUT()
}

func (ctx *Context) programLUT() error {
	err := fll.ProgramAll(ctx.devs, ctx.eng, ctx.est, ctx.volts)
	if err != nil {
		ctx.alert("lut", err)
		return fmt.Errorf("perf: could not program LUTs: %w", err)
	}
	return nil
}

// SetVoltage records a new rail voltage. The DVCO minimum of the rail is
// recomputed once per voltage change.
func (ctx *Context) SetVoltage(rail uint8, uv uint32) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	changed, err := ctx.volts.Set(rail, uv)
	if err != nil {
		return fmt.Errorf("perf: could not set rail %d voltage: %w", rail, err)
	}
	if !changed {
		return nil
	}
	return ctx.voltageChanged(rail, uv)
}

// UpdateVoltages reads back all the rail voltages from the voltage source.
func (ctx *Context) UpdateVoltages() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	for _, rail := range ctx.volts.Rails() {
		uv, changed, err := ctx.volts.Update(rail.Index)
		if err != nil {
			return fmt.Errorf("perf: could not update rail %q voltage: %w", rail.Name, err)
		}
		if !changed {
			continue
		}
		err = ctx.voltageChanged(rail.Index, uv)
		if err != nil {
			return err
		}
	}
	return nil
}

func (ctx *Context) voltageChanged(rail uint8, uv uint32) error {
	_, _, err := ctx.est.Update(rail, uv)
	if err != nil {
		return fmt.Errorf("perf: could not update rail %d DVCO-min: %w", rail, err)
	}
	return nil
}

// SetTemperature records a new temperature, in milli-degrees Celsius.
// Entering another temperature bucket re-evaluates all the VF curves and
// programs the LUTs into their inactive temperature slot.
//
// On error the previous temperature and VF curves are restored, so that
// the same temperature may be set again.
func (ctx *Context) SetTemperature(mc int32) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	old := ctx.eng.Temperature()
	if old == mc {
		return nil
	}
	if ctx.bucket(old) == ctx.bucket(mc) {
		ctx.eng.SetTemperature(mc)
		return nil
	}

	pts := make([][]clk.Point, len(ctx.curves))
	for i, c := range ctx.curves {
		pts[i] = c.Points
	}
	restore := func() {
		ctx.eng.SetTemperature(old)
		for i, c := range ctx.curves {
			c.Points = pts[i]
		}
	}

	ctx.msg.Printf("temperature %.1fC -> %.1fC", float64(old)*1e-3, float64(mc)*1e-3)
	ctx.eng.SetTemperature(mc)
	err := ctx.refresh(true)
	if err != nil {
		restore()
		return err
	}
	if !ctx.booted {
		return nil
	}
	err = ctx.programLUT()
	if err != nil {
		restore()
		return err
	}
	return nil
}

// SetFreqDelta sets the frequency delta of the point of a VF curve at the
// provided voltage. Offsets of the whole curve are recomputed from the
// cached base frequencies, then smoothed.
//
// On error the curve is left untouched.
func (ctx *Context) SetFreqDelta(name string, uv uint32, delta clk.FreqDelta) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	c, err := ctx.curve(name)
	if err != nil {
		return err
	}
	pt, err := c.Point(uv)
	if err != nil {
		return fmt.Errorf("perf: could not set frequency delta: %w", err)
	}

	old := pt.Delta
	pt.Delta = delta
	err = ctx.eng.Refresh(c, false)
	if err != nil {
		pt.Delta = old
		return fmt.Errorf("perf: could not apply frequency delta to %q: %w", name, err)
	}
	return nil
}

// Status returns the regime status of a NAFLL.
func (ctx *Context) Status(name string) (fll.Status, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	dev, err := ctx.device(name)
	if err != nil {
		return fll.Status{}, err
	}
	return dev.Status(), nil
}

// Config returns the configuration of a NAFLL.
func (ctx *Context) Config(name string) (fll.Config, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	dev, err := ctx.device(name)
	if err != nil {
		return fll.Config{}, err
	}
	return dev.Config(), nil
}

// LUT returns the LUT state of a NAFLL.
func (ctx *Context) LUT(name string) (fll.LUT, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	dev, err := ctx.device(name)
	if err != nil {
		return fll.LUT{}, err
	}
	return dev.LUT(), nil
}

// Curve returns a copy of a VF curve.
func (ctx *Context) Curve(name string) (*clk.Curve, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	c, err := ctx.curve(name)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Curves returns the names of the VF curves, in board order.
func (ctx *Context) Curves() []string {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	names := make([]string, len(ctx.curves))
	for i, c := range ctx.curves {
		names[i] = c.Name
	}
	return names
}

// Devices returns the names of the NAFLLs, in board order.
func (ctx *Context) Devices() []string {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	names := make([]string, len(ctx.devs))
	for i, dev := range ctx.devs {
		names[i] = dev.Name()
	}
	return names
}

// Voltage returns the last known voltage of a rail.
func (ctx *Context) Voltage(rail uint8) (uint32, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.volts.Voltage(rail)
}

// DVCOMin returns the DVCO minimum of a rail at its last known voltage.
func (ctx *Context) DVCOMin(rail uint8) (uint32, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.est.Min(rail)
}

// Temperature returns the current temperature, in milli-degrees Celsius.
func (ctx *Context) Temperature() int32 {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.eng.Temperature()
}
