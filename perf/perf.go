// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perf drives the NAFLL clocks of a board.
//
// A Context owns the VF curves, the rail voltages and the NAFLL devices of
// a board. Every entry point runs under the context lock: a curve refresh
// and the programming that depends on it are never interleaved with
// another writer.
package perf // import "github.com/go-lpc/nafll/perf"

import (
	"fmt"
	"log"
	"sync"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/dvco"
	"github.com/go-lpc/nafll/fll"
	"github.com/go-lpc/nafll/vfe"
	"github.com/go-lpc/nafll/volt"
)

// Board describes the clock hardware of a board.
type Board struct {
	Rails   []volt.Rail
	Curves  []*clk.Curve
	Devices []fll.Config
}

// Context is the state of the clocks of a board.
type Context struct {
	mu  sync.RWMutex
	msg *log.Logger
	cfg config

	eng    *clk.Engine
	est    *dvco.Estimator
	volts  *volt.Cache
	curves []*clk.Curve
	devs   []*fll.Device

	booted bool
}

// New creates the context of a board. Curve equations are evaluated with
// eval, rail voltages are read from src and NAFLL registers are accessed
// through b.
//
// New does not access the hardware: Init must be called before any
// frequency request.
func New(eval vfe.Evaluator, src volt.Source, b bus.Bus, brd Board, opts ...Option) (*Context, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case eval == nil:
		return nil, fmt.Errorf("perf: no equation evaluator: %w", nafll.ErrInvalidArgument)
	case cfg.temp.bucket <= 0:
		return nil, fmt.Errorf("perf: invalid temperature bucket %d: %w", cfg.temp.bucket, nafll.ErrInvalidArgument)
	}

	volts, err := volt.NewCache(src, brd.Rails...)
	if err != nil {
		return nil, fmt.Errorf("perf: could not create rails: %w", err)
	}

	ctx := &Context{
		msg:   cfg.msg,
		cfg:   cfg,
		eng:   clk.NewEngine(eval, cfg.tr),
		est:   dvco.New(eval),
		volts: volts,
	}
	ctx.eng.SetTemperature(cfg.temp.mc)

	curves := make(map[string]*clk.Curve, len(brd.Curves))
	for _, c := range brd.Curves {
		if c == nil {
			return nil, fmt.Errorf("perf: nil VF curve: %w", nafll.ErrInvalidArgument)
		}
		if _, dup := curves[c.Name]; dup {
			return nil, fmt.Errorf("perf: duplicate VF curve %q: %w", c.Name, nafll.ErrInvalidArgument)
		}
		err = c.Validate()
		if err != nil {
			return nil, fmt.Errorf("perf: invalid VF curve %q: %w", c.Name, err)
		}
		curves[c.Name] = c
		ctx.curves = append(ctx.curves, c)
	}

	for _, rail := range volts.Rails() {
		err = ctx.est.Register(rail.Index, rail.DVCOMinEquation)
		if err != nil {
			return nil, fmt.Errorf("perf: could not register rail %q: %w", rail.Name, err)
		}
	}

	names := make(map[string]struct{}, len(brd.Devices))
	for _, dc := range brd.Devices {
		if _, dup := names[dc.Name]; dup {
			return nil, fmt.Errorf("perf: duplicate NAFLL %q: %w", dc.Name, nafll.ErrInvalidArgument)
		}
		names[dc.Name] = struct{}{}

		_, err = volts.Rail(dc.Rail)
		if err != nil {
			return nil, fmt.Errorf("perf: NAFLL %q: %w", dc.Name, err)
		}
		err = ctx.est.Register(dc.Rail, dc.DVCOMinEquation)
		if err != nil {
			return nil, fmt.Errorf("perf: NAFLL %q: %w", dc.Name, err)
		}

		curve, ok := curves[dc.Curve]
		if !ok {
			return nil, fmt.Errorf("perf: NAFLL %q has unknown VF curve %q: %w", dc.Name, dc.Curve, nafll.ErrInvalidArgument)
		}
		var sec *clk.Curve
		if dc.SecondaryCurve != "" {
			sec, ok = curves[dc.SecondaryCurve]
			if !ok {
				return nil, fmt.Errorf(
					"perf: NAFLL %q has unknown secondary VF curve %q: %w",
					dc.Name, dc.SecondaryCurve, nafll.ErrInvalidArgument,
				)
			}
		}

		dev, err := fll.NewDevice(
			dc, b, curve, sec,
			fll.WithSleeper(cfg.slp),
			fll.WithLockWait(cfg.lock.delay, cfg.lock.polls, cfg.lock.interval),
			fll.WithLogger(cfg.msg),
		)
		if err != nil {
			return nil, fmt.Errorf("perf: could not create NAFLL: %w", err)
		}
		ctx.devs = append(ctx.devs, dev)
	}

	return ctx, nil
}

// Init refreshes all the VF curves, brings the NAFLLs up, reads the rail
// voltages and programs the LUTs.
func (ctx *Context) Init() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.booted = false
	err := ctx.refresh(true)
	if err != nil {
		return err
	}

	for _, dev := range ctx.devs {
		err = dev.Init()
		if err != nil {
			ctx.alert(dev.Name(), err)
			return fmt.Errorf("perf: could not initialize NAFLLs: %w", err)
		}
	}

	for _, rail := range ctx.volts.Rails() {
		uv, err := ctx.volts.Voltage(rail.Index)
		if err != nil {
			uv, _, err = ctx.volts.Update(rail.Index)
			if err != nil {
				return fmt.Errorf("perf: could not read rail %q voltage: %w", rail.Name, err)
			}
		}
		err = ctx.voltageChanged(rail.Index, uv)
		if err != nil {
			return err
		}
	}

	err = ctx.programLUT()
	if err != nil {
		return err
	}
	ctx.booted = true
	return nil
}

func (ctx *Context) curve(name string) (*clk.Curve, error) {
	for _, c := range ctx.curves {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("perf: unknown VF curve %q: %w", name, nafll.ErrInvalidArgument)
}

func (ctx *Context) device(name string) (*fll.Device, error) {
	for _, dev := range ctx.devs {
		if dev.Name() == name {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("perf: unknown NAFLL %q: %w", name, nafll.ErrInvalidArgument)
}

func (ctx *Context) alert(dev string, err error) {
	ctx.msg.Printf("%s: %+v", dev, err)
	if ctx.cfg.alert != nil {
		ctx.cfg.alert(dev, err)
	}
}

func (ctx *Context) bucket(mc int32) int32 {
	b := mc / ctx.cfg.temp.bucket
	if mc < 0 && mc%ctx.cfg.temp.bucket != 0 {
		b--
	}
	return b
}
