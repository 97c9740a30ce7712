// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fll

import (
	"io"
	"log"
	"testing"

	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/dvco"
	"github.com/go-lpc/nafll/internal/regs"
	"github.com/go-lpc/nafll/ndiv"
	"github.com/go-lpc/nafll/vfe"
	"github.com/go-lpc/nafll/volt"
)

const (
	eqCurve     vfe.Index = 0
	eqDVCOMin   vfe.Index = 1
	eqSecondary vfe.Index = 2
	eqCPM       vfe.Index = 3
	eqDVCOCode  vfe.Index = 4
)

type testEnv struct {
	eng   *clk.Engine
	est   *dvco.Estimator
	rails *volt.Cache
	rail  volt.Rail
	curve *clk.Curve
	sec   *clk.Curve
	tr    *bus.Trace
}

var testConv = ndiv.Converter{MDiv: 1, RefClkMHz: 27, RefDiv: 1}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tbl, err := vfe.NewTable([]vfe.Equation{
		eqCurve:     {Kind: vfe.KindQuadratic, Output: vfe.OutputFreqMHz, Var: vfe.VarVoltage, Coeffs: [3]float64{0, 1500, 0}},
		eqDVCOMin:   {Kind: vfe.KindConstant, Output: vfe.OutputFreqMHz, Value: 1000},
		eqSecondary: {Kind: vfe.KindQuadratic, Output: vfe.OutputFreqMHz, Var: vfe.VarVoltage, Coeffs: [3]float64{0, 1400, 0}},
		eqCPM:       {Kind: vfe.KindConstant, Output: vfe.OutputFreqMHz, Value: 54},
		eqDVCOCode:  {Kind: vfe.KindConstant, Output: vfe.OutputCode, Value: 5},
	})
	if err != nil {
		t.Fatalf("could not create equations: %+v", err)
	}

	rail := volt.Rail{
		Index:              0,
		Name:               "nvvdd",
		VminUV:             600000,
		VmaxUV:             1000000,
		StepUV:             12500,
		NoiseUnawareVminUV: 700000,
		DVCOMinEquation:    eqDVCOMin,
	}
	rails, err := volt.NewCache(nil, rail)
	if err != nil {
		t.Fatalf("could not create rails: %+v", err)
	}

	dom := &clk.Domain{Name: "gpc", Source: clk.SourceNAFLL, Conv: testConv}
	newCurve := func(name string, kind clk.PointKind, eq, cpm, code vfe.Index) *clk.Curve {
		c := &clk.Curve{
			Name:   name,
			Kind:   kind,
			Domain: dom,
			Rel: &clk.Relationship{
				Smoothing: clk.Smoothing{Enabled: true, StepEquation: vfe.InvalidIndex, MaxStepMHz: 100},
			},
			Equation:           eq,
			CPMEquation:        cpm,
			DVCOOffsetEquation: code,
		}
		for i := 0; i < rail.Rows(); i++ {
			c.Points = append(c.Points, clk.Point{SourceUV: rail.RowVoltage(i)})
		}
		return c
	}

	env := &testEnv{
		eng:   clk.NewEngine(tbl, nil),
		est:   dvco.New(tbl),
		rails: rails,
		rail:  rail,
		curve: newCurve("gpc", clk.VoltPrimary, eqCurve, vfe.InvalidIndex, vfe.InvalidIndex),
		sec:   newCurve("gpc-sec", clk.VoltSecondary, eqSecondary, eqCPM, eqDVCOCode),
		tr:    bus.NewTrace(nil),
	}
	for _, c := range []*clk.Curve{env.curve, env.sec} {
		err = env.eng.Refresh(c, true)
		if err != nil {
			t.Fatalf("could not refresh curve %q: %+v", c.Name, err)
		}
	}
	err = env.est.Register(rail.Index, rail.DVCOMinEquation)
	if err != nil {
		t.Fatalf("could not register rail: %+v", err)
	}
	return env
}

func testConfig(name string, win uint8, v Version) Config {
	return Config{
		Name:              name,
		Window:            win,
		Version:           v,
		Rail:              0,
		Primary:           true,
		MDiv:              1,
		RefClkMHz:         27,
		RefDiv:            1,
		DVCO1x:            true,
		Domain1x:          true,
		FixedFreqLimitMHz: 300,
		VFGain:            3,
		DVCOMinEquation:   eqDVCOMin,
		CPM:               v == V30,
		Curve:             "gpc",
	}
}

func (env *testEnv) newDevice(t *testing.T, cfg Config, secondary bool) *Device {
	t.Helper()

	env.tr.Set(regs.Base(cfg.Window)+regs.STATUS, regs.STATUS_LOCK)

	var sec *clk.Curve
	if secondary {
		sec = env.sec
	}
	dev, err := NewDevice(
		cfg, env.tr, env.curve, sec,
		WithSleeper(env.tr),
		WithLogger(log.New(io.Discard, "fll: ", 0)),
	)
	if err != nil {
		t.Fatalf("could not create device: %+v", err)
	}
	err = dev.Init()
	if err != nil {
		t.Fatalf("could not init device: %+v", err)
	}
	return dev
}

func (env *testEnv) programLUT(t *testing.T, devs ...*Device) {
	t.Helper()
	err := ProgramAll(devs, env.eng, env.est, env.rails)
	if err != nil {
		t.Fatalf("could not program LUT: %+v", err)
	}
}

// index returns the index of the first operation in ops, at or after beg,
// matching the provided filter.
func index(ops []bus.Op, beg int, match func(op bus.Op) bool) int {
	for i := beg; i < len(ops); i++ {
		if match(ops[i]) {
			return i
		}
	}
	return -1
}

func write(addr uint32) func(op bus.Op) bool {
	return func(op bus.Op) bool {
		return op.Kind == bus.OpWrite && op.Addr == addr
	}
}

func sleep(op bus.Op) bool { return op.Kind == bus.OpSleep }
