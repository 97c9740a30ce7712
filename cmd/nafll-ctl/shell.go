// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/conddb"
	"github.com/go-lpc/nafll/fll"
	"github.com/go-lpc/nafll/perf"
	"github.com/go-lpc/nafll/volt"
	"periph.io/x/conn/v3/physic"
)

var errQuit = errors.New("nafll-ctl: quit")

type command struct {
	args string
	help string
	run  func(sh *shell, args []string) error
}

type shell struct {
	w    io.Writer
	ctx  *perf.Context
	tr   *bus.Trace // nil when driving real registers
	cmds map[string]command
}

func newShell(w io.Writer, brd *conddb.Board, src volt.Source, b bus.Bus, opts ...perf.Option) (*shell, error) {
	tbl, pb, err := brd.Setup()
	if err != nil {
		return nil, fmt.Errorf("could not setup board %q: %w", brd.Name, err)
	}

	ctx, err := perf.New(tbl, src, b, pb, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create context: %w", err)
	}

	err = ctx.Init()
	if err != nil {
		return nil, fmt.Errorf("could not initialize board %q: %w", brd.Name, err)
	}

	sh := &shell{
		w:   w,
		ctx: ctx,
		cmds: map[string]command{
			"help":    {"", "print this help", (*shell).help},
			"devices": {"", "list NAFLLs", (*shell).devices},
			"curves":  {"", "list VF curves", (*shell).curves},
			"curve":   {"<curve>", "print the points of a VF curve", (*shell).curve},
			"status":  {"[nafll...]", "print the regime of NAFLLs", (*shell).status},
			"program": {"<nafll> <freq> [override]", "classify and program a frequency", (*shell).program},
			"lut":     {"", "recompute and program the LUTs", (*shell).lut},
			"refresh": {"[eval]", "refresh the VF curves and the LUTs", (*shell).refresh},
			"volt":    {"<rail> [voltage]", "print or set a rail voltage", (*shell).volt},
			"temp":    {"[m°C]", "print or set the temperature", (*shell).temp},
			"delta":   {"<curve> <voltage> <delta>", "set the frequency delta of a point (kHz, MHz or %)", (*shell).delta},
			"trace":   {"", "print and clear the simulated register accesses", (*shell).trace},
			"quit":    {"", "exit the shell", (*shell).quit},
		},
	}
	if tr, ok := b.(*bus.Trace); ok {
		sh.tr = tr
		tr.Reset()
	}
	return sh, nil
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name := toks[0]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := sh.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q", toks[0])
	}
	return cmd.run(sh, toks[1:])
}

func (sh *shell) complete(line string) []string {
	var out []string
	for name := range sh.cmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (sh *shell) help(args []string) error {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	o := tabwriter.NewWriter(sh.w, 0, 8, 2, ' ', 0)
	for _, name := range names {
		cmd := sh.cmds[name]
		fmt.Fprintf(o, "%s %s\t%s\n", name, cmd.args, cmd.help)
	}
	return o.Flush()
}

func (sh *shell) devices(args []string) error {
	o := tabwriter.NewWriter(sh.w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(o, "name\twindow\tversion\trail\tprimary\tcurve\n")
	for _, name := range sh.ctx.Devices() {
		cfg, err := sh.ctx.Config(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(o, "%s\t%d\t%v\t%d\t%v\t%s\n",
			cfg.Name, cfg.Window, cfg.Version, cfg.Rail, cfg.Primary, cfg.Curve,
		)
	}
	return o.Flush()
}

func (sh *shell) curves(args []string) error {
	for _, name := range sh.ctx.Curves() {
		c, err := sh.ctx.Curve(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "%s\t%v\tfmax=%dMHz\n", c.Name, c.Kind, c.MaxMHz())
	}
	return nil
}

func (sh *shell) curve(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("curve: expects a curve name")
	}
	c, err := sh.ctx.Curve(args[0])
	if err != nil {
		return err
	}

	o := tabwriter.NewWriter(sh.w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(o, "volt(µV)\tbase(MHz)\toffset(MHz)\tcpm(MHz)\tdvco\tdelta\t\n")
	for _, pt := range c.Points {
		fmt.Fprintf(o, "%d\t%d\t%d\t%d\t%d\t%s\t\n",
			pt.SourceUV,
			pt.Base.Freqs[0], pt.Offset.Freqs[0],
			pt.Offset.CPMMaxFreqOffsetMHz, pt.Offset.DVCOOffsetCode,
			fmtDelta(pt.Delta),
		)
	}
	return o.Flush()
}

func (sh *shell) status(args []string) error {
	names := args
	if len(names) == 0 {
		names = sh.ctx.Devices()
	}

	o := tabwriter.NewWriter(sh.w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(o, "name\tregime\tfreq(MHz)\tpldiv\tdvco-min(MHz)\tlut\n")
	for _, name := range names {
		st, err := sh.ctx.Status(name)
		if err != nil {
			return err
		}
		lut, err := sh.ctx.LUT(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(o, "%s\t%v\t%d\t%d\t%d\t%d\n",
			name, st.CurrentRegime, st.CurrentMHz, st.PLDiv, st.DVCOMinMHz,
			lut.CurrentTempIndex,
		)
	}
	return o.Flush()
}

func (sh *shell) program(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("program: expects a NAFLL, a frequency and an optional override")
	}
	mhz, err := parseMHz(args[1])
	if err != nil {
		return err
	}
	ovr := fll.OverrideNone
	if len(args) == 3 {
		ovr, err = fll.ParseOverride(args[2])
		if err != nil {
			return err
		}
	}

	st, err := sh.ctx.ClassifyAndProgram(args[0], mhz, ovr)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%s: regime=%v freq=%dMHz pldiv=%d\n",
		args[0], st.CurrentRegime, st.CurrentMHz, st.PLDiv,
	)
	return nil
}

func (sh *shell) lut(args []string) error {
	err := sh.ctx.ProgramLUT()
	if err != nil {
		return err
	}
	return sh.status(nil)
}

func (sh *shell) refresh(args []string) error {
	eval := len(args) == 1 && args[0] == "eval"
	return sh.ctx.Update(eval)
}

func (sh *shell) volt(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("volt: expects a rail and an optional voltage")
	}
	rail, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("volt: invalid rail %q: %w", args[0], err)
	}
	if len(args) == 2 {
		uv, err := parseUV(args[1])
		if err != nil {
			return err
		}
		err = sh.ctx.SetVoltage(uint8(rail), uv)
		if err != nil {
			return err
		}
	}

	uv, err := sh.ctx.Voltage(uint8(rail))
	if err != nil {
		return err
	}
	dmin, err := sh.ctx.DVCOMin(uint8(rail))
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "rail %d: %v dvco-min=%dMHz\n",
		rail, physic.ElectricPotential(uv)*physic.MicroVolt, dmin,
	)
	return nil
}

func (sh *shell) temp(args []string) error {
	switch len(args) {
	case 0:
	case 1:
		mc, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("temp: invalid temperature %q: %w", args[0], err)
		}
		err = sh.ctx.SetTemperature(int32(mc))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("temp: expects an optional temperature")
	}
	fmt.Fprintf(sh.w, "temperature: %dm°C\n", sh.ctx.Temperature())
	return nil
}

func (sh *shell) delta(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("delta: expects a curve, a voltage and a delta")
	}
	uv, err := parseUV(args[1])
	if err != nil {
		return err
	}
	d, err := parseDelta(args[2])
	if err != nil {
		return err
	}
	return sh.ctx.SetFreqDelta(args[0], uv, d)
}

func (sh *shell) trace(args []string) error {
	if sh.tr == nil {
		return fmt.Errorf("trace: registers are not simulated")
	}
	fmt.Fprintf(sh.w, "%v", sh.tr)
	sh.tr.Reset()
	return nil
}

func (sh *shell) quit(args []string) error {
	return errQuit
}

// parseMHz parses a frequency in MHz, or with a unit (1.2GHz).
func parseMHz(s string) (uint32, error) {
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	var f physic.Frequency
	err := f.Set(s)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid negative frequency %q", s)
	}
	return uint32(f / physic.MegaHertz), nil
}

// parseUV parses a voltage in µV, or with a unit (850mV).
func parseUV(s string) (uint32, error) {
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	var v physic.ElectricPotential
	err := v.Set(s)
	if err != nil {
		return 0, fmt.Errorf("invalid voltage %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid negative voltage %q", s)
	}
	return uint32(v / physic.MicroVolt), nil
}

// parseDelta parses a frequency delta: kHz (54000), with a unit (54MHz)
// or a percentage (1.5%).
func parseDelta(s string) (clk.FreqDelta, error) {
	sign := int32(1)
	v := s
	if strings.HasPrefix(v, "-") {
		sign = -1
		v = v[1:]
	}

	if strings.HasSuffix(v, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil {
			return clk.FreqDelta{}, fmt.Errorf("invalid delta %q: %w", s, err)
		}
		return clk.FreqDelta{Kind: clk.DeltaPercent, Value: sign * int32(math.Round(pct*100))}, nil
	}

	if khz, err := strconv.ParseInt(v, 10, 32); err == nil {
		return clk.FreqDelta{Kind: clk.DeltaStatic, Value: sign * int32(khz)}, nil
	}
	var f physic.Frequency
	err := f.Set(v)
	if err != nil {
		return clk.FreqDelta{}, fmt.Errorf("invalid delta %q: %w", s, err)
	}
	return clk.FreqDelta{Kind: clk.DeltaStatic, Value: sign * int32(f/physic.KiloHertz)}, nil
}

func fmtDelta(d clk.FreqDelta) string {
	switch {
	case d.IsZero():
		return "-"
	case d.Kind == clk.DeltaPercent:
		return fmt.Sprintf("%+.2f%%", float64(d.Value)/100)
	default:
		return fmt.Sprintf("%+dkHz", d.Value)
	}
}
