// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fll

import (
	"errors"
	"testing"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/internal/regs"
	"github.com/go-lpc/nafll/volt"
)

func tempIndexFlips(ops []bus.Op, cur uint32) (int, uint32) {
	n := 0
	for _, op := range ops {
		if op.Kind != bus.OpWrite || op.Addr != regs.LUT_CFG {
			continue
		}
		idx := op.Value & regs.LUT_CFG_TEMP_INDEX_MASK
		if idx != cur {
			n++
			cur = idx
		}
	}
	return n, cur
}

func TestProgramLUT(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t, testConfig("gpc0", 0, V10), false)
	env.tr.Reset()

	env.programLUT(t, dev)

	var (
		ops    = env.tr.Ops()
		rows   = (env.rail.Rows() + 1) / regs.LUT_ROWS_PER_WRITE
		fill   = uint32(regs.LUT_FILLER_NDIV | regs.LUT_FILLER_VFGAIN<<regs.LUT_ENTRY_VFGAIN_SHIFT)
		word   = fill | fill<<regs.LUT_ENTRY_ODD_SHIFT
		data   = env.tr.Writes(regs.LUT_WRITE_DATA)
		fills  = regs.LUT_ROWS / regs.LUT_ROWS_PER_WRITE
		addrs  = env.tr.Writes(regs.LUT_WRITE_ADDR)
		slot1  = uint32(1)<<regs.LUT_WRITE_ADDR_TEMP_SHIFT | regs.LUT_WRITE_ADDR_AUTO_INC
		iCfg   = index(ops, 0, write(regs.LUT_CFG))
		iLastD = -1
	)
	if got, want := word, uint32(0x081c081c); got != want {
		t.Fatalf("invalid filler word: got=0x%x, want=0x%x", got, want)
	}
	if got, want := len(data), fills+rows; got != want {
		t.Fatalf("invalid number of LUT writes: got=%d, want=%d", got, want)
	}
	for i, v := range data[:fills] {
		if v != word {
			t.Fatalf("invalid filler write %d: got=0x%x, want=0x%x", i, v, word)
		}
	}
	if data[fills] == word {
		t.Fatalf("first table write is a filler word")
	}
	if len(addrs) != 2 || addrs[0] != slot1 || addrs[1] != slot1 {
		t.Fatalf("invalid LUT addresses: got=%x, want=[%x %x]", addrs, slot1, slot1)
	}
	for i, op := range ops {
		if write(regs.LUT_WRITE_DATA)(op) {
			iLastD = i
		}
	}
	if iCfg < iLastD {
		t.Fatalf("LUT slot activated before being written:\n%v", env.tr)
	}

	flips, idx := tempIndexFlips(ops, 0)
	if flips != 1 || idx != 1 {
		t.Fatalf("invalid temperature index flips: got=%d (idx=%d), want=1 (idx=1)", flips, idx)
	}
	if cfg := env.tr.Reg(regs.LUT_CFG); cfg&regs.LUT_CFG_READ_EN == 0 {
		t.Fatalf("LUT reads not enabled: 0x%x", cfg)
	}
	req := env.tr.Reg(regs.SW_FREQ_REQ)
	if got, want := OverrideMode(req>>regs.SW_FREQ_REQ_MODE_SHIFT), ModeHW; got != want {
		t.Fatalf("invalid override mode: got=%v, want=%v", got, want)
	}

	lut := dev.LUT()
	if !lut.Initialized || lut.CurrentTempIndex != 1 || lut.PrevTempIndex != 0 {
		t.Fatalf("invalid LUT state: %+v", lut)
	}

	// second programming: no filler, back to slot 0.
	env.tr.Reset()
	env.programLUT(t, dev)

	ops = env.tr.Ops()
	if got, want := len(env.tr.Writes(regs.LUT_WRITE_DATA)), rows; got != want {
		t.Fatalf("invalid number of LUT writes: got=%d, want=%d", got, want)
	}
	addrs = env.tr.Writes(regs.LUT_WRITE_ADDR)
	if len(addrs) != 1 || addrs[0] != regs.LUT_WRITE_ADDR_AUTO_INC {
		t.Fatalf("invalid LUT addresses: got=%x", addrs)
	}
	flips, idx = tempIndexFlips(ops, 1)
	if flips != 1 || idx != 0 {
		t.Fatalf("invalid temperature index flips: got=%d (idx=%d), want=1 (idx=0)", flips, idx)
	}
	if got := env.tr.Writes(regs.SW_FREQ_REQ); len(got) != 0 {
		t.Fatalf("override rewritten: %x", got)
	}

	lut = dev.LUT()
	if !lut.Initialized || lut.CurrentTempIndex != 0 || lut.PrevTempIndex != 1 {
		t.Fatalf("invalid LUT state: %+v", lut)
	}
}

func TestProgramLUTAfterReinit(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t, testConfig("gpc0", 0, V20), false)
	env.programLUT(t, dev)

	if got, want := env.tr.Reg(regs.LUT_CFG)&regs.LUT_CFG_TEMP_INDEX_MASK, uint32(1); got != want {
		t.Fatalf("invalid active slot: got=%d, want=%d", got, want)
	}

	err := dev.Init()
	if err != nil {
		t.Fatalf("could not re-init device: %+v", err)
	}
	if got, want := dev.LUT().CurrentTempIndex, uint8(1); got != want {
		t.Fatalf("invalid temperature index after re-init: got=%d, want=%d", got, want)
	}

	env.tr.Reset()
	env.programLUT(t, dev)

	slot0 := uint32(regs.LUT_WRITE_ADDR_AUTO_INC)
	for _, addr := range env.tr.Writes(regs.LUT_WRITE_ADDR) {
		if addr != slot0 {
			t.Fatalf("active LUT slot written: addr=0x%x, want=0x%x", addr, slot0)
		}
	}
	flips, idx := tempIndexFlips(env.tr.Ops(), 1)
	if flips != 1 || idx != 0 {
		t.Fatalf("invalid temperature index flips: got=%d (idx=%d), want=1 (idx=0)", flips, idx)
	}
	lut := dev.LUT()
	if !lut.Initialized || lut.CurrentTempIndex != 0 || lut.PrevTempIndex != 1 {
		t.Fatalf("invalid LUT state: %+v", lut)
	}
}

func TestComputeLUT(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t, testConfig("gpc0", 0, V10), false)

	tbl, err := dev.ComputeLUT(env.eng, env.est, env.rail)
	if err != nil {
		t.Fatalf("could not compute LUT: %+v", err)
	}
	if got, want := len(tbl), env.rail.Rows(); got != want {
		t.Fatalf("invalid number of rows: got=%d, want=%d", got, want)
	}

	// 1000MHz DVCO-min: ceil(1000/27).
	if got, want := tbl[0].NDiv, uint16(38); got != want {
		t.Fatalf("invalid first row: got=%d, want=%d", got, want)
	}
	if got, want := tbl[len(tbl)-1].NDiv, uint16(55); got != want {
		t.Fatalf("invalid last row: got=%d, want=%d", got, want)
	}
	for i, row := range tbl {
		if f := testConv.NDivToFreq(uint32(row.NDiv)); f < 1000 {
			t.Fatalf("row %d below DVCO-min: %dMHz", i, f)
		}
		if row.VFGain != 3 {
			t.Fatalf("row %d: invalid vfgain %d", i, row.VFGain)
		}
		if i > 0 && row.NDiv < tbl[i-1].NDiv {
			t.Fatalf("row %d decreasing: %d < %d", i, row.NDiv, tbl[i-1].NDiv)
		}
	}

	t.Run("too-many-rows", func(t *testing.T) {
		rail := env.rail
		rail.StepUV = 4000
		_, err := dev.ComputeLUT(env.eng, env.est, rail)
		if !errors.Is(err, nafll.ErrOutOfRange) {
			t.Fatalf("invalid error: got=%v, want=%v", err, nafll.ErrOutOfRange)
		}
	})
}

func TestComputeLUTSecondary(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t, testConfig("gpc0", 0, V30), true)

	tbl, err := dev.ComputeLUT(env.eng, env.est, env.rail)
	if err != nil {
		t.Fatalf("could not compute LUT: %+v", err)
	}
	last := tbl[len(tbl)-1]
	if got, want := last.NDivOffset, uint8(55-51); got != want {
		t.Fatalf("invalid NDIV offset: got=%d, want=%d", got, want)
	}
	if got, want := last.DVCOOffset, uint8(5); got != want {
		t.Fatalf("invalid DVCO offset: got=%d, want=%d", got, want)
	}
	if got, want := last.CPMOffset, uint8(2); got != want {
		t.Fatalf("invalid CPM offset: got=%d, want=%d", got, want)
	}
	if got, want := last.ext(), uint32(0x205); got != want {
		t.Fatalf("invalid ext word: got=0x%x, want=0x%x", got, want)
	}
}

func TestProgramLUTExt(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t, testConfig("gpc0", 0, V30), true)
	env.programLUT(t, dev)
	env.tr.Reset()
	env.programLUT(t, dev)

	var (
		ops  = env.tr.Ops()
		rows = (env.rail.Rows() + 1) / regs.LUT_ROWS_PER_WRITE
		ext  = env.tr.Writes(regs.LUT_WRITE_DATA_EXT)
	)
	if got, want := len(ext), rows; got != want {
		t.Fatalf("invalid number of ext writes: got=%d, want=%d", got, want)
	}
	for i, op := range ops {
		if !write(regs.LUT_WRITE_DATA_EXT)(op) {
			continue
		}
		if i+1 >= len(ops) || !write(regs.LUT_WRITE_DATA)(ops[i+1]) {
			t.Fatalf("ext write %d not followed by a data write:\n%v", i, env.tr)
		}
	}
	if got, want := ext[len(ext)-1], uint32(0x205|0x205<<regs.LUT_ENTRY_ODD_SHIFT); got != want {
		t.Fatalf("invalid last ext word: got=0x%x, want=0x%x", got, want)
	}
}

func TestProgramLUTFollowers(t *testing.T) {
	env := newTestEnv(t)
	var (
		pri = env.newDevice(t, testConfig("gpc0", 0, V20), false)
		cfg = testConfig("gpc1", 1, V20)
	)
	cfg.Primary = false
	fol := env.newDevice(t, cfg, false)
	env.tr.Reset()

	env.programLUT(t, pri, fol)

	if got, want := fol.LUT().CurrentTempIndex, pri.LUT().CurrentTempIndex; got != want {
		t.Fatalf("invalid follower temperature index: got=%d, want=%d", got, want)
	}
	if !fol.LUT().Initialized {
		t.Fatalf("follower LUT not initialized")
	}
	if got, want := fol.LUT().Override.Mode, ModeSW; got != want {
		t.Fatalf("follower override modified: got=%v, want=%v", got, want)
	}
	base := regs.Base(1)
	for _, op := range env.tr.Ops() {
		if op.Kind == bus.OpWrite && op.Addr >= base && op.Addr < base+regs.WINDOW_STRIDE {
			t.Fatalf("follower registers written: %v", op)
		}
	}

	err := fol.Configure(Target{MHz: 1200, Regime: FR, DVCOMinMHz: 800, VoltageUV: 1000000})
	if err != nil {
		t.Fatalf("could not configure follower: %+v", err)
	}
}

func TestProgramLUTErrors(t *testing.T) {
	env := newTestEnv(t)
	cfg := testConfig("gpc0", 0, V20)
	cfg.Rail = 3
	dev := env.newDevice(t, cfg, false)
	env.tr.Reset()

	err := ProgramAll([]*Device{dev}, env.eng, env.est, env.rails)
	if !errors.Is(err, nafll.ErrInvalidArgument) {
		t.Fatalf("invalid error: got=%v, want=%v", err, nafll.ErrInvalidArgument)
	}
	if ops := env.tr.Ops(); len(ops) != 0 {
		t.Fatalf("LUT written on error:\n%v", env.tr)
	}
	if dev.LUT().Initialized {
		t.Fatalf("LUT flagged as initialized")
	}

	var _ Rails = (*volt.Cache)(nil)
}
