// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hw opens the register bus and the rail voltage sources of a board.
package hw // import "github.com/go-lpc/nafll/internal/hw"

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/fll"
	"github.com/go-lpc/nafll/internal/mmap"
	"github.com/go-lpc/nafll/internal/regs"
	"github.com/go-lpc/nafll/volt"
)

// Span returns the size of the register space holding the windows of devs.
func Span(devs []fll.Config) int {
	var max uint8
	for _, dev := range devs {
		if dev.Window > max {
			max = dev.Window
		}
	}
	return int(regs.Base(max) + regs.WINDOW_STRIDE)
}

// Sim returns an in-memory register file where every NAFLL of devs
// reports a locked loop.
func Sim(devs []fll.Config) *bus.Trace {
	init := make(map[uint32]uint32, len(devs))
	for _, dev := range devs {
		init[regs.Base(dev.Window)+regs.STATUS] = regs.STATUS_LOCK
	}
	return bus.NewTrace(init)
}

// Mem is a register bus over the memory-mapped windows of a board.
type Mem struct {
	*bus.Mem
	h *mmap.Handle
}

// OpenMem maps the register windows of devs from the memory device fname,
// starting at the physical address base.
func OpenMem(fname string, base int64, devs []fll.Config) (*Mem, error) {
	h, err := mmap.Open(fname, base, Span(devs))
	if err != nil {
		return nil, fmt.Errorf("hw: could not map NAFLL windows: %w", err)
	}
	return &Mem{Mem: bus.NewMem(h), h: h}, nil
}

func (m *Mem) Close() error {
	return m.h.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenVolt opens the rail voltage source described by spec:
//
//	""                     every rail at uv
//	"smbus:<bus>:<addr>"   PMBus regulator on /dev/i2c-<bus>
//	"i2c:<name>:<addr>"    PMBus regulator on a periph.io I2C bus
//
// Regulator output pages are numbered after the rail indices.
func OpenVolt(spec string, rails []volt.Rail, uv uint32) (volt.Source, io.Closer, error) {
	if spec == "" {
		src := make(volt.Static, len(rails))
		for _, r := range rails {
			src[r.Index] = uv
		}
		return src, nopCloser{}, nil
	}

	toks := strings.Split(spec, ":")
	if len(toks) != 3 {
		return nil, nil, fmt.Errorf("hw: invalid voltage source %q: %w", spec, nafll.ErrInvalidArgument)
	}
	addr, err := strconv.ParseUint(toks[2], 0, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("hw: invalid regulator address %q: %w", toks[2], nafll.ErrInvalidArgument)
	}
	pages := make(map[uint8]uint8, len(rails))
	for _, r := range rails {
		pages[r.Index] = r.Index
	}

	switch toks[0] {
	case "smbus":
		n, err := strconv.Atoi(toks[1])
		if err != nil {
			return nil, nil, fmt.Errorf("hw: invalid smbus adapter %q: %w", toks[1], nafll.ErrInvalidArgument)
		}
		reg, err := volt.OpenSMBus(n, uint8(addr), pages)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg, nil
	case "i2c":
		reg, err := volt.OpenI2C(toks[1], uint8(addr), pages)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg, nil
	}
	return nil, nil, fmt.Errorf("hw: unknown voltage source kind %q: %w", toks[0], nafll.ErrInvalidArgument)
}
