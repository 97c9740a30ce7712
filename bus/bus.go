// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bus provides access to the registers of NAFLL devices.
package bus // import "github.com/go-lpc/nafll/bus"

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Bus reads and writes 32-bit registers.
type Bus interface {
	ReadRegister(addr uint32) (uint32, error)
	WriteRegister(addr, v uint32) error
}

// Sleeper waits for a fixed duration. Waits are not cancellable.
type Sleeper interface {
	Sleep(d time.Duration)
}

// Spin is a busy-wait Sleeper.
type Spin struct{}

func (Spin) Sleep(d time.Duration) {
	for beg := time.Now(); time.Since(beg) < d; {
	}
}

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Mem is a Bus over a memory-mapped register window.
// Registers are little-endian.
type Mem struct {
	rw  rwer
	buf [4]byte
}

// NewMem returns a bus reading and writing registers from rw.
func NewMem(rw interface {
	io.ReaderAt
	io.WriterAt
}) *Mem {
	return &Mem{rw: rw}
}

func (m *Mem) ReadRegister(addr uint32) (uint32, error) {
	_, err := m.rw.ReadAt(m.buf[:], int64(addr))
	if err != nil {
		return 0, fmt.Errorf("bus: could not read register 0x%x: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(m.buf[:]), nil
}

func (m *Mem) WriteRegister(addr, v uint32) error {
	binary.LittleEndian.PutUint32(m.buf[:], v)
	_, err := m.rw.WriteAt(m.buf[:], int64(addr))
	if err != nil {
		return fmt.Errorf("bus: could not write register 0x%x: %w", addr, err)
	}
	return nil
}

var (
	_ Bus     = (*Mem)(nil)
	_ Sleeper = Spin{}
)
