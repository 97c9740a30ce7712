// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package volt

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-daq/smbus"
	"github.com/go-lpc/nafll"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PMBus commands.
const (
	cmdPage     = 0x00
	cmdVoutMode = 0x20
	cmdReadVout = 0x8b
)

// pmbus is the subset of SMBus transactions a regulator needs.
type pmbus interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	ReadWord(addr, reg uint8) (uint16, error)
}

// Regulator is a PMBus voltage regulator serving one or more rails.
// Each rail is mapped to a regulator output page.
type Regulator struct {
	mu    sync.Mutex
	bus   pmbus
	addr  uint8
	pages map[uint8]uint8
	close func() error
}

// OpenSMBus opens the PMBus regulator at addr on the /dev/i2c-<bus> SMBus
// adapter. pages maps a rail index to its regulator output page.
func OpenSMBus(bus int, addr uint8, pages map[uint8]uint8) (*Regulator, error) {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("volt: could not open smbus %d (addr=0x%x): %w", bus, addr, err)
	}
	return newRegulator(conn, addr, pages, conn.Close), nil
}

// OpenI2C opens the PMBus regulator at addr on the named I2C bus, through
// the periph.io host drivers.
func OpenI2C(name string, addr uint8, pages map[uint8]uint8) (*Regulator, error) {
	_, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("volt: could not initialize host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("volt: could not open i2c bus %q: %w", name, err)
	}
	return newRegulator(&i2cBus{bus: bus}, addr, pages, bus.Close), nil
}

func newRegulator(bus pmbus, addr uint8, pages map[uint8]uint8, closer func() error) *Regulator {
	reg := &Regulator{
		bus:   bus,
		addr:  addr,
		pages: make(map[uint8]uint8, len(pages)),
		close: closer,
	}
	for rail, page := range pages {
		reg.pages[rail] = page
	}
	return reg
}

// Close releases the underlying bus.
func (reg *Regulator) Close() error {
	if reg.close == nil {
		return nil
	}
	return reg.close()
}

// Voltage implements Source, reading the regulator output voltage.
func (reg *Regulator) Voltage(rail uint8) (uint32, error) {
	page, ok := reg.pages[rail]
	if !ok {
		return 0, fmt.Errorf("volt: rail %d not served by regulator 0x%x: %w", rail, reg.addr, nafll.ErrInvalidArgument)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	err := reg.bus.WriteReg(reg.addr, cmdPage, page)
	if err != nil {
		return 0, fmt.Errorf("volt: could not select page %d: %w", page, err)
	}
	mode, err := reg.bus.ReadReg(reg.addr, cmdVoutMode)
	if err != nil {
		return 0, fmt.Errorf("volt: could not read VOUT_MODE: %w", err)
	}
	vout, err := reg.bus.ReadWord(reg.addr, cmdReadVout)
	if err != nil {
		return 0, fmt.Errorf("volt: could not read READ_VOUT: %w", err)
	}
	return linear16(mode, vout)
}

// linear16 decodes a PMBus LINEAR16 voltage into micro-volts.
// The exponent is the 5-bit two's complement value of VOUT_MODE.
func linear16(mode uint8, mantissa uint16) (uint32, error) {
	if mode>>5 != 0 {
		return 0, fmt.Errorf("volt: VOUT_MODE 0x%x is not linear: %w", mode, nafll.ErrNotSupported)
	}
	exp := int(mode & 0x1f)
	if exp > 0xf {
		exp -= 0x20
	}
	uv := uint64(mantissa) * 1e6
	switch {
	case exp < 0:
		uv >>= uint(-exp)
	default:
		uv <<= uint(exp)
	}
	if uv > 1<<32-1 {
		return 0, fmt.Errorf("volt: READ_VOUT overflows: %w", nafll.ErrOutOfRange)
	}
	return uint32(uv), nil
}

type i2cBus struct {
	bus i2c.Bus
}

func (b *i2cBus) dev(addr uint8) *i2c.Dev {
	return &i2c.Dev{Addr: uint16(addr), Bus: b.bus}
}

func (b *i2cBus) ReadReg(addr, reg uint8) (uint8, error) {
	var v [1]byte
	err := b.dev(addr).Tx([]byte{reg}, v[:])
	return v[0], err
}

func (b *i2cBus) WriteReg(addr, reg, v uint8) error {
	return b.dev(addr).Tx([]byte{reg, v}, nil)
}

func (b *i2cBus) ReadWord(addr, reg uint8) (uint16, error) {
	var v [2]byte
	err := b.dev(addr).Tx([]byte{reg}, v[:])
	return binary.LittleEndian.Uint16(v[:]), err
}

var (
	_ Source    = (*Regulator)(nil)
	_ Source    = (*Cache)(nil)
	_ Source    = (Static)(nil)
	_ pmbus     = (*smbus.Conn)(nil)
	_ pmbus     = (*i2cBus)(nil)
	_ io.Closer = (*Regulator)(nil)
)
