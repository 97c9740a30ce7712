// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of a NAFLL window.
package regs // import "github.com/go-lpc/nafll/internal/regs"

// Each NAFLL instance exposes its registers in a fixed-size window.
const (
	WINDOW_STRIDE = 0x100
)

// Base returns the address of the register window of a NAFLL instance.
func Base(win uint8) uint32 {
	return uint32(win) * WINDOW_STRIDE
}

// register offsets, relative to the window base.
const (
	SW_FREQ_REQ        = 0x00
	PLDIV              = 0x04
	CLFC_CTRL          = 0x08
	CLFC_VOLT_DELTA    = 0x0c
	CPM_CTRL           = 0x10
	LUT_CFG            = 0x14
	LUT_WRITE_ADDR     = 0x18
	LUT_WRITE_DATA     = 0x1c
	LUT_WRITE_DATA_EXT = 0x20
	ADC_CTRL           = 0x24
	STATUS             = 0x28
	COEFF              = 0x2c
)

// SW_FREQ_REQ fields.
const (
	SW_FREQ_REQ_NDIV_MASK      = 0x3ff
	SW_FREQ_REQ_VFGAIN_SHIFT   = 12
	SW_FREQ_REQ_VFGAIN_MASK    = 0xf
	SW_FREQ_REQ_NDIV_OFF_SHIFT = 16
	SW_FREQ_REQ_NDIV_OFF_MASK  = 0x3f
	SW_FREQ_REQ_DVCO_OFF_SHIFT = 22
	SW_FREQ_REQ_DVCO_OFF_MASK  = 0x3f
	SW_FREQ_REQ_MODE_SHIFT     = 30
	SW_FREQ_REQ_MODE_MASK      = 0x3
	SW_FREQ_REQ_MODE_HW        = 0x0 // frequency from the LUT
	SW_FREQ_REQ_MODE_SW        = 0x1 // frequency from NDIV
	SW_FREQ_REQ_MODE_MIN       = 0x2 // min of LUT and NDIV
)

// PLDIV fields.
const (
	PLDIV_MASK = 0x3f
	PLDIV_MAX  = 2
)

// CLFC_CTRL fields.
const (
	CLFC_CTRL_ENABLE        = 1 << 0
	CLFC_CTRL_SUSPEND_SHIFT = 8
	CLFC_CTRL_SUSPEND_MASK  = 0xff
)

// CPM_CTRL fields.
const (
	CPM_CTRL_OFFSET_MASK     = 0xffff
	CPM_CTRL_OFFSET_OVERRIDE = 1 << 31
)

// LUT_CFG fields.
const (
	LUT_CFG_TEMP_INDEX_MASK = 0x3
	LUT_CFG_READ_EN         = 1 << 8
)

// LUT_WRITE_ADDR fields.
const (
	LUT_WRITE_ADDR_ROW_MASK   = 0x3f
	LUT_WRITE_ADDR_TEMP_SHIFT = 8
	LUT_WRITE_ADDR_AUTO_INC   = 1 << 31
)

// LUT entries.
const (
	LUT_ROWS           = 64 // rows per temperature slot
	LUT_TEMP_SLOTS     = 2
	LUT_ROWS_PER_WRITE = 2

	LUT_ENTRY_NDIV_MASK      = 0x3ff
	LUT_ENTRY_VFGAIN_SHIFT   = 10
	LUT_ENTRY_VFGAIN_MASK    = 0xf
	LUT_ENTRY_NDIV_OFF_SHIFT = 10
	LUT_ENTRY_NDIV_OFF_MASK  = 0x3f
	LUT_ENTRY_EXT_DVCO_MASK  = 0x3f
	LUT_ENTRY_EXT_CPM_SHIFT  = 8
	LUT_ENTRY_EXT_CPM_MASK   = 0xff
	LUT_ENTRY_ODD_SHIFT      = 16
	LUT_FILLER_NDIV          = 28
	LUT_FILLER_VFGAIN        = 2
)

// ADC_CTRL fields.
const (
	ADC_CTRL_POWER     = 1 << 0
	ADC_CTRL_ENABLE    = 1 << 1
	ADC_CTRL_CAL_VALID = 1 << 4
	ADC_CTRL_CAL_SHIFT = 16
	ADC_CTRL_CAL_MASK  = 0xff
)

// STATUS fields.
const (
	STATUS_LOCK = 1 << 0
)

// COEFF fields.
const (
	COEFF_MDIV_MASK = 0xff
)
