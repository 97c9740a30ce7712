// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fll

import (
	"fmt"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/dvco"
	"github.com/go-lpc/nafll/internal/regs"
	"github.com/go-lpc/nafll/volt"
	"golang.org/x/sync/errgroup"
)

// Row is one LUT entry.
type Row struct {
	NDiv       uint16
	VFGain     uint8 // V10
	NDivOffset uint8 // V20+
	DVCOOffset uint8 // V30
	CPMOffset  uint8 // V30, in NDIV units
}

func (row Row) data(v Version) uint32 {
	o := uint32(row.NDiv) & regs.LUT_ENTRY_NDIV_MASK
	switch v {
	case V10:
		o |= (uint32(row.VFGain) & regs.LUT_ENTRY_VFGAIN_MASK) << regs.LUT_ENTRY_VFGAIN_SHIFT
	default:
		o |= (uint32(row.NDivOffset) & regs.LUT_ENTRY_NDIV_OFF_MASK) << regs.LUT_ENTRY_NDIV_OFF_SHIFT
	}
	return o
}

func (row Row) ext() uint32 {
	o := uint32(row.DVCOOffset) & regs.LUT_ENTRY_EXT_DVCO_MASK
	o |= (uint32(row.CPMOffset) & regs.LUT_ENTRY_EXT_CPM_MASK) << regs.LUT_ENTRY_EXT_CPM_SHIFT
	return o
}

// Table is the content of one LUT temperature slot, one row per rail
// voltage step.
type Table []Row

func filler() Table {
	tbl := make(Table, regs.LUT_ROWS)
	for i := range tbl {
		tbl[i] = Row{NDiv: regs.LUT_FILLER_NDIV, VFGain: regs.LUT_FILLER_VFGAIN}
	}
	return tbl
}

// row builds the LUT entry for a divider count n. spt is the point of the
// secondary curve at the same voltage, if any.
func (dev *Device) row(n uint32, spt *clk.Point) Row {
	row := Row{
		NDiv:   uint16(n),
		VFGain: dev.cfg.VFGain,
	}
	if spt == nil || !dev.cfg.Version.HasPLDiv() {
		return row
	}

	sn := dev.conv.FreqToNDiv(spt.MHz(), true)
	if n > sn {
		row.NDivOffset = uint8(min(n-sn, regs.LUT_ENTRY_NDIV_OFF_MASK))
	}
	if dev.cfg.Version.HasCPM() {
		row.DVCOOffset = spt.Offset.DVCOOffsetCode & regs.LUT_ENTRY_EXT_DVCO_MASK
		if cpm := uint32(spt.Offset.CPMMaxFreqOffsetMHz); cpm != 0 && dev.cpm() {
			row.CPMOffset = uint8(min(dev.conv.FreqToNDiv(cpm, true), regs.LUT_ENTRY_EXT_CPM_MASK))
		}
	}
	return row
}

// Rails gives access to rail descriptions.
type Rails interface {
	Rail(idx uint8) (volt.Rail, error)
}

// ComputeLUT computes the LUT rows of the device, one per voltage step of
// its rail. Rows follow the device VF curve and never go below the DVCO
// minimum at their voltage.
//
// ComputeLUT only reads the engine, the estimator and the curves: it may
// run concurrently for several devices as long as the equation evaluator
// is safe for concurrent use.
func (dev *Device) ComputeLUT(eng *clk.Engine, est *dvco.Estimator, rail volt.Rail) (Table, error) {
	err := rail.Validate()
	if err != nil {
		return nil, fmt.Errorf("fll: could not compute %q LUT: %w", dev.cfg.Name, err)
	}
	n := rail.Rows()
	if n > regs.LUT_ROWS {
		return nil, fmt.Errorf(
			"fll: rail %q needs %d LUT rows (max=%d): %w",
			rail.Name, n, regs.LUT_ROWS, nafll.ErrOutOfRange,
		)
	}

	var (
		tbl   = make(Table, n)
		prev  *clk.Point
		sprev *clk.Point
	)
	for i := range tbl {
		uv := rail.RowVoltage(i)
		pt := &clk.Point{SourceUV: uv}
		err = eng.CachePoint(dev.curve, pt, prev, true)
		if err != nil {
			return nil, fmt.Errorf("fll: could not compute %q LUT row %d: %w", dev.cfg.Name, i, err)
		}
		prev = pt

		dmin, err := est.At(rail.Index, uv)
		if err != nil {
			return nil, fmt.Errorf("fll: could not compute %q LUT row %d: %w", dev.cfg.Name, i, err)
		}

		var nd uint32
		switch f := pt.MHz(); {
		case f < dmin:
			nd = dev.conv.FreqToNDiv(dmin, false)
		default:
			nd = dev.conv.FreqToNDiv(f, true)
		}
		if nd > regs.LUT_ENTRY_NDIV_MASK {
			return nil, fmt.Errorf(
				"fll: %q LUT row %d NDIV %d at %duV: %w",
				dev.cfg.Name, i, nd, uv, nafll.ErrOutOfRange,
			)
		}

		var spt *clk.Point
		if dev.secondary != nil {
			spt = &clk.Point{SourceUV: uv}
			err = eng.CachePoint(dev.secondary, spt, sprev, true)
			if err != nil {
				return nil, fmt.Errorf("fll: could not compute %q LUT row %d secondary: %w", dev.cfg.Name, i, err)
			}
			sprev = spt
		}
		tbl[i] = dev.row(nd, spt)
		if verbose {
			dev.msg.Printf("%s: row[%02d] %duV: %+v", dev.cfg.Name, i, uv, tbl[i])
		}
	}
	return tbl, nil
}

// ProgramAll programs the LUT of every primary device.
//
// Tables are first computed for all devices. The non-active temperature
// slot of each device is then written, two rows at a time, before being
// made active. The very first programming of a device is preceded by a
// filler pass and followed by the release of the bring-up override and
// the enabling of LUT reads.
//
// Non-primary devices read the LUT of the primary device of their rail
// and inherit its state.
func ProgramAll(devs []*Device, eng *clk.Engine, est *dvco.Estimator, rails Rails) error {
	var primaries []*Device
	for _, dev := range devs {
		if dev.cfg.Primary {
			primaries = append(primaries, dev)
		}
	}

	var (
		grp    errgroup.Group
		tables = make([]Table, len(primaries))
	)
	for i := range primaries {
		i := i
		dev := primaries[i]
		grp.Go(func() error {
			rail, err := rails.Rail(dev.cfg.Rail)
			if err != nil {
				return fmt.Errorf("fll: could not find %q rail: %w", dev.cfg.Name, err)
			}
			tables[i], err = dev.ComputeLUT(eng, est, rail)
			return err
		})
	}
	err := grp.Wait()
	if err != nil {
		return err
	}

	for i, dev := range primaries {
		err = dev.writeLUT(tables[i])
		if err != nil {
			return err
		}
		for _, o := range devs {
			if o.cfg.Primary || o.cfg.Rail != dev.cfg.Rail {
				continue
			}
			ovr := o.lut.Override
			o.lut = dev.lut
			o.lut.Override = ovr
		}
	}
	return nil
}

func (dev *Device) writeLUT(tbl Table) error {
	if len(tbl) > regs.LUT_ROWS {
		return fmt.Errorf("fll: %q LUT has too many rows (%d): %w", dev.cfg.Name, len(tbl), nafll.ErrOutOfRange)
	}

	dev.err = nil

	// the active slot is the one hardware reads from, whatever the
	// software state says.
	cfg := dev.readU32(regs.LUT_CFG)
	if dev.err != nil {
		return fmt.Errorf("fll: could not read %q LUT configuration: %w", dev.cfg.Name, dev.err)
	}
	var (
		cur   = uint8(cfg&regs.LUT_CFG_TEMP_INDEX_MASK) % regs.LUT_TEMP_SLOTS
		next  = (cur + 1) % regs.LUT_TEMP_SLOTS
		first = !dev.lut.Initialized
	)

	if first {
		dev.writeSlot(next, filler())
	}
	dev.writeSlot(next, tbl)

	cfg = cfg&^regs.LUT_CFG_TEMP_INDEX_MASK | uint32(next)&regs.LUT_CFG_TEMP_INDEX_MASK
	dev.writeU32(regs.LUT_CFG, cfg)

	if cal := dev.cfg.ADCCalibration; cal != 0 {
		adc := dev.readU32(regs.ADC_CTRL)
		adc &^= regs.ADC_CTRL_CAL_MASK << regs.ADC_CTRL_CAL_SHIFT
		adc |= uint32(cal)<<regs.ADC_CTRL_CAL_SHIFT | regs.ADC_CTRL_CAL_VALID
		dev.writeU32(regs.ADC_CTRL, adc)
	}

	if first {
		ovr := dev.lut.Override
		ovr.Mode = ModeHW
		dev.writeOverride(ovr)
		dev.writeU32(regs.LUT_CFG, cfg|regs.LUT_CFG_READ_EN)
	}

	if dev.err != nil {
		return fmt.Errorf("fll: could not program %q LUT slot %d: %w", dev.cfg.Name, next, dev.err)
	}
	dev.lut.PrevTempIndex = cur
	dev.lut.CurrentTempIndex = next
	dev.lut.Initialized = true
	return nil
}

// writeSlot writes a table into a LUT temperature slot, two rows per
// write.
func (dev *Device) writeSlot(slot uint8, tbl Table) {
	dev.writeU32(
		regs.LUT_WRITE_ADDR,
		uint32(slot)<<regs.LUT_WRITE_ADDR_TEMP_SHIFT|regs.LUT_WRITE_ADDR_AUTO_INC,
	)
	for i := 0; i < len(tbl); i += regs.LUT_ROWS_PER_WRITE {
		lo := tbl[i]
		hi := lo
		if i+1 < len(tbl) {
			hi = tbl[i+1]
		}
		if dev.cfg.Version.HasCPM() {
			dev.writeU32(regs.LUT_WRITE_DATA_EXT, lo.ext()|hi.ext()<<regs.LUT_ENTRY_ODD_SHIFT)
		}
		dev.writeU32(
			regs.LUT_WRITE_DATA,
			lo.data(dev.cfg.Version)|hi.data(dev.cfg.Version)<<regs.LUT_ENTRY_ODD_SHIFT,
		)
	}
}
