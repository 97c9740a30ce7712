// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fll

import (
	"fmt"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/internal/regs"
)

// Target is a frequency request for a NAFLL.
type Target struct {
	MHz        uint32
	Regime     Regime
	DVCOMinMHz uint32
	VoltageUV  uint32 // rail voltage, selects the secondary curve offsets
}

// Configure validates a request and stages it as the target status of the
// device. Nothing is written to the hardware.
func (dev *Device) Configure(tgt Target) error {
	if !dev.lut.Initialized {
		return fmt.Errorf("fll: %q LUT is not initialized: %w", dev.cfg.Name, nafll.ErrInvalidState)
	}
	switch {
	case tgt.Regime == Invalid || tgt.MHz == 0:
		return fmt.Errorf(
			"fll: %q invalid target (regime=%v, freq=%dMHz): %w",
			dev.cfg.Name, tgt.Regime, tgt.MHz, nafll.ErrInvalidArgument,
		)
	case !dev.supports(tgt.Regime):
		return fmt.Errorf(
			"fll: %q regime %v on %v: %w",
			dev.cfg.Name, tgt.Regime, dev.cfg.Version, nafll.ErrNotSupported,
		)
	}

	dev.err = nil
	adc := dev.readU32(regs.ADC_CTRL)
	if dev.err != nil {
		return fmt.Errorf("fll: could not configure %q: %w", dev.cfg.Name, dev.err)
	}
	if adc&regs.ADC_CTRL_POWER == 0 {
		return fmt.Errorf("fll: %q voltage ADC is not powered: %w", dev.cfg.Name, nafll.ErrInvalidState)
	}

	pldiv := uint8(1)
	if tgt.Regime == FFRBelowDVCOMin {
		pldiv = 2
		switch {
		case tgt.MHz >= tgt.DVCOMinMHz:
			pldiv = 1
		case uint64(tgt.MHz)*regs.PLDIV_MAX < uint64(tgt.DVCOMinMHz):
			dev.msg.Printf(
				"%s: target %dMHz below DVCO-min %dMHz even with PLDIV=%d",
				dev.cfg.Name, tgt.MHz, tgt.DVCOMinMHz, regs.PLDIV_MAX,
			)
		}
	}

	dev.status.TargetMHz = tgt.MHz
	dev.status.TargetRegime = tgt.Regime
	dev.status.TargetPLDiv = pldiv
	dev.status.DVCOMinMHz = tgt.DVCOMinMHz
	dev.tgtUV = tgt.VoltageUV
	return nil
}

// Program programs the staged target into the hardware. Register writes
// follow the order required to never glitch the output clock.
//
// Current status fields are only updated on success. On failure the
// hardware may be partially programmed.
func (dev *Device) Program() error {
	var (
		st     = dev.status
		cur    = st.CurrentRegime
		tgt    = st.TargetRegime
		oldDiv = st.PLDiv
		newDiv = st.TargetPLDiv
	)
	if tgt == Invalid {
		return fmt.Errorf("fll: %q has no configured target: %w", dev.cfg.Name, nafll.ErrInvalidState)
	}

	ovr, err := dev.override(tgt, st.TargetMHz*uint32(newDiv), dev.tgtUV)
	if err != nil {
		return fmt.Errorf("fll: could not program %q: %w", dev.cfg.Name, err)
	}

	dev.err = nil

	// 1. CPM accumulator.
	if tgt != VRWithCPM && dev.cpm() {
		dev.writeU32(regs.CPM_CTRL, regs.CPM_CTRL_OFFSET_OVERRIDE)
	}

	// 2. suspend the closed-loop frequency controller.
	clfc := dev.readU32(regs.CLFC_CTRL)
	mask := (clfc >> regs.CLFC_CTRL_SUSPEND_SHIFT) & regs.CLFC_CTRL_SUSPEND_MASK
	suspend := mask
	switch tgt {
	case FFR:
		suspend |= clientFFR
	case FFRBelowDVCOMin:
		suspend |= clientFFRBelowDVCOMin
	}
	if suspend != mask {
		dev.writeCLFC(clfc, suspend)
	}

	// 3. engage a larger post divider before the frequency change.
	if tgt == FFRBelowDVCOMin && newDiv > oldDiv {
		dev.programPLDiv(cur, tgt, newDiv)
	}

	// 4. frequency change.
	dev.writeOverride(ovr)

	// 5. lower the post divider once the NAFLL locked.
	if (cur == FFRBelowDVCOMin && tgt != FFRBelowDVCOMin) ||
		(tgt == FFRBelowDVCOMin && newDiv < oldDiv) {
		dev.waitLock()
		dev.programPLDiv(cur, tgt, newDiv)
	}

	// 6. release the CPM accumulator.
	if tgt == VRWithCPM && dev.cpm() {
		dev.writeU32(regs.CPM_CTRL, 0)
	}

	// 7. resume the closed-loop frequency controller.
	resume := suspend
	if tgt != FFR {
		resume &^= clientFFR
	}
	if tgt != FFRBelowDVCOMin {
		resume &^= clientFFRBelowDVCOMin
	}
	if resume != suspend {
		dev.writeCLFC(clfc, resume)
	}

	if dev.err != nil {
		return fmt.Errorf("fll: could not program %q to %v@%dMHz: %w", dev.cfg.Name, tgt, st.TargetMHz, dev.err)
	}

	// 8. commit.
	dev.status.DVCOMinReached = st.TargetMHz < st.DVCOMinMHz
	dev.status.CurrentRegime = tgt
	dev.status.CurrentMHz = st.TargetMHz
	dev.status.PLDiv = newDiv
	if verbose {
		dev.msg.Printf("%s: %v -> %v @%dMHz (pldiv=%d)", dev.cfg.Name, cur, tgt, st.TargetMHz, newDiv)
	}
	return nil
}

// override computes the software frequency request of a regime, for a
// DVCO frequency at the provided rail voltage.
func (dev *Device) override(r Regime, mhz, uv uint32) (SWOverride, error) {
	n := dev.conv.FreqToNDiv(mhz, true)
	if n > regs.SW_FREQ_REQ_NDIV_MASK {
		return SWOverride{}, fmt.Errorf("NDIV %d for %dMHz: %w", n, mhz, nafll.ErrOutOfRange)
	}
	ovr := SWOverride{
		Mode:   ModeMin,
		NDiv:   uint16(n),
		VFGain: dev.cfg.VFGain,
	}
	if r.fixed() {
		ovr.Mode = ModeSW
	}
	if dev.secondary != nil && dev.cfg.Version.HasPLDiv() {
		pt, err := dev.secondary.PointAt(uv)
		if err != nil {
			return SWOverride{}, err
		}
		row := dev.row(n, pt)
		ovr.NDivOffset = row.NDivOffset
		ovr.DVCOOffset = row.DVCOOffset
	}
	return ovr, nil
}

func (dev *Device) writeCLFC(clfc, mask uint32) {
	clfc &^= regs.CLFC_CTRL_SUSPEND_MASK << regs.CLFC_CTRL_SUSPEND_SHIFT
	clfc |= (mask & regs.CLFC_CTRL_SUSPEND_MASK) << regs.CLFC_CTRL_SUSPEND_SHIFT
	dev.writeU32(regs.CLFC_CTRL, clfc)
}

// programPLDiv writes the post divider. It is only legal while entering or
// leaving the FFRBelowDVCOMin regime.
func (dev *Device) programPLDiv(cur, tgt Regime, div uint8) {
	if dev.err != nil {
		return
	}
	switch {
	case !dev.cfg.Version.HasPLDiv():
		dev.err = fmt.Errorf("fll: %q has no PLDIV: %w", dev.cfg.Name, nafll.ErrNotSupported)
		return
	case cur != FFRBelowDVCOMin && tgt != FFRBelowDVCOMin:
		dev.err = fmt.Errorf(
			"fll: %q PLDIV update from %v to %v: %w",
			dev.cfg.Name, cur, tgt, nafll.ErrIllegalOperation,
		)
		return
	case div == 0 || div > regs.PLDIV_MAX:
		dev.err = fmt.Errorf("fll: %q invalid PLDIV %d: %w", dev.cfg.Name, div, nafll.ErrInvalidArgument)
		return
	}
	dev.writeU32(regs.PLDIV, uint32(div)&regs.PLDIV_MASK)
}

// waitLock waits for the NAFLL to lock on its new frequency.
func (dev *Device) waitLock() {
	if dev.err != nil {
		return
	}
	dev.slp.Sleep(dev.lockDelay)
	for i := 0; i < dev.lockPolls; i++ {
		v := dev.readU32(regs.STATUS)
		if dev.err != nil {
			return
		}
		if v&regs.STATUS_LOCK != 0 {
			return
		}
		dev.slp.Sleep(dev.pollDelay)
	}
	dev.err = fmt.Errorf("fll: %q could not lock: %w", dev.cfg.Name, nafll.ErrTimeout)
}
