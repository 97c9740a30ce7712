// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fll

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/internal/regs"
	"github.com/go-lpc/nafll/ndiv"
	"github.com/go-lpc/nafll/vfe"
)

const verbose = false

// Config is the static description of a NAFLL.
type Config struct {
	ID      uint8   `json:"id"`
	Name    string  `json:"name"`
	Window  uint8   `json:"window"`
	Version Version `json:"version"`
	Domain  uint8   `json:"domain"`
	Rail    uint8   `json:"rail"`

	// Primary NAFLLs program the LUT of their rail. The others read it.
	Primary bool `json:"primary"`

	MDiv      uint32 `json:"mdiv"`
	RefClkMHz uint32 `json:"ref_clk_mhz"`
	RefDiv    uint32 `json:"ref_div"`
	DVCO1x    bool   `json:"dvco_1x"`
	Domain1x  bool   `json:"domain_1x"`

	SkipPLDivBelowDVCOMin bool      `json:"skip_pldiv_below_dvco_min"`
	FixedFreqLimitMHz     uint32    `json:"fixed_freq_limit_mhz"`
	VFGain                uint8     `json:"vfgain"`
	DVCOMinEquation       vfe.Index `json:"dvco_min_equation"`
	CPM                   bool      `json:"cpm"`
	ADCCalibration        uint8     `json:"adc_calibration"`

	Curve          string `json:"curve"`
	SecondaryCurve string `json:"secondary_curve,omitempty"`
}

// Converter returns the frequency converter of the NAFLL.
func (cfg Config) Converter() (ndiv.Converter, error) {
	return ndiv.New(cfg.MDiv, cfg.RefClkMHz, cfg.RefDiv, cfg.DVCO1x, cfg.Domain1x)
}

// CLFC suspension clients.
const (
	clientFFR             = 1 << 0
	clientFFRBelowDVCOMin = 1 << 1
)

// Device is a NAFLL instance.
//
// A Device is not safe for concurrent use: the sequencer must be the sole
// user of a device while programming it.
type Device struct {
	cfg  Config
	conv ndiv.Converter
	bus  bus.Bus
	base uint32

	curve     *clk.Curve
	secondary *clk.Curve

	slp       bus.Sleeper
	lockDelay time.Duration
	lockPolls int
	pollDelay time.Duration
	msg       *log.Logger

	status Status
	tgtUV  uint32
	lut    LUT

	err error
}

// Option configures a Device.
type Option func(*Device)

// WithSleeper sets the sleeper used for lock waits.
func WithSleeper(slp bus.Sleeper) Option {
	return func(dev *Device) {
		dev.slp = slp
	}
}

// WithLockWait sets the fixed lock-acquisition delay, and the budget and
// interval of the lock status polling that follows it.
func WithLockWait(delay time.Duration, polls int, interval time.Duration) Option {
	return func(dev *Device) {
		dev.lockDelay = delay
		dev.lockPolls = polls
		dev.pollDelay = interval
	}
}

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(dev *Device) {
		dev.msg = msg
	}
}

// NewDevice creates a NAFLL device accessed through b.
// curve is the VF curve of the NAFLL clock domain, secondary the optional
// curve providing NDIV offsets, DVCO offset codes and CPM headroom.
// Curves are shared and only read by the device.
func NewDevice(cfg Config, b bus.Bus, curve, secondary *clk.Curve, opts ...Option) (*Device, error) {
	if !cfg.Version.valid() {
		return nil, fmt.Errorf("fll: device %q has invalid version %v: %w", cfg.Name, cfg.Version, nafll.ErrInvalidArgument)
	}
	if curve == nil {
		return nil, fmt.Errorf("fll: device %q has no VF curve: %w", cfg.Name, nafll.ErrInvalidArgument)
	}
	if cfg.CPM && !cfg.Version.HasCPM() {
		return nil, fmt.Errorf("fll: device %q: CPM on %v: %w", cfg.Name, cfg.Version, nafll.ErrNotSupported)
	}
	conv, err := cfg.Converter()
	if err != nil {
		return nil, fmt.Errorf("fll: device %q: %w", cfg.Name, err)
	}
	if b == nil {
		return nil, fmt.Errorf("fll: device %q has no register bus: %w", cfg.Name, nafll.ErrInvalidArgument)
	}

	dev := &Device{
		cfg:       cfg,
		conv:      conv,
		bus:       b,
		base:      regs.Base(cfg.Window),
		curve:     curve,
		secondary: secondary,
		slp:       bus.Spin{},
		lockDelay: 5 * time.Microsecond,
		lockPolls: 100,
		pollDelay: time.Microsecond,
		msg:       log.New(os.Stdout, "fll: ", 0),
		status: Status{
			PLDiv:       1,
			TargetPLDiv: 1,
		},
	}
	for _, opt := range opts {
		opt(dev)
	}
	return dev, nil
}

func (dev *Device) Name() string              { return dev.cfg.Name }
func (dev *Device) Config() Config            { return dev.cfg }
func (dev *Device) Converter() ndiv.Converter { return dev.conv }
func (dev *Device) Curve() *clk.Curve         { return dev.curve }
func (dev *Device) Status() Status            { return dev.status }
func (dev *Device) LUT() LUT                  { return dev.lut }

// Init brings the NAFLL up: it loads the feedback divider, powers the
// voltage ADC and parks the output on the software override until the
// LUT is programmed.
func (dev *Device) Init() error {
	dev.err = nil

	dev.writeU32(regs.COEFF, dev.cfg.MDiv&regs.COEFF_MDIV_MASK)
	adc := dev.readU32(regs.ADC_CTRL)
	dev.writeU32(regs.ADC_CTRL, adc|regs.ADC_CTRL_POWER|regs.ADC_CTRL_ENABLE)
	dev.writeOverride(SWOverride{
		Mode:   ModeSW,
		NDiv:   regs.LUT_FILLER_NDIV,
		VFGain: regs.LUT_FILLER_VFGAIN,
	})
	if dev.cfg.Version.HasPLDiv() {
		dev.writeU32(regs.PLDIV, 1)
	}
	idx := uint8(dev.readU32(regs.LUT_CFG)&regs.LUT_CFG_TEMP_INDEX_MASK) % regs.LUT_TEMP_SLOTS
	if dev.err != nil {
		return fmt.Errorf("fll: could not initialize %q: %w", dev.cfg.Name, dev.err)
	}
	dev.status = Status{PLDiv: 1, TargetPLDiv: 1}
	dev.lut = LUT{
		CurrentTempIndex: idx,
		PrevTempIndex:    idx,
		Override:         dev.lut.Override,
	}
	return nil
}

// ClosedLoopDelta returns the voltage the closed-loop frequency
// controller currently adds, in micro-volts.
func (dev *Device) ClosedLoopDelta() (int32, error) {
	dev.err = nil
	v := dev.readU32(regs.CLFC_VOLT_DELTA)
	if dev.err != nil {
		return 0, fmt.Errorf("fll: could not read %q closed-loop delta: %w", dev.cfg.Name, dev.err)
	}
	return int32(v), nil
}

// Inputs returns the classification inputs of the device, for a target
// frequency at the provided rail voltage.
func (dev *Device) Inputs(mhz, dvcoMin, uv, nuVmin uint32, override Override) (Inputs, error) {
	fmax, err := dev.curve.FreqAt(uv)
	if err != nil {
		return Inputs{}, fmt.Errorf("fll: could not find %q fmax: %w", dev.cfg.Name, err)
	}
	delta, err := dev.ClosedLoopDelta()
	if err != nil {
		return Inputs{}, err
	}
	return Inputs{
		TargetMHz:          mhz,
		DVCOMinMHz:         dvcoMin,
		FixedLimitMHz:      dev.cfg.FixedFreqLimitMHz,
		FMaxMHz:            fmax,
		VoltDeltaUV:        delta,
		SkipPLDiv:          dev.cfg.SkipPLDivBelowDVCOMin || !dev.cfg.Version.HasPLDiv(),
		Override:           override,
		VoltageUV:          uv,
		NoiseUnawareVminUV: nuVmin,
	}, nil
}

// Classify returns the regime of the device for the provided inputs,
// restricted to the regimes the device supports.
func (dev *Device) Classify(in Inputs) Regime {
	r := Classify(in)
	if r == VRWithCPM && in.Override == OverrideNone && !dev.cpm() {
		r = VR
	}
	return r
}

func (dev *Device) cpm() bool {
	return dev.cfg.CPM && dev.cfg.Version.HasCPM()
}

func (dev *Device) supports(r Regime) bool {
	switch r {
	case FFR, FR, VR:
		return true
	case FFRBelowDVCOMin:
		return dev.cfg.Version.HasPLDiv()
	case VRWithCPM:
		return dev.cpm()
	}
	return false
}

func (dev *Device) addr(off uint32) uint32 { return dev.base + off }

func (dev *Device) readU32(off uint32) uint32 {
	if dev.err != nil {
		return 0
	}
	v, err := dev.bus.ReadRegister(dev.addr(off))
	if err != nil {
		dev.err = fmt.Errorf("fll: could not read register 0x%x: %w", dev.addr(off), err)
		return 0
	}
	return v
}

func (dev *Device) writeU32(off, v uint32) {
	if dev.err != nil {
		return
	}
	err := dev.bus.WriteRegister(dev.addr(off), v)
	if err != nil {
		dev.err = fmt.Errorf("fll: could not write register 0x%x: %w", dev.addr(off), err)
		return
	}
}

func (dev *Device) writeOverride(o SWOverride) {
	v := uint32(o.NDiv) & regs.SW_FREQ_REQ_NDIV_MASK
	switch {
	case dev.cfg.Version == V10:
		v |= (uint32(o.VFGain) & regs.SW_FREQ_REQ_VFGAIN_MASK) << regs.SW_FREQ_REQ_VFGAIN_SHIFT
	default:
		v |= (uint32(o.NDivOffset) & regs.SW_FREQ_REQ_NDIV_OFF_MASK) << regs.SW_FREQ_REQ_NDIV_OFF_SHIFT
		if dev.cfg.Version.HasCPM() {
			v |= (uint32(o.DVCOOffset) & regs.SW_FREQ_REQ_DVCO_OFF_MASK) << regs.SW_FREQ_REQ_DVCO_OFF_SHIFT
		}
	}
	v |= (uint32(o.Mode) & regs.SW_FREQ_REQ_MODE_MASK) << regs.SW_FREQ_REQ_MODE_SHIFT
	dev.writeU32(regs.SW_FREQ_REQ, v)
	if dev.err == nil {
		dev.lut.Override = o
	}
}
