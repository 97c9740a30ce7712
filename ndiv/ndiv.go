// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ndiv converts between clock frequencies and NAFLL divider counts.
//
// A NAFLL generator runs at
//
//	f = ndiv * refClk / (mdiv * refDiv)
//
// where ndiv is the value looked up from the hardware table.
// All conversions are integer-exact: floor conversions never return a
// divider whose frequency exceeds the request, ceiling conversions never
// return one below it.
package ndiv // import "github.com/go-lpc/nafll/ndiv"

import (
	"fmt"

	"github.com/go-lpc/nafll"
)

// Max is the largest divider count a LUT entry can hold.
const Max = 0x3ff

// Scale describes the relation between the DVCO of a generator and the
// frequency domain a VF curve is stated in.
type Scale uint8

const (
	ScaleNone   Scale = iota
	ScaleDouble       // DVCO runs at 2x, curve is in the 1x domain
	ScaleHalve        // DVCO runs at 1x, curve is in the 2x domain
)

func (s Scale) String() string {
	switch s {
	case ScaleNone:
		return "1:1"
	case ScaleDouble:
		return "2x-dvco"
	case ScaleHalve:
		return "1x-dvco"
	}
	return fmt.Sprintf("Scale(%d)", uint8(s))
}

// Converter converts frequencies to divider counts for one generator.
type Converter struct {
	MDiv      uint32 // feedback divider
	RefClkMHz uint32 // input reference clock
	RefDiv    uint32 // input reference clock divider
	Scale     Scale
}

// New returns a converter for the provided divider setup.
// dvco1x tells whether the generator DVCO runs at 1x, domain1x whether
// the curve frequencies are stated in the 1x domain.
func New(mdiv, refClkMHz, refDiv uint32, dvco1x, domain1x bool) (Converter, error) {
	conv := Converter{
		MDiv:      mdiv,
		RefClkMHz: refClkMHz,
		RefDiv:    refDiv,
		Scale:     ScaleNone,
	}
	switch {
	case !dvco1x && domain1x:
		conv.Scale = ScaleDouble
	case dvco1x && !domain1x:
		conv.Scale = ScaleHalve
	}
	err := conv.Validate()
	if err != nil {
		return Converter{}, err
	}
	return conv, nil
}

// Validate checks none of the dividers is zero.
func (c Converter) Validate() error {
	switch {
	case c.MDiv == 0:
		return fmt.Errorf("ndiv: zero mdiv: %w", nafll.ErrInvalidArgument)
	case c.RefDiv == 0:
		return fmt.Errorf("ndiv: zero reference divider: %w", nafll.ErrInvalidArgument)
	case c.RefClkMHz == 0:
		return fmt.Errorf("ndiv: zero reference clock: %w", nafll.ErrInvalidArgument)
	}
	switch c.Scale {
	case ScaleNone, ScaleDouble, ScaleHalve:
		return nil
	default:
		return fmt.Errorf("ndiv: invalid scale %v: %w", c.Scale, nafll.ErrInvalidArgument)
	}
}

func (c Converter) mul() uint64 { return uint64(c.MDiv) * uint64(c.RefDiv) }

// FreqToNDiv converts freq (in MHz, curve domain) into a divider count.
//
// With floor set, the returned divider maps back (through NDivToFreq) to
// the largest reachable frequency not above freq. Otherwise it maps to the
// smallest reachable frequency not below freq.
// The result is never lower than 1.
func (c Converter) FreqToNDiv(freq uint32, floor bool) uint32 {
	if c.RefClkMHz == 0 {
		return 1
	}
	var (
		ref = uint64(c.RefClkMHz)
		mul = c.mul()
		f   = uint64(freq)
		n   uint64
	)

	if floor {
		// first DVCO frequency that would read back as freq+1.
		var next uint64
		switch c.Scale {
		case ScaleDouble:
			next = 2 * (f + 1)
		case ScaleHalve:
			next = f/2 + 1
		default:
			next = f + 1
		}
		num := next * mul
		n = num / ref
		if num%ref == 0 {
			n--
		}
	} else {
		var dvco uint64
		switch c.Scale {
		case ScaleDouble:
			dvco = 2 * f
		case ScaleHalve:
			dvco = (f + 1) / 2
		default:
			dvco = f
		}
		n = (dvco*mul + ref - 1) / ref
	}

	if n < 1 {
		n = 1
	}
	if n > uint64(^uint32(0)) {
		n = uint64(^uint32(0))
	}
	return uint32(n)
}

// NDivToFreq converts a divider count back into a frequency (in MHz, curve
// domain). This is the exact inverse multiply-divide, truncated.
func (c Converter) NDivToFreq(ndiv uint32) uint32 {
	mul := c.mul()
	if mul == 0 {
		return 0
	}
	f := uint64(ndiv) * uint64(c.RefClkMHz) / mul
	switch c.Scale {
	case ScaleDouble:
		f /= 2
	case ScaleHalve:
		f *= 2
	}
	if f > uint64(^uint32(0)) {
		f = uint64(^uint32(0))
	}
	return uint32(f)
}

// Quantize rounds freq to a frequency the generator can reach.
func (c Converter) Quantize(freq uint32, floor bool) uint32 {
	return c.NDivToFreq(c.FreqToNDiv(freq, floor))
}

// Quantize16 is Quantize for the 16-bit frequencies stored in VF tuples.
func (c Converter) Quantize16(freq uint16, floor bool) uint16 {
	return Clamp16(c.Quantize(uint32(freq), floor))
}

// StepMHz returns the frequency increment of one divider count, rounded up.
func (c Converter) StepMHz() uint32 {
	mul := c.mul()
	if mul == 0 {
		return 0
	}
	step := (uint64(c.RefClkMHz) + mul - 1) / mul
	switch c.Scale {
	case ScaleDouble:
		step = (step + 1) / 2
	case ScaleHalve:
		step *= 2
	}
	return uint32(step)
}

// Clamp16 saturates v to a 16-bit frequency.
func Clamp16(v uint32) uint16 {
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}
