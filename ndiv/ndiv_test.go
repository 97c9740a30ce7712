// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ndiv

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-lpc/nafll"
)

func TestScenarioA(t *testing.T) {
	conv, err := New(16, 405, 1, false, true)
	if err != nil {
		t.Fatalf("could not create converter: %+v", err)
	}
	if got, want := conv.Scale, ScaleDouble; got != want {
		t.Fatalf("invalid scale: got=%v, want=%v", got, want)
	}

	n := conv.FreqToNDiv(1404, true)
	if got, want := n, uint32(111); got != want {
		t.Fatalf("invalid ndiv: got=%d, want=%d", got, want)
	}
	if got, want := conv.NDivToFreq(n), uint32(1404); got != want {
		t.Fatalf("invalid freq: got=%d, want=%d", got, want)
	}
	if got, want := conv.Quantize(1404, true), uint32(1404); got != want {
		t.Fatalf("invalid quantized freq: got=%d, want=%d", got, want)
	}
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		mdiv, ref, div   uint32
		dvco1x, domain1x bool
		scale            Scale
		err              error
	}{
		{mdiv: 16, ref: 405, div: 1, dvco1x: true, domain1x: true, scale: ScaleNone},
		{mdiv: 16, ref: 405, div: 1, dvco1x: false, domain1x: false, scale: ScaleNone},
		{mdiv: 16, ref: 405, div: 1, dvco1x: false, domain1x: true, scale: ScaleDouble},
		{mdiv: 16, ref: 405, div: 1, dvco1x: true, domain1x: false, scale: ScaleHalve},
		{mdiv: 0, ref: 405, div: 1, err: nafll.ErrInvalidArgument},
		{mdiv: 16, ref: 0, div: 1, err: nafll.ErrInvalidArgument},
		{mdiv: 16, ref: 405, div: 0, err: nafll.ErrInvalidArgument},
	} {
		t.Run(fmt.Sprintf("mdiv=%d-ref=%d-div=%d", tc.mdiv, tc.ref, tc.div), func(t *testing.T) {
			conv, err := New(tc.mdiv, tc.ref, tc.div, tc.dvco1x, tc.domain1x)
			switch {
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not create converter: %+v", err)
			}
			if got, want := conv.Scale, tc.scale; got != want {
				t.Fatalf("invalid scale: got=%v, want=%v", got, want)
			}
		})
	}
}

func converters(t *testing.T) []Converter {
	t.Helper()
	var convs []Converter
	for _, mdiv := range []uint32{4, 16, 32} {
		for _, ref := range []uint32{27, 100, 405} {
			for _, div := range []uint32{1, 2} {
				for _, mode := range [][2]bool{
					{true, true}, {false, true}, {true, false},
				} {
					conv, err := New(mdiv, ref, div, mode[0], mode[1])
					if err != nil {
						t.Fatalf("could not create converter: %+v", err)
					}
					convs = append(convs, conv)
				}
			}
		}
	}
	return convs
}

func TestRoundTrip(t *testing.T) {
	freqs := []uint32{300, 405, 810, 999, 1000, 1404, 1417, 1755, 2100}
	for _, conv := range converters(t) {
		step := conv.StepMHz()
		for _, f := range freqs {
			lo := conv.NDivToFreq(conv.FreqToNDiv(f, true))
			if lo > f {
				t.Errorf("%+v: floor(%d)=%d above request", conv, f, lo)
			}
			if f-lo >= step+1 && lo > 0 {
				t.Errorf("%+v: floor(%d)=%d more than one step (%d) below", conv, f, lo, step)
			}

			hi := conv.NDivToFreq(conv.FreqToNDiv(f, false))
			if hi < f {
				t.Errorf("%+v: ceil(%d)=%d below request", conv, f, hi)
			}
			if hi-f >= step+1 {
				t.Errorf("%+v: ceil(%d)=%d more than one step (%d) above", conv, f, hi, step)
			}
		}
	}
}

func TestQuantizeIdempotent(t *testing.T) {
	for _, conv := range converters(t) {
		for f := uint32(200); f < 2200; f += 37 {
			for _, floor := range []bool{true, false} {
				q := conv.Quantize(f, floor)
				if got, want := conv.Quantize(q, floor), q; got != want {
					t.Fatalf("%+v: quantize(quantize(%d, %v))=%d, want=%d", conv, f, floor, got, want)
				}
			}
		}
	}
}

func TestFreqToNDivMin(t *testing.T) {
	conv, err := New(16, 405, 1, true, true)
	if err != nil {
		t.Fatalf("could not create converter: %+v", err)
	}
	for _, floor := range []bool{true, false} {
		if got, want := conv.FreqToNDiv(0, floor), uint32(1); got != want {
			t.Fatalf("floor=%v: got=%d, want=%d", floor, got, want)
		}
	}
}

func TestQuantize16(t *testing.T) {
	conv := Converter{MDiv: 1, RefClkMHz: 1, RefDiv: 1}
	if got, want := conv.Quantize16(0xffff, true), uint16(0xffff); got != want {
		t.Fatalf("got=%d, want=%d", got, want)
	}
	if got, want := Clamp16(0x1_0000), uint16(0xffff); got != want {
		t.Fatalf("got=%d, want=%d", got, want)
	}
}
