// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/ndiv"
	"github.com/go-lpc/nafll/vfe"
)

// fakeEval returns, for equation idx, the frequency stored at the input
// voltage in vs[idx].
type fakeEval struct {
	n   int
	vs  map[vfe.Index]map[uint32]uint32
	out map[vfe.Index]vfe.OutputType
	bad uint32 // voltage at which evaluations fail
}

func (fe *fakeEval) Evaluate(idx vfe.Index, in []vfe.VarValue, out vfe.OutputType) (vfe.Result, error) {
	fe.n++
	var uv uint32
	for _, v := range in {
		if v.Var == vfe.VarVoltage {
			uv = uint32(v.Value)
		}
	}
	if fe.bad != 0 && uv == fe.bad {
		return vfe.Result{}, fmt.Errorf("boom at %d: %w", uv, nafll.ErrEquationFailure)
	}
	tbl, ok := fe.vs[idx]
	if !ok {
		return vfe.Result{}, fmt.Errorf("no equation %d: %w", idx, nafll.ErrInvalidArgument)
	}
	if want, ok := fe.out[idx]; ok && want != out {
		return vfe.Result{}, fmt.Errorf("invalid output: %w", nafll.ErrEquationFailure)
	}
	return vfe.Result{Type: out, Value: tbl[uv]}, nil
}

// unit is a converter with a 1MHz step: quantization is the identity.
var unit = ndiv.Converter{MDiv: 1, RefClkMHz: 1, RefDiv: 1}

func newCurve(src Source, step uint32, freqs ...uint32) (*Curve, *fakeEval) {
	eval := &fakeEval{vs: map[vfe.Index]map[uint32]uint32{0: {}}}
	c := &Curve{
		Name:   "gpc",
		Domain: &Domain{Name: "gpc", Source: src, Conv: unit, OVOC: true},
		Rel: &Relationship{
			OVOC:      true,
			Smoothing: Smoothing{Enabled: true, StepEquation: vfe.InvalidIndex, MaxStepMHz: step},
		},
		Equation:           0,
		CPMEquation:        vfe.InvalidIndex,
		DVCOOffsetEquation: vfe.InvalidIndex,
	}
	for i, f := range freqs {
		uv := 600000 + uint32(i)*10000
		c.Points = append(c.Points, Point{SourceUV: uv})
		eval.vs[0][uv] = f
	}
	return c, eval
}

func baseFreqs(c *Curve, pos int) []uint32 {
	o := make([]uint32, len(c.Points))
	for i, pt := range c.Points {
		o[i] = uint32(pt.Base.Freqs[pos])
	}
	return o
}

func offsetFreqs(c *Curve, pos int) []uint32 {
	o := make([]uint32, len(c.Points))
	for i, pt := range c.Points {
		o[i] = uint32(pt.Offset.Freqs[pos])
	}
	return o
}

func TestRefreshSmoothing(t *testing.T) {
	for _, tc := range []struct {
		name  string
		src   Source
		freqs []uint32
		want  []uint32
	}{
		{
			name:  "nafll",
			src:   SourceNAFLL,
			freqs: []uint32{300, 400, 1000, 1100, 1150},
			want:  []uint32{300, 400, 500, 600, 700},
		},
		{
			name:  "nafll-monotonic",
			src:   SourceNAFLL,
			freqs: []uint32{300, 250, 600, 420, 450},
			want:  []uint32{300, 300, 400, 420, 450},
		},
		{
			name:  "pll",
			src:   SourcePLL,
			freqs: []uint32{300, 400, 1000, 1100, 1150},
			want:  []uint32{300, 400, 1000, 1100, 1150},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, eval := newCurve(tc.src, 100, tc.freqs...)
			eng := NewEngine(eval, nil)
			err := eng.Refresh(c, true)
			if err != nil {
				t.Fatalf("could not refresh: %+v", err)
			}
			if got, want := baseFreqs(c, 0), tc.want; fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("invalid base freqs:\ngot= %v\nwant=%v", got, want)
			}
			if got, want := offsetFreqs(c, 0), tc.want; fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("invalid offset freqs:\ngot= %v\nwant=%v", got, want)
			}
			if !c.Monotonic() {
				t.Fatalf("curve is not monotonic")
			}
		})
	}
}

func TestRefreshTwiceBoundedStep(t *testing.T) {
	const step = 75
	c, eval := newCurve(SourceNAFLL, step, 200, 900, 950, 1800, 1900, 1950)
	eng := NewEngine(eval, nil)
	for pass := 0; pass < 2; pass++ {
		if err := eng.Refresh(c, true); err != nil {
			t.Fatalf("pass %d: could not refresh: %+v", pass, err)
		}
		for i := 1; i < len(c.Points); i++ {
			prev := c.Points[i-1].Base.Freqs[0]
			cur := c.Points[i].Base.Freqs[0]
			if cur > prev+step {
				t.Fatalf("pass %d: point %d: step too large: prev=%d, cur=%d", pass, i, prev, cur)
			}
			if cur < prev {
				t.Fatalf("pass %d: point %d: not monotonic: prev=%d, cur=%d", pass, i, prev, cur)
			}
		}
	}
}

func TestCachePointNoPrev(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 10, 1500)
	eng := NewEngine(eval, nil)
	pt := &c.Points[0]
	err := eng.CachePoint(c, pt, nil, true)
	if err != nil {
		t.Fatalf("could not cache point: %+v", err)
	}
	if got, want := pt.Base.Freqs[0], uint16(1500); got != want {
		t.Fatalf("smoothing applied without a previous point: got=%d, want=%d", got, want)
	}
}

func TestCachePointReuse(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 1000, 400, 500)
	eng := NewEngine(eval, nil)

	err := eng.CachePoint(c, &c.Points[0], nil, false)
	if !errors.Is(err, nafll.ErrInvalidState) {
		t.Fatalf("invalid error: got=%v, want=%v", err, nafll.ErrInvalidState)
	}

	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	n := eval.n

	// new equation values must not be seen.
	eval.vs[0][600000] = 100
	eval.vs[0][610000] = 100
	c.Points[1].Delta = FreqDelta{Kind: DeltaStatic, Value: 20000}
	if err := eng.Refresh(c, false); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	if got, want := eval.n, n; got != want {
		t.Fatalf("equations evaluated: got=%d, want=%d", got, want)
	}
	if got, want := baseFreqs(c, 0), []uint32{400, 500}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("invalid base freqs: got=%v, want=%v", got, want)
	}
	if got, want := offsetFreqs(c, 0), []uint32{400, 520}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("invalid offset freqs: got=%v, want=%v", got, want)
	}
}

func TestRefreshAllOrNothing(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 100, 300, 400, 500)
	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	before := fmt.Sprint(c.Points)

	eval.vs[0][600000] = 350
	eval.bad = 620000
	err := eng.Refresh(c, true)
	if !errors.Is(err, nafll.ErrEquationFailure) {
		t.Fatalf("invalid error: got=%v, want=%v", err, nafll.ErrEquationFailure)
	}
	if got := fmt.Sprint(c.Points); got != before {
		t.Fatalf("curve partially committed:\ngot= %s\nwant=%s", got, before)
	}
}

func TestRefreshTrim(t *testing.T) {
	c, eval := newCurve(SourcePLL, 0, 800, 1200, 1600)
	c.Rel.TrimToEnumMax = true
	c.Rel.FreqMaxMHz = 1500
	c.Domain.FreqMaxEnumMHz = 1100
	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	if got, want := baseFreqs(c, 0), []uint32{800, 1100, 1100}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("invalid base freqs: got=%v, want=%v", got, want)
	}
}

func TestRefreshQuantize(t *testing.T) {
	c, eval := newCurve(SourcePLL, 0, 1404, 1420, 1500)
	conv, err := ndiv.New(16, 405, 1, false, true)
	if err != nil {
		t.Fatalf("could not create converter: %+v", err)
	}
	c.Domain.Conv = conv
	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	for i, pt := range c.Points {
		f := uint32(pt.Base.Freqs[0])
		if q := conv.Quantize(f, true); q != f {
			t.Fatalf("point %d: frequency %d not quantized (%d)", i, f, q)
		}
	}
	if got, want := c.Points[0].Base.Freqs[0], uint16(1404); got != want {
		t.Fatalf("invalid quantized frequency: got=%d, want=%d", got, want)
	}
}

func TestRefreshSecondaries(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 100, 1000, 1400)
	c.Secondaries = []*Domain{
		{Name: "sys", Source: SourceNAFLL, Conv: unit},
		{Name: "xbar", Source: SourceNAFLL, Conv: unit},
	}
	c.Rel.Ratios = []uint8{50, 80}
	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	for _, tc := range []struct {
		pos  int
		want []uint32
	}{
		{pos: 0, want: []uint32{1000, 1100}},
		{pos: 1, want: []uint32{500, 550}},
		{pos: 2, want: []uint32{800, 880}},
	} {
		if got := baseFreqs(c, tc.pos); fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("position %d: invalid base freqs: got=%v, want=%v", tc.pos, got, tc.want)
		}
	}
}

func TestRefreshDelta(t *testing.T) {
	for _, tc := range []struct {
		name  string
		delta FreqDelta
		ovoc  bool
		want  []uint32
	}{
		{"static", FreqDelta{Kind: DeltaStatic, Value: 50000}, true, []uint32{450, 550, 650}},
		{"percent", FreqDelta{Kind: DeltaPercent, Value: -1000}, true, []uint32{360, 450, 540}},
		{"ovoc-disabled", FreqDelta{Kind: DeltaStatic, Value: 50000}, false, []uint32{400, 500, 600}},
		{"zero", FreqDelta{}, true, []uint32{400, 500, 600}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, eval := newCurve(SourcePLL, 0, 400, 500, 600)
			c.Rel.OVOC = tc.ovoc
			for i := range c.Points {
				c.Points[i].Delta = tc.delta
			}
			eng := NewEngine(eval, nil)
			if err := eng.Refresh(c, true); err != nil {
				t.Fatalf("could not refresh: %+v", err)
			}
			if got, want := baseFreqs(c, 0), []uint32{400, 500, 600}; fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("invalid base freqs: got=%v, want=%v", got, want)
			}
			if got := offsetFreqs(c, 0); fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("invalid offset freqs: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func TestRefreshSecondaryKind(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 1000, 800, 900)
	c.Kind = VoltSecondary
	c.CPMEquation = 1
	c.DVCOOffsetEquation = 2
	eval.vs[1] = map[uint32]uint32{600000: 0, 610000: 40}
	eval.vs[2] = map[uint32]uint32{600000: 3, 610000: 300}
	eval.out = map[vfe.Index]vfe.OutputType{1: vfe.OutputFreqMHz, 2: vfe.OutputCode}

	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	for i, want := range []Tuple{
		{Freqs: [MaxPositions]uint16{800}, CPMMaxFreqOffsetMHz: 0, DVCOOffsetCode: 3},
		{Freqs: [MaxPositions]uint16{900}, CPMMaxFreqOffsetMHz: 40, DVCOOffsetCode: 0xff},
	} {
		if got := c.Points[i].Base; got != want {
			t.Fatalf("point %d: invalid base tuple: got=%+v, want=%+v", i, got, want)
		}
		if got := c.Points[i].Offset; got != want {
			t.Fatalf("point %d: invalid offset tuple: got=%+v, want=%+v", i, got, want)
		}
	}

	// reusing cached frequencies keeps CPM headroom.
	if err := eng.Refresh(c, false); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	if got, want := c.Points[1].Base.CPMMaxFreqOffsetMHz, uint16(40); got != want {
		t.Fatalf("invalid CPM offset: got=%d, want=%d", got, want)
	}
}

func TestSmooth(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 50, 400, 450, 500, 550)
	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}
	// emulate an offset-only update of the highest point.
	c.Points[3].Offset.Freqs[0] = 700

	if err := eng.Smooth(c); err != nil {
		t.Fatalf("could not smooth: %+v", err)
	}
	if got, want := offsetFreqs(c, 0), []uint32{550, 600, 650, 700}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("invalid offset freqs: got=%v, want=%v", got, want)
	}
	if got, want := baseFreqs(c, 0), []uint32{400, 450, 500, 550}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("smoothing modified base freqs: got=%v, want=%v", got, want)
	}
}

func TestSmoothCeil(t *testing.T) {
	c, eval := newCurve(SourceNAFLL, 30, 0, 0)
	c.Domain.Conv = ndiv.Converter{MDiv: 1, RefClkMHz: 25, RefDiv: 1}
	eng := NewEngine(eval, nil)
	c.Points[0].Offset.Freqs[0] = 25
	c.Points[1].Offset.Freqs[0] = 100
	if err := eng.Smooth(c); err != nil {
		t.Fatalf("could not smooth: %+v", err)
	}
	// expected=70, rounded up to the next reachable frequency.
	if got, want := c.Points[0].Offset.Freqs[0], uint16(75); got != want {
		t.Fatalf("invalid smoothed frequency: got=%d, want=%d", got, want)
	}
}

func TestCurveLookup(t *testing.T) {
	c, eval := newCurve(SourcePLL, 0, 400, 500, 500, 700)
	eng := NewEngine(eval, nil)
	if err := eng.Refresh(c, true); err != nil {
		t.Fatalf("could not refresh: %+v", err)
	}

	for _, tc := range []struct {
		uv   uint32
		want uint32
		err  error
	}{
		{uv: 599999, err: nafll.ErrOutOfRange},
		{uv: 600000, want: 400},
		{uv: 615000, want: 500},
		{uv: 700000, want: 700},
	} {
		got, err := c.FreqAt(tc.uv)
		if !errors.Is(err, tc.err) {
			t.Fatalf("uv=%d: invalid error: got=%v, want=%v", tc.uv, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("uv=%d: invalid freq: got=%d, want=%d", tc.uv, got, tc.want)
		}
	}

	for _, tc := range []struct {
		mhz  uint32
		want uint32
		err  error
	}{
		{mhz: 100, want: 600000},
		{mhz: 450, want: 610000},
		{mhz: 500, want: 610000},
		{mhz: 701, err: nafll.ErrOutOfRange},
	} {
		got, err := c.VoltageFor(tc.mhz)
		if !errors.Is(err, tc.err) {
			t.Fatalf("mhz=%d: invalid error: got=%v, want=%v", tc.mhz, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("mhz=%d: invalid voltage: got=%d, want=%d", tc.mhz, got, tc.want)
		}
	}

	if got, want := c.MaxMHz(), uint32(700); got != want {
		t.Fatalf("invalid max: got=%d, want=%d", got, want)
	}
	if _, err := c.Point(605000); !errors.Is(err, nafll.ErrInvalidArgument) {
		t.Fatalf("invalid error: got=%v, want=%v", err, nafll.ErrInvalidArgument)
	}
}

func TestCurveValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(c *Curve)
	}{
		{"no-domain", func(c *Curve) { c.Domain = nil }},
		{"no-rel", func(c *Curve) { c.Rel = nil }},
		{"no-ratio", func(c *Curve) { c.Secondaries = []*Domain{{Conv: unit}} }},
		{"no-equation", func(c *Curve) { c.Equation = vfe.InvalidIndex }},
		{"zero-mdiv", func(c *Curve) { c.Domain.Conv.MDiv = 0 }},
		{"order", func(c *Curve) { c.Points[1].SourceUV = c.Points[0].SourceUV }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCurve(SourceNAFLL, 10, 1, 2)
			tc.mod(c)
			err := c.Validate()
			if !errors.Is(err, nafll.ErrInvalidArgument) {
				t.Fatalf("invalid error: got=%v, want=%v", err, nafll.ErrInvalidArgument)
			}
		})
	}
}

func TestFreqDelta(t *testing.T) {
	for _, tc := range []struct {
		d    FreqDelta
		mhz  uint32
		want uint32
	}{
		{FreqDelta{Kind: DeltaStatic, Value: 15000}, 1000, 1015},
		{FreqDelta{Kind: DeltaStatic, Value: -1500}, 1000, 998},
		{FreqDelta{Kind: DeltaStatic, Value: -2000000}, 1000, 0},
		{FreqDelta{Kind: DeltaPercent, Value: 250}, 1000, 1025},
		{FreqDelta{Kind: DeltaPercent, Value: -10000}, 1000, 0},
	} {
		if got := tc.d.Apply(tc.mhz); got != tc.want {
			t.Fatalf("%+v: invalid frequency: got=%d, want=%d", tc.d, got, tc.want)
		}
	}
}
