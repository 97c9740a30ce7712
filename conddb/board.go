// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/fll"
	"github.com/go-lpc/nafll/ndiv"
	"github.com/go-lpc/nafll/perf"
	"github.com/go-lpc/nafll/vfe"
	"github.com/go-lpc/nafll/volt"
)

// Board is the description of the clocks of a board.
type Board struct {
	Name      string         `json:"name"`
	Equations []vfe.Equation `json:"equations"`
	Rails     []volt.Rail    `json:"rails"`
	Domains   []Domain       `json:"domains"`
	Curves    []Curve        `json:"curves"`
	NAFLLs    []fll.Config   `json:"nafll"`
}

// Domain describes a clock domain and the divider chain of its generator.
type Domain struct {
	Index          uint8      `json:"index"`
	Name           string     `json:"name"`
	Source         clk.Source `json:"source"`
	FreqMaxEnumMHz uint32     `json:"freq_max_enum_mhz"`
	OVOC           bool       `json:"ovoc"`

	MDiv      uint32 `json:"mdiv"`
	RefClkMHz uint32 `json:"ref_clk_mhz"`
	RefDiv    uint32 `json:"ref_div"`
	DVCO1x    bool   `json:"dvco_1x"`
	Domain1x  bool   `json:"domain_1x"`
}

// Curve describes a VF curve. The curve has one point per LUT row of its
// rail.
type Curve struct {
	Name         string           `json:"name"`
	Kind         clk.PointKind    `json:"kind"`
	Domain       string           `json:"domain"`
	Secondaries  []string         `json:"secondaries,omitempty"`
	Rail         uint8            `json:"rail"`
	Relationship clk.Relationship `json:"relationship"`

	Equation           vfe.Index `json:"equation"`
	CPMEquation        vfe.Index `json:"cpm_equation"`
	DVCOOffsetEquation vfe.Index `json:"dvco_offset_equation"`
}

// UnmarshalJSON decodes a curve description.
// Optional equations default to none.
func (c *Curve) UnmarshalJSON(p []byte) error {
	type curve Curve
	v := curve{
		CPMEquation:        vfe.InvalidIndex,
		DVCOOffsetEquation: vfe.InvalidIndex,
	}
	v.Relationship.Smoothing.StepEquation = vfe.InvalidIndex
	err := json.Unmarshal(p, &v)
	if err != nil {
		return err
	}
	*c = Curve(v)
	return nil
}

// ReadBoard decodes a JSON board description.
func ReadBoard(r io.Reader) (*Board, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var brd Board
	err := dec.Decode(&brd)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not decode board: %w", err)
	}
	return &brd, nil
}

// LoadBoard reads a JSON board description from a file.
func LoadBoard(fname string) (*Board, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open board file: %w", err)
	}
	defer f.Close()

	brd, err := ReadBoard(f)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not read board %q: %w", fname, err)
	}
	return brd, nil
}

// Setup builds the equation table and the clock hardware of the board.
func (brd *Board) Setup() (*vfe.Table, perf.Board, error) {
	tbl, err := vfe.NewTable(brd.Equations)
	if err != nil {
		return nil, perf.Board{}, fmt.Errorf("conddb: board %q: %w", brd.Name, err)
	}

	doms := make(map[string]*clk.Domain, len(brd.Domains))
	for _, d := range brd.Domains {
		if _, dup := doms[d.Name]; dup {
			return nil, perf.Board{}, fmt.Errorf(
				"conddb: board %q has duplicate clock domain %q: %w",
				brd.Name, d.Name, nafll.ErrInvalidArgument,
			)
		}
		conv, err := ndiv.New(d.MDiv, d.RefClkMHz, d.RefDiv, d.DVCO1x, d.Domain1x)
		if err != nil {
			return nil, perf.Board{}, fmt.Errorf("conddb: clock domain %q: %w", d.Name, err)
		}
		doms[d.Name] = &clk.Domain{
			Index:          d.Index,
			Name:           d.Name,
			Source:         d.Source,
			FreqMaxEnumMHz: d.FreqMaxEnumMHz,
			OVOC:           d.OVOC,
			Conv:           conv,
		}
	}

	rails := make(map[uint8]volt.Rail, len(brd.Rails))
	for _, r := range brd.Rails {
		rails[r.Index] = r
	}

	domain := func(name string) (*clk.Domain, error) {
		dom, ok := doms[name]
		if !ok {
			return nil, fmt.Errorf("conddb: unknown clock domain %q: %w", name, nafll.ErrInvalidArgument)
		}
		return dom, nil
	}

	curves := make([]*clk.Curve, 0, len(brd.Curves))
	for _, desc := range brd.Curves {
		rail, ok := rails[desc.Rail]
		if !ok {
			return nil, perf.Board{}, fmt.Errorf(
				"conddb: curve %q has unknown rail %d: %w",
				desc.Name, desc.Rail, nafll.ErrInvalidArgument,
			)
		}
		dom, err := domain(desc.Domain)
		if err != nil {
			return nil, perf.Board{}, fmt.Errorf("conddb: curve %q: %w", desc.Name, err)
		}
		rel := desc.Relationship
		c := &clk.Curve{
			Name:               desc.Name,
			Kind:               desc.Kind,
			Domain:             dom,
			Rel:                &rel,
			Equation:           desc.Equation,
			CPMEquation:        desc.CPMEquation,
			DVCOOffsetEquation: desc.DVCOOffsetEquation,
			Points:             make([]clk.Point, rail.Rows()),
		}
		for _, name := range desc.Secondaries {
			sec, err := domain(name)
			if err != nil {
				return nil, perf.Board{}, fmt.Errorf("conddb: curve %q: %w", desc.Name, err)
			}
			c.Secondaries = append(c.Secondaries, sec)
		}
		for i := range c.Points {
			c.Points[i].SourceUV = rail.RowVoltage(i)
		}
		err = c.Validate()
		if err != nil {
			return nil, perf.Board{}, fmt.Errorf("conddb: board %q: %w", brd.Name, err)
		}
		curves = append(curves, c)
	}

	return tbl, perf.Board{
		Rails:   append([]volt.Rail(nil), brd.Rails...),
		Curves:  curves,
		Devices: append([]fll.Config(nil), brd.NAFLLs...),
	}, nil
}
