// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clk

import (
	"fmt"
	"sort"

	"github.com/go-lpc/nafll"
	"github.com/go-lpc/nafll/vfe"
)

// Curve is a voltage-indexed VF curve. Point i is LUT row i.
type Curve struct {
	Name        string
	Kind        PointKind
	Domain      *Domain
	Rel         *Relationship
	Secondaries []*Domain

	Equation           vfe.Index
	CPMEquation        vfe.Index
	DVCOOffsetEquation vfe.Index

	Points []Point
}

// Validate checks the curve is consistent with its domains.
func (c *Curve) Validate() error {
	switch {
	case c.Domain == nil:
		return fmt.Errorf("clk: curve %q has no clock domain: %w", c.Name, nafll.ErrInvalidArgument)
	case c.Rel == nil:
		return fmt.Errorf("clk: curve %q has no relationship: %w", c.Name, nafll.ErrInvalidArgument)
	case len(c.Secondaries) >= MaxPositions:
		return fmt.Errorf(
			"clk: curve %q has too many secondary domains (%d): %w",
			c.Name, len(c.Secondaries), nafll.ErrInvalidArgument,
		)
	case len(c.Rel.Ratios) < len(c.Secondaries):
		return fmt.Errorf(
			"clk: curve %q has %d secondary domains but %d ratios: %w",
			c.Name, len(c.Secondaries), len(c.Rel.Ratios), nafll.ErrInvalidArgument,
		)
	case !c.Equation.Valid():
		return fmt.Errorf("clk: curve %q has no VF equation: %w", c.Name, nafll.ErrInvalidArgument)
	}
	if err := c.Domain.Conv.Validate(); err != nil {
		return fmt.Errorf("clk: curve %q: %w", c.Name, err)
	}
	for i, dom := range c.Secondaries {
		if dom == nil {
			return fmt.Errorf("clk: curve %q secondary %d is nil: %w", c.Name, i+1, nafll.ErrInvalidArgument)
		}
		if err := dom.Conv.Validate(); err != nil {
			return fmt.Errorf("clk: curve %q secondary %d: %w", c.Name, i+1, err)
		}
	}
	for i := 1; i < len(c.Points); i++ {
		if c.Points[i].SourceUV <= c.Points[i-1].SourceUV {
			return fmt.Errorf(
				"clk: curve %q point %d voltage is not increasing: %w",
				c.Name, i, nafll.ErrInvalidArgument,
			)
		}
	}
	return nil
}

// position checks pos is a valid clock domain position of the curve.
func (c *Curve) position(pos int) error {
	if pos < 0 || pos > len(c.Secondaries) {
		return fmt.Errorf("clk: curve %q has no position %d: %w", c.Name, pos, nafll.ErrInvalidArgument)
	}
	return nil
}

// smoothing reports whether the curve points must be ramp-rate limited.
func (c *Curve) smoothing() bool {
	return c.Rel.Smoothing.Enabled && c.Domain.Source.RequiresSmoothing()
}

func (c *Curve) ovoc() bool {
	return c.Domain.OVOC && c.Rel.OVOC
}

// Monotonic reports whether the offset frequency of the primary domain is
// non-decreasing with the voltage.
func (c *Curve) Monotonic() bool {
	for i := 1; i < len(c.Points); i++ {
		if c.Points[i].Offset.Freqs[0] < c.Points[i-1].Offset.Freqs[0] {
			return false
		}
	}
	return true
}

// MaxMHz returns the offset frequency of the highest point.
func (c *Curve) MaxMHz() uint32 {
	if len(c.Points) == 0 {
		return 0
	}
	return c.Points[len(c.Points)-1].MHz()
}

// PointAt returns the highest point of the curve not above uv.
func (c *Curve) PointAt(uv uint32) (*Point, error) {
	i := sort.Search(len(c.Points), func(i int) bool {
		return c.Points[i].SourceUV > uv
	})
	if i == 0 {
		return nil, fmt.Errorf("clk: voltage %duV below curve %q: %w", uv, c.Name, nafll.ErrOutOfRange)
	}
	return &c.Points[i-1], nil
}

// FreqAt returns the offset frequency the curve allows at the provided
// voltage: the frequency of the highest point not above uv.
func (c *Curve) FreqAt(uv uint32) (uint32, error) {
	pt, err := c.PointAt(uv)
	if err != nil {
		return 0, err
	}
	return pt.MHz(), nil
}

// VoltageFor returns the lowest point voltage at which the curve reaches
// mhz.
func (c *Curve) VoltageFor(mhz uint32) (uint32, error) {
	i := sort.Search(len(c.Points), func(i int) bool {
		return c.Points[i].MHz() >= mhz
	})
	if i == len(c.Points) {
		return 0, fmt.Errorf("clk: frequency %dMHz above curve %q: %w", mhz, c.Name, nafll.ErrOutOfRange)
	}
	return c.Points[i].SourceUV, nil
}

// Point returns the point of the curve with the provided voltage.
func (c *Curve) Point(uv uint32) (*Point, error) {
	i := sort.Search(len(c.Points), func(i int) bool {
		return c.Points[i].SourceUV >= uv
	})
	if i == len(c.Points) || c.Points[i].SourceUV != uv {
		return nil, fmt.Errorf("clk: curve %q has no point at %duV: %w", c.Name, uv, nafll.ErrInvalidArgument)
	}
	return &c.Points[i], nil
}

// Clone returns a deep copy of the curve points. Domains and relationship
// are shared.
func (c *Curve) Clone() *Curve {
	o := *c
	o.Secondaries = append([]*Domain(nil), c.Secondaries...)
	o.Points = append([]Point(nil), c.Points...)
	return &o
}
