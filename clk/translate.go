// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clk

import (
	"fmt"

	"github.com/go-lpc/nafll"
)

// Translator translates a primary domain frequency into the frequency of
// a secondary domain of the same relationship.
// pos is the secondary position, starting at 1.
type Translator interface {
	PrimaryToSecondary(rel *Relationship, dom *Domain, pos int, mhz uint32, quantize bool) (uint32, error)
}

// RatioTranslator derives secondary frequencies from the relationship
// ratios: secondary = primary * ratio / 100.
type RatioTranslator struct{}

func (RatioTranslator) PrimaryToSecondary(rel *Relationship, dom *Domain, pos int, mhz uint32, quantize bool) (uint32, error) {
	if pos < 1 || pos > len(rel.Ratios) {
		return 0, fmt.Errorf("clk: no ratio for secondary position %d: %w", pos, nafll.ErrInvalidArgument)
	}
	v := uint32(uint64(mhz) * uint64(rel.Ratios[pos-1]) / 100)
	if quantize {
		if dom == nil {
			return 0, fmt.Errorf("clk: no domain for secondary position %d: %w", pos, nafll.ErrInvalidArgument)
		}
		v = dom.Conv.Quantize(v, true)
	}
	return v, nil
}

var _ Translator = RatioTranslator{}
