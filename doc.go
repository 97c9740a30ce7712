// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nafll holds the clock VF-curve engine and the NAFLL regime
// sequencer that adaptively set frequency and voltage of GPU compute
// domains.
//
// The sub-packages are layered leaves first:
//   - ndiv converts between frequencies and NAFLL divider counts,
//   - vfe evaluates the VF equations,
//   - volt reads rail voltages from regulators,
//   - bus abstracts the register window of a NAFLL,
//   - dvco estimates the minimum stable DVCO frequency of a rail,
//   - clk caches and smooths the VF curves,
//   - fll classifies and programs the NAFLL regimes and the lookup tables,
//   - perf ties everything behind a single read/write lock,
//   - conddb loads board descriptions from JSON files or MySQL.
//
// Commands nafll-ctl, nafll-srv, nafll-sql and vf-dump drive a board
// interactively, as a tdaq node, from the database and as YODA plots.
package nafll // import "github.com/go-lpc/nafll"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of nafll and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/nafll"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
