// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-lpc/nafll/conddb"
	"go-hep.org/x/hep/hbook"
)

func TestProcess(t *testing.T) {
	brd, err := conddb.LoadBoard("../../conddb/testdata/board.json")
	if err != nil {
		t.Fatalf("could not load board: %+v", err)
	}

	o := new(bytes.Buffer)
	err = process(o, brd, 1000000, 25000)
	if err != nil {
		t.Fatalf("could not process board: %+v", err)
	}

	out := o.String()
	for _, want := range []string{
		"/lpc-gpu0/gpc/gpc/base",
		"/lpc-gpu0/gpc/gpc/offset",
		"/lpc-gpu0/gpc/xbar/offset",
		"/lpc-gpu0/sys/sys/offset",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in YODA output:\n%s", want, out)
		}
	}
	if got, want := strings.Count(out, "BEGIN YODA_SCATTER2D"), 7; got != want {
		t.Fatalf("invalid number of scatters: got=%d, want=%d", got, want)
	}
}

func TestScatters(t *testing.T) {
	brd, err := conddb.LoadBoard("../../conddb/testdata/board.json")
	if err != nil {
		t.Fatalf("could not load board: %+v", err)
	}
	_, pb, err := brd.Setup()
	if err != nil {
		t.Fatalf("could not setup board: %+v", err)
	}

	c := pb.Curves[0]
	c.Points[len(c.Points)-1].Base.Freqs[0] = 1485
	c.Points[len(c.Points)-1].Offset.Freqs[0] = 1539
	c.Points[len(c.Points)-1].Offset.Freqs[1] = 769

	objs := scatters("brd", c)
	if got, want := len(objs), 3; got != want {
		t.Fatalf("invalid number of scatters: got=%d, want=%d", got, want)
	}

	for i, want := range []float64{1485, 1539, 769} {
		s2 := objs[i].(*hbook.S2D)
		if got, want := s2.Len(), len(c.Points); got != want {
			t.Fatalf("invalid number of points: got=%d, want=%d", got, want)
		}
		pt := s2.Point(s2.Len() - 1)
		if got, want := pt.X, 1.0; got != want {
			t.Fatalf("invalid voltage: got=%v, want=%v", got, want)
		}
		if got := pt.Y; got != want {
			t.Fatalf("invalid frequency: got=%v, want=%v", got, want)
		}
	}
}
