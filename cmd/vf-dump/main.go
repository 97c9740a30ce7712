// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vf-dump exports the VF curves of a board as YODA scatter plots.
//
// For each curve, vf-dump writes the base and the offset frequencies of the
// primary domain, and the offset frequencies of each secondary domain, as a
// function of the rail voltage.
//
// Usage: vf-dump [OPTIONS] board.json
//
// Example:
//
//	$> vf-dump -o curves.yoda -temp=45000 ./board.json
package main // import "github.com/go-lpc/nafll/cmd/vf-dump"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/nafll/clk"
	"github.com/go-lpc/nafll/conddb"
	"github.com/go-lpc/nafll/internal/hw"
	"github.com/go-lpc/nafll/perf"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hbook/yodacnv"
	"periph.io/x/conn/v3/physic"
)

func main() {
	log.SetPrefix("vf-dump: ")
	log.SetFlags(0)

	var (
		oname = flag.String("o", "out.yoda", "path to output YODA file")
		temp  = flag.Int("temp", 25000, "temperature (m°C)")
		uv    = physic.Volt
	)
	flag.Var(&uv, "volt", "rail voltage used to estimate the DVCO minimum")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `vf-dump exports the VF curves of a board as YODA scatter plots.

Usage: vf-dump [OPTIONS] board.json

Example:

$> vf-dump -o curves.yoda -temp=45000 ./board.json

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input board description")
	}

	brd, err := conddb.LoadBoard(flag.Arg(0))
	if err != nil {
		log.Fatalf("could not load board: %+v", err)
	}

	o, err := os.Create(*oname)
	if err != nil {
		log.Fatalf("could not create output file: %+v", err)
	}
	defer o.Close()

	err = process(o, brd, uint32(uv/physic.MicroVolt), int32(*temp))
	if err != nil {
		log.Fatalf("could not dump VF curves: %+v", err)
	}

	err = o.Close()
	if err != nil {
		log.Fatalf("could not close output file: %+v", err)
	}
}

func process(w io.Writer, brd *conddb.Board, uv uint32, temp int32) error {
	tbl, pb, err := brd.Setup()
	if err != nil {
		return fmt.Errorf("could not setup board %q: %w", brd.Name, err)
	}

	src, _, err := hw.OpenVolt("", brd.Rails, uv)
	if err != nil {
		return fmt.Errorf("could not create voltage source: %w", err)
	}
	tr := hw.Sim(brd.NAFLLs)

	ctx, err := perf.New(
		tbl, src, tr, pb,
		perf.WithLogger(log.New(io.Discard, "perf: ", 0)),
		perf.WithSleeper(tr),
		perf.WithTemperature(temp),
	)
	if err != nil {
		return fmt.Errorf("could not create context: %w", err)
	}

	err = ctx.Init()
	if err != nil {
		return fmt.Errorf("could not compute VF curves: %w", err)
	}

	var objs []yodacnv.Marshaler
	for _, name := range ctx.Curves() {
		c, err := ctx.Curve(name)
		if err != nil {
			return err
		}
		objs = append(objs, scatters(brd.Name, c)...)
	}

	err = yodacnv.Write(w, objs...)
	if err != nil {
		return fmt.Errorf("could not write YODA file: %w", err)
	}
	return nil
}

// scatters returns the frequency (MHz) versus voltage (V) plots of a curve.
func scatters(board string, c *clk.Curve) []yodacnv.Marshaler {
	var (
		n    = 2 + len(c.Secondaries)
		pts  = make([][]hbook.Point2D, n)
		objs = make([]yodacnv.Marshaler, 0, n)
	)
	for _, pt := range c.Points {
		x := float64(pt.SourceUV) / 1e6
		pts[0] = append(pts[0], hbook.Point2D{X: x, Y: float64(pt.Base.Freqs[0])})
		pts[1] = append(pts[1], hbook.Point2D{X: x, Y: float64(pt.Offset.Freqs[0])})
		for i := range c.Secondaries {
			pts[2+i] = append(pts[2+i], hbook.Point2D{X: x, Y: float64(pt.Offset.Freqs[i+1])})
		}
	}

	names := []string{
		fmt.Sprintf("/%s/%s/%s/base", board, c.Name, c.Domain.Name),
		fmt.Sprintf("/%s/%s/%s/offset", board, c.Name, c.Domain.Name),
	}
	for _, dom := range c.Secondaries {
		names = append(names, fmt.Sprintf("/%s/%s/%s/offset", board, c.Name, dom.Name))
	}

	for i, name := range names {
		s2 := hbook.NewS2D(pts[i]...)
		s2.Annotation()["name"] = name
		objs = append(objs, s2)
	}
	return objs
}
