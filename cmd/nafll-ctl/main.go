// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nafll-ctl is an interactive shell driving the NAFLL clocks of a
// board.
//
// Usage: nafll-ctl [OPTIONS]
//
// Example:
//
//	$> nafll-ctl -board ./board.json -volt=850mV
//	nafll> program gpc0 1.2GHz
//	nafll> status
//	nafll> volt 0 900mV
//	nafll> curve gpc
//
// Without -mem, the registers are simulated in memory.
package main // import "github.com/go-lpc/nafll/cmd/nafll-ctl"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/conddb"
	"github.com/go-lpc/nafll/internal/hw"
	"github.com/go-lpc/nafll/perf"
	"github.com/peterh/liner"
	"periph.io/x/conn/v3/physic"
)

func main() {
	log.SetPrefix("nafll-ctl: ")
	log.SetFlags(0)

	var (
		fname = flag.String("board", "", "path to a JSON board description")
		dbase = flag.String("db", "", "name of the NAFLL database holding the board description")
		bname = flag.String("name", "", "name of the board to retrieve from the database")
		vsrc  = flag.String("vsrc", "", "rail voltage source (smbus:<bus>:<addr> or i2c:<name>:<addr>)")
		mem   = flag.String("mem", "", "memory device holding the NAFLL registers (default: simulated)")
		base  = flag.Int64("base", 0, "physical address of the NAFLL registers")
		temp  = flag.Int("temp", 25000, "temperature (m°C)")
		uv    = physic.Volt
	)
	flag.Var(&uv, "volt", "rail voltage when no voltage source is provided")

	flag.Parse()

	brd, err := loadBoard(*fname, *dbase, *bname)
	if err != nil {
		log.Fatalf("could not load board: %+v", err)
	}

	src, vclose, err := hw.OpenVolt(*vsrc, brd.Rails, uint32(uv/physic.MicroVolt))
	if err != nil {
		log.Fatalf("could not open rail voltage source: %+v", err)
	}
	defer vclose.Close()

	var (
		b    bus.Bus
		opts = []perf.Option{perf.WithTemperature(int32(*temp))}
	)
	switch *mem {
	case "":
		tr := hw.Sim(brd.NAFLLs)
		opts = append(opts, perf.WithSleeper(tr))
		b = tr
	default:
		m, err := hw.OpenMem(*mem, *base, brd.NAFLLs)
		if err != nil {
			log.Fatalf("could not open NAFLL registers: %+v", err)
		}
		defer m.Close()
		b = m
	}

	sh, err := newShell(os.Stdout, brd, src, b, opts...)
	if err != nil {
		log.Fatalf("could not create shell: %+v", err)
	}

	err = sh.run()
	if err != nil {
		log.Fatalf("error: %+v", err)
	}
}

func loadBoard(fname, dbase, name string) (*conddb.Board, error) {
	switch {
	case fname != "":
		return conddb.LoadBoard(fname)
	case dbase != "":
		db, err := conddb.Open(dbase)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.Board(ctx, name)
	}
	return nil, fmt.Errorf("no board description (-board or -db)")
}

func (sh *shell) run() error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	hist := filepath.Join(os.TempDir(), ".nafll-ctl.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("nafll> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}
