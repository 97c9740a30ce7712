// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nafll-srv starts a TDAQ server driving the NAFLL clocks of a
// board.
//
// The server consumes frequency requests on its /freq input and publishes
// the regime status of every NAFLL on its /status output.
// A /freq frame holds the NAFLL name, the frequency in MHz and the regime
// override.
package main // import "github.com/go-lpc/nafll/cmd/nafll-srv"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
)

var (
	board = flag.String("board", "", "path to a JSON board description")
	dbase = flag.String("db", "", "name of the NAFLL database (board description and program history)")
	bname = flag.String("name", "", "name of the board to retrieve from the database")
	vsrc  = flag.String("vsrc", "", "rail voltage source (smbus:<bus>:<addr> or i2c:<name>:<addr>)")
	mem   = flag.String("mem", "", "memory device holding the NAFLL registers (default: simulated)")
	base  = flag.Int64("base", 0, "physical address of the NAFLL registers")
	temp  = flag.Int("temp", 25000, "nominal temperature (m°C)")
	therm = flag.String("therm-gpio", "", "thermal alert line (<chip>:<offset>)")
	hot   = flag.Int("therm-hot", 85000, "temperature while the thermal alert is raised (m°C)")
	poll  = flag.Duration("poll", 1*time.Second, "rail voltages and status polling period")

	doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq = flag.Duration("pmon-freq", 1*time.Second, "pmon frequency")
	logDir = flag.String("pmon-dir", os.TempDir(), "pmon log directory")

	uv = physic.Volt
)

func init() {
	flag.Var(&uv, "volt", "rail voltage when no voltage source is provided")
}

func main() {
	cmd := flags.New()

	log.SetPrefix("nafll-srv: ")
	log.SetFlags(0)

	dev := newNode(config{
		board: *board,
		db:    *dbase,
		name:  *bname,
		vsrc:  *vsrc,
		mem:   *mem,
		base:  *base,
		uv:    uint32(uv / physic.MicroVolt),
		temp:  int32(*temp),
		therm: *therm,
		hot:   int32(*hot),
		poll:  *poll,
	})

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.InputHandle("/freq", dev.onFreq)
	srv.OutputHandle("/status", dev.status)

	srv.RunHandle(dev.run)

	err := run(context.Background(), srv, *doMon, *doFreq, *logDir)
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type runner interface {
	Run(ctx context.Context) error
}

// run runs the server, monitored by pmon when mon is set.
func run(ctx context.Context, srv runner, mon bool, freq time.Duration, dir string) error {
	var (
		grp  errgroup.Group
		stop = func() {}
	)

	if mon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		f, err := os.Create(filepath.Join(dir, "nafll-srv-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		grp.Go(func() error {
			log.Printf("run pmon...")
			err := p.Run()
			if err != nil {
				log.Printf("could not run monitoring: %+v", err)
			}
			return nil
		})
		stop = func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring: %+v", err)
			}
		}
	}

	grp.Go(func() error {
		defer stop()
		return srv.Run(ctx)
	})

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run NAFLL server: %w", err)
	}
	return nil
}
