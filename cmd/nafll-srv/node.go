// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/conddb"
	"github.com/go-lpc/nafll/fll"
	"github.com/go-lpc/nafll/internal/alert"
	"github.com/go-lpc/nafll/internal/hw"
	"github.com/go-lpc/nafll/perf"
	"github.com/warthog618/gpiod"
)

type config struct {
	board string
	db    string
	name  string
	vsrc  string
	mem   string
	base  int64
	uv    uint32
	temp  int32
	therm string
	hot   int32
	poll  time.Duration
}

type node struct {
	cfg  config
	msg  *log.Logger // logger of the perf context
	mail *alert.Mailer

	mu     sync.RWMutex
	brd    *conddb.Board
	clocks *perf.Context
	db     *conddb.DB
	res    []io.Closer
	therm  *gpiod.Line
	n      int // number of programmed requests

	// live is the configured context, for the thermal alert handler.
	live atomic.Pointer[perf.Context]

	data chan []byte
}

func newNode(cfg config) *node {
	msg := log.New(os.Stdout, "perf: ", 0)
	return &node{
		cfg:  cfg,
		msg:  msg,
		mail: alert.FromEnv("nafll-srv", msg),
		data: make(chan []byte, 16),
	}
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.close(ctx)

	err := dev.configure()
	if err != nil {
		dev.close(ctx)
		ctx.Msg.Errorf("could not configure board: %+v", err)
		return fmt.Errorf("could not configure board: %w", err)
	}
	ctx.Msg.Infof("board %q: %d NAFLL(s)", dev.brd.Name, len(dev.brd.NAFLLs))
	return nil
}

func (dev *node) configure() error {
	if dev.cfg.db != "" {
		db, err := conddb.Open(dev.cfg.db)
		if err != nil {
			return err
		}
		dev.db = db
	}

	var err error
	switch {
	case dev.cfg.board != "":
		dev.brd, err = conddb.LoadBoard(dev.cfg.board)
	case dev.db != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dev.brd, err = dev.db.Board(ctx, dev.cfg.name)
	default:
		err = fmt.Errorf("no board description (-board or -db)")
	}
	if err != nil {
		return err
	}

	tbl, pb, err := dev.brd.Setup()
	if err != nil {
		return err
	}

	src, closer, err := hw.OpenVolt(dev.cfg.vsrc, dev.brd.Rails, dev.cfg.uv)
	if err != nil {
		return err
	}
	dev.res = append(dev.res, closer)

	opts := []perf.Option{
		perf.WithLogger(dev.msg),
		perf.WithTemperature(dev.cfg.temp),
		perf.WithAlert(dev.mail.Alert),
	}

	var b bus.Bus
	switch dev.cfg.mem {
	case "":
		tr := hw.Sim(dev.brd.NAFLLs)
		opts = append(opts, perf.WithSleeper(tr))
		b = tr
	default:
		m, err := hw.OpenMem(dev.cfg.mem, dev.cfg.base, dev.brd.NAFLLs)
		if err != nil {
			return err
		}
		dev.res = append(dev.res, m)
		b = m
	}

	dev.clocks, err = perf.New(tbl, src, b, pb, opts...)
	if err != nil {
		return err
	}
	dev.live.Store(dev.clocks)
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.clocks == nil {
		return fmt.Errorf("could not initialize: board not configured")
	}

	err := dev.clocks.Init()
	if err != nil {
		ctx.Msg.Errorf("could not initialize board %q: %+v", dev.brd.Name, err)
		return fmt.Errorf("could not initialize board %q: %w", dev.brd.Name, err)
	}
	dev.n = 0

	if dev.cfg.therm != "" && dev.therm == nil {
		dev.therm, err = openTherm(dev.cfg.therm, dev.onTherm)
		if err != nil {
			ctx.Msg.Errorf("could not open thermal alert line: %+v", err)
			return fmt.Errorf("could not open thermal alert line: %w", err)
		}
	}
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.close(ctx)
	return nil
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.RLock()
	n := dev.n
	dev.mu.RUnlock()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.close(ctx)
	return nil
}

// close releases the hardware resources of the node.
// close must be called with the node lock held.
func (dev *node) close(ctx tdaq.Context) {
	if dev.therm != nil {
		err := dev.therm.Close()
		if err != nil {
			ctx.Msg.Warnf("could not close thermal alert line: %+v", err)
		}
		dev.therm = nil
	}
	for i := len(dev.res) - 1; i >= 0; i-- {
		err := dev.res[i].Close()
		if err != nil {
			ctx.Msg.Warnf("could not release resource: %+v", err)
		}
	}
	dev.res = dev.res[:0]
	if dev.db != nil {
		err := dev.db.Close()
		if err != nil {
			ctx.Msg.Warnf("could not close NAFLL db: %+v", err)
		}
		dev.db = nil
	}
	dev.live.Store(nil)
	dev.clocks = nil
	dev.brd = nil
}

// onFreq programs the frequency request held by a /freq frame.
func (dev *node) onFreq(ctx tdaq.Context, src tdaq.Frame) error {
	dec := tdaq.NewDecoder(bytes.NewReader(src.Body))
	var (
		name = dec.ReadStr()
		mhz  = dec.ReadU32()
		ovr  = dec.ReadStr()
	)
	if err := dec.Err(); err != nil {
		return fmt.Errorf("could not decode frequency request: %w", err)
	}

	override, err := fll.ParseOverride(ovr)
	if err != nil {
		return fmt.Errorf("could not decode frequency request: %w", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.clocks == nil {
		return fmt.Errorf("could not program %q: board not configured", name)
	}

	st, err := dev.clocks.ClassifyAndProgram(name, mhz, override)
	if err != nil {
		ctx.Msg.Errorf("could not program %q at %dMHz: %+v", name, mhz, err)
		return fmt.Errorf("could not program %q at %dMHz: %w", name, mhz, err)
	}
	dev.n++
	ctx.Msg.Debugf("%s: regime=%v freq=%dMHz pldiv=%d", name, st.CurrentRegime, st.CurrentMHz, st.PLDiv)

	if dev.db != nil {
		err = dev.record(ctx, name, st)
		if err != nil {
			ctx.Msg.Warnf("could not record program of %q: %+v", name, err)
		}
	}

	dev.publish(ctx)
	return nil
}

func (dev *node) record(ctx tdaq.Context, name string, st fll.Status) error {
	cfg, err := dev.clocks.Config(name)
	if err != nil {
		return err
	}
	uv, err := dev.clocks.Voltage(cfg.Rail)
	if err != nil {
		return err
	}
	return dev.db.RecordProgram(ctx.Ctx, conddb.Program{
		Board:     dev.brd.Name,
		NAFLL:     name,
		Regime:    st.CurrentRegime,
		MHz:       st.CurrentMHz,
		PLDiv:     st.PLDiv,
		VoltageUV: uv,
	})
}

// publish queues a status frame of every NAFLL.
// publish must be called with the node lock held.
func (dev *node) publish(ctx tdaq.Context) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	names := dev.clocks.Devices()
	enc.WriteU32(uint32(len(names)))
	for _, name := range names {
		st, err := dev.clocks.Status(name)
		if err != nil {
			ctx.Msg.Errorf("could not get status of %q: %+v", name, err)
			return
		}
		lut, err := dev.clocks.LUT(name)
		if err != nil {
			ctx.Msg.Errorf("could not get LUT of %q: %+v", name, err)
			return
		}
		enc.WriteStr(name)
		enc.WriteStr(st.CurrentRegime.String())
		enc.WriteU32(st.CurrentMHz)
		enc.WriteU8(st.PLDiv)
		enc.WriteU32(st.DVCOMinMHz)
		enc.WriteU8(lut.CurrentTempIndex)
	}
	if err := enc.Err(); err != nil {
		ctx.Msg.Errorf("could not encode status: %+v", err)
		return
	}

	select {
	case dev.data <- buf.Bytes():
	default:
		ctx.Msg.Debugf("status queue full, dropping frame")
	}
}

func (dev *node) status(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

// run polls the rail voltages and publishes the status of the NAFLLs.
func (dev *node) run(ctx tdaq.Context) error {
	tck := time.NewTicker(dev.cfg.poll)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tck.C:
			dev.mu.Lock()
			if dev.clocks != nil {
				err := dev.clocks.UpdateVoltages()
				if err != nil {
					ctx.Msg.Errorf("could not update rail voltages: %+v", err)
				}
				dev.publish(ctx)
			}
			dev.mu.Unlock()
		}
	}
}

// onTherm switches the temperature on the edges of the thermal alert line.
func (dev *node) onTherm(evt gpiod.LineEvent) {
	mc := dev.cfg.temp
	if evt.Type == gpiod.LineEventRisingEdge {
		mc = dev.cfg.hot
	}

	clocks := dev.live.Load()
	if clocks == nil {
		return
	}
	err := clocks.SetTemperature(mc)
	if err != nil {
		log.Printf("could not set temperature to %dm°C: %+v", mc, err)
	}
}

// openTherm requests the thermal alert line described by spec (<chip>:<offset>).
func openTherm(spec string, f func(gpiod.LineEvent)) (*gpiod.Line, error) {
	i := strings.LastIndex(spec, ":")
	if i < 0 {
		return nil, fmt.Errorf("invalid thermal alert line %q", spec)
	}
	chip := spec[:i]
	offset, err := strconv.Atoi(spec[i+1:])
	if err != nil {
		return nil, fmt.Errorf("invalid thermal alert line offset %q: %w", spec[i+1:], err)
	}
	line, err := gpiod.RequestLine(chip, offset, gpiod.WithBothEdges, gpiod.WithEventHandler(f))
	if err != nil {
		return nil, fmt.Errorf("could not request line %d of %q: %w", offset, chip, err)
	}
	return line, nil
}
