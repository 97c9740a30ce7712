// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perf

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/nafll/bus"
	"github.com/go-lpc/nafll/clk"
)

type config struct {
	msg *log.Logger
	slp bus.Sleeper
	tr  clk.Translator

	lock struct {
		delay    time.Duration
		polls    int
		interval time.Duration
	}

	temp struct {
		mc     int32 // initial temperature, in milli-degrees Celsius
		bucket int32 // bucket width, in milli-degrees Celsius
	}

	alert func(dev string, err error)
}

func newConfig() config {
	var cfg config
	cfg.msg = log.New(os.Stdout, "perf: ", 0)
	cfg.slp = bus.Spin{}
	cfg.lock.delay = 5 * time.Microsecond
	cfg.lock.polls = 100
	cfg.lock.interval = time.Microsecond
	cfg.temp.mc = 25000
	cfg.temp.bucket = 10000
	return cfg
}

// Option configures a Context.
type Option func(*config)

// WithLogger sets the logger of the context and of its devices.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSleeper sets the sleeper used while waiting for NAFLL locks.
func WithSleeper(slp bus.Sleeper) Option {
	return func(cfg *config) {
		cfg.slp = slp
	}
}

// WithTranslator sets the primary to secondary clock domain translator.
func WithTranslator(tr clk.Translator) Option {
	return func(cfg *config) {
		cfg.tr = tr
	}
}

// WithLockDelay sets the fixed delay before polling the lock status of a
// NAFLL.
func WithLockDelay(d time.Duration) Option {
	return func(cfg *config) {
		cfg.lock.delay = d
	}
}

// WithLockPolls sets the number of lock status polls, and the interval
// between them, before giving up on a NAFLL lock.
func WithLockPolls(n int, interval time.Duration) Option {
	return func(cfg *config) {
		cfg.lock.polls = n
		cfg.lock.interval = interval
	}
}

// WithTemperature sets the initial temperature, in milli-degrees Celsius.
func WithTemperature(mc int32) Option {
	return func(cfg *config) {
		cfg.temp.mc = mc
	}
}

// WithTempBucket sets the width of the temperature buckets, in
// milli-degrees Celsius. Moving to another bucket reprograms the LUTs.
func WithTempBucket(mc int32) Option {
	return func(cfg *config) {
		cfg.temp.bucket = mc
	}
}

// WithAlert sets a function called whenever programming a device fails.
func WithAlert(f func(dev string, err error)) Option {
	return func(cfg *config) {
		cfg.alert = f
	}
}
