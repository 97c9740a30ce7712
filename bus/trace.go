// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// OpKind is the kind of a traced operation.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
	OpSleep
)

// Op is one traced bus operation.
type Op struct {
	Kind  OpKind
	Addr  uint32
	Value uint32
	Dur   time.Duration
}

func (op Op) String() string {
	switch op.Kind {
	case OpRead:
		return fmt.Sprintf("r 0x%04x=0x%x", op.Addr, op.Value)
	case OpWrite:
		return fmt.Sprintf("w 0x%04x=0x%x", op.Addr, op.Value)
	case OpSleep:
		return fmt.Sprintf("sleep %v", op.Dur)
	}
	return fmt.Sprintf("Op(%d)", op.Kind)
}

// Trace is an in-memory register file recording every operation.
// Trace also implements Sleeper, recording waits without sleeping.
type Trace struct {
	mu   sync.Mutex
	regs map[uint32]uint32
	ops  []Op

	// Fail, when non-nil, is called before every register access.
	// A non-nil error aborts the access.
	Fail func(op Op) error
}

// NewTrace creates a traced register file with initial register values.
func NewTrace(regs map[uint32]uint32) *Trace {
	tr := &Trace{regs: make(map[uint32]uint32, len(regs))}
	for k, v := range regs {
		tr.regs[k] = v
	}
	return tr
}

func (tr *Trace) ReadRegister(addr uint32) (uint32, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	op := Op{Kind: OpRead, Addr: addr, Value: tr.regs[addr]}
	if tr.Fail != nil {
		if err := tr.Fail(op); err != nil {
			return 0, fmt.Errorf("bus: could not read register 0x%x: %w", addr, err)
		}
	}
	tr.ops = append(tr.ops, op)
	return op.Value, nil
}

func (tr *Trace) WriteRegister(addr, v uint32) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	op := Op{Kind: OpWrite, Addr: addr, Value: v}
	if tr.Fail != nil {
		if err := tr.Fail(op); err != nil {
			return fmt.Errorf("bus: could not write register 0x%x: %w", addr, err)
		}
	}
	tr.ops = append(tr.ops, op)
	tr.regs[addr] = v
	return nil
}

func (tr *Trace) Sleep(d time.Duration) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ops = append(tr.ops, Op{Kind: OpSleep, Dur: d})
}

// Set sets a register without tracing the access.
func (tr *Trace) Set(addr, v uint32) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.regs[addr] = v
}

// Reg returns the current value of a register without tracing the access.
func (tr *Trace) Reg(addr uint32) uint32 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.regs[addr]
}

// Ops returns the recorded operations.
func (tr *Trace) Ops() []Op {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]Op(nil), tr.ops...)
}

// Writes returns the recorded writes to the provided register.
func (tr *Trace) Writes(addr uint32) []uint32 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var vs []uint32
	for _, op := range tr.ops {
		if op.Kind == OpWrite && op.Addr == addr {
			vs = append(vs, op.Value)
		}
	}
	return vs
}

// Reset clears the recorded operations.
func (tr *Trace) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ops = tr.ops[:0]
}

func (tr *Trace) String() string {
	ops := tr.Ops()
	o := new(strings.Builder)
	for _, op := range ops {
		fmt.Fprintf(o, "%v\n", op)
	}
	return o.String()
}

var (
	_ Bus     = (*Trace)(nil)
	_ Sleeper = (*Trace)(nil)
)
