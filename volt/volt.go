// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package volt

import (
	"fmt"
	"sort"

	"github.com/go-lpc/nafll"
)

// Source reports the voltage of a rail, in micro-volts.
type Source interface {
	Voltage(rail uint8) (uint32, error)
}

// Static is a Source with fixed voltages.
type Static map[uint8]uint32

func (s Static) Voltage(rail uint8) (uint32, error) {
	uv, ok := s[rail]
	if !ok {
		return 0, fmt.Errorf("volt: no voltage for rail %d: %w", rail, nafll.ErrInvalidArgument)
	}
	return uv, nil
}

// Cache holds the last known voltage of a set of rails.
//
// Cache is not safe for concurrent use: the owner serializes accesses.
type Cache struct {
	src   Source
	rails map[uint8]Rail
	uvs   map[uint8]uint32
}

// NewCache creates a rail voltage cache fed by src.
// A nil source is allowed: voltages are then only changed with Set.
func NewCache(src Source, rails ...Rail) (*Cache, error) {
	c := &Cache{
		src:   src,
		rails: make(map[uint8]Rail, len(rails)),
		uvs:   make(map[uint8]uint32, len(rails)),
	}
	for _, r := range rails {
		if _, dup := c.rails[r.Index]; dup {
			return nil, fmt.Errorf("volt: duplicate rail %d: %w", r.Index, nafll.ErrInvalidArgument)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		c.rails[r.Index] = r
	}
	return c, nil
}

// Rail returns the description of the rail with the provided index.
func (c *Cache) Rail(idx uint8) (Rail, error) {
	r, ok := c.rails[idx]
	if !ok {
		return Rail{}, fmt.Errorf("volt: unknown rail %d: %w", idx, nafll.ErrInvalidArgument)
	}
	return r, nil
}

// Rails returns all rails, sorted by index.
func (c *Cache) Rails() []Rail {
	rails := make([]Rail, 0, len(c.rails))
	for _, r := range c.rails {
		rails = append(rails, r)
	}
	sort.Slice(rails, func(i, j int) bool { return rails[i].Index < rails[j].Index })
	return rails
}

// Voltage implements Source, returning the cached voltage.
func (c *Cache) Voltage(rail uint8) (uint32, error) {
	if _, err := c.Rail(rail); err != nil {
		return 0, err
	}
	uv, ok := c.uvs[rail]
	if !ok {
		return 0, fmt.Errorf("volt: rail %d voltage not known yet: %w", rail, nafll.ErrInvalidState)
	}
	return uv, nil
}

// Set records a new voltage for a rail and reports whether it changed.
func (c *Cache) Set(rail uint8, uv uint32) (bool, error) {
	if _, err := c.Rail(rail); err != nil {
		return false, err
	}
	old, ok := c.uvs[rail]
	c.uvs[rail] = uv
	return !ok || old != uv, nil
}

// Update reads the voltage of a rail from the underlying source and
// records it, reporting whether it changed.
func (c *Cache) Update(rail uint8) (uint32, bool, error) {
	if c.src == nil {
		return 0, false, fmt.Errorf("volt: no voltage source: %w", nafll.ErrInvalidState)
	}
	uv, err := c.src.Voltage(rail)
	if err != nil {
		return 0, false, fmt.Errorf("volt: could not read rail %d voltage: %w", rail, err)
	}
	changed, err := c.Set(rail, uv)
	return uv, changed, err
}
