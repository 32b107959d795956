// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
)

// A Wave is the set of units added to a pool by one acquisition
// step. Waves are handed to the staging callback and not retained.
type Wave struct {
	// Index is the 0-based position of the wave in its acquisition.
	Index int
	// Units are the newly available units, in pool order.
	Units []Unit
}

// Len returns the number of units in the wave.
func (w *Wave) Len() int { return len(w.Units) }

// Pool is an ordered, growable set of units. Units are appended one
// wave at a time and are never removed until the pool is freed.
// Once frozen, the pool's size is fixed.
type Pool struct {
	mu     sync.Mutex
	units  []Unit
	waves  []int
	frozen bool
	freed  bool
	free   func(ctx context.Context, units []Unit) error
}

// NewPool returns an empty pool. The provided function, if non-nil,
// is called by Free with every unit in the pool.
func NewPool(free func(ctx context.Context, units []Unit) error) *Pool {
	return &Pool{free: free}
}

// Append adds the units to the end of the pool as a new wave and
// returns it. Append fails if the pool is frozen or freed.
func (p *Pool) Append(units []Unit) (*Wave, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.freed:
		return nil, errors.E(errors.Invalid, "unit: append to freed pool")
	case p.frozen:
		return nil, errors.E(errors.Invalid, "unit: append to frozen pool")
	}
	wave := &Wave{Index: len(p.waves), Units: append([]Unit(nil), units...)}
	p.units = append(p.units, units...)
	p.waves = append(p.waves, len(units))
	return wave, nil
}

// Freeze fixes the size of the pool. Subsequent calls to Append
// fail.
func (p *Pool) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Frozen tells whether the pool is frozen.
func (p *Pool) Frozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}

// Len returns the number of units in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.units)
}

// Unit returns the i'th unit of the pool.
func (p *Pool) Unit(i int) Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.units[i]
}

// Units returns the units of the pool in order.
func (p *Pool) Units() []Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Unit(nil), p.units...)
}

// Waves returns the sizes of the waves appended to the pool.
func (p *Pool) Waves() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.waves...)
}

// Free releases every unit in the pool. Free is idempotent; only
// the first call releases units.
func (p *Pool) Free(ctx context.Context) error {
	p.mu.Lock()
	if p.freed {
		p.mu.Unlock()
		return nil
	}
	p.freed, p.frozen = true, true
	units := p.units
	p.mu.Unlock()
	if p.free == nil || len(units) == 0 {
		return nil
	}
	return p.free(ctx, units)
}
