// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package alloc grows pools of units one wave at a time. Units are
// provisioned from a System; as each wave arrives it is appended to
// the pool and handed to a staging callback before the next wave
// is made visible.
package alloc

import (
	"context"
	"fmt"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/stats"
	"github.com/grailbio/wavestage/unit"
)

// A System provisions units.
type System interface {
	// Name returns the name of the system, for logs and events.
	Name() string

	// Start provisions exactly n units, each with the provided
	// memory layout. A system that cannot provide n units returns an
	// error.
	Start(ctx context.Context, n int, layout unit.Layout) ([]unit.Unit, error)

	// Release returns units to the system. Released units may not be
	// used again.
	Release(ctx context.Context, units []unit.Unit) error

	// Shutdown releases any resources held by the system itself.
	Shutdown()
}

// An Allocator acquires pools of units from a System.
type Allocator struct {
	// System provisions units.
	System System
	// Layout is the memory layout of each unit.
	Layout unit.Layout
	// Inflight bounds the number of outstanding asynchronous
	// transfers issued by the staging callback.
	Inflight int
	// Status, if non-nil, receives one task per wave.
	Status *status.Group
	// Eventer receives an event per staged wave. If nil, events are
	// discarded.
	Eventer eventlog.Eventer
	// Stats receives wave and transfer counters. It may be nil.
	Stats *stats.Map
}

type provision struct {
	units []unit.Unit
	err   error
}

// Acquire grows a new pool by the provided wave sizes. The units of
// wave k+1 are provisioned while wave k is staged. For each wave,
// the callback is invoked synchronously with the newly appended
// units, and the transfers it issued are drained before the next
// wave is appended. Acquire returns the frozen pool once every wave
// has been staged.
//
// Any failure is fatal: units acquired so far are released and no
// pool is returned.
func (a *Allocator) Acquire(ctx context.Context, waves []int, cb stage.Callback) (*unit.Pool, error) {
	if len(waves) == 0 {
		return nil, errors.E(errors.Invalid, errors.Fatal, "alloc: no waves requested")
	}
	for i, n := range waves {
		if n <= 0 {
			return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("alloc: wave %d: size must be positive, got %d", i, n))
		}
	}
	eventer := a.Eventer
	if eventer == nil {
		eventer = eventlog.Nop{}
	}
	var (
		nwaves = a.Stats.Int(stats.Waves)
		nunits = a.Stats.Int(stats.Units)
		staged = a.Stats.Int(stats.BytesStaged)
	)
	pool := unit.NewPool(a.System.Release)
	q := unit.NewQueue(a.Inflight, a.Stats)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	provisionc := make(chan provision, 1)
	go func() {
		defer close(provisionc)
		for _, n := range waves {
			if pctx.Err() != nil {
				return
			}
			units, err := a.System.Start(pctx, n, a.Layout)
			provisionc <- provision{units, err}
			if err != nil {
				return
			}
		}
	}()

	fail := func(err error) (*unit.Pool, error) {
		cancel()
		for p := range provisionc {
			if len(p.units) > 0 {
				if rerr := a.System.Release(ctx, p.units); rerr != nil {
					log.Error.Printf("alloc: release %d unstaged units: %v", len(p.units), rerr)
				}
			}
		}
		log.Error.Printf("alloc: releasing %d units: %v", pool.Len(), err)
		if ferr := pool.Free(ctx); ferr != nil {
			log.Error.Printf("alloc: free pool: %v", ferr)
		}
		return nil, errors.E(errors.Fatal, "alloc: acquire", err)
	}

	for k := range waves {
		var p provision
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case p = <-provisionc:
		}
		if p.err != nil {
			return fail(errors.E(fmt.Sprintf("provision wave %d", k), p.err))
		}
		if len(p.units) != waves[k] {
			if len(p.units) > 0 {
				if rerr := a.System.Release(ctx, p.units); rerr != nil {
					log.Error.Printf("alloc: release wave %d: %v", k, rerr)
				}
			}
			return fail(errors.E(errors.Unavailable, fmt.Sprintf("provision wave %d: %s returned %d units, want %d", k, a.System.Name(), len(p.units), waves[k])))
		}
		wave, err := pool.Append(p.units)
		if err != nil {
			if rerr := a.System.Release(ctx, p.units); rerr != nil {
				log.Error.Printf("alloc: release wave %d: %v", k, rerr)
			}
			return fail(err)
		}
		var task *status.Task
		if a.Status != nil {
			task = a.Status.Startf("wave %d", k)
			task.Printf("staging %d units", wave.Len())
		}
		before := staged.Get()
		if err := cb.Stage(ctx, wave, q); err != nil {
			// Transfers that were issued must still be drained before
			// the pool is freed.
			if werr := q.Wait(ctx); werr != nil {
				log.Error.Printf("alloc: wave %d: drain: %v", k, werr)
			}
			finish(task, err)
			return fail(errors.E(fmt.Sprintf("stage wave %d", k), err))
		}
		if err := q.Wait(ctx); err != nil {
			finish(task, err)
			return fail(errors.E(fmt.Sprintf("stage wave %d", k), err))
		}
		bytes := staged.Get() - before
		nwaves.Add(1)
		nunits.Add(int64(wave.Len()))
		finish(task, nil)
		log.Printf("alloc: wave %d: staged %d units (%s), pool has %d units", k, wave.Len(), data.Size(bytes), pool.Len())
		eventer.Event("wavestage:wave",
			"system", a.System.Name(),
			"wave", k,
			"units", wave.Len(),
			"poolSize", pool.Len(),
			"bytesStaged", bytes)
	}
	pool.Freeze()
	return pool, nil
}

func finish(task *status.Task, err error) {
	if task == nil {
		return
	}
	if err != nil {
		task.Printf("failed: %v", err)
	} else {
		task.Print("staged")
	}
	task.Done()
}
