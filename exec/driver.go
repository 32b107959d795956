// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/wavestage/stats"
	"github.com/grailbio/wavestage/unit"
)

// Driver phases, as recorded in the timers returned by Run.
const (
	PhaseRestage = "restage"
	PhaseLaunch  = "launch"
	PhaseCollect = "collect"
	PhaseMerge   = "merge"
)

// A Restager re-copies the inputs of every unit in a pool, using
// offsets derived from each unit's position in the pool.
// *stage.Stager implements Restager.
type Restager interface {
	Restage(ctx context.Context, pool *unit.Pool, q *unit.Queue) error
}

// A Collector merges the per-unit results of an iteration.
type Collector interface {
	// Region returns the memory region, offset and size from which
	// each unit's results are retrieved.
	Region() (sym unit.Symbol, off, size int)

	// Reset discards the results of a previous iteration.
	Reset()

	// Merge merges the results retrieved from the unit with the
	// provided pool index. Units are merged in pool order.
	Merge(index int, p []byte) error
}

// Driver runs repeated launch cycles over a fully staged pool.
type Driver struct {
	// Warmup is the number of unmeasured iterations that precede
	// the measured ones.
	Warmup int
	// Reps is the number of measured iterations.
	Reps int
	// Stager re-stages the pool before every iteration but the
	// first. If nil, the pool is not re-staged.
	Stager Restager
	// Collector merges each iteration's results.
	Collector Collector
	// Inflight bounds the number of concurrent transfers.
	Inflight int
	// Stats receives launch and transfer counters. It may be nil.
	Stats *stats.Map

	status *status.Group
	tracer *tracer
}

// Run runs Warmup+Reps iterations over pool. Each iteration
// re-stages the pool (except the first), launches every unit,
// retrieves each unit's results and merges them in pool order. The
// phases of measured iterations are timed separately; Run returns
// their timers. Any failure is fatal.
func (d *Driver) Run(ctx context.Context, pool *unit.Pool) (*stats.Timers, error) {
	switch {
	case d.Warmup < 0:
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("exec: negative warmup %d", d.Warmup))
	case d.Reps <= 0:
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("exec: repetitions must be positive, got %d", d.Reps))
	case d.Collector == nil:
		return nil, errors.E(errors.Invalid, errors.Fatal, "exec: no collector")
	case pool.Len() == 0:
		return nil, errors.E(errors.Invalid, errors.Fatal, "exec: empty pool")
	}
	var (
		timers   = stats.NewTimers()
		units    = pool.Units()
		q        = unit.NewQueue(d.Inflight, d.Stats)
		launches = d.Stats.Int(stats.Launches)
		task     *status.Task
	)
	if d.status != nil {
		task = d.status.Startf("%d units", len(units))
		defer task.Done()
	}
	sym, off, size := d.Collector.Region()
	for rep := 0; rep < d.Warmup+d.Reps; rep++ {
		measured := rep >= d.Warmup
		if task != nil {
			if measured {
				task.Printf("repetition %d/%d", rep-d.Warmup+1, d.Reps)
			} else {
				task.Printf("warmup %d/%d", rep+1, d.Warmup)
			}
		}
		phase := func(name string, do func() error) error {
			d.tracer.Event(catPhase, name, "B", "rep", rep)
			var stop func()
			if measured {
				stop = timers.Start(name)
			}
			err := do()
			if stop != nil {
				stop()
			}
			d.tracer.Event(catPhase, name, "E")
			if err != nil {
				return errors.E(errors.Fatal, fmt.Sprintf("exec: %s (iteration %d)", name, rep), err)
			}
			return nil
		}
		if rep > 0 && d.Stager != nil {
			if err := phase(PhaseRestage, func() error {
				return d.Stager.Restage(ctx, pool, q)
			}); err != nil {
				return nil, err
			}
		}
		if err := phase(PhaseLaunch, func() error {
			return unit.Launch(ctx, units)
		}); err != nil {
			return nil, err
		}
		launches.Add(int64(len(units)))

		// Results buffers live only for the duration of the iteration.
		xfers := make([]unit.Xfer, len(units))
		if err := phase(PhaseCollect, func() error {
			for i, u := range units {
				xfers[i] = unit.Xfer{Unit: u, Buf: make([]byte, size)}
			}
			return q.Gather(ctx, xfers, sym, off, size)
		}); err != nil {
			return nil, err
		}
		if err := phase(PhaseMerge, func() error {
			d.Collector.Reset()
			for i, x := range xfers {
				if err := d.Collector.Merge(i, x.Buf); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
		log.Debug.Printf("exec: iteration %d done", rep)
	}
	log.Printf("exec: %d units, %d+%d iterations: %s", len(units), d.Warmup, d.Reps, timers)
	return timers, nil
}
