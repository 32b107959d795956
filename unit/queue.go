// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/wavestage/ctxsync"
	"github.com/grailbio/wavestage/stats"
	"golang.org/x/sync/errgroup"
)

// DefaultInflight is the default number of asynchronous transfers
// that may be outstanding on a queue at once.
const DefaultInflight = 64

// Mode selects whether a transfer completes before Push returns.
type Mode int

const (
	// Sync transfers complete before the issuing call returns.
	Sync Mode = iota
	// Async transfers are issued and complete by the next call to
	// (*Queue).Wait.
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// An Xfer is one unit's side of a bulk transfer: the host buffer
// that is copied to, or filled from, the unit.
type Xfer struct {
	Unit Unit
	Buf  []byte
}

// Queue issues bulk transfers between host buffers and unit memory.
// Asynchronous transfers run concurrently, bounded by the queue's
// inflight limit, and are drained by Wait. A queue may be shared by
// successive waves; each Wait acts as a barrier for everything
// issued before it.
type Queue struct {
	inflight int
	limiter  *limiter.Limiter
	pending  ctxsync.Pending

	staged  *stats.Int
	fetched *stats.Int
}

// NewQueue returns a queue that allows up to inflight outstanding
// asynchronous transfers. Transfer volumes are counted in st, which
// may be nil.
func NewQueue(inflight int, st *stats.Map) *Queue {
	if inflight <= 0 {
		inflight = DefaultInflight
	}
	q := &Queue{
		inflight: inflight,
		limiter:  limiter.New(),
		staged:   st.Int(stats.BytesStaged),
		fetched:  st.Int(stats.BytesFetched),
	}
	q.limiter.Release(inflight)
	return q
}

// Push copies the first length bytes of each xfer's buffer into
// region sym of its unit, at offset off. With Sync, Push returns
// once every copy has completed; with Async, Push returns as soon as
// the copies are issued and errors are reported by Wait.
func (q *Queue) Push(ctx context.Context, xfers []Xfer, sym Symbol, off, length int, mode Mode) error {
	for _, x := range xfers {
		if len(x.Buf) < length {
			return errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("push %s to %s: buffer holds %d bytes, need %d", sym, x.Unit.Name(), len(x.Buf), length))
		}
	}
	if mode == Sync {
		return traverse.Limit(q.inflight).Each(len(xfers), func(i int) error {
			return q.write(ctx, xfers[i], sym, off, length)
		})
	}
	q.pending.Add(len(xfers))
	for _, x := range xfers {
		x := x
		go func() {
			if err := q.limiter.Acquire(ctx, 1); err != nil {
				q.pending.Done(err)
				return
			}
			err := q.write(ctx, x, sym, off, length)
			q.limiter.Release(1)
			q.pending.Done(err)
		}()
	}
	return nil
}

// Broadcast copies p to region sym at offset off of every unit.
func (q *Queue) Broadcast(ctx context.Context, units []Unit, sym Symbol, off int, p []byte, mode Mode) error {
	xfers := make([]Xfer, len(units))
	for i, u := range units {
		xfers[i] = Xfer{Unit: u, Buf: p}
	}
	return q.Push(ctx, xfers, sym, off, len(p), mode)
}

// Gather fills the first length bytes of each xfer's buffer from
// region sym of its unit, at offset off. Gather is synchronous.
func (q *Queue) Gather(ctx context.Context, xfers []Xfer, sym Symbol, off, length int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, x := range xfers {
		x := x
		if len(x.Buf) < length {
			return errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("gather %s from %s: buffer holds %d bytes, need %d", sym, x.Unit.Name(), len(x.Buf), length))
		}
		g.Go(func() error {
			if err := x.Unit.Read(gctx, sym, off, x.Buf[:length]); err != nil {
				return errors.E(errors.Fatal, fmt.Sprintf("read %s from %s", sym, x.Unit.Name()), err)
			}
			q.fetched.Add(int64(length))
			return nil
		})
	}
	return g.Wait()
}

// Wait blocks until every asynchronous transfer issued so far has
// completed, and returns the first error among them.
func (q *Queue) Wait(ctx context.Context) error {
	return q.pending.Wait(ctx)
}

// Pending returns the number of outstanding asynchronous transfers.
func (q *Queue) Pending() int {
	return q.pending.N()
}

func (q *Queue) write(ctx context.Context, x Xfer, sym Symbol, off, length int) error {
	if err := x.Unit.Write(ctx, sym, off, x.Buf[:length]); err != nil {
		return errors.E(errors.Fatal, fmt.Sprintf("write %s to %s", sym, x.Unit.Name()), err)
	}
	q.staged.Add(int64(length))
	return nil
}

// Launch runs the installed program on every unit and returns when
// all of them have finished.
func Launch(ctx context.Context, units []Unit) error {
	return traverse.Each(len(units), func(i int) error {
		if err := units[i].Launch(ctx); err != nil {
			return errors.E(errors.Fatal, fmt.Sprintf("launch %s", units[i].Name()), err)
		}
		return nil
	})
}
