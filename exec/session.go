// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec runs staged computations over pools of units. A
// Session owns the system from which units are provisioned; it
// acquires pools wave by wave and drives repeated launch cycles over
// them.
package exec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/wavestage/alloc"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/stats"
	"github.com/grailbio/wavestage/unit"
)

// PhaseAcquire names the acquisition phase in the session's timers.
const PhaseAcquire = "acquire"

// Session represents a wavestage compute session. A session owns a
// unit system and is valid until Shutdown. A session may acquire
// several pools and run several drivers over them:
//
//	sess := exec.Start(exec.Local)
//	defer sess.Shutdown()
//	pool, err := sess.Acquire(ctx, []int{16, 16}, layout, stager)
//	if err != nil {
//		log.Fatal(err)
//	}
//	timers, err := sess.Run(ctx, pool, exec.Driver{Reps: 3, Stager: stager, Collector: c})
type Session struct {
	context.Context
	index     int32
	newSystem func(s *Session) alloc.System
	system    alloc.System
	inflight  int
	status    *status.Status
	eventer   eventlog.Eventer
	tracePath string
	tracer    *tracer
	stats     *stats.Map
	timers    *stats.Timers

	mu    sync.Mutex
	pools map[*unit.Pool]struct{}
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
		stats:   stats.NewMap(),
		timers:  stats.NewTimers(),
		pools:   make(map[*unit.Pool]struct{}),
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session to provision in-process units.
var Local Option = func(s *Session) {
	s.newSystem = func(*Session) alloc.System { return alloc.NewLocal() }
}

// Bigmachine configures a session to provision units on machines
// started from the provided bigmachine system, each hosting
// unitsPerMachine units. If any params are provided, they are
// applied to each machine.
func Bigmachine(system bigmachine.System, unitsPerMachine int, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.newSystem = func(s *Session) alloc.System {
			var group *status.Group
			if s.status != nil {
				group = s.status.Group("machines")
			}
			return alloc.Bigmachine(system, unitsPerMachine, group, params...)
		}
	}
}

// System configures a session with the provided unit system.
func System(system alloc.System) Option {
	return func(s *Session) {
		s.newSystem = func(*Session) alloc.System { return system }
	}
}

// Inflight configures the number of asynchronous transfers that may
// be outstanding at once.
func Inflight(n int) Option {
	if n <= 0 {
		panic("exec.Inflight: n <= 0")
	}
	return func(s *Session) {
		s.inflight = n
	}
}

// Status configures the session with a status object to which
// acquisition and run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status

		name := fmt.Sprintf("wavestage-%02d-status", s.index)
		dump.Register(name, func(ctx context.Context, w io.Writer) error {
			return status.Marshal(w)
		})
	}
}

// Eventer configures the session with an Eventer that will be used to log
// session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// TracePath configures the path to which a trace event file for the session
// will be written on shutdown.
func TracePath(path string) Option {
	return func(s *Session) {
		s.tracePath = path
	}
}

// nextSessionIndex is the index of the next session that will be started by
// Start.
var nextSessionIndex int32

// Start creates and starts a new session, configuring it according
// to the provided options. If no system is configured, the session
// provisions local units.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.inflight == 0 {
		s.inflight = unit.DefaultInflight
	}
	if s.newSystem == nil {
		Local(s)
	}
	s.start()
	return s
}

func (s *Session) start() {
	s.system = s.newSystem(s)
	s.tracer = newTracer()
	s.eventer.Event("wavestage:sessionStart",
		"command", strings.Join(os.Args, " "),
		"system", s.system.Name(),
		"inflight", s.inflight)

	name := fmt.Sprintf("wavestage-%02d-trace", s.index)
	dump.Register(name, func(ctx context.Context, w io.Writer) error {
		return s.tracer.Marshal(w)
	})
}

// Acquire acquires a new pool of units with the provided layout, in
// waves of the provided sizes, invoking cb once per wave. The pool
// remains owned by the session until it is released or the session
// is shut down.
func (s *Session) Acquire(ctx context.Context, waves []int, layout unit.Layout, cb stage.Callback) (*unit.Pool, error) {
	a := &alloc.Allocator{
		System:   s.system,
		Layout:   layout,
		Inflight: s.inflight,
		Eventer:  s.eventer,
		Stats:    s.stats,
	}
	if s.status != nil {
		a.Status = s.status.Groupf("acquire %d waves", len(waves))
	}
	traced := stage.CallbackFunc(func(ctx context.Context, wave *unit.Wave, q *unit.Queue) error {
		name := fmt.Sprintf("wave %d", wave.Index)
		s.tracer.Event(catWave, name, "B", "units", wave.Len())
		err := cb.Stage(ctx, wave, q)
		s.tracer.Event(catWave, name, "E")
		return err
	})
	s.tracer.Event(catAcquire, "acquire", "B", "waves", len(waves))
	start := time.Now()
	pool, err := a.Acquire(ctx, waves, traced)
	elapsed := time.Since(start)
	s.tracer.Event(catAcquire, "acquire", "E")
	if err != nil {
		return nil, err
	}
	s.timers.Add(PhaseAcquire, elapsed)
	log.Printf("exec: acquired %d units in %d waves (%s)", pool.Len(), len(waves), elapsed)
	s.mu.Lock()
	s.pools[pool] = struct{}{}
	s.mu.Unlock()
	return pool, nil
}

// Run runs the driver over pool, which must have been acquired by
// this session. The driver's transfer bound and counters are those
// of the session.
func (s *Session) Run(ctx context.Context, pool *unit.Pool, d Driver) (*stats.Timers, error) {
	d.Inflight = s.inflight
	d.Stats = s.stats
	d.tracer = s.tracer
	if s.status != nil {
		d.status = s.status.Group("run")
	}
	timers, err := d.Run(ctx, pool)
	if err == nil {
		s.eventer.Event("wavestage:run",
			"units", pool.Len(),
			"warmup", d.Warmup,
			"reps", d.Reps)
	}
	return timers, err
}

// Release frees a pool acquired by this session, returning its
// units to the session's system.
func (s *Session) Release(ctx context.Context, pool *unit.Pool) error {
	s.mu.Lock()
	delete(s.pools, pool)
	s.mu.Unlock()
	return pool.Free(ctx)
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() stats.Values {
	return s.stats.Snapshot()
}

// Timers returns the session's acquisition timers.
func (s *Session) Timers() *stats.Timers {
	return s.timers
}

// SystemName returns the name of the session's unit system.
func (s *Session) SystemName() string {
	return s.system.Name()
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// HandleDebug registers a handler on mux that serves the session's
// trace at /debug/wavestage/trace.
func (s *Session) HandleDebug(mux *http.ServeMux) {
	mux.HandleFunc("/debug/wavestage/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.tracer.Marshal(w); err != nil {
			log.Error.Printf("exec: marshal trace: %v", err)
		}
	})
}

// Shutdown releases every pool still owned by the session and tears
// down its system. It should be called when the session is
// discarded.
func (s *Session) Shutdown() {
	s.mu.Lock()
	pools := s.pools
	s.pools = make(map[*unit.Pool]struct{})
	s.mu.Unlock()
	for pool := range pools {
		if err := pool.Free(s.Context); err != nil {
			log.Error.Printf("exec: free pool: %v", err)
		}
	}
	s.system.Shutdown()
	if s.tracePath != "" {
		writeTraceFile(s.Context, s.tracer, s.tracePath)
	}
}
