// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Timers accumulates elapsed time per named phase. Each recorded
// interval counts as one sample of its phase, so that Mean reports
// the per-repetition average.
type Timers struct {
	mu     sync.Mutex
	order  []string
	phases map[string]*phase
}

type phase struct {
	total   time.Duration
	samples []time.Duration
}

// NewTimers returns an empty set of timers.
func NewTimers() *Timers {
	return &Timers{phases: make(map[string]*phase)}
}

// Start begins timing the named phase. The returned function stops
// the timer and records the sample; it must be called exactly once.
// Start on a nil *Timers returns a no-op.
func (t *Timers) Start(name string) (stop func()) {
	if t == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		t.Add(name, time.Since(start))
	}
}

// Add records a sample of duration d for the named phase.
func (t *Timers) Add(name string, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.phases[name]
	if p == nil {
		p = new(phase)
		t.phases[name] = p
		t.order = append(t.order, name)
	}
	p.total += d
	p.samples = append(p.samples, d)
}

// Total returns the accumulated duration of the named phase.
func (t *Timers) Total(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.phases[name]; p != nil {
		return p.total
	}
	return 0
}

// Count returns the number of samples recorded for the named phase.
func (t *Timers) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.phases[name]; p != nil {
		return len(p.samples)
	}
	return 0
}

// Mean returns the average sample of the named phase, or zero if the
// phase was never recorded.
func (t *Timers) Mean(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.phases[name]
	if p == nil || len(p.samples) == 0 {
		return 0
	}
	return p.total / time.Duration(len(p.samples))
}

// Samples returns the samples of the named phase in increasing
// order.
func (t *Timers) Samples(name string) []time.Duration {
	t.mu.Lock()
	var ds []time.Duration
	if p := t.phases[name]; p != nil {
		ds = append(ds, p.samples...)
	}
	t.mu.Unlock()
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	return ds
}

// Phases returns the phase names in the order they were first
// recorded.
func (t *Timers) Phases() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// String renders the mean of every phase in milliseconds.
func (t *Timers) String() string {
	var b strings.Builder
	for i, name := range t.Phases() {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s:%.3fms", name, float64(t.Mean(name))/float64(time.Millisecond))
	}
	return b.String()
}
