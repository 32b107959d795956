// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides synchronization primitives whose waits
// observe a context.
package ctxsync

import (
	"context"
	"sync"
)

// Pending counts outstanding operations and remembers the first
// error reported by any of them. It is a context-aware variant of
// sync.WaitGroup: Wait returns early with the context's error if the
// context completes first. The zero Pending is ready to use.
type Pending struct {
	mu   sync.Mutex
	cond *Cond
	n    int
	err  error
}

// Add adds delta outstanding operations.
func (p *Pending) Add(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n += delta
	if p.n < 0 {
		panic("ctxsync: negative pending count")
	}
	p.broadcast()
}

// Done marks one operation complete, recording err if it is the first
// error observed since the last Wait.
func (p *Pending) Done(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil && p.err == nil {
		p.err = err
	}
	p.n--
	if p.n < 0 {
		panic("ctxsync: negative pending count")
	}
	p.broadcast()
}

// N returns the number of outstanding operations.
func (p *Pending) N() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// Wait blocks until no operations are outstanding, then returns (and
// clears) the first error reported by Done. If ctx completes first,
// Wait returns the context's error and leaves the recorded error in
// place.
func (p *Pending) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cond == nil {
		p.cond = NewCond(&p.mu)
	}
	for p.n > 0 {
		if err := p.cond.Wait(ctx); err != nil {
			return err
		}
	}
	err := p.err
	p.err = nil
	return err
}

// broadcast wakes waiters; p.mu must be held.
func (p *Pending) broadcast() {
	if p.cond != nil {
		p.cond.Broadcast()
	}
}
