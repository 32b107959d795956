// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/wavestage/unit"
)

// Local is a System that provisions in-process units.
var Local System = new(localSystem)

type localSystem struct {
	mu   sync.Mutex
	next int
	live int
}

func (*localSystem) Name() string { return "local" }

func (s *localSystem) Start(ctx context.Context, n int, layout unit.Layout) ([]unit.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	units := make([]unit.Unit, n)
	for i := range units {
		units[i] = unit.NewLocal(fmt.Sprintf("local/%d", s.next), layout)
		s.next++
	}
	s.live += n
	return units, nil
}

func (s *localSystem) Release(ctx context.Context, units []unit.Unit) error {
	s.mu.Lock()
	s.live -= len(units)
	s.mu.Unlock()
	return nil
}

func (*localSystem) Shutdown() {}

// Live returns the number of units provisioned by a local system
// that have not yet been released. It returns 0 for other systems.
func Live(system System) int {
	s, ok := system.(*localSystem)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// NewLocal returns a fresh local system, with its own unit naming
// and accounting.
func NewLocal() System {
	return new(localSystem)
}
