// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alloc

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/unit"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&unitService{})
}

// DefaultUnitsPerMachine is the default number of units hosted by
// each bigmachine machine.
const DefaultUnitsPerMachine = 8

// unitService hosts a fixed set of local units on a machine. Its
// exported fields are set by the driver and shipped to the machine
// with the service.
type unitService struct {
	Units  int
	Layout unit.Layout

	units []unit.Unit
}

func (s *unitService) Init(b *bigmachine.B) error {
	s.units = make([]unit.Unit, s.Units)
	for i := range s.units {
		s.units[i] = unit.NewLocal(fmt.Sprintf("unit/%d", i), s.Layout)
	}
	return nil
}

func (s *unitService) unit(index int) (unit.Unit, error) {
	if index < 0 || index >= len(s.units) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("no unit %d", index))
	}
	return s.units[index], nil
}

type loadRequest struct {
	Index  int
	Entry  string
	Digest uint32
}

func (s *unitService) Load(ctx context.Context, req loadRequest, _ *struct{}) error {
	u, err := s.unit(req.Index)
	if err != nil {
		return err
	}
	return u.Load(ctx, req.Entry, req.Digest)
}

type writeRequest struct {
	Index  int
	Symbol unit.Symbol
	Offset int
	Data   []byte
}

func (s *unitService) Write(ctx context.Context, req writeRequest, _ *struct{}) error {
	u, err := s.unit(req.Index)
	if err != nil {
		return err
	}
	return u.Write(ctx, req.Symbol, req.Offset, req.Data)
}

type readRequest struct {
	Index  int
	Symbol unit.Symbol
	Offset int
	Len    int
}

func (s *unitService) Read(ctx context.Context, req readRequest, reply *[]byte) error {
	u, err := s.unit(req.Index)
	if err != nil {
		return err
	}
	p := make([]byte, req.Len)
	if err := u.Read(ctx, req.Symbol, req.Offset, p); err != nil {
		return err
	}
	*reply = p
	return nil
}

func (s *unitService) Launch(ctx context.Context, index int, _ *struct{}) error {
	u, err := s.unit(index)
	if err != nil {
		return err
	}
	return u.Launch(ctx)
}

type digestRequest struct {
	Index  int
	Symbol unit.Symbol
}

func (s *unitService) Digest(ctx context.Context, req digestRequest, reply *uint32) error {
	u, err := s.unit(req.Index)
	if err != nil {
		return err
	}
	d, err := u.Digest(ctx, req.Symbol)
	*reply = d
	return err
}

// remoteUnit is a unit hosted by a unitService on a machine.
type remoteUnit struct {
	machine *bigmachine.Machine
	index   int
	layout  unit.Layout
}

func (u *remoteUnit) Name() string        { return fmt.Sprintf("%s/%d", u.machine.Addr, u.index) }
func (u *remoteUnit) Layout() unit.Layout { return u.layout }
func (u *remoteUnit) String() string      { return u.Name() }

func (u *remoteUnit) Load(ctx context.Context, entry string, digest uint32) error {
	return u.machine.Call(ctx, "Unit.Load", loadRequest{u.index, entry, digest}, nil)
}

func (u *remoteUnit) Write(ctx context.Context, sym unit.Symbol, off int, p []byte) error {
	return u.machine.Call(ctx, "Unit.Write", writeRequest{u.index, sym, off, p}, nil)
}

func (u *remoteUnit) Read(ctx context.Context, sym unit.Symbol, off int, p []byte) error {
	var reply []byte
	if err := u.machine.Call(ctx, "Unit.Read", readRequest{u.index, sym, off, len(p)}, &reply); err != nil {
		return err
	}
	if len(reply) != len(p) {
		return errors.E(errors.Integrity, fmt.Sprintf("unit %s: read %d bytes, want %d", u.Name(), len(reply), len(p)))
	}
	copy(p, reply)
	return nil
}

func (u *remoteUnit) Launch(ctx context.Context) error {
	return u.machine.Call(ctx, "Unit.Launch", u.index, nil)
}

func (u *remoteUnit) Digest(ctx context.Context, sym unit.Symbol) (uint32, error) {
	var d uint32
	err := u.machine.Call(ctx, "Unit.Digest", digestRequest{u.index, sym}, &d)
	return d, err
}

// bigmachineSystem provisions units on bigmachine machines. Each
// machine hosts up to unitsPerMachine units; a wave is a batch of
// machines booted together.
type bigmachineSystem struct {
	b               *bigmachine.B
	system          bigmachine.System
	unitsPerMachine int
	params          []bigmachine.Param
	status          *status.Group

	mu       sync.Mutex
	machines map[*bigmachine.Machine]int
}

// Bigmachine returns a System that provisions units on machines
// started from the provided bigmachine system. Each machine hosts
// unitsPerMachine units. Status, if non-nil, receives a task for
// every machine. Params are applied to every machine.
func Bigmachine(system bigmachine.System, unitsPerMachine int, group *status.Group, params ...bigmachine.Param) System {
	if unitsPerMachine <= 0 {
		unitsPerMachine = DefaultUnitsPerMachine
	}
	return &bigmachineSystem{
		b:               bigmachine.Start(system),
		system:          system,
		unitsPerMachine: unitsPerMachine,
		params:          params,
		status:          group,
		machines:        make(map[*bigmachine.Machine]int),
	}
}

func (s *bigmachineSystem) Name() string { return "bigmachine:" + s.system.Name() }

// Start boots ceil(n/unitsPerMachine) machines and returns the n
// units they host. Machines that fail to boot are cancelled and the
// whole batch fails.
func (s *bigmachineSystem) Start(ctx context.Context, n int, layout unit.Layout) ([]unit.Unit, error) {
	if n <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("cannot start %d units", n))
	}
	nmach := shard.DivCeil(n, s.unitsPerMachine)
	perMachine := make([]int, nmach)
	for i := range perMachine {
		perMachine[i] = s.unitsPerMachine
	}
	perMachine[nmach-1] = n - s.unitsPerMachine*(nmach-1)

	// Services are per machine as they carry the machine's unit count.
	machines := make([]*bigmachine.Machine, nmach)
	g, gctx := errgroup.WithContext(ctx)
	for i := range machines {
		i := i
		g.Go(func() error {
			params := append([]bigmachine.Param{bigmachine.Services{
				"Unit": &unitService{Units: perMachine[i], Layout: layout},
			}}, s.params...)
			ms, err := s.b.Start(gctx, 1, params...)
			if err != nil {
				return err
			}
			m := ms[0]
			machines[i] = m
			var task *status.Task
			if s.status != nil {
				task = s.status.Start()
				task.Print("waiting for machine to boot")
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-m.Wait(bigmachine.Running):
			}
			if err := m.Err(); err != nil {
				log.Printf("machine %s failed to start: %v", m.Addr, err)
				if task != nil {
					task.Printf("failed to start: %v", err)
					task.Done()
				}
				return errors.E(errors.Unavailable, fmt.Sprintf("machine %s", m.Addr), err)
			}
			if task != nil {
				task.Title(m.Addr)
				task.Printf("hosting %d units", perMachine[i])
				task.Done()
			}
			log.Printf("machine %v is ready", m.Addr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, m := range machines {
			if m != nil {
				m.Cancel()
			}
		}
		return nil, err
	}
	var units []unit.Unit
	s.mu.Lock()
	for i, m := range machines {
		s.machines[m] = perMachine[i]
		for j := 0; j < perMachine[i]; j++ {
			units = append(units, &remoteUnit{machine: m, index: j, layout: layout})
		}
	}
	s.mu.Unlock()
	return units, nil
}

// Release cancels a machine once all of the units it hosts have
// been released.
func (s *bigmachineSystem) Release(ctx context.Context, units []unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		r, ok := u.(*remoteUnit)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("unit %s does not belong to %s", u.Name(), s.Name()))
		}
		n, ok := s.machines[r.machine]
		if !ok {
			continue
		}
		if n--; n > 0 {
			s.machines[r.machine] = n
			continue
		}
		delete(s.machines, r.machine)
		r.machine.Cancel()
	}
	return nil
}

func (s *bigmachineSystem) Shutdown() {
	s.b.Shutdown()
}
