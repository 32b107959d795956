// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stage implements the per-wave staging step: as each wave
// of units becomes available, the program is installed on the new
// units, their argument records are written, and each input role's
// slice is copied into their heaps at an offset derived from the
// number of units staged by earlier waves.
package stage

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/wavestage/program"
	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/unit"
)

// DefaultAlign is the default heap alignment of role placements, in
// bytes.
const DefaultAlign = 8

// A Callback is invoked synchronously once for each wave of units
// added to a pool. Transfers it issues asynchronously on q must be
// drained by the caller before the next wave is made visible.
type Callback interface {
	Stage(ctx context.Context, wave *unit.Wave, q *unit.Queue) error
}

// CallbackFunc adapts a function to a Callback.
type CallbackFunc func(ctx context.Context, wave *unit.Wave, q *unit.Queue) error

// Stage implements Callback.
func (f CallbackFunc) Stage(ctx context.Context, wave *unit.Wave, q *unit.Queue) error {
	return f(ctx, wave, q)
}

// Args describes the argument records written to each unit's Args
// region. Construct with Broadcast or PerUnit.
type Args struct {
	record  []byte
	perUnit func(index int) []byte
}

// Broadcast returns Args that write the same record to every unit.
func Broadcast(record []byte) Args {
	return Args{record: record}
}

// PerUnit returns Args whose record for each unit is computed from
// the unit's absolute index in the pool. All records must have the
// same size.
func PerUnit(record func(index int) []byte) Args {
	return Args{perUnit: record}
}

func (a Args) empty() bool {
	return a.record == nil && a.perUnit == nil
}

// size returns the size of the argument record, probing the
// per-unit function with index 0.
func (a Args) size() int {
	if a.perUnit != nil {
		return len(a.perUnit(0))
	}
	return len(a.record)
}

// A Role is a named input buffer that is sliced across units.
type Role struct {
	// Name identifies the role in logs and in Offsets.
	Name string
	// Source is the global, read-only input buffer.
	Source []byte
	// Stride is the distance, in bytes, between consecutive units'
	// slices of Source.
	Stride int
	// Length is the number of bytes copied to each unit. Bytes that
	// lie past the end of Source are staged as zeros.
	Length int
	// Broadcast roles copy Source[0:Length] to every unit.
	Broadcast bool
	// Accumulated roles offset each wave's slices by the number of
	// units staged by earlier waves. Roles that are neither broadcast
	// nor accumulated read every wave's slices from the start of
	// Source.
	Accumulated bool
}

// A Placement is the heap region assigned to a role on every unit.
type Placement struct {
	Role   string
	Offset int
	Size   int
}

// Config configures a Stager.
type Config struct {
	// Loader installs the program on each wave. If nil, no program
	// is installed.
	Loader *program.Loader
	// Args are the argument records written to each unit.
	Args Args
	// Roles are staged in order into consecutive heap placements.
	Roles []Role
	// Align is the heap alignment of placements, in bytes. Zero means
	// DefaultAlign.
	Align int
}

// Stager is a Callback that stages a fixed set of roles. It carries
// the accumulated count: the number of units staged by the waves it
// has seen so far.
//
// Stagers are not safe for concurrent use; waves must be staged one
// at a time.
type Stager struct {
	loader     *program.Loader
	args       Args
	roles      []Role
	placements []Placement
	heapSize   int

	accumulated int
	offsets     [][]int
}

// New returns a Stager for the provided configuration, validating
// that its argument record and role placements fit within layout.
// Validation failures are fatal precondition errors.
func New(config Config, layout unit.Layout) (*Stager, error) {
	align := config.Align
	if align == 0 {
		align = DefaultAlign
	}
	if align < 0 {
		return nil, precondition("negative alignment %d", align)
	}
	if n := config.Args.size(); n > layout.ArgsSize {
		return nil, precondition("argument record of %d bytes exceeds args region of %d bytes", n, layout.ArgsSize)
	}
	s := &Stager{
		loader:  config.Loader,
		args:    config.Args,
		roles:   config.Roles,
		offsets: make([][]int, len(config.Roles)),
	}
	names := make(map[string]bool)
	for _, r := range config.Roles {
		switch {
		case names[r.Name]:
			return nil, precondition("duplicate role %q", r.Name)
		case r.Length <= 0:
			return nil, precondition("role %s: length must be positive, got %d", r.Name, r.Length)
		case r.Stride < 0:
			return nil, precondition("role %s: negative stride %d", r.Name, r.Stride)
		}
		names[r.Name] = true
		s.placements = append(s.placements, Placement{Role: r.Name, Offset: s.heapSize, Size: r.Length})
		s.heapSize += shard.Pad(r.Length, align)
	}
	if s.heapSize > layout.HeapSize {
		return nil, precondition("roles need %d heap bytes, units have %d", s.heapSize, layout.HeapSize)
	}
	return s, nil
}

// Accumulated returns the number of units staged so far.
func (s *Stager) Accumulated() int { return s.accumulated }

// HeapSize returns the number of heap bytes used by the roles'
// placements.
func (s *Stager) HeapSize() int { return s.heapSize }

// Placements returns the heap placement of each role, in order.
func (s *Stager) Placements() []Placement {
	return append([]Placement(nil), s.placements...)
}

// Placement returns the placement of the named role.
func (s *Stager) Placement(role string) (Placement, bool) {
	for _, p := range s.placements {
		if p.Role == role {
			return p, true
		}
	}
	return Placement{}, false
}

// Offsets returns the source offsets, indexed by absolute unit
// index, from which the named role was last staged.
func (s *Stager) Offsets(role string) []int {
	for i, r := range s.roles {
		if r.Name == role {
			return append([]int(nil), s.offsets[i]...)
		}
	}
	return nil
}

// Stage implements Callback. It installs the program on the wave,
// issues the argument records and every role's slices
// asynchronously on q, and then advances the accumulated count by
// the size of the wave.
//
// A Stager serves a single acquisition: the first wave of a pool
// must find the accumulated count at zero.
func (s *Stager) Stage(ctx context.Context, wave *unit.Wave, q *unit.Queue) error {
	if wave.Len() == 0 {
		return nil
	}
	if wave.Index == 0 && s.accumulated != 0 {
		return precondition("wave 0 staged after %d units; stagers cannot be reused across pools", s.accumulated)
	}
	base := s.accumulated
	records, err := s.records(base, wave.Len())
	if err != nil {
		return err
	}
	if s.loader != nil {
		if err := s.loader.Load(ctx, wave.Units); err != nil {
			return err
		}
	}
	if err := s.issue(ctx, wave.Units, base, records, q, unit.Async); err != nil {
		return err
	}
	log.Debug.Printf("stage: wave %d: issued %d units at accumulated count %d", wave.Index, wave.Len(), base)
	s.accumulated += wave.Len()
	return nil
}

// Restage synchronously re-copies every unit's argument record and
// role slices, deriving each unit's offsets from its position in
// the pool rather than from the waves it arrived in.
func (s *Stager) Restage(ctx context.Context, pool *unit.Pool, q *unit.Queue) error {
	records, err := s.records(0, pool.Len())
	if err != nil {
		return err
	}
	for i := range s.offsets {
		s.offsets[i] = s.offsets[i][:0]
	}
	return s.issue(ctx, pool.Units(), 0, records, q, unit.Sync)
}

// records returns the per-unit argument records of n units starting
// at absolute index base, or nil if the arguments are broadcast. All
// records must have the same size.
func (s *Stager) records(base, n int) ([][]byte, error) {
	if s.args.perUnit == nil {
		return nil, nil
	}
	size := s.args.size()
	records := make([][]byte, n)
	for i := range records {
		records[i] = s.args.perUnit(base + i)
		if len(records[i]) != size {
			return nil, precondition("argument record for unit %d has %d bytes, want %d", base+i, len(records[i]), size)
		}
	}
	return records, nil
}

// issue stages units, the first of which has absolute index base.
// Accumulated roles read unit i's slice at (base+i)*Stride. Records,
// if non-nil, are the units' argument records.
func (s *Stager) issue(ctx context.Context, units []unit.Unit, base int, records [][]byte, q *unit.Queue, mode unit.Mode) error {
	switch {
	case records != nil:
		xfers := make([]unit.Xfer, len(units))
		for i, u := range units {
			xfers[i] = unit.Xfer{Unit: u, Buf: records[i]}
		}
		if err := q.Push(ctx, xfers, unit.Args, 0, s.args.size(), mode); err != nil {
			return err
		}
	case !s.args.empty():
		if err := q.Broadcast(ctx, units, unit.Args, 0, s.args.record, mode); err != nil {
			return err
		}
	}
	for ri, r := range s.roles {
		place := s.placements[ri]
		if r.Broadcast {
			if err := q.Broadcast(ctx, units, unit.Heap, place.Offset, window(r.Source, 0, r.Length), mode); err != nil {
				return err
			}
			for range units {
				s.offsets[ri] = append(s.offsets[ri], 0)
			}
			continue
		}
		xfers := make([]unit.Xfer, len(units))
		for i, u := range units {
			off := i * r.Stride
			if r.Accumulated {
				off = (base + i) * r.Stride
			}
			xfers[i] = unit.Xfer{Unit: u, Buf: window(r.Source, off, r.Length)}
			s.offsets[ri] = append(s.offsets[ri], off)
		}
		if err := q.Push(ctx, xfers, unit.Heap, place.Offset, r.Length, mode); err != nil {
			return err
		}
	}
	return nil
}

// window returns src[off:off+n], zero-extended if it extends past
// the end of src. The returned slice aliases src when possible.
func window(src []byte, off, n int) []byte {
	if off+n <= len(src) {
		return src[off : off+n]
	}
	p := make([]byte, n)
	if off < len(src) {
		copy(p, src[off:])
	}
	return p
}

func precondition(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, errors.Fatal, "stage: "+fmt.Sprintf(format, args...))
}
