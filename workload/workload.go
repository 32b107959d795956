// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package workload describes the binary search (BS), time series
// (TS) and vector addition (VA) workloads as data: the geometry of
// their inputs, their fixed-layout argument and result records, the
// roles staged into each unit, and the collectors that merge their
// per-unit results. Kernels are not part of this package; they are
// resolved by entry point from the unit kernel registry.
//
// All records and elements are little-endian.
package workload

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/must"
	"github.com/grailbio/wavestage/exec"
	"github.com/grailbio/wavestage/program"
	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/unit"
)

// Params are the parameters shared by every workload.
type Params struct {
	// Units is the total number of units in the pool.
	Units int
	// Tasks is the number of tasks each unit runs.
	Tasks int
	// Loader installs the workload's program. It may be nil.
	Loader *program.Loader
	// Heap is the heap capacity of each unit, in bytes. If zero, the
	// heap is sized to fit the workload's roles exactly.
	Heap int
}

// A Spec binds a workload to the components that stage and run it.
type Spec struct {
	// Name is the workload's short name.
	Name string
	// Plan is the division of the workload's global input.
	Plan shard.Plan
	// Layout is the memory layout each unit must provide.
	Layout unit.Layout
	// Stager stages the workload's roles, wave by wave.
	Stager *stage.Stager
	// Collector merges the workload's per-unit results.
	Collector exec.Collector
}

func (s *Spec) String() string {
	return fmt.Sprintf("%s: %s; layout %s", s.Name, s.Plan, s.Layout)
}

// newSpec builds the layout and stager for a workload. The heap is
// sized from the roles' aligned lengths unless p.Heap is set, in
// which case the stager validates the roles against it.
func newSpec(name string, p Params, plan shard.Plan, args stage.Args, argsSize, resultsSize int, roles []stage.Role) (*Spec, error) {
	heap := p.Heap
	if heap == 0 {
		for _, r := range roles {
			heap += shard.Pad(r.Length, stage.DefaultAlign)
		}
	}
	layout := unit.Layout{ArgsSize: argsSize, ResultsSize: resultsSize, HeapSize: heap}
	s, err := stage.New(stage.Config{Loader: p.Loader, Args: args, Roles: roles}, layout)
	if err != nil {
		return nil, err
	}
	return &Spec{Name: name, Plan: plan, Layout: layout, Stager: s}, nil
}

// encode encodes a fixed-size record.
func encode(v interface{}) []byte {
	var b bytes.Buffer
	must.Nil(binary.Write(&b, binary.LittleEndian, v))
	return b.Bytes()
}

// checkUint32 fails with a fatal precondition error if v cannot be
// represented in the uint32 record field name.
func checkUint32(name string, v int) error {
	if v < 0 || int64(v) > math.MaxUint32 {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("workload: %s %d overflows its 32-bit record field", name, v))
	}
	return nil
}

// decode decodes a fixed-size record from p.
func decode(p []byte, v interface{}) error {
	if n := binary.Size(v); len(p) < n {
		return errors.E(errors.Invalid, fmt.Sprintf("record of %d bytes is too short for %T (%d bytes)", len(p), v, n))
	}
	return binary.Read(bytes.NewReader(p), binary.LittleEndian, v)
}

// Int64s encodes a slice of int64s.
func Int64s(v []int64) []byte {
	p := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(p[8*i:], uint64(x))
	}
	return p
}

// DecodeInt64s decodes a slice of int64s.
func DecodeInt64s(p []byte) []int64 {
	v := make([]int64, len(p)/8)
	for i := range v {
		v[i] = int64(binary.LittleEndian.Uint64(p[8*i:]))
	}
	return v
}

// Int32s encodes a slice of int32s.
func Int32s(v []int32) []byte {
	p := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(p[4*i:], uint32(x))
	}
	return p
}

// DecodeInt32s decodes a slice of int32s.
func DecodeInt32s(p []byte) []int32 {
	v := make([]int32, len(p)/4)
	for i := range v {
		v[i] = int32(binary.LittleEndian.Uint32(p[4*i:]))
	}
	return v
}
