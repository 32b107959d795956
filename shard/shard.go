// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package shard computes how a global input is divided among the
// units of a pool. All sizes are in elements; callers scale them by
// the element size when addressing bytes.
//
// Two geometries are supported. In padded geometry the global size is
// rounded up so that every unit, and every task within a unit,
// receives an equal share; the padding carries no data. In remainder
// geometry the input is not padded: all units but the last receive a
// uniform, aligned slice and the last unit absorbs what is left.
package shard

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Geometry describes a global input and the pool it is divided
// among.
type Geometry struct {
	// Size is the number of elements in the global input.
	Size int
	// Units is the total number of units in the pool.
	Units int
	// Tasks is the number of tasks each unit runs over its slice.
	Tasks int
	// Window, if positive, is a window length; padded geometry then
	// rounds to a multiple of Units*Tasks*Window.
	Window int
	// Remainder selects remainder geometry.
	Remainder bool
	// Align is the element alignment of slices in remainder
	// geometry. Zero means 1.
	Align int
}

// Plan is the result of dividing a Geometry.
type Plan struct {
	Geometry
	// Padded is the global size after padding. In remainder
	// geometry it equals Size.
	Padded int
	// Slice is the uniform per-unit slice, and the stride between
	// consecutive units' slices in the global input.
	Slice int
	// TaskSlice is the share of each task within a uniform slice.
	TaskSlice int
	// Last is the size of the last unit's slice.
	Last int
	// Transfer is the number of elements moved to each unit: Slice
	// in padded geometry, and the aligned maximum of Slice and Last
	// in remainder geometry.
	Transfer int
}

// Compute divides g. It fails with a fatal precondition error if the
// geometry cannot be divided; no resources should be touched before
// Compute succeeds.
func Compute(g Geometry) (Plan, error) {
	switch {
	case g.Units <= 0:
		return Plan{}, precondition("unit count must be positive, got %d", g.Units)
	case g.Tasks <= 0:
		return Plan{}, precondition("tasks per unit must be positive, got %d", g.Tasks)
	case g.Size < 0:
		return Plan{}, precondition("negative input size %d", g.Size)
	case g.Window < 0:
		return Plan{}, precondition("negative window %d", g.Window)
	case g.Align < 0:
		return Plan{}, precondition("negative alignment %d", g.Align)
	}
	if g.Remainder {
		return remainder(g)
	}
	quantum := g.Units * g.Tasks
	if g.Window > 0 {
		quantum *= g.Window
	}
	p := Plan{Geometry: g, Padded: Pad(g.Size, quantum)}
	p.Slice = p.Padded / g.Units
	p.TaskSlice = p.Slice / g.Tasks
	p.Last = p.Slice
	p.Transfer = p.Slice
	return p, nil
}

func remainder(g Geometry) (Plan, error) {
	align := g.Align
	if align == 0 {
		align = 1
	}
	p := Plan{Geometry: g, Padded: g.Size}
	p.Slice = g.Size / g.Units / align * align
	if g.Units > 1 && p.Slice == 0 {
		return Plan{}, precondition("input of %d elements cannot give each of %d units an aligned slice of %d", g.Size, g.Units, align)
	}
	p.TaskSlice = p.Slice / g.Tasks
	p.Last = g.Size - p.Slice*(g.Units-1)
	p.Transfer = Pad(max(p.Slice, p.Last), align)
	return p, nil
}

// Offset returns the offset in the global input of the j'th unit's
// slice.
func (p Plan) Offset(j int) int {
	return j * p.Slice
}

// SliceOf returns the number of valid elements in the j'th unit's
// slice.
func (p Plan) SliceOf(j int) int {
	if j == p.Units-1 {
		return p.Last
	}
	return p.Slice
}

func (p Plan) String() string {
	return fmt.Sprintf("size:%d padded:%d units:%d tasks:%d slice:%d last:%d transfer:%d",
		p.Size, p.Padded, p.Units, p.Tasks, p.Slice, p.Last, p.Transfer)
}

// Pad returns the smallest multiple of quantum that is at least n.
func Pad(n, quantum int) int {
	if r := n % quantum; r != 0 {
		return n + quantum - r
	}
	return n
}

// DivCeil returns n/d rounded up.
func DivCeil(n, d int) int {
	return (n + d - 1) / d
}

func precondition(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, errors.Fatal, "shard: "+fmt.Sprintf(format, args...))
}

func max(x, y int) int {
	if x > y {
		return x
	}
	return y
}
