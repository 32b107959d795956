// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package workload

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/unit"
)

// vaAlign is the element alignment of vector slices: 8 bytes of
// int32 elements.
const vaAlign = 2

// VAArgs is the per-unit argument record of the vector addition
// workload.
type VAArgs struct {
	// Size is the number of valid bytes in the unit's slice.
	Size uint32
	// TransferSize is the number of bytes staged per operand.
	TransferSize uint32
	// Kernel selects a kernel variant.
	Kernel uint32
}

var vaArgsSize = binary.Size(VAArgs{})

// DecodeVAArgs decodes a vector addition argument record.
func DecodeVAArgs(p []byte) (args VAArgs, err error) {
	err = decode(p, &args)
	return
}

// checkVAPlan verifies that plan's byte sizes fit the vector
// addition argument record.
func checkVAPlan(plan shard.Plan) error {
	if err := checkUint32("slice size", 4*plan.Last); err != nil {
		return err
	}
	return checkUint32("transfer size", 4*plan.Transfer)
}

// VectorAdd returns the vector addition workload over a and b. The
// vectors are not padded: every unit but the last receives an
// aligned slice and the last absorbs the remainder. Both operands
// are staged with the same transfer size; the kernel leaves the sum
// in place of the second operand, from which it is gathered.
func VectorAdd(p Params, a, b []int32) (*Spec, error) {
	if len(a) != len(b) {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("workload: operand lengths differ: %d != %d", len(a), len(b)))
	}
	plan, err := shard.Compute(shard.Geometry{Size: len(a), Units: p.Units, Tasks: p.Tasks, Remainder: true, Align: vaAlign})
	if err != nil {
		return nil, err
	}
	if err := checkVAPlan(plan); err != nil {
		return nil, err
	}
	records := make([][]byte, p.Units)
	for j := range records {
		records[j] = encode(VAArgs{
			Size:         uint32(4 * plan.SliceOf(j)),
			TransferSize: uint32(4 * plan.Transfer),
		})
	}
	args := stage.PerUnit(func(index int) []byte {
		if index >= len(records) {
			// Units beyond the planned count receive an empty slice.
			return encode(VAArgs{TransferSize: uint32(4 * plan.Transfer)})
		}
		return records[index]
	})
	var (
		stride = 4 * plan.Slice
		length = 4 * plan.Transfer
	)
	roles := []stage.Role{
		{Name: "a", Source: Int32s(a), Stride: stride, Length: length, Accumulated: true},
		{Name: "b", Source: Int32s(b), Stride: stride, Length: length, Accumulated: true},
	}
	spec, err := newSpec("va", p, plan, args, vaArgsSize, 0, roles)
	if err != nil {
		return nil, err
	}
	place, _ := spec.Stager.Placement("b")
	spec.Collector = &Gather{plan: plan, off: place.Offset}
	return spec, nil
}

// Gather collects the vector addition output by copying each unit's
// valid elements into place.
type Gather struct {
	plan shard.Plan
	off  int
	// Sum is the gathered output.
	Sum []int32
}

// Region implements exec.Collector.
func (c *Gather) Region() (unit.Symbol, int, int) {
	return unit.Heap, c.off, 4 * c.plan.Transfer
}

// Reset implements exec.Collector.
func (c *Gather) Reset() {
	c.Sum = make([]int32, c.plan.Size)
}

// Merge implements exec.Collector.
func (c *Gather) Merge(index int, p []byte) error {
	if index >= c.plan.Units {
		return nil
	}
	n := c.plan.SliceOf(index)
	copy(c.Sum[c.plan.Offset(index):], DecodeInt32s(p[:4*n]))
	return nil
}

// GenerateVA returns two random vectors of n elements.
func GenerateVA(n int, seed int64) (a, b []int32) {
	r := rand.New(rand.NewSource(seed))
	a = make([]int32, n)
	b = make([]int32, n)
	for i := range a {
		a[i] = int32(r.Intn(1 << 16))
		b[i] = int32(r.Intn(1 << 16))
	}
	return
}
