// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package workload

import (
	"encoding/binary"
	"math/rand"

	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/unit"
)

// BSArgs is the argument record of the binary search workload.
type BSArgs struct {
	// InputSize is the number of elements in the sorted input.
	InputSize uint64
	// Slice is the number of queries staged into each unit.
	Slice uint64
	// Kernel selects a kernel variant.
	Kernel uint64
}

// BSResult is the result record of one binary search task.
type BSResult struct {
	// Found is the largest input index at which one of the task's
	// queries was found, or -1.
	Found int64
}

var (
	bsArgsSize   = binary.Size(BSArgs{})
	bsResultSize = binary.Size(BSResult{})
)

// DecodeBSArgs decodes a binary search argument record.
func DecodeBSArgs(p []byte) (args BSArgs, err error) {
	err = decode(p, &args)
	return
}

// EncodeBSResult encodes a binary search result record.
func EncodeBSResult(r BSResult) []byte { return encode(r) }

// BinarySearch returns the binary search workload over the sorted
// input and queries. The query count is padded to a multiple of
// Units*Tasks; padding queries are zero. Every unit receives the
// whole input at heap offset 0 and its slice of queries after it.
func BinarySearch(p Params, input, queries []int64) (*Spec, error) {
	plan, err := shard.Compute(shard.Geometry{Size: len(queries), Units: p.Units, Tasks: p.Tasks})
	if err != nil {
		return nil, err
	}
	args := BSArgs{InputSize: uint64(len(input)), Slice: uint64(plan.Slice)}
	roles := []stage.Role{
		{Name: "input", Source: Int64s(input), Length: 8 * len(input), Broadcast: true},
		{Name: "queries", Source: Int64s(queries), Stride: 8 * plan.Slice, Length: 8 * plan.Slice, Accumulated: true},
	}
	spec, err := newSpec("bs", p, plan, stage.Broadcast(encode(args)), bsArgsSize, p.Tasks*bsResultSize, roles)
	if err != nil {
		return nil, err
	}
	spec.Collector = &MaxFound{tasks: p.Tasks}
	return spec, nil
}

// MaxFound merges binary search results by taking the largest found
// index across every task of every unit.
type MaxFound struct {
	tasks int
	// Found is the merged result.
	Found int64
}

// Region implements exec.Collector.
func (c *MaxFound) Region() (unit.Symbol, int, int) {
	return unit.Results, 0, c.tasks * bsResultSize
}

// Reset implements exec.Collector.
func (c *MaxFound) Reset() { c.Found = -1 }

// Merge implements exec.Collector.
func (c *MaxFound) Merge(index int, p []byte) error {
	for t := 0; t < c.tasks; t++ {
		var r BSResult
		if err := decode(p[t*bsResultSize:], &r); err != nil {
			return err
		}
		if r.Found > c.Found {
			c.Found = r.Found
		}
	}
	return nil
}

// GenerateBS returns a sorted input of n distinct elements and m
// queries drawn from it, using the provided seed.
func GenerateBS(n, m int, seed int64) (input, queries []int64) {
	r := rand.New(rand.NewSource(seed))
	input = make([]int64, n)
	for i := range input {
		input[i] = int64(i) + 1
	}
	queries = make([]int64, m)
	for i := range queries {
		queries[i] = input[r.Intn(n)]
	}
	return
}
