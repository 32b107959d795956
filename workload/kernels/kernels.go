// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package kernels registers reference kernels for the workloads in
// package workload. The kernels run in the unit's process against
// the unit's memory, so any binary that hosts units for these
// workloads must import this package.
package kernels

import (
	"context"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/unit"
	"github.com/grailbio/wavestage/workload"
)

// Entry points of the reference kernels.
const (
	BS = "wavestage/bs"
	TS = "wavestage/ts"
	VA = "wavestage/va"
)

func init() {
	unit.RegisterKernel(BS, binarySearch)
	unit.RegisterKernel(TS, timeSeries)
	unit.RegisterKernel(VA, vectorAdd)
}

// Entry returns the entry point of the named workload's kernel.
func Entry(workload string) (string, bool) {
	switch workload {
	case "bs":
		return BS, true
	case "ts":
		return TS, true
	case "va":
		return VA, true
	}
	return "", false
}

func region(mem *unit.Memory, off, n int) ([]byte, error) {
	heap := mem.Bytes(unit.Heap)
	if off < 0 || n < 0 || off+n > len(heap) {
		return nil, errors.E(errors.Invalid, "kernel: heap region out of bounds")
	}
	return heap[off : off+n], nil
}

func binarySearch(ctx context.Context, mem *unit.Memory) error {
	args, err := workload.DecodeBSArgs(mem.Bytes(unit.Args))
	if err != nil {
		return err
	}
	inputSize := 8 * int(args.InputSize)
	p, err := region(mem, 0, inputSize)
	if err != nil {
		return err
	}
	input := workload.DecodeInt64s(p)
	p, err = region(mem, shard.Pad(inputSize, stage.DefaultAlign), 8*int(args.Slice))
	if err != nil {
		return err
	}
	queries := workload.DecodeInt64s(p)
	results := mem.Bytes(unit.Results)
	tasks := len(results) / 8
	if tasks == 0 || len(queries)%tasks != 0 {
		return errors.E(errors.Invalid, "kernel: queries do not divide among tasks")
	}
	per := len(queries) / tasks
	return traverse.Each(tasks, func(t int) error {
		found := int64(-1)
		for _, q := range queries[t*per : (t+1)*per] {
			i := sort.Search(len(input), func(i int) bool { return input[i] >= q })
			if i < len(input) && input[i] == q && int64(i) > found {
				found = int64(i)
			}
		}
		copy(results[t*8:], workload.EncodeBSResult(workload.BSResult{Found: found}))
		return nil
	})
}

func timeSeries(ctx context.Context, mem *unit.Memory) error {
	args, err := workload.DecodeTSArgs(mem.Bytes(unit.Args))
	if err != nil {
		return err
	}
	var (
		qlen   = int(args.QueryLength)
		slice  = int(args.Slice)
		length = 4 * (slice + qlen)
		qoff   = 0
		soff   = qoff + shard.Pad(4*qlen, stage.DefaultAlign)
		moff   = soff + shard.Pad(length, stage.DefaultAlign)
		sgoff  = moff + shard.Pad(length, stage.DefaultAlign)
	)
	var bufs [4][]byte
	for i, off := range []int{qoff, soff, moff, sgoff} {
		n := length
		if i == 0 {
			n = 4 * qlen
		}
		if bufs[i], err = region(mem, off, n); err != nil {
			return err
		}
	}
	var (
		query  = workload.DecodeInt32s(bufs[0])
		series = workload.DecodeInt32s(bufs[1])
		mean   = workload.DecodeInt32s(bufs[2])
		sigma  = workload.DecodeInt32s(bufs[3])
	)
	results := mem.Bytes(unit.Results)
	tasks := len(results) / 16
	if tasks == 0 || slice%tasks != 0 {
		return errors.E(errors.Invalid, "kernel: profile does not divide among tasks")
	}
	per := slice / tasks
	return traverse.Each(tasks, func(t int) error {
		r := workload.TSResult{MinValue: math.MaxInt32}
		for i := t * per; i < (t+1)*per; i++ {
			if sigma[i] == 0 || args.QueryStd == 0 {
				continue
			}
			var dot float64
			for k := 0; k < qlen; k++ {
				dot += float64(query[k]) * float64(series[i+k])
			}
			q := float64(qlen)
			corr := (dot - q*float64(mean[i])*float64(args.QueryMean)) /
				(q * float64(sigma[i]) * float64(args.QueryStd))
			dist := int32(2 * q * (1 - corr))
			if dist < r.MinValue {
				r.MinValue, r.MinIndex = dist, uint32(i)
			}
			if dist > r.MaxValue {
				r.MaxValue, r.MaxIndex = dist, uint32(i)
			}
		}
		copy(results[t*16:], workload.EncodeTSResult(r))
		return nil
	})
}

func vectorAdd(ctx context.Context, mem *unit.Memory) error {
	args, err := workload.DecodeVAArgs(mem.Bytes(unit.Args))
	if err != nil {
		return err
	}
	xfer := int(args.TransferSize)
	pa, err := region(mem, 0, xfer)
	if err != nil {
		return err
	}
	pb, err := region(mem, shard.Pad(xfer, stage.DefaultAlign), xfer)
	if err != nil {
		return err
	}
	n := int(args.Size) / 4
	if 4*n > xfer {
		return errors.E(errors.Invalid, "kernel: slice exceeds transfer size")
	}
	a, b := workload.DecodeInt32s(pa[:4*n]), workload.DecodeInt32s(pb[:4*n])
	for i := range b {
		b[i] += a[i]
	}
	copy(pb, workload.Int32s(b))
	return nil
}
