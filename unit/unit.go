// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package unit defines compute units, the pools that own them, and
// the bulk transfer queue used to move data between the host and
// unit memory.
//
// A unit is an independent compute element with a private memory
// region. The region is addressed by symbol: a small fixed-layout
// arguments record (Args), an array of per-task result records
// (Results), and a bulk heap (Heap) into which input slices are
// staged. A unit executes a single installed program, named by its
// entry point in the kernel registry, over its own memory.
package unit

import (
	"context"
	"fmt"
)

// Symbol names a region of a unit's memory.
type Symbol int

const (
	// Args holds the input arguments record.
	Args Symbol = iota
	// Results holds the per-task result records.
	Results
	// Heap holds the staged input slices.
	Heap
)

func (s Symbol) String() string {
	switch s {
	case Args:
		return "args"
	case Results:
		return "results"
	case Heap:
		return "heap"
	default:
		return fmt.Sprintf("symbol(%d)", int(s))
	}
}

// Layout describes the sizes, in bytes, of a unit's memory regions.
type Layout struct {
	ArgsSize    int
	ResultsSize int
	HeapSize    int
}

// Size returns the size of the region named by sym.
func (l Layout) Size(sym Symbol) int {
	switch sym {
	case Args:
		return l.ArgsSize
	case Results:
		return l.ResultsSize
	case Heap:
		return l.HeapSize
	}
	return 0
}

// Total returns the total capacity of the layout.
func (l Layout) Total() int {
	return l.ArgsSize + l.ResultsSize + l.HeapSize
}

func (l Layout) String() string {
	return fmt.Sprintf("args:%d results:%d heap:%d", l.ArgsSize, l.ResultsSize, l.HeapSize)
}

// Unit is a handle to one compute unit. Units are owned by a Pool;
// their memory is written only by the staging step that currently
// targets them. Implementations must be safe for concurrent use
// across distinct units; calls on a single unit may be concurrent
// only if they address disjoint regions.
type Unit interface {
	// Name identifies the unit in logs and status.
	Name() string

	// Layout returns the unit's memory layout.
	Layout() Layout

	// Load installs the program with the provided entry point. The
	// digest identifies the image the entry was built from.
	Load(ctx context.Context, entry string, digest uint32) error

	// Write copies p into the region sym at byte offset off.
	Write(ctx context.Context, sym Symbol, off int, p []byte) error

	// Read copies len(p) bytes from the region sym at offset off
	// into p.
	Read(ctx context.Context, sym Symbol, off int, p []byte) error

	// Launch runs the installed program to completion.
	Launch(ctx context.Context) error

	// Digest returns a fingerprint of the contents of region sym.
	Digest(ctx context.Context, sym Symbol) (uint32, error)
}
