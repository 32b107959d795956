// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
)

// Memory is the private memory of a unit. Each symbol is backed by
// its own fixed-size buffer; accesses outside a buffer fail.
type Memory struct {
	layout  Layout
	regions [3][]byte
}

// NewMemory allocates zeroed memory for the provided layout.
func NewMemory(layout Layout) *Memory {
	m := &Memory{layout: layout}
	m.regions[Args] = make([]byte, layout.ArgsSize)
	m.regions[Results] = make([]byte, layout.ResultsSize)
	m.regions[Heap] = make([]byte, layout.HeapSize)
	return m
}

// Layout returns the layout the memory was allocated with.
func (m *Memory) Layout() Layout { return m.layout }

// Bytes returns the buffer backing sym. Kernels operate on these
// buffers directly.
func (m *Memory) Bytes(sym Symbol) []byte {
	if sym < Args || sym > Heap {
		return nil
	}
	return m.regions[sym]
}

// Write copies p into sym at offset off.
func (m *Memory) Write(sym Symbol, off int, p []byte) error {
	b, err := m.span(sym, off, len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// Read copies len(p) bytes from sym at offset off into p.
func (m *Memory) Read(sym Symbol, off int, p []byte) error {
	b, err := m.span(sym, off, len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

// Digest returns the murmur3 fingerprint of the region sym.
func (m *Memory) Digest(sym Symbol) uint32 {
	return murmur3.Sum32(m.Bytes(sym))
}

func (m *Memory) span(sym Symbol, off, n int) ([]byte, error) {
	b := m.Bytes(sym)
	if b == nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid symbol %s", sym))
	}
	if off < 0 || n < 0 || off+n > len(b) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("access [%d, %d) out of bounds of %s (%d bytes)", off, off+n, sym, len(b)))
	}
	return b[off : off+n], nil
}
