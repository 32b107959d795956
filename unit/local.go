// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
)

// localUnit is a unit whose memory lives in the current process.
type localUnit struct {
	name string
	mem  *Memory

	mu     sync.Mutex
	entry  string
	digest uint32
	kernel Kernel
}

// NewLocal returns an in-process unit with freshly allocated memory.
func NewLocal(name string, layout Layout) Unit {
	return &localUnit{name: name, mem: NewMemory(layout)}
}

// LocalMemory returns the memory of a unit created by NewLocal. It
// returns nil for any other unit.
func LocalMemory(u Unit) *Memory {
	if l, ok := u.(*localUnit); ok {
		return l.mem
	}
	return nil
}

func (u *localUnit) Name() string   { return u.name }
func (u *localUnit) Layout() Layout { return u.mem.Layout() }
func (u *localUnit) String() string { return u.name }

func (u *localUnit) Load(ctx context.Context, entry string, digest uint32) error {
	k, ok := LookupKernel(entry)
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("unit %s: no kernel registered for entry %q", u.name, entry))
	}
	u.mu.Lock()
	u.entry, u.digest, u.kernel = entry, digest, k
	u.mu.Unlock()
	return nil
}

func (u *localUnit) Write(ctx context.Context, sym Symbol, off int, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.mem.Write(sym, off, p); err != nil {
		return errors.E(fmt.Sprintf("unit %s", u.name), err)
	}
	return nil
}

func (u *localUnit) Read(ctx context.Context, sym Symbol, off int, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.mem.Read(sym, off, p); err != nil {
		return errors.E(fmt.Sprintf("unit %s", u.name), err)
	}
	return nil
}

func (u *localUnit) Launch(ctx context.Context) error {
	u.mu.Lock()
	k := u.kernel
	u.mu.Unlock()
	if k == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("unit %s: no program loaded", u.name))
	}
	return k(ctx, u.mem)
}

func (u *localUnit) Digest(ctx context.Context, sym Symbol) (uint32, error) {
	if b := u.mem.Bytes(sym); b == nil {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("unit %s: invalid symbol %s", u.name, sym))
	}
	return u.mem.Digest(sym), nil
}

// Program returns the entry and digest of the program loaded on a
// unit created by NewLocal.
func Program(u Unit) (entry string, digest uint32, ok bool) {
	l, ok := u.(*localUnit)
	if !ok {
		return "", 0, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry, l.digest, l.kernel != nil
}
