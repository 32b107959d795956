// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
)

var testLayout = Layout{ArgsSize: 16, ResultsSize: 32, HeapSize: 256}

func init() {
	RegisterKernel("unit_test.double", func(ctx context.Context, mem *Memory) error {
		heap := mem.Bytes(Heap)
		res := mem.Bytes(Results)
		for i := range res {
			res[i] = heap[i] * 2
		}
		return nil
	})
}

// faultyUnit fails every write to the heap.
type faultyUnit struct {
	Unit
}

func (f faultyUnit) Write(ctx context.Context, sym Symbol, off int, p []byte) error {
	if sym == Heap {
		return errors.E(errors.Unavailable, "injected fault")
	}
	return f.Unit.Write(ctx, sym, off, p)
}

func localUnits(n int) []Unit {
	units := make([]Unit, n)
	for i := range units {
		units[i] = NewLocal(fmt.Sprintf("test/%d", i), testLayout)
	}
	return units
}

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(testLayout)
	assert.NoError(t, m.Write(Heap, 250, make([]byte, 6)))
	if err := m.Write(Heap, 251, make([]byte, 6)); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if err := m.Read(Args, -1, make([]byte, 1)); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if err := m.Write(Symbol(7), 0, nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	assert.EQ(t, testLayout.Total(), 16+32+256)
}

func TestPool(t *testing.T) {
	var freed []Unit
	pool := NewPool(func(ctx context.Context, units []Unit) error {
		freed = append(freed, units...)
		return nil
	})
	units := localUnits(5)
	w0, err := pool.Append(units[:2])
	assert.NoError(t, err)
	w1, err := pool.Append(units[2:])
	assert.NoError(t, err)
	if got, want := w0.Index, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w1.Index, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w1.Len(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := pool.Len(), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for i, u := range pool.Units() {
		if u != units[i] {
			t.Errorf("unit %d: got %s, want %s", i, u.Name(), units[i].Name())
		}
	}
	if got, want := pool.Waves(), []int{2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	pool.Freeze()
	if _, err := pool.Append(localUnits(1)); err == nil {
		t.Error("expected error appending to a frozen pool")
	}
	assert.NoError(t, pool.Free(context.Background()))
	assert.NoError(t, pool.Free(context.Background()))
	if got, want := len(freed), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQueueAsync(t *testing.T) {
	ctx := context.Background()
	units := localUnits(8)
	q := NewQueue(2, nil)
	xfers := make([]Xfer, len(units))
	for i := range xfers {
		xfers[i] = Xfer{Unit: units[i], Buf: bytes.Repeat([]byte{byte(i + 1)}, 64)}
	}
	assert.NoError(t, q.Push(ctx, xfers, Heap, 32, 64, Async))
	assert.NoError(t, q.Wait(ctx))
	if got, want := q.Pending(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for i, u := range units {
		p := make([]byte, 64)
		assert.NoError(t, u.Read(ctx, Heap, 32, p))
		if !bytes.Equal(p, xfers[i].Buf) {
			t.Errorf("unit %d: wrong heap contents", i)
		}
	}
}

func TestQueueBroadcastGather(t *testing.T) {
	ctx := context.Background()
	units := localUnits(4)
	q := NewQueue(0, nil)
	args := []byte("0123456789abcdef")
	assert.NoError(t, q.Broadcast(ctx, units, Args, 0, args, Sync))
	xfers := make([]Xfer, len(units))
	for i := range xfers {
		xfers[i] = Xfer{Unit: units[i], Buf: make([]byte, len(args))}
	}
	assert.NoError(t, q.Gather(ctx, xfers, Args, 0, len(args)))
	for i := range xfers {
		assert.EQ(t, string(xfers[i].Buf), string(args))
	}
}

func TestQueueError(t *testing.T) {
	ctx := context.Background()
	units := localUnits(3)
	units[1] = faultyUnit{units[1]}
	q := NewQueue(0, nil)
	assert.NoError(t, q.Broadcast(ctx, units, Heap, 0, []byte{1, 2, 3}, Async))
	err := q.Wait(ctx)
	if !errors.Is(errors.Unavailable, err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
	if got, want := errors.Recover(err).Severity, errors.Fatal; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := q.Broadcast(ctx, units, Heap, 0, []byte{1}, Sync); err == nil {
		t.Error("expected synchronous error")
	}
	if err := q.Push(ctx, []Xfer{{Unit: units[0], Buf: nil}}, Heap, 0, 1, Sync); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestLaunch(t *testing.T) {
	ctx := context.Background()
	units := localUnits(2)
	if err := Launch(ctx, units); err == nil {
		t.Fatal("expected error launching without a program")
	}
	for _, u := range units {
		assert.NoError(t, u.Load(ctx, "unit_test.double", 7))
		assert.NoError(t, u.Write(ctx, Heap, 0, []byte{1, 2, 3}))
	}
	assert.NoError(t, Launch(ctx, units))
	for _, u := range units {
		p := make([]byte, 3)
		assert.NoError(t, u.Read(ctx, Results, 0, p))
		if got, want := p, []byte{2, 4, 6}; !bytes.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
		entry, digest, ok := Program(u)
		if !ok {
			t.Fatalf("unit %s has no program", u.Name())
		}
		assert.EQ(t, entry, "unit_test.double")
		assert.EQ(t, digest, uint32(7))
	}
	if err := units[0].Load(ctx, "unit_test.missing", 0); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected not exist error, got %v", err)
	}
}
