// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/wavestage/program"
	"github.com/grailbio/wavestage/stats"
	"github.com/grailbio/wavestage/unit"
)

func init() {
	unit.RegisterKernel("stage_test.nop", func(ctx context.Context, mem *unit.Memory) error {
		return nil
	})
}

var testLayout = unit.Layout{ArgsSize: 16, ResultsSize: 16, HeapSize: 256}

// stageWaves stages waves of the provided sizes into a fresh pool,
// draining the queue between waves.
func stageWaves(t *testing.T, s *Stager, sizes ...int) (*unit.Pool, *unit.Queue) {
	t.Helper()
	ctx := context.Background()
	pool := unit.NewPool(nil)
	q := unit.NewQueue(4, stats.NewMap())
	for _, n := range sizes {
		units := make([]unit.Unit, n)
		for i := range units {
			units[i] = unit.NewLocal(fmt.Sprintf("unit/%d", pool.Len()+i), testLayout)
		}
		wave, err := pool.Append(units)
		assert.NoError(t, err)
		before := s.Accumulated()
		assert.NoError(t, s.Stage(ctx, wave, q))
		if got, want := s.Accumulated(), before+n; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		assert.NoError(t, q.Wait(ctx))
	}
	pool.Freeze()
	return pool, q
}

func sequence(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i + 1)
	}
	return p
}

func queryRole(n int) Role {
	return Role{Name: "queries", Source: sequence(n), Stride: 13, Length: 13, Accumulated: true}
}

func TestSingleWave(t *testing.T) {
	s, err := New(Config{Roles: []Role{queryRole(104)}}, testLayout)
	assert.NoError(t, err)
	if got, want := s.Accumulated(), 0; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	pool, _ := stageWaves(t, s, 4)
	if got, want := s.Offsets("queries"), []int{0, 13, 26, 39}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Accumulated(), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	src := queryRole(104).Source
	for i, u := range pool.Units() {
		heap := unit.LocalMemory(u).Bytes(unit.Heap)
		if got, want := heap[:13], src[i*13:i*13+13]; !bytes.Equal(got, want) {
			t.Errorf("unit %d: got %v, want %v", i, got, want)
		}
	}
}

func TestTwoWaves(t *testing.T) {
	s, err := New(Config{Roles: []Role{queryRole(104)}}, testLayout)
	assert.NoError(t, err)
	stageWaves(t, s, 1, 3)
	if got, want := s.Offsets("queries"), []int{0, 13, 26, 39}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Accumulated(), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPartitionInvariance(t *testing.T) {
	fz := fuzz.New()
	for iter := 0; iter < 200; iter++ {
		var (
			total uint8
			cuts  []uint8
		)
		fz.Fuzz(&total)
		fz.NilChance(0).NumElements(0, 8).Fuzz(&cuts)
		n := int(total%16) + 1
		var sizes []int
		left := n
		for _, c := range cuts {
			if left == 0 {
				break
			}
			k := int(c)%left + 1
			sizes = append(sizes, k)
			left -= k
		}
		if left > 0 {
			sizes = append(sizes, left)
		}

		roles := func() []Role {
			return []Role{
				{Name: "input", Source: sequence(40), Length: 40, Broadcast: true},
				{Name: "queries", Source: sequence(13 * n), Stride: 13, Length: 13, Accumulated: true},
			}
		}
		whole, err := New(Config{Roles: roles()}, testLayout)
		assert.NoError(t, err)
		split, err := New(Config{Roles: roles()}, testLayout)
		assert.NoError(t, err)
		wholePool, _ := stageWaves(t, whole, n)
		splitPool, _ := stageWaves(t, split, sizes...)

		for _, role := range []string{"input", "queries"} {
			if got, want := split.Offsets(role), whole.Offsets(role); !reflect.DeepEqual(got, want) {
				t.Fatalf("waves %v: role %s: got %v, want %v", sizes, role, got, want)
			}
		}
		for j := 0; j < n; j++ {
			if got, want := split.Offsets("queries")[j], j*13; got != want {
				t.Fatalf("waves %v: unit %d: got %v, want %v", sizes, j, got, want)
			}
			got := unit.LocalMemory(splitPool.Unit(j)).Bytes(unit.Heap)
			want := unit.LocalMemory(wholePool.Unit(j)).Bytes(unit.Heap)
			if !bytes.Equal(got, want) {
				t.Fatalf("waves %v: unit %d: heap contents differ", sizes, j)
			}
		}
	}
}

func TestRestageIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{
		Args: PerUnit(func(i int) []byte { return []byte{byte(i), 0xff} }),
		Roles: []Role{
			{Name: "input", Source: sequence(24), Length: 24, Broadcast: true},
			queryRole(6 * 13),
		},
	}, testLayout)
	assert.NoError(t, err)
	pool, q := stageWaves(t, s, 2, 1, 3)
	digests := func() [][2]uint32 {
		var ds [][2]uint32
		for _, u := range pool.Units() {
			h, err := u.Digest(ctx, unit.Heap)
			assert.NoError(t, err)
			a, err := u.Digest(ctx, unit.Args)
			assert.NoError(t, err)
			ds = append(ds, [2]uint32{h, a})
		}
		return ds
	}
	before := digests()
	staged := s.Offsets("queries")
	assert.NoError(t, s.Restage(ctx, pool, q))
	if got, want := digests(), before; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Offsets("queries"), staged; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := q.Pending(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for i, u := range pool.Units() {
		args := unit.LocalMemory(u).Bytes(unit.Args)
		if got, want := args[0], byte(i); got != want {
			t.Errorf("unit %d: got %v, want %v", i, got, want)
		}
	}
}

func TestNonAccumulatedRole(t *testing.T) {
	series := Role{Name: "series", Source: sequence(64), Stride: 13, Length: 16}
	s, err := New(Config{Roles: []Role{queryRole(52), series}}, testLayout)
	assert.NoError(t, err)
	pool, q := stageWaves(t, s, 1, 3)
	if got, want := s.Offsets("series"), []int{0, 0, 13, 26}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	place, ok := s.Placement("series")
	if !ok {
		t.Fatal("no placement for series")
	}
	if got, want := place.Offset, 16; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	assert.NoError(t, s.Restage(context.Background(), pool, q))
	if got, want := s.Offsets("series"), []int{0, 13, 26, 39}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestZeroFill(t *testing.T) {
	// The last unit's slice extends past the end of the source.
	s, err := New(Config{Roles: []Role{queryRole(48)}}, testLayout)
	assert.NoError(t, err)
	pool, _ := stageWaves(t, s, 4)
	heap := unit.LocalMemory(pool.Unit(3)).Bytes(unit.Heap)
	want := append(sequence(48)[39:], 0, 0, 0, 0)
	if got := heap[:13]; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLoadOnce(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "stage")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "nop.img")
	assert.NoError(t, program.Write(ctx, path, "stage_test.nop", nil))
	st := stats.NewMap()
	loader := program.NewLoader(program.Files, path, st)
	s, err := New(Config{Loader: loader, Roles: []Role{queryRole(52)}}, testLayout)
	assert.NoError(t, err)
	pool, _ := stageWaves(t, s, 1, 2, 1)
	if got, want := loader.Builds(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := loader.Installs(), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, u := range pool.Units() {
		if _, digest, ok := unit.Program(u); !ok || digest != loader.Image().Digest {
			t.Errorf("%s: program not installed", u.Name())
		}
	}
}

func TestPreconditions(t *testing.T) {
	for _, config := range []Config{
		{Args: Broadcast(make([]byte, 17))},
		{Roles: []Role{{Name: "big", Length: 257}}},
		{Roles: []Role{{Name: "a", Length: 200}, {Name: "b", Length: 60}}},
		{Roles: []Role{{Name: "empty"}}},
		{Roles: []Role{{Name: "a", Length: 8}, {Name: "a", Length: 8}}},
		{Roles: []Role{{Name: "a", Length: 8, Stride: -1}}},
	} {
		_, err := New(config, testLayout)
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("expected invalid error, got %v", err)
			continue
		}
		if got, want := errors.Recover(err).Severity, errors.Fatal; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestPerUnitRecordMismatch(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "stage")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "nop.img")
	assert.NoError(t, program.Write(ctx, path, "stage_test.nop", nil))
	loader := program.NewLoader(program.Files, path, stats.NewMap())
	args := PerUnit(func(index int) []byte {
		return make([]byte, 4+index)
	})
	s, err := New(Config{Loader: loader, Args: args, Roles: []Role{queryRole(52)}}, testLayout)
	assert.NoError(t, err)

	pool := unit.NewPool(nil)
	wave, err := pool.Append([]unit.Unit{
		unit.NewLocal("unit/0", testLayout),
		unit.NewLocal("unit/1", testLayout),
	})
	assert.NoError(t, err)
	q := unit.NewQueue(4, stats.NewMap())
	err = s.Stage(ctx, wave, q)
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("expected invalid error, got %v", err)
	}
	assert.NoError(t, q.Wait(ctx))
	if got, want := loader.Builds(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := loader.Installs(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Accumulated(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, u := range wave.Units {
		if _, _, ok := unit.Program(u); ok {
			t.Errorf("%s: program installed", u.Name())
		}
		if got, want := unit.LocalMemory(u).Bytes(unit.Args), make([]byte, testLayout.ArgsSize); !bytes.Equal(got, want) {
			t.Errorf("%s: args written: %v", u.Name(), got)
		}
	}
}

func TestStagerReuse(t *testing.T) {
	s, err := New(Config{Roles: []Role{queryRole(104)}}, testLayout)
	assert.NoError(t, err)
	stageWaves(t, s, 2, 2)

	pool := unit.NewPool(nil)
	wave, err := pool.Append([]unit.Unit{unit.NewLocal("unit/0", testLayout)})
	assert.NoError(t, err)
	q := unit.NewQueue(4, stats.NewMap())
	err = s.Stage(context.Background(), wave, q)
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("expected invalid error, got %v", err)
	}
	if got, want := s.Accumulated(), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := unit.LocalMemory(wave.Units[0]).Bytes(unit.Heap); !bytes.Equal(got, make([]byte, len(got))) {
		t.Errorf("heap written: %v", got[:13])
	}
}
