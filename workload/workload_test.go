// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package workload_test

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/wavestage/exec"
	"github.com/grailbio/wavestage/program"
	"github.com/grailbio/wavestage/workload"
	"github.com/grailbio/wavestage/workload/kernels"
)

func loader(t *testing.T, dir, entry string) *program.Loader {
	t.Helper()
	path := filepath.Join(dir, entry[len("wavestage/"):]+".img")
	assert.NoError(t, program.Write(context.Background(), path, entry, nil))
	return program.NewLoader(program.Files, path, nil)
}

// run acquires the pool described by spec in the provided waves and runs it
// once after a warmup iteration, so that the measured iteration is
// always re-staged.
func run(t *testing.T, spec *workload.Spec, waves []int) {
	t.Helper()
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	defer sess.Shutdown()
	pool, err := sess.Acquire(ctx, waves, spec.Layout, spec.Stager)
	assert.NoError(t, err)
	_, err = sess.Run(ctx, pool, exec.Driver{Warmup: 1, Reps: 1, Stager: spec.Stager, Collector: spec.Collector})
	assert.NoError(t, err)
	assert.NoError(t, sess.Release(ctx, pool))
}

func TestPreconditions(t *testing.T) {
	// The loader's image does not exist: a precondition failure must
	// be reported before anything is built.
	l := program.NewLoader(program.Files, "/nonexistent/image", nil)
	p := workload.Params{Units: 4, Tasks: 0, Loader: l}
	input, queries := workload.GenerateBS(10, 10, 1)
	if _, err := workload.BinarySearch(p, input, queries); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	series, query := workload.GenerateTS(64, 4)
	if _, err := workload.TimeSeries(p, series, query); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := workload.TimeSeries(workload.Params{Units: 1, Tasks: 1}, series, nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	a, b := workload.GenerateVA(16, 1)
	if _, err := workload.VectorAdd(p, a, b); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := workload.VectorAdd(workload.Params{Units: 2, Tasks: 1}, a, b[:8]); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	// Heap too small for the roles.
	if _, err := workload.VectorAdd(workload.Params{Units: 2, Tasks: 1, Heap: 16}, a, b); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if got, want := l.Builds(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPlacements(t *testing.T) {
	input, queries := workload.GenerateBS(100, 13, 1)
	spec, err := workload.BinarySearch(workload.Params{Units: 4, Tasks: 2}, input, queries)
	assert.NoError(t, err)
	if got, want := spec.Plan.Padded, 16; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := spec.Plan.Slice, 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	place, ok := spec.Stager.Placement("queries")
	if !ok {
		t.Fatal("missing queries placement")
	}
	if got, want := place.Offset, 800; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := spec.Layout.HeapSize, 800+32; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := spec.Layout.ResultsSize, 2*8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	series, query := workload.GenerateTS(100, 4)
	spec, err = workload.TimeSeries(workload.Params{Units: 2, Tasks: 2}, series, query)
	assert.NoError(t, err)
	// 100 rounds up to a multiple of 2*2*4.
	if got, want := spec.Plan.Padded, 112; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var offsets []int
	for _, p := range spec.Stager.Placements() {
		offsets = append(offsets, p.Offset)
	}
	// query: 16 bytes; series, mean, sigma: (56+4)*4 = 240 bytes each.
	if got, want := offsets, []int{0, 16, 256, 496}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBinarySearch(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "workload")
	defer cleanup()
	input, queries := workload.GenerateBS(1000, 50, 7)
	spec, err := workload.BinarySearch(workload.Params{Units: 5, Tasks: 2, Loader: loader(t, dir, kernels.BS)}, input, queries)
	assert.NoError(t, err)
	run(t, spec, []int{2, 3})
	want := int64(-1)
	for _, q := range queries {
		// input[i] == i+1.
		if i := q - 1; i > want {
			want = i
		}
	}
	if got := spec.Collector.(*workload.MaxFound).Found; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestVectorAdd(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "workload")
	defer cleanup()
	a, b := workload.GenerateVA(37, 3)
	spec, err := workload.VectorAdd(workload.Params{Units: 3, Tasks: 1, Loader: loader(t, dir, kernels.VA)}, a, b)
	assert.NoError(t, err)
	if got, want := spec.Plan.Slice, 12; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := spec.Plan.Last, 13; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	run(t, spec, []int{1, 2})
	want := make([]int32, len(a))
	for i := range want {
		want[i] = a[i] + b[i]
	}
	if got := spec.Collector.(*workload.Gather).Sum; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTimeSeries(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "workload")
	defer cleanup()
	const qlen = 8
	r := rand.New(rand.NewSource(11))
	series := make([]int32, 500)
	for i := range series {
		series[i] = int32(r.Intn(256))
	}
	query := make([]int32, qlen)
	for i := range query {
		query[i] = int32(r.Intn(256))
	}
	spec, err := workload.TimeSeries(workload.Params{Units: 4, Tasks: 2, Loader: loader(t, dir, kernels.TS)}, series, query)
	assert.NoError(t, err)
	run(t, spec, []int{2, 2})

	padded := make([]int32, spec.Plan.Padded)
	copy(padded, series)
	mean, sigma := workload.Statistics(padded, qlen)
	var qmean, qstd float64
	for _, x := range query {
		qmean += float64(x)
	}
	qmean /= qlen
	for _, x := range query {
		qstd += (float64(x) - qmean) * (float64(x) - qmean)
	}
	qstd = math.Sqrt(qstd / qlen)
	qm, qs := int32(qmean), int32(qstd)
	// Each task reports the minimum over its own positions; only
	// positive minima are merged.
	var (
		best  = int32(math.MaxInt32)
		index uint64
		slice = spec.Plan.Slice
		per   = spec.Plan.Slice / 2
	)
	for j := 0; j < 4; j++ {
		for task := 0; task < 2; task++ {
			min, at := int32(math.MaxInt32), 0
			for i := task * per; i < (task+1)*per; i++ {
				g := j*slice + i
				if g >= len(sigma) || sigma[g] == 0 {
					continue
				}
				var dot float64
				for k := 0; k < qlen; k++ {
					dot += float64(query[k]) * float64(padded[g+k])
				}
				corr := (dot - qlen*float64(mean[g])*float64(qm)) / (qlen * float64(sigma[g]) * float64(qs))
				if dist := int32(2 * qlen * (1 - corr)); dist < min {
					min, at = dist, i
				}
			}
			if min > 0 && min < best {
				best, index = min, uint64(at)+uint64(j*slice)
			}
		}
	}
	c := spec.Collector.(*workload.MinPositive)
	if got, want := c.MinValue, best; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.MinIndex, index; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStatistics(t *testing.T) {
	mean, sigma := workload.Statistics([]int32{0, 0, 6, 6, 6}, 3)
	if got, want := mean, []int32{2, 4, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sigma, []int32{2, 2, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if mean, sigma := workload.Statistics([]int32{1, 2}, 3); mean != nil || sigma != nil {
		t.Errorf("got %v %v, want nil", mean, sigma)
	}
}
