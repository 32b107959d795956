// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command wavestage runs one of the reference workloads over a pool
// of units acquired in waves, and reports the per-phase timings of
// its measured repetitions.
//
// Usage:
//
//	wavestage [flags]
//
// For example, to run the time series workload over 64 units that
// are acquired and staged 16 at a time:
//
//	wavestage -workload=ts -units=64 -units-per-wave=16 -size=1048576 -query-len=64
//
// Units are provisioned by the system named by -system; see
// -system-help.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/wavestage/exec"
	"github.com/grailbio/wavestage/program"
	"github.com/grailbio/wavestage/stats"
	"github.com/grailbio/wavestage/workload"
	"github.com/grailbio/wavestage/workload/kernels"
	"github.com/grailbio/wavestage/wscmd"
)

func main() {
	var (
		name         = flag.String("workload", "bs", "workload to run: bs, ts or va")
		units        = flag.Int("units", 8, "total number of units")
		unitsPerWave = flag.Int("units-per-wave", 0, "number of units acquired in each wave; all at once if zero")
		wavesFlag    = flag.String("waves", "", "comma-separated wave sizes; overrides -units and -units-per-wave")
		tasks        = flag.Int("tasks", 4, "number of tasks run by each unit")
		size         = flag.Int("size", 1<<16, "number of elements of the workload's primary input")
		queries      = flag.Int("queries", 1<<12, "number of queries (bs)")
		queryLen     = flag.Int("query-len", 64, "query length (ts)")
		warmup       = flag.Int("warmup", 1, "number of unmeasured repetitions")
		reps         = flag.Int("reps", 3, "number of measured repetitions")
		image        = flag.String("image", "", "program image; a reference image is written if empty")
		seed         = flag.Int64("seed", 1, "seed for generated inputs")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: wavestage [flags]\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	wscmd.Main(func(sess *exec.Session, args []string) error {
		ctx := context.Background()
		if len(args) > 0 {
			flag.Usage()
		}
		waves, err := parseWaves(*wavesFlag, *units, *unitsPerWave)
		if err != nil {
			return err
		}
		entry, ok := kernels.Entry(*name)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("unknown workload %q", *name))
		}
		path := *image
		if path == "" {
			dir, err := ioutil.TempDir("", "wavestage")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)
			path = filepath.Join(dir, *name+".img")
			if err := program.Write(ctx, path, entry, nil); err != nil {
				return err
			}
		}
		p := workload.Params{
			Units:  sum(waves),
			Tasks:  *tasks,
			Loader: program.NewLoader(program.Files, path, nil),
		}
		var spec *workload.Spec
		switch *name {
		case "bs":
			input, q := workload.GenerateBS(*size, *queries, *seed)
			spec, err = workload.BinarySearch(p, input, q)
		case "ts":
			series, query := workload.GenerateTS(*size, *queryLen)
			spec, err = workload.TimeSeries(p, series, query)
		case "va":
			a, b := workload.GenerateVA(*size, *seed)
			spec, err = workload.VectorAdd(p, a, b)
		}
		if err != nil {
			return err
		}
		log.Printf("%s", spec)

		pool, err := sess.Acquire(ctx, waves, spec.Layout, spec.Stager)
		if err != nil {
			return err
		}
		timers, err := sess.Run(ctx, pool, exec.Driver{
			Warmup:    *warmup,
			Reps:      *reps,
			Stager:    spec.Stager,
			Collector: spec.Collector,
		})
		if err != nil {
			return err
		}
		if err := sess.Release(ctx, pool); err != nil {
			log.Error.Printf("release: %v", err)
		}
		fmt.Printf("system: %s\n", sess.SystemName())
		fmt.Printf("acquire: %s\n", sess.Timers())
		fmt.Printf("run: %s\n", timers)
		fmt.Printf("result: %s\n", result(spec.Collector))
		snap := sess.Stats()
		for _, k := range []string{stats.Waves, stats.Units, stats.Builds, stats.Installs, stats.Launches, stats.BytesStaged, stats.BytesFetched} {
			fmt.Printf("%s: %d\n", k, snap[k])
		}
		return nil
	})
}

// parseWaves returns the wave sizes given by the -waves flag, or, if
// it is empty, splits units into waves of perWave units each, the
// last of which may be smaller.
func parseWaves(list string, units, perWave int) ([]int, error) {
	if list != "" {
		var waves []int
		for _, s := range strings.Split(list, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bad wave size %q", s), err)
			}
			waves = append(waves, n)
		}
		return waves, nil
	}
	if units <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit count must be positive, got %d", units))
	}
	if perWave <= 0 || perWave > units {
		perWave = units
	}
	var waves []int
	for units > 0 {
		n := perWave
		if n > units {
			n = units
		}
		waves = append(waves, n)
		units -= n
	}
	return waves, nil
}

func sum(waves []int) int {
	var n int
	for _, w := range waves {
		n += w
	}
	return n
}

func result(c exec.Collector) string {
	switch c := c.(type) {
	case *workload.MaxFound:
		return fmt.Sprintf("found %d", c.Found)
	case *workload.MinPositive:
		return fmt.Sprintf("min %d at %d", c.MinValue, c.MinIndex)
	case *workload.Gather:
		var checksum int64
		for _, x := range c.Sum {
			checksum += int64(x)
		}
		return fmt.Sprintf("sum of %d elements, checksum %d", len(c.Sum), checksum)
	}
	return fmt.Sprintf("%v", c)
}
