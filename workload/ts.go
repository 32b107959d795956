// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package workload

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/wavestage/shard"
	"github.com/grailbio/wavestage/stage"
	"github.com/grailbio/wavestage/unit"
)

// maxDataValue bounds generated time series values.
const maxDataValue = 256

// TSArgs is the argument record of the time series workload.
type TSArgs struct {
	// SeriesLength is the padded length of the time series.
	SeriesLength uint32
	// QueryLength is the length of the query.
	QueryLength uint32
	// QueryMean is the mean of the query.
	QueryMean int32
	// QueryStd is the standard deviation of the query.
	QueryStd int32
	// Slice is the number of profile positions of each unit.
	Slice uint32
	// ExclusionZone is unused and always zero.
	ExclusionZone int32
	// Kernel selects a kernel variant.
	Kernel uint32
}

// TSResult is the result record of one time series task.
type TSResult struct {
	MinValue int32
	MinIndex uint32
	MaxValue int32
	MaxIndex uint32
}

var (
	tsArgsSize   = binary.Size(TSArgs{})
	tsResultSize = binary.Size(TSResult{})
)

// DecodeTSArgs decodes a time series argument record.
func DecodeTSArgs(p []byte) (args TSArgs, err error) {
	err = decode(p, &args)
	return
}

// EncodeTSResult encodes a time series result record.
func EncodeTSResult(r TSResult) []byte { return encode(r) }

// Statistics computes the rolling mean and standard deviation of
// every window of length window in series. Both are truncated to
// integers. It returns len(series)-window+1 values of each.
func Statistics(series []int32, window int) (mean, sigma []int32) {
	n := len(series) - window + 1
	if window <= 0 || n <= 0 {
		return nil, nil
	}
	var sum, sumsq float64
	for _, x := range series[:window] {
		sum += float64(x)
		sumsq += float64(x) * float64(x)
	}
	mean = make([]int32, n)
	sigma = make([]int32, n)
	w := float64(window)
	for i := 0; ; i++ {
		m := sum / w
		mean[i] = int32(m)
		sigma[i] = int32(math.Sqrt(math.Max(sumsq/w-m*m, 0)))
		if i+1 == n {
			break
		}
		out, in := float64(series[i]), float64(series[i+window])
		sum += in - out
		sumsq += in*in - out*out
	}
	return
}

// checkTSPlan verifies that plan's sizes fit the time series
// argument record.
func checkTSPlan(plan shard.Plan, qlen int) error {
	if err := checkUint32("series length", plan.Padded); err != nil {
		return err
	}
	if err := checkUint32("query length", qlen); err != nil {
		return err
	}
	// Indices within a unit's extended slice are reported as uint32.
	return checkUint32("slice", plan.Slice+qlen)
}

// TimeSeries returns the time series workload that matches query
// against every window of series. The series is padded to a
// multiple of Units*Tasks*len(query). Each unit receives the whole
// query, and its slice of the series, rolling means and rolling
// deviations, each extended by the query length so that windows
// that straddle a slice boundary are complete.
//
// The series role is staged from the start of the series on every
// wave, while the statistics roles advance by the number of units
// staged by earlier waves. With a single wave both are equivalent;
// re-staging always uses positional offsets.
func TimeSeries(p Params, series, query []int32) (*Spec, error) {
	if len(query) == 0 {
		return nil, errors.E(errors.Invalid, errors.Fatal, "workload: empty query")
	}
	plan, err := shard.Compute(shard.Geometry{Size: len(series), Units: p.Units, Tasks: p.Tasks, Window: len(query)})
	if err != nil {
		return nil, err
	}
	if err := checkTSPlan(plan, len(query)); err != nil {
		return nil, err
	}
	if plan.Padded < len(query) {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("workload: series of %d elements is shorter than the query (%d)", plan.Padded, len(query)))
	}
	padded := make([]int32, plan.Padded)
	copy(padded, series)
	mean, sigma := Statistics(padded, len(query))
	qmean, qstd := moments(query)
	args := TSArgs{
		SeriesLength: uint32(plan.Padded),
		QueryLength:  uint32(len(query)),
		QueryMean:    int32(qmean),
		QueryStd:     int32(qstd),
		Slice:        uint32(plan.Slice),
	}
	var (
		stride = 4 * plan.Slice
		length = 4 * (plan.Slice + len(query))
	)
	roles := []stage.Role{
		{Name: "query", Source: Int32s(query), Length: 4 * len(query), Broadcast: true},
		{Name: "series", Source: Int32s(padded), Stride: stride, Length: length},
		{Name: "mean", Source: Int32s(mean), Stride: stride, Length: length, Accumulated: true},
		{Name: "sigma", Source: Int32s(sigma), Stride: stride, Length: length, Accumulated: true},
	}
	spec, err := newSpec("ts", p, plan, stage.Broadcast(encode(args)), tsArgsSize, p.Tasks*tsResultSize, roles)
	if err != nil {
		return nil, err
	}
	spec.Collector = &MinPositive{tasks: p.Tasks, slice: plan.Slice}
	return spec, nil
}

func moments(v []int32) (mean, std float64) {
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	for _, x := range v {
		d := float64(x) - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(v)))
	return
}

// MinPositive merges time series results by taking the smallest
// positive minimum across every task of every unit. Indices are
// converted from unit-local to global positions.
type MinPositive struct {
	tasks, slice int
	// MinValue is the merged minimum; MinIndex its global position.
	MinValue int32
	MinIndex uint64
}

// Region implements exec.Collector.
func (c *MinPositive) Region() (unit.Symbol, int, int) {
	return unit.Results, 0, c.tasks * tsResultSize
}

// Reset implements exec.Collector.
func (c *MinPositive) Reset() {
	c.MinValue = math.MaxInt32
	c.MinIndex = 0
}

// Merge implements exec.Collector.
func (c *MinPositive) Merge(index int, p []byte) error {
	for t := 0; t < c.tasks; t++ {
		var r TSResult
		if err := decode(p[t*tsResultSize:], &r); err != nil {
			return err
		}
		if r.MinValue > 0 && r.MinValue < c.MinValue {
			c.MinValue = r.MinValue
			c.MinIndex = uint64(r.MinIndex) + uint64(index)*uint64(c.slice)
		}
	}
	return nil
}

// GenerateTS returns a series of n elements and a query of m
// elements with values cycling below maxDataValue.
func GenerateTS(n, m int) (series, query []int32) {
	series = make([]int32, n)
	for i := range series {
		series[i] = int32(i % maxDataValue)
	}
	query = make([]int32, m)
	for i := range query {
		query[i] = int32(i % maxDataValue)
	}
	return
}
