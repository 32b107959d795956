// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import "time"

// Quartiles returns the quartiles of the sorted, non-empty ds using
// Tukey's method: q2 is the median of ds and splits it into two
// halves, q1 and q3 are the medians of the lower and upper halves.
// When len(ds) is odd, q2 belongs to both halves.
func Quartiles(ds []time.Duration) (q1, q2, q3 time.Duration) {
	n := len(ds)
	q2 = median(ds)
	if n == 1 {
		return q2, q2, q2
	}
	lo := n / 2
	if n%2 != 0 {
		lo++
	}
	return median(ds[:lo]), q2, median(ds[n/2:])
}

func median(ds []time.Duration) time.Duration {
	mid := len(ds) / 2
	if len(ds)%2 != 0 {
		return ds[mid]
	}
	// Average without overflow.
	a, b := ds[mid-1], ds[mid]
	return a/2 + b/2 + (a%2+b%2)/2
}

// Summary is the distribution of a phase's samples.
type Summary struct {
	N                    int
	Min, Q1, Q2, Q3, Max time.Duration
	Total                time.Duration
}

// Summary returns the distribution of the named phase's samples. It
// returns the zero Summary if the phase was never recorded.
func (t *Timers) Summary(name string) Summary {
	ds := t.Samples(name)
	if len(ds) == 0 {
		return Summary{}
	}
	s := Summary{N: len(ds), Min: ds[0], Max: ds[len(ds)-1]}
	s.Q1, s.Q2, s.Q3 = Quartiles(ds)
	for _, d := range ds {
		s.Total += d
	}
	return s
}
