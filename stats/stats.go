// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides the counters and phase timers kept by a
// wavestage run. Counters are grouped in a Map and may be snapshotted
// at any time; timers record the elapsed time of each pipeline phase
// per repetition.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/data"
)

// Counter names shared by the packages that update a run's Map.
const (
	Waves        = "waves"
	Units        = "units"
	Builds       = "builds"
	Installs     = "installs"
	Launches     = "launches"
	BytesStaged  = "bytes.staged"
	BytesFetched = "bytes.fetched"
)

// Values is a snapshot of the values in a Map.
type Values map[string]int64

// Copy returns a copy of the values v.
func (v Values) Copy() Values {
	w := make(Values, len(v))
	for k, x := range v {
		w[k] = x
	}
	return w
}

// String returns the values sorted by key. Counters whose names
// begin with "bytes." are rendered as data sizes.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		if strings.HasPrefix(key, "bytes.") {
			keys[i] = fmt.Sprintf("%s:%s", key, data.Size(v[key]))
		} else {
			keys[i] = fmt.Sprintf("%s:%d", key, v[key])
		}
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name. A nil *Map hands out nil
// counters, which ignore updates.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Int)}
}

// Int returns the counter with the provided name, creating it if it
// does not already exist.
func (m *Map) Int(name string) *Int {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	return v
}

// Snapshot returns the current value of every counter in the map.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	m.AddAll(vals)
	return vals
}

// AddAll adds all counters in the map to the provided snapshot.
func (m *Map) AddAll(vals Values) {
	if m == nil {
		return
	}
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] += v.Get()
	}
	m.mu.Unlock()
}

// An Int is an integer counter that is updated atomically.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the current value of the counter.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}
