// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"testing"
	"time"

	"github.com/grailbio/base/data"
)

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int(Waves)
		_ = coll.Int(Units)
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(3)
	x.Add(3)
	if got, want := x.Get(), int64(6); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all[Waves], int64(12); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all[Units], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNilMap(t *testing.T) {
	var m *Map
	c := m.Int(Builds)
	c.Add(1)
	if got, want := c.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(m.Snapshot()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestValuesString(t *testing.T) {
	v := Values{"waves": 2, BytesStaged: 2048}
	if got, want := v.String(), "bytes.staged:"+data.Size(2048).String()+" waves:2"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTimers(t *testing.T) {
	tm := NewTimers()
	tm.Add("launch", 2*time.Millisecond)
	tm.Add("stage", time.Millisecond)
	tm.Add("launch", 4*time.Millisecond)
	if got, want := tm.Mean("launch"), 3*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tm.Count("launch"), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tm.Total("missing"), time.Duration(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	phases := tm.Phases()
	if got, want := len(phases), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := phases[0], "launch"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tm.String(), "launch:3.000ms stage:1.000ms"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	var nilTimers *Timers
	nilTimers.Start("x")()
}
