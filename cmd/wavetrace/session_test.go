// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/wavestage/internal/trace"
)

func testEvents() []trace.Event {
	return []trace.Event{
		{Ph: "X", Cat: trace.CatAcquire, Name: "acquire", Ts: 0, Dur: 5000},
		{Ph: "X", Cat: trace.CatWave, Name: "wave 1", Ts: 3000, Dur: 2000, Args: map[string]interface{}{"units": 2.0}},
		{Ph: "X", Cat: trace.CatWave, Name: "wave 0", Ts: 1000, Dur: 1000, Args: map[string]interface{}{"units": 3.0}},
		{Ph: "X", Cat: trace.CatWave, Name: "bogus", Ts: 1000, Dur: 1000},
		{Ph: "X", Cat: trace.CatPhase, Name: "launch", Ts: 6000, Dur: 100},
		{Ph: "X", Cat: trace.CatPhase, Name: "collect", Ts: 6100, Dur: 50},
		{Ph: "X", Cat: trace.CatPhase, Name: "launch", Ts: 7000, Dur: 300},
		{Ph: "B", Cat: trace.CatPhase, Name: "launch", Ts: 8000},
	}
}

func TestSession(t *testing.T) {
	s := newSession(testEvents())
	if got, want := s.acquires, []time.Duration{5 * time.Millisecond}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	want := []wave{
		{index: 0, units: 3, start: time.Millisecond, duration: time.Millisecond},
		{index: 1, units: 2, start: 3 * time.Millisecond, duration: 2 * time.Millisecond},
	}
	if got := s.Waves(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Phases(), []string{"launch", "collect"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	launch := s.Phase("launch")
	if got, want := launch.N, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := launch.Q2, 200*time.Microsecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := launch.Max, 300*time.Microsecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWrite(t *testing.T) {
	var b bytes.Buffer
	write(&b, newSession(testEvents()))
	out := b.String()
	for _, want := range []string{"acquire 0", "5.000ms", "launch", "0.200ms", "collect"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
