// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/wavestage/internal/trace"
	"github.com/grailbio/wavestage/stats"
)

// wave represents the staging of a single wave.
type wave struct {
	index int
	units int
	// start is measured as a duration offset from the start of tracing.
	start    time.Duration
	duration time.Duration
}

// session represents the trace events from a wavestage session,
// interpreted for display of useful diagnostics.
type session struct {
	acquires []time.Duration
	waves    []wave
	phases   *stats.Timers
}

// reWave is used to match the event name of "wave" category events,
// e.g. "wave 3".
var reWave = regexp.MustCompile(`^wave (\d+)$`)

func newSession(events []trace.Event) *session {
	s := &session{phases: stats.NewTimers()}
	for _, event := range events {
		if event.Ph != "X" {
			continue
		}
		switch event.Cat {
		case trace.CatAcquire:
			s.acquires = append(s.acquires, event.Duration())
		case trace.CatWave:
			matches := reWave.FindStringSubmatch(event.Name)
			if matches == nil {
				log.Printf("could not parse name: %#v", event)
				continue
			}
			index, err := strconv.Atoi(matches[1])
			if err != nil {
				log.Printf("could not parse wave index from name: %s", event.Name)
				continue
			}
			units, _ := event.Args["units"].(float64)
			s.waves = append(s.waves, wave{
				index:    index,
				units:    int(units),
				start:    event.Start(),
				duration: event.Duration(),
			})
		case trace.CatPhase:
			s.phases.Add(event.Name, event.Duration())
		}
	}
	sort.SliceStable(s.waves, func(i, j int) bool {
		return s.waves[i].start < s.waves[j].start
	})
	return s
}

// Waves returns the waves of the session in the order they were
// staged.
func (s *session) Waves() []wave {
	return s.waves
}

// Phases returns the names of the run phases of the session, in the
// order they were first seen.
func (s *session) Phases() []string {
	return s.phases.Phases()
}

// Phase returns the distribution of the durations of the named
// phase.
func (s *session) Phase(name string) stats.Summary {
	return s.phases.Summary(name)
}
