// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/wavestage/internal/trace"
)

// Trace categories.
const (
	catAcquire = trace.CatAcquire
	catWave    = trace.CatWave
	catPhase   = trace.CatPhase
)

// A tracer tracks the acquisition and execution events of a session
// in the Chrome tracing format, viewable with chrome://tracing.
// Events are begun ("B") and ended ("E") by name within a category;
// matching pairs are coalesced into complete events ("X") when the
// trace is rendered.
type tracer struct {
	mu     sync.Mutex
	events map[string][]trace.Event
	order  []string

	// firstEvent is used to store the time of the first observed
	// event so that the offsets in the trace are meaningful.
	firstEvent time.Time
}

func newTracer() *tracer {
	return &tracer{events: make(map[string][]trace.Event)}
}

// Event logs an event with the provided category, name and type
// (ph). Args is a list of interleaved key-value pairs that are
// attached as event metadata and must be of even length. Event is a
// no-op on a nil tracer.
func (t *tracer) Event(cat, name, ph string, args ...interface{}) {
	if t == nil {
		return
	}
	if len(args)%2 != 0 {
		panic("trace.Event: invalid arguments")
	}
	event := trace.Event{
		Tid:  trace.Tid(cat),
		Ph:   ph,
		Name: name,
		Cat:  cat,
		Args: make(map[string]interface{}, len(args)/2),
	}
	for i := 0; i < len(args); i += 2 {
		event.Args[fmt.Sprint(args[i])] = args[i+1]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstEvent.IsZero() {
		t.firstEvent = time.Now()
	} else {
		event.Ts = time.Since(t.firstEvent).Nanoseconds() / 1e3
	}
	key := cat + "/" + name
	if _, ok := t.events[key]; !ok {
		t.order = append(t.order, key)
	}
	t.events[key] = append(t.events[key], event)
}

// Marshal writes the trace captured by t into the writer w in
// Chrome's event tracing format.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	var doc trace.T
	for _, key := range t.order {
		doc.Events = appendCoalesce(doc.Events, t.events[key])
	}
	t.mu.Unlock()
	return doc.Encode(w)
}

// appendCoalesce appends a set of events on the provided list,
// first coalescing events so that "B" and "E" events are matched
// into a single "X" event. Unmatched events are dropped.
func appendCoalesce(list []trace.Event, events []trace.Event) []trace.Event {
	var begIndex = -1
	for _, event := range events {
		switch {
		case event.Ph == "B" && begIndex < 0:
			begIndex = len(list)
			list = append(list, event)
		case event.Ph == "E" && begIndex >= 0:
			list[begIndex].Ph = "X"
			list[begIndex].Dur = event.Ts - list[begIndex].Ts
			if list[begIndex].Dur == 0 {
				list[begIndex].Dur = 1
			}
			for k, v := range event.Args {
				if _, ok := list[begIndex].Args[k]; !ok {
					list[begIndex].Args[k] = v
				}
			}
			begIndex = -1
		case event.Ph != "B" && event.Ph != "E":
			list = append(list, event)
		}
	}
	if begIndex >= 0 {
		list = append(list[:begIndex], list[begIndex+1:]...)
	}
	return list
}

func writeTraceFile(ctx context.Context, t *tracer, path string) {
	f, err := file.Create(ctx, path)
	if err != nil {
		log.Error.Printf("error creating trace file %s: %v", path, err)
		return
	}
	if err := t.Marshal(f.Writer(ctx)); err != nil {
		log.Error.Printf("error writing trace file %s: %v", path, err)
	}
	if err := f.Close(ctx); err != nil {
		log.Error.Printf("error closing trace file %s: %v", path, err)
	}
}
