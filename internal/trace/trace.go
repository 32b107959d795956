// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package trace defines the trace file format written by wavestage
// sessions: a JSON document of events in the Chrome tracing format.
package trace

import (
	"encoding/json"
	"io"
	"time"
)

// Event categories written by a session. Each category is rendered
// on its own row.
const (
	CatAcquire = "acquire"
	CatWave    = "wave"
	CatPhase   = "phase"
)

// Tid returns the row of the provided category.
func Tid(cat string) int {
	switch cat {
	case CatAcquire:
		return 1
	case CatWave:
		return 2
	case CatPhase:
		return 3
	}
	return 0
}

// T is a trace document.
type T struct {
	Events []Event `json:"traceEvents"`
}

// Event is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type Event struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// Start returns the event's offset from the start of the trace.
func (e Event) Start() time.Duration {
	return time.Duration(e.Ts) * time.Microsecond
}

// Duration returns the duration of a complete event.
func (e Event) Duration() time.Duration {
	return time.Duration(e.Dur) * time.Microsecond
}

// Encode writes t to w.
func (t *T) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(t)
}

// Decode reads t from r.
func (t *T) Decode(r io.Reader) error {
	dec := json.NewDecoder(r)
	return dec.Decode(t)
}
