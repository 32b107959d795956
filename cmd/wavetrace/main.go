// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command wavetrace summarizes a trace written by a wavestage
// session: the duration of each acquisition, of every staged wave,
// and the distribution of each run phase across repetitions.
//
// Usage:
//
//	wavetrace trace.json
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/wavestage/internal/trace"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: wavetrace trace.json\n")
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("wavetrace: ")
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	ctx := context.Background()
	path := flag.Arg(0)
	f, err := file.Open(ctx, path)
	must.Nil(err, path)
	var doc trace.T
	must.Nil(doc.Decode(f.Reader(ctx)), path)
	must.Nil(f.Close(ctx))
	write(os.Stdout, newSession(doc.Events))
}

func write(w io.Writer, s *session) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', tabwriter.AlignRight)
	for i, d := range s.acquires {
		fmt.Fprintf(tw, "acquire %d\t%s\t\n", i, ms(d))
	}
	if len(s.Waves()) > 0 {
		fmt.Fprintln(tw, "\nwave\tunits\tstart\tduration\t")
		for _, wv := range s.Waves() {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t\n", wv.index, wv.units, ms(wv.start), ms(wv.duration))
		}
	}
	if len(s.Phases()) > 0 {
		fmt.Fprintln(tw, "\nphase\tn\ttotal\tmin\tq1\tq2\tq3\tmax\t")
		for _, name := range s.Phases() {
			p := s.Phase(name)
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
				name, p.N, ms(p.Total), ms(p.Min), ms(p.Q1), ms(p.Q2), ms(p.Q3), ms(p.Max))
		}
	}
	must.Nil(tw.Flush())
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}
