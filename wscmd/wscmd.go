// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package wscmd provides utilities for implementing wavestage
// command line tools. The main entry point, wscmd.Main, configures
// a session according to a common set of flags, and then invokes the
// user's driver code.
//
// A wscmd tool follows this form:
//
//	func main() {
//		var (
//			applicationFlag1 = flag.Int(...)
//			applicationFlag2 = ...
//		)
//		wscmd.Main(func(sess *exec.Session, args []string) error {
//			ctx := context.Background()
//			pool, err := sess.Acquire(ctx, waves, layout, stager)
//			if err != nil {
//				return err
//			}
//			// Run drivers over the pool...
//			return nil
//		})
//	}
package wscmd

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Pprof is included to be exposed on the local diagnostic web server.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/wavestage/exec"
	"github.com/grailbio/wavestage/wsflags"
)

// Main is a convenient entry point for a wscmd. Main does not return;
// it should be called after other initialization is performed. Main
// parses (global) flags, and configures a session accordingly. Main
// then invokes the provided func with the session, and the unparsed
// arguments.
//
// Main starts a diagnostic web server (default address :3333), using
// http.DefaultServeMux, which includes pprof handlers as well as the
// session's status and trace.
//
// Main shuts down the session and terminates the program after the
// user func returns. If it returns with an error, it is reported and
// the process exits with code 1, otherwise it exits successfully.
func Main(main func(sess *exec.Session, args []string) error) {
	var fl wsflags.Flags
	wsflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	sess, err := Init(fl)
	if err != nil {
		log.Fatal(err)
	}
	err = main(sess, flag.Args())
	sess.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// Init starts a session according to the supplied flags.
func Init(wf wsflags.Flags) (*exec.Session, error) {
	if wf.SystemHelp {
		providers, profiles := wsflags.ProvidersAndProfiles()
		sort.Strings(providers)
		wr := wf.Output()
		str := []string{}
		fmt.Fprintf(wr, "%s\n\n", wsflags.SystemHelpLong)
		fmt.Fprintf(wr, "The available providers are: %v\n",
			strings.Join(providers, ", "))
		for k, v := range profiles {
			str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
		}
		sort.Strings(str)
		for _, s := range str {
			wr.Write([]byte(s))
		}
		os.Exit(0)
	}
	options, err := wf.ExecOptions()
	if err != nil {
		return nil, err
	}
	sess := exec.Start(options...)
	DisplayStatus(wf, sess)
	return sess, nil
}

// DisplayStatus arranges for the session's status to be displayed on
// the console and/or a web page depending on the flags specified on
// the command line. The web page is hosted at /debug/status on
// http.DefaultServeMux.
func DisplayStatus(wf wsflags.Flags, sess *exec.Session) {
	if wf.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sess.Status())
	}
	if len(wf.HTTPAddress.Address) > 0 {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sess.Status()))
		go func() {
			log.Printf("HTTP Status at: %v\n", wf.HTTPAddress)
			err := http.ListenAndServe(wf.HTTPAddress.Address, nil)
			if err != nil {
				log.Error.Printf("Failed to start HTTP at: %v: %v\n", wf.HTTPAddress, err)
			}
		}()
	}
}
