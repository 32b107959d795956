// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package wsconfig provides a mechanism to create a wavestage session
// from a shared configuration. Wsconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.wavestage/config.
package wsconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/wavestage/exec"
)

// Path determines the location of the wavestage profile read by
// Parse.
var Path = os.ExpandEnv("$HOME/.wavestage/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// wavestage configuration from Path defined in this package. Parse
// returns a session as configured by the configuration and any flags
// provided, and a function that shuts the session down. Parse panics
// if session creation fails.
func Parse() (sess *exec.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	return Must()
}

// Must returns the session configured by the current profile. It
// panics if session creation fails.
func Must() (sess *exec.Session, shutdown func()) {
	config.Must("wavestage", &sess)
	return sess, sess.Shutdown
}
