// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/wavestage/alloc"
	"github.com/grailbio/wavestage/unit"
)

func init() {
	config.Register("wavestage", func(inst *config.Constructor) {
		sess := newSession()
		inst.IntVar(&sess.inflight, "inflight", unit.DefaultInflight, "maximum number of outstanding asynchronous transfers")
		var (
			system          bigmachine.System
			unitsPerMachine int
		)
		inst.InstanceVar(&system, "system", "", "the bigmachine system on which units are provisioned; local units are used if empty")
		inst.IntVar(&unitsPerMachine, "units-per-machine", alloc.DefaultUnitsPerMachine, "number of units hosted by each machine")
		inst.Doc = "wavestage configures the unit staging runtime"
		inst.New = func() (interface{}, error) {
			if system != nil {
				Bigmachine(system, unitsPerMachine)(sess)
			} else {
				Local(sess)
			}
			if sess.inflight <= 0 {
				sess.inflight = unit.DefaultInflight
			}
			sess.start()
			return sess, nil
		}
	})
}
