// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package wsconfig_test

import (
	"testing"

	"github.com/grailbio/wavestage/wsconfig"
)

func TestMust(t *testing.T) {
	sess, shutdown := wsconfig.Must()
	defer shutdown()
	// Without a configured system, units are local.
	if got, want := sess.SystemName(), "local"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
