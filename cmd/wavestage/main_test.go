// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"reflect"
	"testing"
)

func TestParseWaves(t *testing.T) {
	for _, c := range []struct {
		list           string
		units, perWave int
		want           []int
	}{
		{"", 8, 0, []int{8}},
		{"", 8, 3, []int{3, 3, 2}},
		{"", 8, 4, []int{4, 4}},
		{"", 8, 16, []int{8}},
		{"2, 5,1", 0, 0, []int{2, 5, 1}},
	} {
		got, err := parseWaves(c.list, c.units, c.perWave)
		if err != nil {
			t.Errorf("%+v: %v", c, err)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("%+v: got %v, want %v", c, got, c.want)
		}
	}
	if _, err := parseWaves("", 0, 1); err == nil {
		t.Error("expected error")
	}
	if _, err := parseWaves("1,x", 0, 0); err == nil {
		t.Error("expected error")
	}
}
