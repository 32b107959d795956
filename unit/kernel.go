// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"sort"
	"sync"

	"github.com/grailbio/base/log"
)

// A Kernel is a program executed by a unit over its own memory. A
// kernel reads its arguments from the Args region and its input from
// the Heap, and leaves one result record per task in Results.
type Kernel func(ctx context.Context, mem *Memory) error

var (
	kernelsMu sync.Mutex
	kernels   = map[string]Kernel{}
)

// RegisterKernel registers a kernel under the provided entry point.
// Program images name their entry point; a unit can load an image
// only if its entry is registered in the unit's process. As with
// service registrations, kernels must be registered identically in
// every binary that hosts units, typically from an init function.
func RegisterKernel(entry string, k Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	if _, ok := kernels[entry]; ok {
		log.Panicf("unit: kernel %s is already registered", entry)
	}
	kernels[entry] = k
}

// LookupKernel returns the kernel registered under entry.
func LookupKernel(entry string) (Kernel, bool) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	k, ok := kernels[entry]
	return k, ok
}

// Kernels returns the sorted names of all registered kernels.
func Kernels() []string {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
