// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package program

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/wavestage/stats"
	"github.com/grailbio/wavestage/unit"
	"golang.org/x/sync/errgroup"
)

// Loader installs a program on the units of a pool as they arrive.
// A loader is either unloaded, when no image has been built, or
// loaded, when it holds the image handle built on its first Load.
// Subsequent loads install the held image without rebuilding it, so
// the cost of building is paid once per run regardless of the number
// of waves.
//
// Loads must not be issued concurrently; waves are loaded one at a
// time by the staging callback.
type Loader struct {
	source Source
	path   string
	image  *Image

	builds   *stats.Int
	installs *stats.Int
}

// NewLoader returns an unloaded loader for the image at path.
// Builds and installs are counted in st, which may be nil.
func NewLoader(source Source, path string, st *stats.Map) *Loader {
	if st == nil {
		st = stats.NewMap()
	}
	return &Loader{
		source:   source,
		path:     path,
		builds:   st.Int(stats.Builds),
		installs: st.Int(stats.Installs),
	}
}

// Loaded tells whether the loader holds an image.
func (l *Loader) Loaded() bool { return l.image != nil }

// Image returns the loader's image, or nil if it is unloaded.
func (l *Loader) Image() *Image { return l.image }

// Builds returns the number of times the loader has built its image.
func (l *Loader) Builds() int { return int(l.builds.Get()) }

// Installs returns the number of units the image was installed on.
func (l *Loader) Installs() int { return int(l.installs.Get()) }

// Load ensures the program is installed on each of the provided
// units, building the image first if the loader is unloaded. Errors
// are fatal: the loader does not retry, and a failed build leaves
// the loader unloaded.
func (l *Loader) Load(ctx context.Context, units []unit.Unit) error {
	if l.image == nil {
		img, err := l.source.Build(ctx, l.path)
		l.builds.Add(1)
		if err != nil {
			return errors.E(errors.Fatal, fmt.Sprintf("program: build %s", l.path), err)
		}
		log.Printf("program: built %s", img)
		l.image = img
	}
	img := l.image
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		u := u
		g.Go(func() error {
			if err := l.source.Install(gctx, img, u); err != nil {
				return errors.E(errors.Fatal, fmt.Sprintf("program: install %s on %s", img.Path, u.Name()), err)
			}
			l.installs.Add(1)
			return nil
		})
	}
	return g.Wait()
}
