// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package program

import (
	"context"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/wavestage/unit"
)

// Source builds program images and installs them on units.
type Source interface {
	// Build reads and validates the image at path.
	Build(ctx context.Context, path string) (*Image, error)

	// Install installs a built image on a unit.
	Install(ctx context.Context, img *Image, u unit.Unit) error
}

// Files is a Source that reads images through
// github.com/grailbio/base/file, so that images may be stored
// locally or in any registered file implementation (e.g., S3).
var Files Source = files{}

type files struct{}

func (files) Build(ctx context.Context, path string) (img *Image, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, errors.E("program: read "+path, err)
	}
	return Parse(path, p)
}

func (files) Install(ctx context.Context, img *Image, u unit.Unit) error {
	return u.Load(ctx, img.Entry, img.Digest)
}

// Write writes an image with the provided entry point and payload
// to path.
func Write(ctx context.Context, path, entry string, payload []byte) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()
	_, err = f.Writer(ctx).Write(Encode(entry, payload))
	return err
}
