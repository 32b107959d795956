// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package program builds program images and installs them on units.
//
// An image is a small file with a text header naming the kernel
// entry point, followed by an opaque payload:
//
//	wavestage image 1
//	entry <name>
//
//	<payload>
//
// Building an image parses and validates it once; the resulting
// Image is a handle that may be installed on any number of units.
package program

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/wavestage/unit"
	"github.com/spaolacci/murmur3"
)

const magic = "wavestage image 1"

// Image is a parsed and validated program image.
type Image struct {
	// Path is the path the image was built from.
	Path string
	// Entry is the kernel entry point named by the image.
	Entry string
	// Digest is the murmur3 digest of the complete image file.
	Digest uint32
	// Size is the size of the image file in bytes.
	Size int
}

func (m *Image) String() string {
	return fmt.Sprintf("%s (entry %s, digest %08x)", m.Path, m.Entry, m.Digest)
}

// Encode returns the contents of an image file for the provided
// entry point and payload.
func Encode(entry string, payload []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\nentry %s\n\n", magic, entry)
	b.Write(payload)
	return b.Bytes()
}

// Parse parses the contents of an image file read from path. The
// image's entry point must be registered with unit.RegisterKernel.
func Parse(path string, p []byte) (*Image, error) {
	header := p
	if i := bytes.Index(p, []byte("\n\n")); i >= 0 {
		header = p[:i]
	} else {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("program %s: truncated header", path))
	}
	lines := strings.Split(string(header), "\n")
	if lines[0] != magic {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("program %s: bad magic %q", path, lines[0]))
	}
	img := &Image{Path: path, Digest: murmur3.Sum32(p), Size: len(p)}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("program %s: malformed header line %q", path, line))
		}
		switch fields[0] {
		case "entry":
			img.Entry = fields[1]
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("program %s: unknown header field %q", path, fields[0]))
		}
	}
	if img.Entry == "" {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("program %s: no entry point", path))
	}
	if _, ok := unit.LookupKernel(img.Entry); !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("program %s: entry %s is not a registered kernel", path, img.Entry))
	}
	return img, nil
}
