// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ianlewis/ragzip"
)

type decompress struct {
	path    string
	out     string
	clobber bool
}

func (d *decompress) Run() error {
	from, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("%w: opening file: %w", ErrRagzip, err)
	}
	defer from.Close()

	r, err := ragzip.OpenFile(from, ragzip.CacheModeLoaded)
	if err != nil {
		return fmt.Errorf("%w: reading archive: %w", ErrRagzip, err)
	}

	var dst io.Writer
	if d.out == "-" {
		dst = os.Stdout
	} else {
		flags := os.O_CREATE | os.O_WRONLY
		if !d.clobber {
			flags |= os.O_EXCL
		}
		dstFile, err := os.OpenFile(d.out, flags, 0o644)
		if err != nil {
			return fmt.Errorf("%w: opening target file: %w", ErrRagzip, err)
		}
		defer dstFile.Close()
		dst = dstFile
	}

	if _, err := r.Transfer(dst, 0, r.Size()); err != nil {
		return fmt.Errorf("%w: decompressing file %q: %w", ErrRagzip, from.Name(), err)
	}

	return nil
}
