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
	"os"

	"github.com/rodaine/table"

	"github.com/ianlewis/ragzip"
)

type list struct {
	path string
}

func (l *list) Run() error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("%w: opening file: %w", ErrRagzip, err)
	}
	defer f.Close()

	r, err := ragzip.OpenFile(f, ragzip.CacheModeDirect)
	if err != nil {
		return fmt.Errorf("%w: reading archive: %w", ErrRagzip, err)
	}

	fInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %w", ErrRagzip, err)
	}

	st := r.Stat()
	compressed := fInfo.Size()

	var ratio float64
	if st.UncompressedSize > 0 {
		ratio = (1 - float64(compressed)/float64(st.UncompressedSize)) * 100
	}

	tbl := table.New("version", "pages", "P", "I", "levels", "uncompressed", "compressed", "ratio", "topIndex", "extensionsTail", "name")
	tbl.AddRow(
		st.Version,
		r.PageCount(),
		st.PageSizeExponent,
		st.IndexSizeExponent,
		st.Levels,
		fmt.Sprintf("%d", st.UncompressedSize),
		fmt.Sprintf("%d", compressed),
		fmt.Sprintf("%.1f%%", ratio),
		st.TopIndexOffset,
		st.ExtensionsTailOffset,
		l.path,
	)
	tbl.Print()

	exts, err := r.Extensions()
	if err != nil {
		return fmt.Errorf("%w: reading extensions: %w", ErrRagzip, err)
	}
	if len(exts) == 0 {
		return nil
	}

	fmt.Println()
	extTbl := table.New("id", "flags", "spec", "bytes")
	for _, e := range exts {
		extTbl.AddRow(e.ID, fmt.Sprintf("0x%02x", e.Flags), e.IsSpec(), len(e.Payload))
	}
	extTbl.Print()

	return nil
}
