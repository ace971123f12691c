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

package ragzip

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// countingReaderAt counts how many times ReadAt is called, so tests can
// confirm a cache hit avoided a trip to the source.
type countingReaderAt struct {
	ra    io.ReaderAt
	calls int
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	c.calls++
	return c.ra.ReadAt(p, off)
}

// seekOnly wraps an io.ReadSeeker and deliberately hides any ReaderAt method
// it might otherwise have, forcing asReaderAt's Seek-fallback path.
type seekOnly struct {
	io.ReadSeeker
}

func TestPageCacheReadAtAndEviction(t *testing.T) {
	t.Parallel()

	data := genContent(10 * 16) // 10 pages of 16 bytes each.
	src := &countingReaderAt{ra: bytes.NewReader(data)}

	c, err := NewPageCache(src, 16, int64(len(data)), 2)
	if err != nil {
		t.Fatalf("NewPageCache: %v", err)
	}

	got := make([]byte, 16)
	if _, err := c.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if diff := cmp.Diff(data[0:16], got); diff != "" {
		t.Errorf("page 0 (-want +got):\n%s", diff)
	}
	if src.calls != 1 {
		t.Fatalf("calls after first read = %d, want 1", src.calls)
	}

	// Re-reading the same page must hit the cache, not the source.
	if _, err := c.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("calls after cached re-read = %d, want 1", src.calls)
	}

	// Reading a range spanning three pages (cap 2) evicts page 0.
	spanning := make([]byte, 3*16)
	if _, err := c.ReadAt(spanning, 16); err != nil {
		t.Fatalf("ReadAt spanning: %v", err)
	}
	if diff := cmp.Diff(data[16:16+3*16], spanning); diff != "" {
		t.Errorf("spanning read (-want +got):\n%s", diff)
	}

	if _, err := c.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if src.calls <= 1 {
		t.Error("expected a source re-fetch for evicted page 0")
	}

	c.Invalidate(1)
	callsBeforeInvalidateRead := src.calls
	if _, err := c.ReadAt(got, 16); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if src.calls <= callsBeforeInvalidateRead {
		t.Error("expected a source re-fetch after Invalidate")
	}

	c.Purge()
	callsBeforePurgeRead := src.calls
	if _, err := c.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if src.calls <= callsBeforePurgeRead {
		t.Error("expected a source re-fetch after Purge")
	}
}

func TestPageCacheShortFinalPage(t *testing.T) {
	t.Parallel()

	data := genContent(16 + 5) // one full page, one 5-byte tail page.
	c, err := NewPageCache(bytes.NewReader(data), 16, int64(len(data)), 4)
	if err != nil {
		t.Fatalf("NewPageCache: %v", err)
	}

	got := make([]byte, 16)
	n, err := c.ReadAt(got, 16)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 {
		t.Errorf("ReadAt short page returned n=%d, want 5", n)
	}
	if diff := cmp.Diff(data[16:21], got[:n]); diff != "" {
		t.Errorf("short page content (-want +got):\n%s", diff)
	}
}

func TestNewPageCacheValidatesArguments(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		pageSize int
		maxPages int
	}{
		{name: "zero page size", pageSize: 0, maxPages: 1},
		{name: "negative page size", pageSize: -1, maxPages: 1},
		{name: "page size below minimum", pageSize: 15, maxPages: 1},
		{name: "page size above maximum", pageSize: maxPageCacheSize + 1, maxPages: 1},
		{name: "zero max pages", pageSize: 16, maxPages: 0},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPageCache(bytes.NewReader(nil), tc.pageSize, 0, tc.maxPages)
			if diff := cmp.Diff(ErrConfig, err, cmpopts.EquateErrors()); diff != "" {
				t.Errorf("NewPageCache error (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAsReaderAtSeekFallback(t *testing.T) {
	t.Parallel()

	data := genContent(64)
	src := seekOnly{ReadSeeker: bytes.NewReader(data)}

	c, err := NewPageCache(src, 16, int64(len(data)), 4)
	if err != nil {
		t.Fatalf("NewPageCache: %v", err)
	}

	got := make([]byte, len(data))
	if _, err := c.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("seek-fallback content (-want +got):\n%s", diff)
	}
}

func TestAsReaderAtRejectsUnsupportedSource(t *testing.T) {
	t.Parallel()

	_, err := asReaderAt(struct{}{})
	if err == nil {
		t.Fatal("asReaderAt: expected error for unsupported source, got nil")
	}
}
