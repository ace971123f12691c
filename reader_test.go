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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func buildTestFile(t *testing.T, p, i, numPages int) ([]byte, []byte) {
	t.Helper()
	pageSize := 1 << uint(p)
	want := genContent(numPages * pageSize)

	var buf bytes.Buffer
	w, err := NewWriterLevel(&buf, DefaultCompression, p, i)
	if err != nil {
		t.Fatalf("NewWriterLevel: %v", err)
	}
	if _, err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf.Bytes(), want
}

func TestOpenFileMatchesOpen(t *testing.T) {
	t.Parallel()

	raw, want := buildTestFile(t, 9, 2, 5)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.rgz")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open: %v", err)
	}
	defer f.Close()

	r, err := OpenFile(f, CacheModeDirect)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if r.Size() != int64(len(want)) {
		t.Errorf("Size() = %d, want %d", r.Size(), len(want))
	}

	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("content (-want +got):\n%s", diff)
	}
}

func TestReaderSeek(t *testing.T) {
	t.Parallel()

	raw, want := buildTestFile(t, 9, 2, 5)
	r, err := Open(bytes.NewReader(raw), int64(len(raw)), CacheModeLoaded)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if pos, err := r.Seek(100, io.SeekStart); err != nil || pos != 100 {
		t.Fatalf("Seek(100, SeekStart) = %d, %v", pos, err)
	}
	got := make([]byte, 10)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if diff := cmp.Diff(want[100:110], got); diff != "" {
		t.Errorf("SeekStart read (-want +got):\n%s", diff)
	}

	if pos, err := r.Seek(5, io.SeekCurrent); err != nil || pos != 115 {
		t.Fatalf("Seek(5, SeekCurrent) = %d, %v", pos, err)
	}
	got2 := make([]byte, 10)
	if _, err := io.ReadFull(r, got2); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if diff := cmp.Diff(want[115:125], got2); diff != "" {
		t.Errorf("SeekCurrent read (-want +got):\n%s", diff)
	}

	if pos, err := r.Seek(-10, io.SeekEnd); err != nil || pos != int64(len(want))-10 {
		t.Fatalf("Seek(-10, SeekEnd) = %d, %v", pos, err)
	}
	got3 := make([]byte, 10)
	if _, err := io.ReadFull(r, got3); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if diff := cmp.Diff(want[len(want)-10:], got3); diff != "" {
		t.Errorf("SeekEnd read (-want +got):\n%s", diff)
	}

	if _, err := r.Seek(-1, io.SeekStart); err == nil {
		t.Error("Seek to negative position: expected error, got nil")
	}

	_, err = r.Seek(0, 99)
	if diff := cmp.Diff(ErrConfig, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("Seek invalid whence error (-want +got):\n%s", diff)
	}
}

func TestReaderReadAtOutOfRange(t *testing.T) {
	t.Parallel()

	raw, want := buildTestFile(t, 9, 2, 5)
	r, err := Open(bytes.NewReader(raw), int64(len(raw)), CacheModeDirect)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := r.ReadAt(buf, -1); err == nil {
		t.Error("ReadAt negative offset: expected error, got nil")
	}
	if _, err := r.ReadAt(buf, int64(len(want))); err != io.EOF {
		t.Errorf("ReadAt at EOF offset = %v, want io.EOF", err)
	}
	if _, err := r.ReadAt(buf, int64(len(want))+100); err == nil {
		t.Error("ReadAt past EOF: expected error, got nil")
	}
}

func TestReaderPageOffsetOutOfRange(t *testing.T) {
	t.Parallel()

	raw, _ := buildTestFile(t, 9, 2, 5)
	r, err := Open(bytes.NewReader(raw), int64(len(raw)), CacheModeDirect)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := r.PageOffset(-1); err == nil {
		t.Error("PageOffset(-1): expected error, got nil")
	}
	if _, err := r.PageOffset(r.PageCount()); err == nil {
		t.Error("PageOffset(PageCount()): expected error, got nil")
	}
	for id := int64(0); id < r.PageCount(); id++ {
		if _, err := r.PageOffset(id); err != nil {
			t.Errorf("PageOffset(%d): %v", id, err)
		}
	}
}

func TestReaderExtensionsEmpty(t *testing.T) {
	t.Parallel()

	raw, _ := buildTestFile(t, 9, 1, 1)
	r, err := Open(bytes.NewReader(raw), int64(len(raw)), CacheModeDirect)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exts, err := r.Extensions()
	if err != nil {
		t.Fatalf("Extensions: %v", err)
	}
	if len(exts) != 0 {
		t.Errorf("Extensions() = %v, want empty", exts)
	}
}

func TestOpenRejectsTooShortFile(t *testing.T) {
	t.Parallel()

	_, err := Open(bytes.NewReader([]byte("too short")), 9, CacheModeDirect)
	if diff := cmp.Diff(ErrFormat, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("Open error (-want +got):\n%s", diff)
	}
}

// TestReaderRejectsOffsetMonotonicityViolation hand-corrupts the top-level
// index's first child pointer to point at (not before) its own containing
// member, and checks that all three cache modes refuse to follow it rather
// than looping or reading unvalidated bytes.
func TestReaderRejectsOffsetMonotonicityViolation(t *testing.T) {
	t.Parallel()

	raw, _ := buildTestFile(t, 9, 2, 5)
	ft, err := readFooterAt(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("readFooterAt: %v", err)
	}
	if ft.Levels == 0 {
		t.Fatal("test file has no index tower; need more pages to exercise this")
	}

	corrupt := append([]byte(nil), raw...)
	entryPos := ft.TopIndexOffset + raPayloadOffset
	binary.BigEndian.PutUint64(corrupt[entryPos:entryPos+8], uint64(ft.TopIndexOffset))

	for _, mode := range []CacheMode{CacheModeDirect, CacheModeLoaded, CacheModeLRU} {
		mode := mode
		t.Run(fmt.Sprintf("mode=%d", mode), func(t *testing.T) {
			t.Parallel()

			r, err := Open(bytes.NewReader(corrupt), int64(len(corrupt)), mode)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			_, err = r.PageOffset(0)
			if diff := cmp.Diff(ErrFormat, err, cmpopts.EquateErrors()); diff != "" {
				t.Errorf("PageOffset error (-want +got):\n%s", diff)
			}
		})
	}
}

// TestCacheModeDirectSkipsFullMemberParse confirms CacheModeDirect and
// CacheModeLoaded are observably different strategies, not interchangeable
// aliases: direct mode's single raw 8-byte read per descent issues fewer
// ReadAt calls against the source than loaded mode's full gzip-member parse.
func TestCacheModeDirectSkipsFullMemberParse(t *testing.T) {
	t.Parallel()

	raw, _ := buildTestFile(t, 9, 2, 5)

	directSrc := &countingReaderAt{ra: bytes.NewReader(raw)}
	direct, err := Open(directSrc, int64(len(raw)), CacheModeDirect)
	if err != nil {
		t.Fatalf("Open(CacheModeDirect): %v", err)
	}
	if _, err := direct.PageOffset(0); err != nil {
		t.Fatalf("direct PageOffset(0): %v", err)
	}

	loadedSrc := &countingReaderAt{ra: bytes.NewReader(raw)}
	loaded, err := Open(loadedSrc, int64(len(raw)), CacheModeLoaded)
	if err != nil {
		t.Fatalf("Open(CacheModeLoaded): %v", err)
	}
	if _, err := loaded.PageOffset(0); err != nil {
		t.Fatalf("loaded PageOffset(0): %v", err)
	}

	if directSrc.calls >= loadedSrc.calls {
		t.Errorf("direct mode issued %d ReadAt calls, loaded mode issued %d; want direct strictly fewer", directSrc.calls, loadedSrc.calls)
	}
}

func TestOpenCachedRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	raw, _ := buildTestFile(t, 9, 1, 1)
	_, err := OpenCached(bytes.NewReader(raw), int64(len(raw)), CacheMode(99), defaultLRUCacheSize)
	if diff := cmp.Diff(ErrConfig, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("OpenCached error (-want +got):\n%s", diff)
	}
}
