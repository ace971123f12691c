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
	"fmt"
	"io"
	"sync"

	"github.com/ianlewis/ragzip/internal/lrucache"
)

// seekReaderAt adapts an io.ReadSeeker into an io.ReaderAt by serializing
// Seek+Read pairs behind a mutex. It is used only when a PageCache's
// source does not already implement io.ReaderAt natively.
type seekReaderAt struct {
	mu sync.Mutex
	rs io.ReadSeeker
}

func (s *seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rs, p)
}

// asReaderAt returns src as an io.ReaderAt, wrapping it with seekReaderAt if
// it only implements io.ReadSeeker. Mirrors the ReaderAt-preferred,
// Seek-fallback pattern used to adapt arbitrary sources for random access.
func asReaderAt(src any) (io.ReaderAt, error) {
	if ra, ok := src.(io.ReaderAt); ok {
		return ra, nil
	}
	if rs, ok := src.(io.ReadSeeker); ok {
		return &seekReaderAt{rs: rs}, nil
	}
	return nil, fmt.Errorf("%w: source implements neither io.ReaderAt nor io.ReadSeeker", errRagzip)
}

// PageCache is a generic, fixed-page-size LRU byte cache over any
// random-access or seekable byte source. It is independent of the ragzip
// format: it is equally at home in front of a *Reader, an *os.File, or any
// other io.ReaderAt/io.ReadSeeker, the way bgzf readers are meant to sit
// under higher-level record formats.
type PageCache struct {
	src      io.ReaderAt
	pageSize int
	srcSize  int64
	cache    *lrucache.Cache[int64, []byte]
}

// minPageCacheSize and maxPageCacheSize bound PageCache's page size to
// [2^4, 2^21] bytes. This range is independent of the [2^9, 2^30] ragzip
// page sizes NewWriterLevel accepts.
const (
	minPageCacheSize = 1 << 4
	maxPageCacheSize = 1 << 21
)

// NewPageCache wraps src with an LRU cache holding up to maxPages
// pageSize-byte pages. srcSize is the total byte length of src, used to
// bound the final (possibly short) page.
func NewPageCache(src any, pageSize int, srcSize int64, maxPages int) (*PageCache, error) {
	if pageSize < minPageCacheSize || pageSize > maxPageCacheSize {
		return nil, configErr("page size %d out of range [%d,%d]", pageSize, minPageCacheSize, maxPageCacheSize)
	}
	if maxPages <= 0 {
		return nil, configErr("max pages must be positive: %d", maxPages)
	}
	ra, err := asReaderAt(src)
	if err != nil {
		return nil, err
	}
	c, err := lrucache.New[int64, []byte](maxPages)
	if err != nil {
		return nil, fmt.Errorf("%w: creating page cache: %w", errRagzip, err)
	}
	return &PageCache{src: ra, pageSize: pageSize, srcSize: srcSize, cache: c}, nil
}

// page returns the cached contents of the id-th page, fetching and
// inserting it on a miss.
func (c *PageCache) page(id int64) ([]byte, error) {
	if b, ok := c.cache.Get(id); ok {
		return b, nil
	}

	start := id * int64(c.pageSize)
	if start >= c.srcSize {
		return nil, io.EOF
	}
	size := int64(c.pageSize)
	if start+size > c.srcSize {
		size = c.srcSize - start
	}

	buf := make([]byte, size)
	if _, err := c.src.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, err
	}
	c.cache.Add(id, buf)
	return buf, nil
}

// ReadAt implements [io.ReaderAt], filling p from one or more cached pages.
func (c *PageCache) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errOutOfRange
	}
	var total int
	for len(p) > 0 {
		if off >= c.srcSize {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		id := off / int64(c.pageSize)
		inPage := off % int64(c.pageSize)

		page, err := c.page(id)
		if err != nil {
			return total, err
		}
		if inPage >= int64(len(page)) {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}

		n := copy(p, page[inPage:])
		total += n
		off += int64(n)
		p = p[n:]
	}
	return total, nil
}

// Invalidate evicts the id-th cached page, if present. Useful when the
// caller knows the underlying source has changed (e.g. a resumed writer
// appended to a file this cache had already read).
func (c *PageCache) Invalidate(id int64) {
	c.cache.Remove(id)
}

// Purge evicts every cached page.
func (c *PageCache) Purge() {
	c.cache.Purge()
}
