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
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ianlewis/ragzip/internal/lrucache"
)

// CacheMode selects how a Reader resolves index metadata members while
// descending the index tower on each Seek/ReadAt.
type CacheMode int

const (
	// CacheModeDirect resolves each index descent with a raw positional
	// read of the single 8-byte child pointer needed, skipping gzip header
	// parsing and deflate decompression entirely. Cheapest per call, and
	// trusts the geometry the footer already validated.
	CacheModeDirect CacheMode = iota

	// CacheModeLoaded fully opens, parses, and validates the referenced
	// index member on every descent, retaining nothing between calls.
	CacheModeLoaded

	// CacheModeLRU keeps a bounded number of recently-used, fully-parsed
	// index members in memory, evicting the least-recently-used entry on
	// overflow.
	CacheModeLRU
)

// defaultLRUCacheSize is the default per-Reader index cache capacity used
// by Open for CacheModeLRU.
const defaultLRUCacheSize = 256

// offsetReader adapts an io.ReaderAt into a forward-only io.Reader starting
// at a fixed offset, used to parse one metadata member in place.
type offsetReader struct {
	r   io.ReaderAt
	off int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.ReadAt(p, o.off)
	o.off += int64(n)
	return n, err
}

// readMetadataMemberAt reads one metadata member from ra starting at
// offset.
func readMetadataMemberAt(ra io.ReaderAt, offset int64) ([]byte, int64, error) {
	return readMetadataMember(&offsetReader{r: ra, off: offset})
}

// readIndexEntriesAt reads and decodes one index metadata member.
func readIndexEntriesAt(ra io.ReaderAt, offset int64) ([]int64, error) {
	payload, _, err := readMetadataMemberAt(ra, offset)
	if err != nil {
		return nil, err
	}
	return decodeIndexEntries(payload)
}

// readFooterAt reads and parses the fixed-size footer at the end of a
// size-byte ragzip file.
func readFooterAt(ra io.ReaderAt, size int64) (footer, error) {
	if size < footerSize {
		return footer{}, formatErr("file too short for footer: %d bytes", size)
	}
	payload, length, err := readMetadataMemberAt(ra, size-footerSize)
	if err != nil {
		return footer{}, err
	}
	if length != footerSize {
		return footer{}, formatErr("footer member is %d bytes, want %d", length, footerSize)
	}
	return parseFooterPayload(payload)
}

// firstExtensionOffset walks the extension chain backward from tail,
// returning the offset of the earliest (first-appended) extension.
func firstExtensionOffset(ra io.ReaderAt, tail int64) (int64, error) {
	offset := tail
	for n := 0; offset != -1; n++ {
		if n >= maxExtensionCount {
			return 0, formatErr("extension chain exceeds %d entries", maxExtensionCount)
		}
		payload, _, err := readMetadataMemberAt(ra, offset)
		if err != nil {
			return 0, err
		}
		ext, err := parseExtensionPayload(payload)
		if err != nil {
			return 0, err
		}
		if ext.PreviousOffset == -1 {
			return offset, nil
		}
		if ext.PreviousOffset >= offset {
			return 0, formatErr("extension at offset %d points to previous offset %d, not strictly before it", offset, ext.PreviousOffset)
		}
		offset = ext.PreviousOffset
	}
	return 0, formatErr("extension chain is empty")
}

// indexSource resolves one child pointer of an index metadata member given
// the member's own file offset and the slot (0-indexed) within it, per one
// of the three strategies in spec section 5.5: cacheless-direct,
// cacheless-loaded, and LRU-cached.
type indexSource interface {
	childOffset(offset int64, slot int) (int64, error)
}

// directIndexSource is the cacheless-direct strategy: a raw positional
// 8-byte read at offset + raPayloadOffset + 8*slot, with no gzip header
// parse and no deflate decompression. An index metadata member carries no
// uncompressed content (its entries live entirely in the RA extra
// subfield), so this is a plain ReadAt against prior footer-validated
// geometry rather than a member parse.
type directIndexSource struct {
	ra io.ReaderAt
}

func (s *directIndexSource) childOffset(offset int64, slot int) (int64, error) {
	buf := make([]byte, 8)
	pos := offset + raPayloadOffset + int64(slot)*8
	if _, err := io.ReadFull(&offsetReader{r: s.ra, off: pos}, buf); err != nil {
		return 0, fmt.Errorf("%w: reading index entry: %w", errRagzip, err)
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

// loadedIndexSource is the cacheless-loaded strategy: every call fully
// opens, parses, and validates the referenced index member from ra. Nothing
// is retained between calls.
type loadedIndexSource struct {
	ra io.ReaderAt
}

func (s *loadedIndexSource) childOffset(offset int64, slot int) (int64, error) {
	entries, err := readIndexEntriesAt(s.ra, offset)
	if err != nil {
		return 0, err
	}
	if slot < 0 || slot >= len(entries) {
		return 0, errOutOfRange
	}
	return entries[slot], nil
}

// cachedIndexSource keeps a bounded LRU of recently-resolved index members,
// each fully parsed and validated on first access.
type cachedIndexSource struct {
	ra    io.ReaderAt
	cache *lrucache.Cache[int64, []int64]
}

func newCachedIndexSource(ra io.ReaderAt, size int) (*cachedIndexSource, error) {
	c, err := lrucache.New[int64, []int64](size)
	if err != nil {
		return nil, fmt.Errorf("%w: creating index cache: %w", errRagzip, err)
	}
	return &cachedIndexSource{ra: ra, cache: c}, nil
}

func (s *cachedIndexSource) childOffset(offset int64, slot int) (int64, error) {
	entries, ok := s.cache.Get(offset)
	if !ok {
		e, err := readIndexEntriesAt(s.ra, offset)
		if err != nil {
			return 0, err
		}
		s.cache.Add(offset, e)
		entries = e
	}
	if slot < 0 || slot >= len(entries) {
		return 0, errOutOfRange
	}
	return entries[slot], nil
}

// Stat summarizes a ragzip file's footer, exposed for tools like
// ragunzip's -s listing.
type Stat struct {
	Version              int32
	Levels               int
	PageSizeExponent     int
	IndexSizeExponent    int
	UncompressedSize     int64
	TopIndexOffset       int64
	ExtensionsTailOffset int64
}

// Extension is one decoded node of a ragzip file's extension chain.
type Extension struct {
	ID      int32
	Flags   uint8
	Payload []byte
}

// IsSpec reports whether the extension is reserved to the format owner.
func (e Extension) IsSpec() bool {
	return e.Flags&0x80 != 0
}

// Reader provides random access to the uncompressed content of a ragzip
// file, implementing [io.ReaderAt], [io.Reader], and [io.Seeker].
//
// A Reader is safe for concurrent use by multiple goroutines only through
// ReadAt; Read and Seek share mutable position state and must not be used
// concurrently with each other.
type Reader struct {
	ra   io.ReaderAt
	size int64

	footer footer
	src    indexSource

	pageSize int
	idxSize  int

	levelSpans []int64 // levelSpans[level-1] = idxSize^(level-1), in pages
	maxPages   int64

	pos int64
}

// Open returns a Reader over a ragzip file of the given total size, read
// through ra, using the given index-descent cache mode.
func Open(ra io.ReaderAt, size int64, mode CacheMode) (*Reader, error) {
	return OpenCached(ra, size, mode, defaultLRUCacheSize)
}

// OpenFile is a convenience wrapper that stats f to determine its size.
func OpenFile(f *os.File, mode CacheMode) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %w", errRagzip, err)
	}
	return Open(f, fi.Size(), mode)
}

// OpenCached is like Open but lets the caller size the per-Reader index
// cache used by CacheModeLRU. It is ignored by the other cache modes.
func OpenCached(ra io.ReaderAt, size int64, mode CacheMode, lruCacheSize int) (*Reader, error) {
	ft, err := readFooterAt(ra, size)
	if err != nil {
		return nil, err
	}

	var src indexSource
	switch mode {
	case CacheModeDirect:
		src = &directIndexSource{ra: ra}
	case CacheModeLoaded:
		src = &loadedIndexSource{ra: ra}
	case CacheModeLRU:
		src, err = newCachedIndexSource(ra, lruCacheSize)
		if err != nil {
			return nil, err
		}
	default:
		return nil, configErr("unknown cache mode: %d", mode)
	}

	idxSize := 1 << uint(ft.I)
	spans := make([]int64, ft.Levels)
	span := int64(1)
	for lvl := 1; lvl <= ft.Levels; lvl++ {
		spans[lvl-1] = span
		span *= int64(idxSize)
	}

	return &Reader{
		ra:         ra,
		size:       size,
		footer:     ft,
		src:        src,
		pageSize:   1 << uint(ft.P),
		idxSize:    idxSize,
		levelSpans: spans,
		maxPages:   span,
	}, nil
}

// Size returns the file's total uncompressed length.
func (r *Reader) Size() int64 {
	return r.footer.UncompressedSize
}

// Stat returns a summary of the file's footer fields.
func (r *Reader) Stat() Stat {
	f := r.footer
	return Stat{
		Version:              f.Version,
		Levels:               f.Levels,
		PageSizeExponent:     f.P,
		IndexSizeExponent:    f.I,
		UncompressedSize:     f.UncompressedSize,
		TopIndexOffset:       f.TopIndexOffset,
		ExtensionsTailOffset: f.ExtensionsTailOffset,
	}
}

// PageCount returns the total number of pages in the file.
func (r *Reader) PageCount() int64 {
	if r.footer.UncompressedSize == 0 {
		return 0
	}
	return (r.footer.UncompressedSize + int64(r.pageSize) - 1) / int64(r.pageSize)
}

// PageSize returns 2^P, the file's configured page size in bytes.
func (r *Reader) PageSize() int {
	return r.pageSize
}

// PageOffset returns the file offset of the pageID-th page (0-indexed). It
// is exported for callers that want to resolve page locations directly
// rather than through ReadAt.
func (r *Reader) PageOffset(pageID int64) (int64, error) {
	return r.pageOffset(pageID)
}

// Extensions returns the file's extension chain, oldest (first-appended)
// first. It fails if the chain exceeds 50 entries (spec section 4.5).
func (r *Reader) Extensions() ([]Extension, error) {
	var rev []Extension
	offset := r.footer.ExtensionsTailOffset
	for len(rev) < maxExtensionCount && offset != -1 {
		payload, _, err := readMetadataMemberAt(r.ra, offset)
		if err != nil {
			return nil, err
		}
		ext, err := parseExtensionPayload(payload)
		if err != nil {
			return nil, err
		}
		rev = append(rev, Extension{ID: ext.ID, Flags: ext.Flags, Payload: ext.Payload})
		if ext.PreviousOffset != -1 && ext.PreviousOffset >= offset {
			return nil, formatErr("extension at offset %d points to previous offset %d, not strictly before it", offset, ext.PreviousOffset)
		}
		offset = ext.PreviousOffset
	}
	if offset != -1 {
		return nil, formatErr("extension chain exceeds %d entries", maxExtensionCount)
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev, nil
}

// pageOffset resolves the file offset of the pageID-th page (0-indexed) by
// descending the index tower from the top.
func (r *Reader) pageOffset(pageID int64) (int64, error) {
	if r.footer.Levels == 0 {
		if pageID != 0 {
			return 0, errOutOfRange
		}
		return 0, nil
	}
	if pageID < 0 || pageID >= r.maxPages {
		return 0, errOutOfRange
	}

	offset := r.footer.TopIndexOffset
	for level := r.footer.Levels; level >= 1; level-- {
		span := r.levelSpans[level-1]
		idx := pageID / span
		child, err := r.src.childOffset(offset, int(idx))
		if err != nil {
			return 0, err
		}
		if child >= offset {
			return 0, formatErr("index entry %d at offset %d is not strictly before its containing member", idx, offset)
		}
		offset = child
		pageID -= idx * span
	}
	return offset, nil
}

// openPage returns a fresh decompressor positioned at the start of the
// pageID-th page's content.
func (r *Reader) openPage(pageID int64) (*memberReader, error) {
	offset, err := r.pageOffset(pageID)
	if err != nil {
		return nil, err
	}
	_, headerLen, err := parseMemberHeader(&offsetReader{r: r.ra, off: offset})
	if err != nil {
		return nil, err
	}
	body := &offsetReader{r: r.ra, off: offset + headerLen}
	return newMemberReader(body), nil
}

// ReadAt implements [io.ReaderAt] over the file's uncompressed content,
// touching only the pages overlapping [off, off+len(p)).
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errOutOfRange
	}
	if off >= r.footer.UncompressedSize {
		if off == r.footer.UncompressedSize {
			return 0, io.EOF
		}
		return 0, errOutOfRange
	}

	var total int
	for len(p) > 0 && off < r.footer.UncompressedSize {
		pageID := off / int64(r.pageSize)
		inPage := off % int64(r.pageSize)

		mr, err := r.openPage(pageID)
		if err != nil {
			return total, err
		}
		if inPage > 0 {
			if err := skipNBytes(mr, inPage); err != nil {
				return total, err
			}
		}

		remaining := int64(r.pageSize) - inPage
		if rem := r.footer.UncompressedSize - off; rem < remaining {
			remaining = rem
		}
		chunk := p
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := io.ReadFull(mr, chunk)
		total += n
		off += int64(n)
		p = p[n:]
		if err != nil {
			return total, integrityErr(err)
		}
	}
	return total, nil
}

// Read implements [io.Reader], advancing an internal cursor.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// Seek implements [io.Seeker].
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.footer.UncompressedSize + offset
	default:
		return 0, configErr("invalid whence: %d", whence)
	}
	if newPos < 0 {
		return 0, errOutOfRange
	}
	r.pos = newPos
	return newPos, nil
}

// Transfer copies the uncompressed byte range [start, start+n) to dst,
// decompressing only the pages that overlap the range.
func (r *Reader) Transfer(dst io.Writer, start, n int64) (int64, error) {
	if start < 0 || n < 0 || start+n > r.footer.UncompressedSize {
		return 0, errOutOfRange
	}
	buf := make([]byte, r.pageSize)
	var written int64
	for written < n {
		chunk := buf
		if remaining := n - written; int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		nn, err := r.ReadAt(chunk, start+written)
		if nn > 0 {
			if _, werr := dst.Write(chunk[:nn]); werr != nil {
				return written, werr
			}
			written += int64(nn)
		}
		if err != nil {
			if err == io.EOF && written == n {
				break
			}
			return written, err
		}
	}
	return written, nil
}
