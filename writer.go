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
	"compress/flate"
	"fmt"
	"io"
	"os"
)

const (
	// DefaultPageSizeExponent is the default page size exponent (P), giving
	// 8KiB pages.
	DefaultPageSizeExponent = 13

	// DefaultIndexSizeExponent is the default index size exponent (I),
	// giving indexes of 4096 entries.
	DefaultIndexSizeExponent = 12

	// maxUncompressedSize is the largest uncompressed size the format can
	// index: 2^62.
	maxUncompressedSize = int64(1) << 62
)

// Compression levels, re-exported from compress/flate for convenience.
const (
	NoCompression      = flate.NoCompression
	BestSpeed          = flate.BestSpeed
	BestCompression    = flate.BestCompression
	DefaultCompression = flate.DefaultCompression
	HuffmanOnly        = flate.HuffmanOnly
)

// countingWriter counts the bytes written through it to an underlying
// writer. It gives the streaming Writer a source of truth for output byte
// offsets that works uniformly for both append-only and random-access
// sinks, since ragzip always writes forward sequentially.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Writer implements [io.WriteCloser], writing a ragzip stream: fixed-size
// pages, a cascading tower of offset indexes, optional extensions, and a
// fixed 64-byte footer.
//
// Close (or Finish) must be called for the output to be a valid, complete
// ragzip file.
type Writer struct {
	cw    *countingWriter
	level int
	p, i  int // page size / index size exponents
	pageSize int
	idxSize  int

	curMember      *memberWriter
	curMemberStart int64
	pageWritten    int64

	uncompressedSize int64

	// bufs[level-1] holds the pending (not-yet-flushed) offsets recorded
	// at that level. maxLevel is the highest level ever touched.
	bufs     [][]int64
	maxLevel int

	extensions           []extension
	extensionsTailOffset int64

	logger warnLogger

	closed bool
}

// warnLogger is the minimal logging capability the Writer needs: a single
// warning hook used when an oversized extension is silently dropped at
// finish time (spec section 7's "warning emitted" policy). cmd/ragzip
// supplies a *zap.Logger-backed implementation; it is nil by default, in
// which case warnings are simply not reported.
type warnLogger interface {
	Warnf(format string, args ...any)
}

// NewWriter returns a new ragzip [Writer] using the default compression
// level, page size, and index size, writing to an append-only sink. Output
// written to w need not be seekable.
func NewWriter(w io.Writer) (*Writer, error) {
	return NewWriterLevel(w, DefaultCompression, DefaultPageSizeExponent, DefaultIndexSizeExponent)
}

// NewWriterLevel returns a new ragzip [Writer] with the given compression
// level, page size exponent p, and index size exponent i.
func NewWriterLevel(w io.Writer, level, p, i int) (*Writer, error) {
	if p < 9 || p > 30 {
		return nil, configErr("page size exponent %d out of range [9,30]", p)
	}
	if i < 1 || i > 12 {
		return nil, configErr("index size exponent %d out of range [1,12]", i)
	}
	return &Writer{
		cw:       &countingWriter{w: w},
		level:    level,
		p:        p,
		i:        i,
		pageSize: 1 << uint(p),
		idxSize:  1 << uint(i),
	}, nil
}

// SetWarnLogger installs a logger used to report warnings for otherwise
// silently-handled conditions (spec section 7).
func (rw *Writer) SetWarnLogger(l warnLogger) {
	rw.logger = l
}

// Write implements [io.Writer], partitioning p into fixed-size pages.
func (rw *Writer) Write(p []byte) (int, error) {
	if rw.closed {
		return 0, ErrClosed
	}
	var total int
	for len(p) > 0 {
		if rw.uncompressedSize >= maxUncompressedSize {
			return total, capacityErr("uncompressed size would reach 2^62")
		}
		if rw.curMember == nil {
			if err := rw.beginPage(); err != nil {
				return total, err
			}
		}
		remaining := rw.pageSize - int(rw.pageWritten)
		chunk := p
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := rw.curMember.Write(chunk)
		rw.pageWritten += int64(n)
		rw.uncompressedSize += int64(n)
		total += n
		p = p[n:]
		if err != nil {
			return total, err
		}

		if rw.pageWritten == int64(rw.pageSize) {
			if err := rw.finishPage(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (rw *Writer) beginPage() error {
	rw.curMemberStart = rw.cw.n
	mw, _, err := beginMember(rw.cw, rw.level, nil)
	if err != nil {
		return err
	}
	rw.curMember = mw
	rw.pageWritten = 0
	return nil
}

func (rw *Writer) finishPage() error {
	if _, err := rw.curMember.Close(); err != nil {
		return err
	}
	rw.curMember = nil
	start := rw.curMemberStart
	rw.pageWritten = 0
	return rw.addRecord(start, 1)
}

// ensureLevel allocates bufs up through level, if not already present.
func (rw *Writer) ensureLevel(level int) {
	for len(rw.bufs) < level {
		rw.bufs = append(rw.bufs, nil)
	}
}

// addRecord appends offset to the level-th index buffer, flushing and
// cascading to level+1 first if that buffer is already full. See spec
// section 4.4.
func (rw *Writer) addRecord(offset int64, level int) error {
	rw.ensureLevel(level)
	if len(rw.bufs[level-1]) == rw.idxSize {
		idxOffset := rw.cw.n
		if _, err := writeMetadataMember(rw.cw, encodeIndexEntries(rw.bufs[level-1])); err != nil {
			return err
		}
		rw.bufs[level-1] = rw.bufs[level-1][:0]
		if err := rw.addRecord(idxOffset, level+1); err != nil {
			return err
		}
	}
	rw.bufs[level-1] = append(rw.bufs[level-1], offset)
	if level > rw.maxLevel {
		rw.maxLevel = level
	}
	return nil
}

// AppendExtension appends a new extension to the writer's pending list. It
// is emitted to the file at Finish time, in the order appended. It fails if
// the extension count would exceed 50 or payload exceeds 32KiB (capacity
// errors, detected synchronously).
func (rw *Writer) AppendExtension(flags uint8, id int32, payload []byte) error {
	if rw.closed {
		return ErrClosed
	}
	if len(rw.extensions) >= maxExtensionCount {
		return capacityErr("extension count would exceed %d", maxExtensionCount)
	}
	if len(payload) > maxExtensionPayload {
		return capacityErr("extension payload exceeds %d bytes", maxExtensionPayload)
	}
	rw.extensions = append(rw.extensions, extension{Flags: flags, ID: id, Payload: payload})
	return nil
}

// Finish flushes any open page, emits the index tower's remaining tail
// indexes, extensions, and footer. It must be called exactly once, after
// the last Write.
func (rw *Writer) Finish() error {
	if rw.closed {
		return nil
	}
	rw.closed = true

	if rw.curMember != nil {
		if err := rw.finishPage(); err != nil {
			return err
		}
	}

	topIndexOffset, levels, err := rw.finalizeIndexes()
	if err != nil {
		return err
	}

	if err := rw.writeExtensions(); err != nil {
		return err
	}

	_, err = writeFooter(rw.cw, levels, rw.i, rw.p, rw.uncompressedSize, topIndexOffset, rw.extensionsTailOffset)
	return err
}

// finalizeIndexes emits the remaining (tail) index buffers bottom-up,
// cascading newly-created index offsets upward, and applies the
// single-page elision rule (spec sections 4.4, 4.7, 9).
func (rw *Writer) finalizeIndexes() (topIndexOffset int64, levels int, err error) {
	if rw.maxLevel == 0 {
		return 0, 0, nil
	}
	if rw.maxLevel == 1 && len(rw.bufs) >= 1 && len(rw.bufs[0]) == 1 {
		// A file holding exactly one page omits its level-1 index entirely
		// (spec section 4.7/9): levels=0, topIndexOffset=0.
		return 0, 0, nil
	}

	for lvl := 1; lvl <= len(rw.bufs); lvl++ {
		buf := rw.bufs[lvl-1]
		if len(buf) == 0 {
			continue
		}
		idxOffset := rw.cw.n
		if _, werr := writeMetadataMember(rw.cw, encodeIndexEntries(buf)); werr != nil {
			return 0, 0, werr
		}
		rw.bufs[lvl-1] = buf[:0]
		topIndexOffset = idxOffset
		levels = lvl
		if lvl < len(rw.bufs) {
			if rerr := rw.addRecord(idxOffset, lvl+1); rerr != nil {
				return 0, 0, rerr
			}
		}
	}
	return topIndexOffset, levels, nil
}

func (rw *Writer) writeExtensions() error {
	tail := int64(-1)
	for _, e := range rw.extensions {
		if len(e.Payload) > maxExtensionPayload {
			if rw.logger != nil {
				rw.logger.Warnf("ragzip: dropping oversized extension id=%d (%d bytes) at finish", e.ID, len(e.Payload))
			}
			continue
		}
		e.PreviousOffset = tail
		offset := rw.cw.n
		if _, err := writeExtension(rw.cw, e); err != nil {
			return err
		}
		tail = offset
	}
	rw.extensionsTailOffset = tail
	return nil
}

// Close is equivalent to Finish, implementing [io.Closer].
func (rw *Writer) Close() error {
	return rw.Finish()
}

// ResumeWriter reopens an existing ragzip file for appending more
// uncompressed content, per spec section 4.4's resume-append algorithm. f
// must be a random-access sink (its current content is read to recover the
// index tower, then truncated). The requested p and i must match the
// existing file's parameters exactly; level is not recorded in the file and
// is not checked. If the file holds no content (uncompressedSize == 0), it
// is truncated and a fresh writer is returned.
func ResumeWriter(f *os.File, level, p, i int) (*Writer, error) {
	if p < 9 || p > 30 {
		return nil, configErr("page size exponent %d out of range [9,30]", p)
	}
	if i < 1 || i > 12 {
		return nil, configErr("index size exponent %d out of range [1,12]", i)
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: seeking to end: %w", errRagzip, err)
	}

	rw := &Writer{
		cw:       &countingWriter{w: f},
		level:    level,
		p:        p,
		i:        i,
		pageSize: 1 << uint(p),
		idxSize:  1 << uint(i),
	}

	if size == 0 {
		return rw, nil
	}

	ft, err := readFooterAt(f, size)
	if err != nil {
		return nil, err
	}
	if ft.P != p || ft.I != i {
		return nil, configErr("resume parameters mismatch: file has P=%d I=%d, requested P=%d I=%d", ft.P, ft.I, p, i)
	}

	if ft.UncompressedSize == 0 {
		if err := f.Truncate(0); err != nil {
			return nil, fmt.Errorf("%w: truncating: %w", errRagzip, err)
		}
		rw.cw.n = 0
		return rw, nil
	}

	rw.uncompressedSize = ft.UncompressedSize

	if ft.Levels == 0 {
		// The file's single page starts at TopIndexOffset (0); it stays on
		// disk and becomes the first level-1 entry.
		rw.ensureLevel(1)
		rw.bufs[0] = []int64{ft.TopIndexOffset}
		rw.maxLevel = 1
	}

	truncateAt := size - footerSize
	if ft.Levels > 0 {
		at, lvlErr := rw.loadResumeIndexes(f, ft)
		if lvlErr != nil {
			return nil, lvlErr
		}
		truncateAt = at
	} else if ft.ExtensionsTailOffset != -1 {
		at, extErr := firstExtensionOffset(f, ft.ExtensionsTailOffset)
		if extErr != nil {
			return nil, extErr
		}
		truncateAt = at
	}

	if err := f.Truncate(truncateAt); err != nil {
		return nil, fmt.Errorf("%w: truncating: %w", errRagzip, err)
	}
	rw.cw.n = truncateAt

	return rw, nil
}

// loadResumeIndexes descends the index tree from the footer's top index,
// following the last (rightmost, most-recently-appended) entry at each
// level, loading each level's entries into rw.bufs. Above level 1 that last
// entry is left out of the buffer, since it points at the lower level's tail
// index, which is truncated here and re-emitted by Finish. It returns the
// file offset of the level-1 index, which becomes the truncation point: all
// content at or after that offset (the tail indexes, extensions, and
// footer) is stale and will be regenerated by the next Finish.
func (rw *Writer) loadResumeIndexes(r io.ReaderAt, ft footer) (int64, error) {
	offset := ft.TopIndexOffset
	for level := ft.Levels; level >= 1; level-- {
		payload, _, err := readMetadataMemberAt(r, offset)
		if err != nil {
			return 0, err
		}
		entries, err := decodeIndexEntries(payload)
		if err != nil {
			return 0, err
		}
		rw.ensureLevel(level)
		if level > rw.maxLevel {
			rw.maxLevel = level
		}
		if level == 1 {
			rw.bufs[0] = entries
			return offset, nil
		}
		if len(entries) == 0 {
			return 0, formatErr("empty index at level %d while resuming", level)
		}
		rw.bufs[level-1] = entries[:len(entries)-1]
		offset = entries[len(entries)-1]
	}
	return offset, nil
}
