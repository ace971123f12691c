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
	"bufio"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"
	"time"
)

// gzip header byte values. See RFC 1952 section 2.3.
const (
	gzipID1   byte = 0x1f
	gzipID2   byte = 0x8b
	deflateCM byte = 0x08
)

// FLG (Flags) bits. See RFC 1952 section 2.3.1.
const (
	flgCRC     = byte(1 << 1)
	flgEXTRA   = byte(1 << 2)
	flgNAME    = byte(1 << 3)
	flgCOMMENT = byte(1 << 4)
)

// XFL values, set according to compression effort.
const (
	xflDefault byte = 0
	xflSlowest byte = 2
	xflFastest byte = 4
)

// OSUnknown is the OS byte value used for all ragzip-written members; ragzip
// does not track filesystem origin.
const OSUnknown byte = 0xff

func xflFor(level int) byte {
	switch level {
	case flate.BestCompression:
		return xflSlowest
	case flate.BestSpeed:
		return xflFastest
	default:
		return xflDefault
	}
}

// memberHeader holds the gzip header fields of one member. Extra is kept as
// raw bytes; callers split it into subfields via parseExtra.
type memberHeader struct {
	ModTime time.Time
	OS      byte
	Extra   []byte // raw EXTRA field bytes (all subfields, RA included)
	Name    string
	Comment string
}

// writeMemberHeader writes a gzip member header with the given raw EXTRA
// bytes (already including any subfield headers) and optional name/comment.
// It returns the number of bytes written.
func writeMemberHeader(w io.Writer, extra []byte, name, comment string, modTime time.Time, os, xfl byte) (int64, error) {
	head := make([]byte, 10)
	head[0] = gzipID1
	head[1] = gzipID2
	head[2] = deflateCM
	if len(extra) > 0 {
		head[3] |= flgEXTRA
	}
	if name != "" {
		head[3] |= flgNAME
	}
	if comment != "" {
		head[3] |= flgCOMMENT
	}
	if !modTime.IsZero() {
		//nolint:gosec // overflow past 2106 is not a concern here.
		binary.LittleEndian.PutUint32(head[4:8], uint32(modTime.Unix()))
	}
	head[8] = xfl
	head[9] = os

	var total int64
	n, err := w.Write(head)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("%w: writing header: %w", errRagzip, err)
	}

	if len(extra) > 0 {
		if len(extra) > 0xffff {
			return total, capacityErr("XLEN exceeded: %d", len(extra))
		}
		xlen := make([]byte, 2)
		binary.LittleEndian.PutUint16(xlen, uint16(len(extra)))
		n, err = w.Write(xlen)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("%w: writing XLEN: %w", errRagzip, err)
		}
		n, err = w.Write(extra)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("%w: writing EXTRA: %w", errRagzip, err)
		}
	}

	if name != "" {
		n64, err := writeLatin1String(w, name)
		total += n64
		if err != nil {
			return total, err
		}
	}
	if comment != "" {
		n64, err := writeLatin1String(w, comment)
		total += n64
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func writeLatin1String(w io.Writer, s string) (int64, error) {
	b := make([]byte, 0, len(s)+1)
	for _, r := range s {
		if r == 0 || r > 0xff {
			return 0, formatErr("non-Latin-1 header string %q", s)
		}
		b = append(b, byte(r))
	}
	b = append(b, 0)
	n, err := w.Write(b)
	if err != nil {
		return int64(n), fmt.Errorf("%w: writing string header: %w", errRagzip, err)
	}
	return int64(n), nil
}

// parseMemberHeader reads a gzip member header from r, returning the header
// fields and the raw EXTRA bytes (if FEXTRA was set). headerLen reports the
// total number of bytes consumed from r.
func parseMemberHeader(r io.Reader) (hdr memberHeader, headerLen int64, err error) {
	digest := crc32.NewIEEE()

	head := make([]byte, 10)
	if _, err = io.ReadFull(r, head); err != nil {
		return hdr, headerLen, headerErr(err)
	}
	headerLen += 10

	if head[0] != gzipID1 || head[1] != gzipID2 {
		return hdr, headerLen, formatErr("bad magic: %x", head[0:2])
	}
	if head[2] != deflateCM {
		return hdr, headerLen, formatErr("unsupported CM: %x", head[2])
	}
	flg := head[3]
	if mtime := binary.LittleEndian.Uint32(head[4:8]); mtime > 0 {
		hdr.ModTime = time.Unix(int64(mtime), 0)
	}
	hdr.OS = head[9]
	digest.Write(head)

	if flg&flgEXTRA != 0 {
		buf := make([]byte, 2)
		if _, err = io.ReadFull(r, buf); err != nil {
			return hdr, headerLen, headerErr(err)
		}
		headerLen += 2
		digest.Write(buf)
		xlen := binary.LittleEndian.Uint16(buf)

		extra := make([]byte, xlen)
		if _, err = io.ReadFull(r, extra); err != nil {
			return hdr, headerLen, headerErr(err)
		}
		headerLen += int64(xlen)
		digest.Write(extra)
		hdr.Extra = extra
	}

	if flg&flgNAME != 0 {
		n, s, rerr := readLatin1String(r, digest)
		headerLen += n
		if rerr != nil {
			return hdr, headerLen, rerr
		}
		hdr.Name = s
	}

	if flg&flgCOMMENT != 0 {
		n, s, rerr := readLatin1String(r, digest)
		headerLen += n
		if rerr != nil {
			return hdr, headerLen, rerr
		}
		hdr.Comment = s
	}

	if flg&flgCRC != 0 {
		buf := make([]byte, 2)
		if _, err = io.ReadFull(r, buf); err != nil {
			return hdr, headerLen, headerErr(err)
		}
		headerLen += 2
		want := binary.LittleEndian.Uint16(buf)
		//nolint:gosec // intentional truncation to low 16 bits per RFC 1952.
		if got := uint16(digest.Sum32()); got != want {
			return hdr, headerLen, formatErr("bad header CRC-16")
		}
	}

	return hdr, headerLen, nil
}

func readLatin1String(r io.Reader, digest hash.Hash32) (int64, string, error) {
	var total int64
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := io.ReadFull(r, buf)
		total += int64(n)
		if err != nil {
			return total, "", headerErr(err)
		}
		if digest != nil {
			digest.Write(buf)
		}
		if buf[0] == 0 {
			return total, b.String(), nil
		}
		if total > 65535 {
			return total, "", formatErr("string header length exceeded")
		}
		b.WriteByte(buf[0])
	}
}

func headerErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return formatErr("reading header: %v", err)
	}
	return fmt.Errorf("%w: reading header: %w", errRagzip, err)
}

// memberWriter streams one gzip member (header already written) to w,
// tracking CRC32 and ISIZE for the trailer.
type memberWriter struct {
	w      io.Writer
	fw     *flate.Writer
	digest hash.Hash32
	isize  uint32
	closed bool
}

// beginMember writes a gzip member header for level-compressed content with
// the given raw EXTRA subfield bytes, then returns a writer for the deflate
// payload. The caller must call Close to finalize the trailer.
func beginMember(w io.Writer, level int, extra []byte) (*memberWriter, int64, error) {
	n, err := writeMemberHeader(w, extra, "", "", time.Time{}, OSUnknown, xflFor(level))
	if err != nil {
		return nil, n, err
	}
	fw, err := flate.NewWriter(w, level)
	if err != nil {
		return nil, n, fmt.Errorf("%w: initializing deflate writer: %w", errRagzip, err)
	}
	return &memberWriter{w: w, fw: fw, digest: crc32.NewIEEE()}, n, nil
}

func (mw *memberWriter) Write(p []byte) (int, error) {
	if mw.closed {
		return 0, fmt.Errorf("%w: write on closed member", errRagzip)
	}
	n, err := mw.fw.Write(p)
	mw.digest.Write(p[:n])
	mw.isize += uint32(n)
	if err != nil {
		return n, fmt.Errorf("%w: compressing: %w", errRagzip, err)
	}
	return n, nil
}

// Close finalizes the deflate stream and writes the CRC32+ISIZE trailer,
// returning the number of trailer bytes written (always 8).
func (mw *memberWriter) Close() (int64, error) {
	if mw.closed {
		return 0, nil
	}
	mw.closed = true
	if err := mw.fw.Close(); err != nil {
		return 0, fmt.Errorf("%w: compressing: %w", errRagzip, err)
	}
	trailer := make([]byte, 8)
	binary.LittleEndian.PutUint32(trailer[0:4], mw.digest.Sum32())
	binary.LittleEndian.PutUint32(trailer[4:8], mw.isize)
	if _, err := mw.w.Write(trailer); err != nil {
		return 0, fmt.Errorf("%w: writing trailer: %w", errRagzip, err)
	}
	return 8, nil
}

// readCloseResetter mirrors flate.NewReader's concrete return type, which
// implements both io.ReadCloser and flate.Resetter.
type readCloseResetter interface {
	io.ReadCloser
	flate.Resetter
}

// memberReader decompresses a single gzip member's deflate stream starting
// immediately after its header, verifying CRC32 and ISIZE at the trailer.
type memberReader struct {
	r      io.Reader
	fr     readCloseResetter
	digest hash.Hash32
	isize  uint32
	done   bool
}

func newMemberReader(r io.Reader) *memberReader {
	// flate reads ahead from any source that is not an io.ByteReader, so
	// such a source is buffered here and the trailer is read from the same
	// buffer, just after the deflate stream.
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	fr := flate.NewReader(r)
	return &memberReader{
		r:      r,
		fr:     fr.(readCloseResetter),
		digest: crc32.NewIEEE(),
	}
}

// reset re-targets the memberReader at a new underlying deflate stream,
// reusing its flate.Reader allocation.
func (mr *memberReader) reset(r io.Reader) error {
	mr.r = r
	mr.digest = crc32.NewIEEE()
	mr.isize = 0
	mr.done = false
	if err := mr.fr.Reset(r, nil); err != nil {
		return fmt.Errorf("%w: resetting deflate reader: %w", errRagzip, err)
	}
	return nil
}

func (mr *memberReader) Read(p []byte) (int, error) {
	if mr.done {
		return 0, io.EOF
	}
	n, err := mr.fr.Read(p)
	mr.digest.Write(p[:n])
	mr.isize += uint32(n)
	if err == io.EOF {
		mr.done = true
		if cerr := mr.fr.Close(); cerr != nil {
			return n, integrityErr(cerr)
		}
		if terr := mr.verifyTrailer(); terr != nil {
			return n, terr
		}
		return n, io.EOF
	}
	if err != nil {
		return n, integrityErr(err)
	}
	return n, nil
}

func (mr *memberReader) verifyTrailer() error {
	trailer := make([]byte, 8)
	if _, err := io.ReadFull(mr.r, trailer); err != nil {
		return integrityErr(fmt.Errorf("reading trailer: %w", err))
	}
	crc := binary.LittleEndian.Uint32(trailer[0:4])
	isize := binary.LittleEndian.Uint32(trailer[4:8])
	if crc != mr.digest.Sum32() {
		return integrityErr(fmt.Errorf("CRC32 mismatch"))
	}
	if isize != mr.isize {
		return integrityErr(fmt.Errorf("ISIZE mismatch"))
	}
	return nil
}

// skipNBytes discards n decompressed bytes by decoding and discarding them.
func skipNBytes(mr *memberReader, n int64) error {
	buf := make([]byte, 32*1024)
	for n > 0 {
		chunk := buf
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		m, err := mr.Read(chunk)
		n -= int64(m)
		if err != nil {
			if err == io.EOF && n == 0 {
				return nil
			}
			return err
		}
	}
	return nil
}
