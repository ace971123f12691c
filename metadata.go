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
	"time"
)

// raPayloadOffset is the fixed distance from the start of a metadata gzip
// member to the first byte of its RA subfield payload: 10 header bytes + 2
// XLEN bytes + 4 subfield header bytes (SI1, SI2, 2-byte LEN).
const raPayloadOffset = 16

// emptyDeflateBlock is the canonical 2-byte deflate stream that decodes to
// zero bytes: BFINAL=1, BTYPE=01 (fixed Huffman), immediately followed by
// the end-of-block code.
var emptyDeflateBlock = []byte{0x03, 0x00}

// maxExtensionPayload is the largest allowed extension payload, in bytes.
const maxExtensionPayload = 32 * 1024

// maxExtensionCount is the largest allowed number of linked extensions.
const maxExtensionCount = 50

// footerSize is the fixed, exact size in bytes of the footer gzip member.
const footerSize = 64

// footerOverhead is the fixed non-payload size of the footer gzip member:
// 10 (header) + 2 (XLEN) + 4 (subfield header) + 2 (empty deflate) + 8
// (trailer).
const footerOverhead = 26

// footerPayloadSize is the RA payload size of the footer member, including
// trailing zero padding.
const footerPayloadSize = footerSize - footerOverhead // 38

// footerContentSize is the number of meaningful (non-padding) footer payload
// bytes: version(4) + treespec(4) + uncompressedSize(8) + topIndexOffset(8)
// + extensionsTailOffset(8).
const footerContentSize = 32

// formatVersion is the only version currently defined by this format.
const formatVersion int32 = 0x00010000

// countingReader counts the bytes read through it from an underlying reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadByte makes countingReader an io.ByteReader, so compress/flate reads
// from it directly instead of through its own read-ahead buffer. The gzip
// trailer after the deflate stream is then left for verifyTrailer, and n is
// exactly the number of member bytes consumed.
func (c *countingReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, err
	}
	c.n++
	return b[0], nil
}

// writeMetadataMember emits an empty gzip member whose only payload is one
// RA subfield carrying b, per spec section 4.3. It returns the total size of
// the emitted member.
func writeMetadataMember(w io.Writer, b []byte) (int64, error) {
	if len(b) > 0xffff-4 {
		return 0, capacityErr("RA payload too large: %d bytes", len(b))
	}
	extra := encodeSubField(raSI1, raSI2, b)

	var total int64
	n, err := writeMemberHeader(w, extra, "", "", time.Time{}, OSUnknown, xflDefault)
	total += n
	if err != nil {
		return total, err
	}

	nb, err := w.Write(emptyDeflateBlock)
	total += int64(nb)
	if err != nil {
		return total, fmt.Errorf("%w: writing empty deflate block: %w", errRagzip, err)
	}

	trailer := make([]byte, 8) // CRC32=0, ISIZE=0
	nb, err = w.Write(trailer)
	total += int64(nb)
	if err != nil {
		return total, fmt.Errorf("%w: writing trailer: %w", errRagzip, err)
	}

	return total, nil
}

// readMetadataMember reads one metadata gzip member from r (positioned at
// its start) and returns its RA payload and the total member length.
func readMetadataMember(r io.Reader) ([]byte, int64, error) {
	cr := &countingReader{r: r}
	hdr, _, err := parseMemberHeader(cr)
	if err != nil {
		return nil, 0, err
	}
	payload, ok, err := findRASubfield(hdr.Extra)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, formatErr("metadata member missing RA subfield")
	}

	mr := newMemberReader(cr)
	buf := make([]byte, 1)
	n, err := mr.Read(buf)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if n != 0 {
		return nil, 0, formatErr("metadata member carries non-zero uncompressed bytes")
	}

	return payload, cr.n, nil
}

// footer is the fully parsed content of the final, fixed-size metadata
// member of a ragzip file.
type footer struct {
	Version              int32
	Levels               int
	I                     int
	P                     int
	UncompressedSize     int64
	TopIndexOffset       int64
	ExtensionsTailOffset int64
}

func packTreespec(levels, i, p int) int32 {
	//nolint:gosec // levels/I/P are validated to fit in one byte each.
	return int32(levels)<<16 | int32(i)<<8 | int32(p)
}

func unpackTreespec(treespec int32) (levels, i, p int) {
	levels = int((treespec >> 16) & 0xff)
	i = int((treespec >> 8) & 0xff)
	p = int(treespec & 0xff)
	return
}

// writeFooter emits the fixed 64-byte footer member.
func writeFooter(w io.Writer, levels, idxSize, pageSize int, uncompressedSize, topIndexOffset, extensionsTailOffset int64) (int64, error) {
	payload := make([]byte, footerPayloadSize)
	binary.BigEndian.PutUint32(payload[0:4], uint32(formatVersion))
	binary.BigEndian.PutUint32(payload[4:8], uint32(packTreespec(levels, idxSize, pageSize)))
	binary.BigEndian.PutUint64(payload[8:16], uint64(uncompressedSize))
	binary.BigEndian.PutUint64(payload[16:24], uint64(topIndexOffset))
	binary.BigEndian.PutUint64(payload[24:32], uint64(extensionsTailOffset))
	// payload[32:38] stays zero padding.
	return writeMetadataMember(w, payload)
}

// parseFooterPayload decodes the fixed-position fields of a footer payload.
func parseFooterPayload(payload []byte) (footer, error) {
	if len(payload) < footerContentSize {
		return footer{}, formatErr("footer payload too short: %d bytes", len(payload))
	}
	version := int32(binary.BigEndian.Uint32(payload[0:4]))
	if version != formatVersion {
		return footer{}, formatErr("unsupported version: %#x", uint32(version))
	}
	treespec := int32(binary.BigEndian.Uint32(payload[4:8]))
	levels, i, p := unpackTreespec(treespec)
	f := footer{
		Version:              version,
		Levels:               levels,
		I:                    i,
		P:                    p,
		UncompressedSize:     int64(binary.BigEndian.Uint64(payload[8:16])),
		TopIndexOffset:       int64(binary.BigEndian.Uint64(payload[16:24])),
		ExtensionsTailOffset: int64(binary.BigEndian.Uint64(payload[24:32])),
	}
	if p < 9 || p > 30 {
		return footer{}, formatErr("page size exponent out of range: %d", p)
	}
	if i < 1 || i > 12 {
		return footer{}, formatErr("index size exponent out of range: %d", i)
	}
	if levels > 53 {
		return footer{}, formatErr("levels out of range: %d", levels)
	}
	return f, nil
}

// extension is one node of the footer's extension linked list.
type extension struct {
	PreviousOffset int64
	Flags          uint8
	ID             int32
	Payload        []byte
}

// IsSpec reports whether this extension is reserved to the format owner
// (flags bit 7).
func (e extension) IsSpec() bool {
	return e.Flags&0x80 != 0
}

// writeExtension emits one extension metadata member.
func writeExtension(w io.Writer, e extension) (int64, error) {
	if len(e.Payload) > maxExtensionPayload {
		return 0, capacityErr("extension payload too large: %d bytes", len(e.Payload))
	}
	payload := make([]byte, 8+1+4+2+len(e.Payload))
	binary.BigEndian.PutUint64(payload[0:8], uint64(e.PreviousOffset))
	payload[8] = e.Flags
	binary.BigEndian.PutUint32(payload[9:13], uint32(e.ID))
	binary.BigEndian.PutUint16(payload[13:15], uint16(len(e.Payload)))
	copy(payload[15:], e.Payload)
	return writeMetadataMember(w, payload)
}

// parseExtensionPayload decodes one extension's RA payload.
func parseExtensionPayload(payload []byte) (extension, error) {
	if len(payload) < 15 {
		return extension{}, formatErr("extension payload too short: %d bytes", len(payload))
	}
	prev := int64(binary.BigEndian.Uint64(payload[0:8]))
	flags := payload[8]
	id := int32(binary.BigEndian.Uint32(payload[9:13]))
	plen := binary.BigEndian.Uint16(payload[13:15])
	if int(plen) > len(payload)-15 {
		return extension{}, formatErr("extension payload length %d exceeds available %d bytes", plen, len(payload)-15)
	}
	return extension{
		PreviousOffset: prev,
		Flags:          flags,
		ID:             id,
		Payload:        payload[15 : 15+int(plen)],
	}, nil
}

// encodeIndexEntries packs a slice of absolute offsets into the RA payload
// layout of an index metadata member: 8-byte big-endian offsets,
// concatenated in order.
func encodeIndexEntries(offsets []int64) []byte {
	b := make([]byte, 8*len(offsets))
	for i, o := range offsets {
		binary.BigEndian.PutUint64(b[i*8:i*8+8], uint64(o))
	}
	return b
}

// decodeIndexEntries is the inverse of encodeIndexEntries.
func decodeIndexEntries(b []byte) ([]int64, error) {
	if len(b)%8 != 0 {
		return nil, formatErr("index payload length %d is not a multiple of 8", len(b))
	}
	entries := make([]int64, len(b)/8)
	for i := range entries {
		entries[i] = int64(binary.BigEndian.Uint64(b[i*8 : i*8+8]))
	}
	return entries, nil
}
