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

import "io"

// This file exposes the low-level member-encoding primitives that back
// Writer, to the ragzip/parallel package, without exporting the unexported
// member/metadata plumbing itself. Each function writes exactly one gzip
// member and returns its total byte length.

// EncodePage writes one page: a single gzip member holding data compressed
// at level.
func EncodePage(w io.Writer, level int, data []byte) (int64, error) {
	cw := &countingWriter{w: w}
	mw, _, err := beginMember(cw, level, nil)
	if err != nil {
		return cw.n, err
	}
	if _, err := mw.Write(data); err != nil {
		return cw.n, err
	}
	_, err = mw.Close()
	return cw.n, err
}

// EncodeIndex writes one index metadata member listing offsets, per spec
// section 4.3.
func EncodeIndex(w io.Writer, offsets []int64) (int64, error) {
	return writeMetadataMember(w, encodeIndexEntries(offsets))
}

// EncodeExtensionRecord writes one extension metadata member.
func EncodeExtensionRecord(w io.Writer, previousOffset int64, flags uint8, id int32, payload []byte) (int64, error) {
	return writeExtension(w, extension{PreviousOffset: previousOffset, Flags: flags, ID: id, Payload: payload})
}

// EncodeFooterRecord writes the fixed 64-byte footer member.
func EncodeFooterRecord(w io.Writer, levels, idxSize, pageSize int, uncompressedSize, topIndexOffset, extensionsTailOffset int64) (int64, error) {
	return writeFooter(w, levels, idxSize, pageSize, uncompressedSize, topIndexOffset, extensionsTailOffset)
}
