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
)

// raSI1, raSI2 identify the ragzip random-access subfield within a gzip
// EXTRA field, as in dictzip: SI1='R', SI2='A'.
const (
	raSI1 = byte('R')
	raSI2 = byte('A')
)

// subField is one SI1/SI2-tagged entry of a gzip EXTRA field.
type subField struct {
	SI1, SI2 byte
	Payload  []byte
}

// parseExtra splits raw gzip EXTRA bytes into its subfields. It fails if any
// subfield's declared length exceeds the remaining bytes.
func parseExtra(extra []byte) ([]subField, error) {
	var fields []subField
	for len(extra) > 0 {
		if len(extra) < 4 {
			return nil, formatErr("truncated EXTRA subfield header")
		}
		si1, si2 := extra[0], extra[1]
		length := binary.LittleEndian.Uint16(extra[2:4])
		extra = extra[4:]
		if int(length) > len(extra) {
			return nil, formatErr("EXTRA subfield length %d exceeds remaining %d bytes", length, len(extra))
		}
		fields = append(fields, subField{SI1: si1, SI2: si2, Payload: extra[:length]})
		extra = extra[length:]
	}
	return fields, nil
}

// findRASubfield returns the payload of the first RA subfield in extra. ok is
// false if no RA subfield is present.
func findRASubfield(extra []byte) (payload []byte, ok bool, err error) {
	fields, err := parseExtra(extra)
	if err != nil {
		return nil, false, err
	}
	for _, f := range fields {
		if f.SI1 == raSI1 && f.SI2 == raSI2 {
			return f.Payload, true, nil
		}
	}
	return nil, false, nil
}

// encodeSubField serializes one subfield: SI1, SI2, 2-byte LE length, payload.
func encodeSubField(si1, si2 byte, payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	b[0] = si1
	b[1] = si2
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(payload)))
	copy(b[4:], payload)
	return b
}
