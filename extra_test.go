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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseExtraRoundTrip(t *testing.T) {
	t.Parallel()

	raPayload := []byte{0x1, 0x2, 0x3}
	other := []byte{0xab, 0xcd, 0xef, 0x01}
	extra := append(append([]byte{}, encodeSubField('Z', 'Z', other)...), encodeSubField(raSI1, raSI2, raPayload)...)

	fields, err := parseExtra(extra)
	if err != nil {
		t.Fatalf("parseExtra: %v", err)
	}
	want := []subField{
		{SI1: 'Z', SI2: 'Z', Payload: other},
		{SI1: raSI1, SI2: raSI2, Payload: raPayload},
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("parseExtra (-want +got):\n%s", diff)
	}

	payload, ok, err := findRASubfield(extra)
	if err != nil {
		t.Fatalf("findRASubfield: %v", err)
	}
	if !ok {
		t.Fatal("findRASubfield: RA subfield not found")
	}
	if diff := cmp.Diff(raPayload, payload); diff != "" {
		t.Errorf("findRASubfield payload (-want +got):\n%s", diff)
	}
}

func TestFindRASubfieldAbsent(t *testing.T) {
	t.Parallel()

	extra := encodeSubField('Z', 'Z', []byte{0x1})
	_, ok, err := findRASubfield(extra)
	if err != nil {
		t.Fatalf("findRASubfield: %v", err)
	}
	if ok {
		t.Error("findRASubfield: expected no RA subfield, found one")
	}
}

func TestParseExtraTruncated(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		extra []byte
	}{
		{name: "short header", extra: []byte{'R', 'A', 0x1}},
		{
			name:  "length exceeds remaining",
			extra: []byte{'R', 'A', 0xff, 0xff, 0x1, 0x2},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseExtra(tc.extra)
			if diff := cmp.Diff(ErrFormat, err, cmpopts.EquateErrors()); diff != "" {
				t.Errorf("parseExtra error (-want +got):\n%s", diff)
			}
		})
	}
}
