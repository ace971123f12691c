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

package parallel

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ianlewis/ragzip"
)

func genContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestEncodeParallelRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		numPages int
		p, i     int
	}{
		{name: "empty", numPages: 0, p: 9, i: 2},
		{name: "single page", numPages: 1, p: 9, i: 2},
		{name: "multi page, cascading index", numPages: 9, p: 9, i: 2},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pageSize := 1 << uint(tc.p)
			want := genContent(tc.numPages * pageSize)

			var dst bytes.Buffer
			opts := EncodeOptions{
				Level:             ragzip.DefaultCompression,
				PageSizeExponent:  tc.p,
				IndexSizeExponent: tc.i,
				Workers:           4,
			}
			n, err := EncodeParallel(context.Background(), bytes.NewReader(want), int64(len(want)), &dst, opts)
			if err != nil {
				t.Fatalf("EncodeParallel: %v", err)
			}
			if n != int64(dst.Len()) {
				t.Errorf("EncodeParallel returned %d, dst holds %d bytes", n, dst.Len())
			}

			r, err := ragzip.Open(bytes.NewReader(dst.Bytes()), int64(dst.Len()), ragzip.CacheModeDirect)
			if err != nil {
				t.Fatalf("ragzip.Open: %v", err)
			}
			if r.Size() != int64(len(want)) {
				t.Fatalf("Size() = %d, want %d", r.Size(), len(want))
			}

			var got bytes.Buffer
			if _, err := r.Transfer(&got, 0, r.Size()); err != nil {
				t.Fatalf("Transfer: %v", err)
			}
			if diff := cmp.Diff(want, got.Bytes()); diff != "" {
				t.Errorf("round trip content (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeParallelExtensionsRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		numPages int
	}{
		{name: "empty", numPages: 0},
		{name: "single page", numPages: 1},
		{name: "multi page, cascading index", numPages: 9},
	}

	const p, i = 9, 2
	pageSize := 1 << uint(p)

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			want := genContent(tc.numPages * pageSize)
			exts := []Extension{
				{Flags: 0x00, ID: 1, Payload: []byte("first")},
				{Flags: 0x80, ID: 2, Payload: []byte("second")},
			}

			var dst bytes.Buffer
			opts := EncodeOptions{
				Level:             ragzip.DefaultCompression,
				PageSizeExponent:  p,
				IndexSizeExponent: i,
				Workers:           4,
				Extensions:        exts,
			}
			if _, err := EncodeParallel(context.Background(), bytes.NewReader(want), int64(len(want)), &dst, opts); err != nil {
				t.Fatalf("EncodeParallel: %v", err)
			}

			r, err := ragzip.Open(bytes.NewReader(dst.Bytes()), int64(dst.Len()), ragzip.CacheModeDirect)
			if err != nil {
				t.Fatalf("ragzip.Open: %v", err)
			}
			got, err := r.Extensions()
			if err != nil {
				t.Fatalf("Extensions: %v", err)
			}
			if len(got) != len(exts) {
				t.Fatalf("Extensions() returned %d entries, want %d", len(got), len(exts))
			}
			for idx, e := range exts {
				if got[idx].ID != e.ID || got[idx].Flags != e.Flags || !bytes.Equal(got[idx].Payload, e.Payload) {
					t.Errorf("Extensions()[%d] = %+v, want ID=%d Flags=%#x Payload=%q", idx, got[idx], e.ID, e.Flags, e.Payload)
				}
			}
		})
	}
}

func TestEncodeParallelRejectsInvalidExponents(t *testing.T) {
	t.Parallel()

	var dst bytes.Buffer
	_, err := EncodeParallel(context.Background(), bytes.NewReader(nil), 0, &dst, EncodeOptions{PageSizeExponent: 8})
	if err == nil {
		t.Fatal("EncodeParallel: expected error for out-of-range page size exponent, got nil")
	}
}
