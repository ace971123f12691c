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

// Package parallel implements concurrent encode and decode pipelines over
// the ragzip format: a fan-out of independent per-page work with back
// pressure, reassembled in page order where the output format demands it.
//
// Unless otherwise informed, the functions in this package are safe for
// concurrent use by the caller's own goroutines; internally each pipeline
// run owns its own worker pool for the duration of the call.
package parallel

import (
	"io"
	"runtime"
)

// countingWriter counts bytes written through it, giving the encoder
// pipeline's ordered-write stage a running file offset without requiring a
// seekable sink.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// defaultWorkers returns a sensible worker-pool size when the caller leaves
// Workers unset.
func defaultWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}

// pageResult is one completed unit of encoder pipeline work: a page's
// compressed bytes, tagged with its pageId for reassembly in order.
type pageResult struct {
	id   int64
	data []byte
}

// pageHeap is a container/heap min-heap of pageResults ordered by id, used
// by the encoder's order-then-write stage to replay out-of-order zip
// completions in strict pageId order.
type pageHeap []*pageResult

func (h pageHeap) Len() int            { return len(h) }
func (h pageHeap) Less(i, j int) bool  { return h[i].id < h[j].id }
func (h pageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pageHeap) Push(x any)         { *h = append(*h, x.(*pageResult)) }
func (h *pageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
