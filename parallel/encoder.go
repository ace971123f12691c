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
	"container/heap"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ianlewis/ragzip"
)

// EncodeOptions configures a parallel encode run.
type EncodeOptions struct {
	// Level is the flate compression level (see compress/flate). Unlike
	// the other fields, its zero value (flate.NoCompression) is a valid,
	// deliberate choice, so it is never defaulted.
	Level int

	// PageSizeExponent and IndexSizeExponent mirror ragzip.NewWriterLevel's
	// p and i. Zero means ragzip.DefaultPageSizeExponent /
	// ragzip.DefaultIndexSizeExponent.
	PageSizeExponent  int
	IndexSizeExponent int

	// Workers bounds concurrent read+compress goroutines. Zero means
	// runtime.GOMAXPROCS(0).
	Workers int

	// MaxBufferedPages bounds how many compressed-but-not-yet-written pages
	// may exist in memory at once, the back-pressure hinge between the
	// zip stage and the order-then-write stage. Zero means 2*Workers.
	MaxBufferedPages int

	// Extensions are appended to the output in order, after the page and
	// index data and before the footer, mirroring ragzip.Writer.Finish's
	// extension-then-footer sequencing.
	Extensions []Extension

	Logger *zap.Logger
}

// Extension is one extension record to append to a parallel-encoded
// output, mirroring the arguments of ragzip.Writer.AppendExtension.
type Extension struct {
	Flags   uint8
	ID      int32
	Payload []byte
}

// writeExtensions emits opts.Extensions as a singly-linked chain via
// ragzip.EncodeExtensionRecord, returning the offset of the last (tail)
// extension written, or -1 if none.
func writeExtensions(w *countingWriter, exts []Extension) (int64, error) {
	tail := int64(-1)
	for _, e := range exts {
		offset := w.n
		if _, err := ragzip.EncodeExtensionRecord(w, tail, e.Flags, e.ID, e.Payload); err != nil {
			return 0, fmt.Errorf("ragzip/parallel: writing extension %d: %w", e.ID, err)
		}
		tail = offset
	}
	return tail, nil
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	if o.PageSizeExponent == 0 {
		o.PageSizeExponent = ragzip.DefaultPageSizeExponent
	}
	if o.IndexSizeExponent == 0 {
		o.IndexSizeExponent = ragzip.DefaultIndexSizeExponent
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers()
	}
	if o.MaxBufferedPages <= 0 {
		o.MaxBufferedPages = 2 * o.Workers
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// indexTower mirrors ragzip.Writer's internal cascading index-buffer logic
// (spec section 4.4's addRecord), reimplemented here over the exported
// ragzip.EncodeIndex primitive since the parallel encoder writes pages out
// of order from its own goroutines rather than through a *ragzip.Writer.
type indexTower struct {
	idxSize  int
	bufs     [][]int64
	maxLevel int
}

func newIndexTower(idxSize int) *indexTower {
	return &indexTower{idxSize: idxSize}
}

func (t *indexTower) ensureLevel(level int) {
	for len(t.bufs) < level {
		t.bufs = append(t.bufs, nil)
	}
}

func (t *indexTower) addRecord(w *countingWriter, offset int64, level int) error {
	t.ensureLevel(level)
	if len(t.bufs[level-1]) == t.idxSize {
		idxOffset := w.n
		if _, err := ragzip.EncodeIndex(w, t.bufs[level-1]); err != nil {
			return err
		}
		t.bufs[level-1] = t.bufs[level-1][:0]
		if err := t.addRecord(w, idxOffset, level+1); err != nil {
			return err
		}
	}
	t.bufs[level-1] = append(t.bufs[level-1], offset)
	if level > t.maxLevel {
		t.maxLevel = level
	}
	return nil
}

// finalize emits the remaining tail indexes bottom-up. The parallel
// encoder never takes the single-page elision path (EncodeParallel handles
// that case before a tower is even created), so no elision check is needed
// here.
func (t *indexTower) finalize(w *countingWriter) (topIndexOffset int64, levels int, err error) {
	if t.maxLevel == 0 {
		return 0, 0, nil
	}
	for lvl := 1; lvl <= len(t.bufs); lvl++ {
		buf := t.bufs[lvl-1]
		if len(buf) == 0 {
			continue
		}
		idxOffset := w.n
		if _, werr := ragzip.EncodeIndex(w, buf); werr != nil {
			return 0, 0, werr
		}
		t.bufs[lvl-1] = buf[:0]
		topIndexOffset = idxOffset
		levels = lvl
		if lvl < len(t.bufs) {
			if rerr := t.addRecord(w, idxOffset, lvl+1); rerr != nil {
				return 0, 0, rerr
			}
		}
	}
	return topIndexOffset, levels, nil
}

// EncodeParallel reads size bytes from src (an io.ReaderAt, read
// concurrently and out of order) and writes a complete ragzip stream to
// dst, per spec section 4.7's slice/read/zip/order/write pipeline. The
// order and write roles run on one dedicated goroutine, since the output
// stream's byte offsets and the index tower's buffers are both inherently
// sequential state.
func EncodeParallel(ctx context.Context, src io.ReaderAt, size int64, dst io.Writer, opts EncodeOptions) (int64, error) {
	opts = opts.withDefaults()
	if opts.PageSizeExponent < 9 || opts.PageSizeExponent > 30 {
		return 0, fmt.Errorf("ragzip/parallel: page size exponent %d out of range [9,30]", opts.PageSizeExponent)
	}
	if opts.IndexSizeExponent < 1 || opts.IndexSizeExponent > 12 {
		return 0, fmt.Errorf("ragzip/parallel: index size exponent %d out of range [1,12]", opts.IndexSizeExponent)
	}
	if size < 0 {
		return 0, fmt.Errorf("ragzip/parallel: negative size %d", size)
	}

	pageSize := int64(1) << uint(opts.PageSizeExponent)
	var numPages int64
	if size > 0 {
		numPages = (size + pageSize - 1) / pageSize
	}

	cw := &countingWriter{w: dst}

	// Single-page (or empty) files omit the index tower entirely; both
	// encoders must agree on this (spec section 4.7/9).
	if numPages <= 1 {
		if numPages == 1 {
			buf := make([]byte, size)
			if n, err := src.ReadAt(buf, 0); err != nil && err != io.EOF {
				return 0, fmt.Errorf("ragzip/parallel: reading single page: %w", err)
			} else if int64(n) != size {
				return 0, fmt.Errorf("ragzip/parallel: short read of single page: got %d want %d", n, size)
			}
			if _, err := ragzip.EncodePage(cw, opts.Level, buf); err != nil {
				return 0, err
			}
		}
		extTail, err := writeExtensions(cw, opts.Extensions)
		if err != nil {
			return 0, err
		}
		if _, err := ragzip.EncodeFooterRecord(cw, 0, opts.IndexSizeExponent, opts.PageSizeExponent, size, 0, extTail); err != nil {
			return 0, err
		}
		return cw.n, nil
	}

	sem := semaphore.NewWeighted(int64(opts.MaxBufferedPages))
	results := make(chan *pageResult, opts.Workers)

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var zipErrs error

	g.Go(func() error {
		defer close(results)
		sub, subCtx := errgroup.WithContext(gctx)
		sub.SetLimit(opts.Workers)
		for id := int64(0); id < numPages; id++ {
			id := id
			if err := sem.Acquire(subCtx, 1); err != nil {
				break
			}
			sub.Go(func() error {
				start := id * pageSize
				length := pageSize
				if start+length > size {
					length = size - start
				}
				buf := make([]byte, length)
				if _, err := src.ReadAt(buf, start); err != nil && err != io.EOF {
					err = fmt.Errorf("reading page %d: %w", id, err)
					mu.Lock()
					zipErrs = multierr.Append(zipErrs, err)
					mu.Unlock()
					return err
				}
				var out bytes.Buffer
				if _, err := ragzip.EncodePage(&out, opts.Level, buf); err != nil {
					err = fmt.Errorf("compressing page %d: %w", id, err)
					mu.Lock()
					zipErrs = multierr.Append(zipErrs, err)
					mu.Unlock()
					return err
				}
				select {
				case results <- &pageResult{id: id, data: out.Bytes()}:
					return nil
				case <-subCtx.Done():
					return subCtx.Err()
				}
			})
		}
		_ = sub.Wait()
		if zipErrs != nil {
			return zipErrs
		}
		return nil
	})

	tower := newIndexTower(1 << uint(opts.IndexSizeExponent))
	g.Go(func() error {
		return runOrderedWrite(gctx, results, numPages, tower, cw, sem)
	})

	if err := g.Wait(); err != nil {
		opts.Logger.Error("parallel encode failed", zap.Error(err))
		return 0, err
	}

	topIndexOffset, levels, err := tower.finalize(cw)
	if err != nil {
		return 0, err
	}
	extTail, err := writeExtensions(cw, opts.Extensions)
	if err != nil {
		return 0, err
	}
	if _, err := ragzip.EncodeFooterRecord(cw, levels, opts.IndexSizeExponent, opts.PageSizeExponent, size, topIndexOffset, extTail); err != nil {
		return 0, err
	}

	return cw.n, nil
}

// runOrderedWrite consumes zipped pages as they complete, replays them to w
// in strict pageId order via a min-heap, and folds each written page's
// offset into the index tower.
func runOrderedWrite(ctx context.Context, results <-chan *pageResult, numPages int64, tower *indexTower, w *countingWriter, sem *semaphore.Weighted) error {
	h := &pageHeap{}
	heap.Init(h)
	var next int64

	for next < numPages {
		select {
		case res, ok := <-results:
			if !ok {
				return fmt.Errorf("ragzip/parallel: pipeline closed early at page %d/%d", next, numPages)
			}
			heap.Push(h, res)
		case <-ctx.Done():
			return ctx.Err()
		}

		for h.Len() > 0 && (*h)[0].id == next {
			item := heap.Pop(h).(*pageResult)
			start := w.n
			if _, err := w.Write(item.data); err != nil {
				return fmt.Errorf("ragzip/parallel: writing page %d: %w", item.id, err)
			}
			if err := tower.addRecord(w, start, 1); err != nil {
				return err
			}
			sem.Release(1)
			next++
		}
	}
	return nil
}
