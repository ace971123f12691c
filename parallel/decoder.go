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
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ianlewis/ragzip"
)

// WriterAt is the capability required of a parallel decode destination.
type WriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// DecodeOptions configures a parallel decode run.
type DecodeOptions struct {
	// Workers bounds concurrent read+decompress goroutines. Zero means
	// runtime.GOMAXPROCS(0).
	Workers int
	Logger  *zap.Logger
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// DecodeParallel decompresses every page of a ragzip file (read through src,
// of total size bytes) into dst concurrently. Unlike the encoder, no
// ordering stage is needed (spec section 4.8): every page's destination
// offset is fixed by its pageId * 2^P, so workers write directly via
// WriteAt.
//
// One task per page id fans out across opts.Workers goroutines; each task
// decodes its page through the Reader's ReadAt, which descends the index
// tower from the top for that page. The index tower is not walked up front,
// and compressed page byte ranges are not read separately from decoding.
func DecodeParallel(ctx context.Context, src io.ReaderAt, size int64, dst WriterAt, opts DecodeOptions) (int64, error) {
	opts = opts.withDefaults()

	r, err := ragzip.Open(src, size, ragzip.CacheModeLoaded)
	if err != nil {
		return 0, err
	}

	total := r.Size()
	if total == 0 {
		return 0, nil
	}
	pageSize := int64(r.PageSize())
	numPages := r.PageCount()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var mu sync.Mutex
	var errs error

	for id := int64(0); id < numPages; id++ {
		id := id
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			start := id * pageSize
			length := pageSize
			if start+length > total {
				length = total - start
			}
			buf := make([]byte, length)
			if _, err := r.ReadAt(buf, start); err != nil && err != io.EOF {
				err = fmt.Errorf("ragzip/parallel: decoding page %d: %w", id, err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				opts.Logger.Warn("page decode failed", zap.Int64("page", id), zap.Error(err))
				return err
			}
			if _, err := dst.WriteAt(buf, start); err != nil {
				err = fmt.Errorf("ragzip/parallel: writing page %d: %w", id, err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errs != nil {
			return 0, errs
		}
		return 0, err
	}
	return total, nil
}
