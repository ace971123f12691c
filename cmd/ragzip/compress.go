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

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ianlewis/ragzip"
)

type compress struct {
	path    string
	out     string
	clobber bool
	p       int
	i       int
	verbose int
}

// zapWarnLogger adapts a *zap.SugaredLogger to the Warnf capability
// ragzip.Writer needs to report a dropped oversized extension at finish
// time.
type zapWarnLogger struct {
	log *zap.SugaredLogger
}

func (l zapWarnLogger) Warnf(format string, args ...any) {
	l.log.Warnf(format, args...)
}

func (c *compress) Run() error {
	from, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("%w: opening file: %w", ErrRagzip, err)
	}
	defer from.Close()

	outPath := c.out
	if outPath == "" {
		outPath = c.path + ".gz"
	}

	var dst io.Writer
	var dstFile *os.File
	if outPath == "-" {
		dst = os.Stdout
	} else {
		flags := os.O_CREATE | os.O_WRONLY
		if !c.clobber {
			// Do not overwrite existing files unless --clobber is given.
			flags |= os.O_EXCL
		}
		dstFile, err = os.OpenFile(outPath, flags, 0o644)
		if err != nil {
			return fmt.Errorf("%w: opening target file: %w", ErrRagzip, err)
		}
		defer dstFile.Close()
		dst = dstFile
	}

	logger := newVerboseLogger(c.verbose)
	defer logger.Sync() //nolint:errcheck

	n, err := c.compress(dst, from, logger)
	if err != nil {
		return err
	}

	if c.verbose > 0 {
		logger.Sugar().Infof("compressed %d bytes of input from a %d-byte file (P=%d, I=%d)", n, mustStatSize(from), c.p, c.i)
	}

	return nil
}

func (c *compress) compress(dst io.Writer, src *os.File, logger *zap.Logger) (n int64, err error) {
	z, err := ragzip.NewWriterLevel(dst, ragzip.DefaultCompression, c.p, c.i)
	if err != nil {
		return 0, fmt.Errorf("%w: creating writer: %w", ErrRagzip, err)
	}
	z.SetWarnLogger(zapWarnLogger{log: logger.Sugar()})

	defer func() {
		clsErr := z.Close()
		if err == nil {
			err = clsErr
		}
	}()

	n, err = io.Copy(z, src)
	if err != nil {
		err = fmt.Errorf("%w: compressing file %q: %w", ErrRagzip, src.Name(), err)
		return
	}
	return
}

func newVerboseLogger(verbosity int) *zap.Logger {
	if verbosity <= 0 {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	if verbosity == 1 {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func mustStatSize(f *os.File) int64 {
	fi, err := f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}
