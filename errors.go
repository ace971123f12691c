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
	"errors"
	"fmt"
)

var (
	// errRagzip is the base error for all ragzip errors.
	errRagzip = errors.New("ragzip")

	// ErrConfig indicates an invalid configuration, e.g. a page or index
	// size exponent out of range, or mismatched resume parameters.
	ErrConfig = fmt.Errorf("%w: invalid configuration", errRagzip)

	// ErrFormat indicates the underlying bytes do not form a valid ragzip
	// file: a missing RA subfield, an unsupported version, or a
	// monotonicity violation in an index or extension chain.
	ErrFormat = fmt.Errorf("%w: invalid format", errRagzip)

	// ErrIntegrity indicates a gzip CRC32/ISIZE mismatch or a deflate
	// stream error.
	ErrIntegrity = fmt.Errorf("%w: integrity check failed", errRagzip)

	// ErrCapacity indicates a limit defined by the format was exceeded:
	// uncompressed size reaching 2^62, extension count exceeding 50, or an
	// extension payload exceeding 32KiB.
	ErrCapacity = fmt.Errorf("%w: capacity exceeded", errRagzip)

	// ErrClosed indicates an operation on an already-closed Reader or
	// Writer.
	ErrClosed = fmt.Errorf("%w: use of closed resource", errRagzip)

	errOutOfRange = fmt.Errorf("%w: position out of range", ErrFormat)
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

func integrityErr(err error) error {
	return fmt.Errorf("%w: %w", ErrIntegrity, err)
}

func capacityErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCapacity, fmt.Sprintf(format, args...))
}
