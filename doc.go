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

// Package ragzip implements the ragzip random-access gzip container format.
//
// A ragzip file is a sequence of ordinary gzip members: decompressing it
// front-to-back with any standard gzip decoder yields the exact original
// uncompressed content. A [Reader], however, can seek to any logical byte
// offset in O(log N) index lookups instead of decompressing from the start,
// because the uncompressed content is partitioned into fixed-size pages and a
// tower of offset indexes is threaded through otherwise-empty gzip members
// alongside them.
//
// See: https://datatracker.ietf.org/doc/html/rfc1952
//
// Unless otherwise informed clients should not assume implementations in this
// package are safe for parallel execution. For parallel encoding and
// decoding, see the ragzip/parallel package.
package ragzip
