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

// Package lrucache is a thin, generic wrapper around
// github.com/hashicorp/golang-lru/v2, shared by ragzip's index cache (see
// the root package's cachedIndexSource) and its standalone page cache (see
// PageCache in the root package's cache.go).
package lrucache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed-capacity, concurrency-safe least-recently-used cache.
type Cache[K comparable, V any] struct {
	inner *lru.Cache[K, V]
}

// New returns a Cache holding up to size entries. size must be positive.
func New[K comparable, V any](size int) (*Cache[K, V], error) {
	inner, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{inner: inner}, nil
}

// Get returns the cached value for key, if present, promoting it to
// most-recently-used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.inner.Get(key)
}

// Add inserts or updates key's value, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache[K, V]) Add(key K, value V) {
	c.inner.Add(key, value)
}

// Remove evicts key, if present.
func (c *Cache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

// Len reports the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

// Purge evicts all entries.
func (c *Cache[K, V]) Purge() {
	c.inner.Purge()
}
