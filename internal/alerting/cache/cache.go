// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides a TTL memoizing facade over slow lookups.
// The classifier sits on the hot path between the event bus and the
// store; these caches keep threshold and recipient lookups off it.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"sentinel/internal/alerting/telemetry"
)

// Cache memoizes a keyed lookup K -> V with a fixed TTL per entry.
// Lookup errors propagate to the caller and are never cached. A racing
// miss may invoke the loader more than once; the last result wins,
// which is acceptable for the read-mostly data cached here.
type Cache[V any] struct {
	name  string
	ttl   time.Duration
	store *gocache.Cache
}

// New creates a cache. The name labels the hit/miss metrics. The
// underlying store runs its own janitor at the TTL cadence, which
// serves as the expiry sweep.
func New[V any](name string, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		name:  name,
		ttl:   ttl,
		store: gocache.New(ttl, ttl),
	}
}

// GetOrLoad returns the cached value for key when it is still fresh,
// otherwise invokes load, stores the result, and returns it.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.store.Get(key); ok {
		telemetry.CacheHits.WithLabelValues(c.name).Inc()
		return v.(V), nil
	}
	telemetry.CacheMisses.WithLabelValues(c.name).Inc()

	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.store.Set(key, v, gocache.DefaultExpiration)
	return v, nil
}

// Cleanup removes expired entries immediately.
func (c *Cache[V]) Cleanup() { c.store.DeleteExpired() }

// Clear drops all entries.
func (c *Cache[V]) Clear() { c.store.Flush() }

// Len returns the number of live entries (expired items may linger
// until the next sweep).
func (c *Cache[V]) Len() int { return c.store.ItemCount() }
