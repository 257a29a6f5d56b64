// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// TTL Response Cache
// =============================================================================

const (
	// volatileTTL covers fast-moving market data endpoints.
	volatileTTL = 30 * time.Second

	// stableTTL covers everything else cacheable.
	stableTTL = 5 * time.Minute
)

// ttlForPath picks the cache lifetime by endpoint volatility: order books
// and quotes go stale in seconds, reference data survives minutes.
func ttlForPath(path string) time.Duration {
	if strings.Contains(path, "/orderbook") || strings.Contains(path, "/quotes") {
		return volatileTTL
	}
	return stableTTL
}

type cacheEntry struct {
	value     Response
	expiresAt time.Time
}

// ttlCache is a per-entry-TTL response cache. Expired entries are evicted
// lazily on lookup.
//
// Thread Safety: Safe for concurrent use.
type ttlCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	now   func() time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{store: make(map[string]cacheEntry), now: time.Now}
}

// cacheKey builds "METHOD:path?k=v,k2=v2" with sorted parameters so value
// order in url.Values never splits cache entries.
func cacheKey(method, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(':')
	b.WriteString(path)
	if len(query) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(query[k], "|"))
	}
	return b.String()
}

func (c *ttlCache) get(key string) (Response, bool) {
	c.mu.RLock()
	entry, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return Response{}, false
	}
	if c.now().Before(entry.expiresAt) {
		return entry.value, true
	}
	c.mu.Lock()
	// re-check under the write lock, another writer may have refreshed it
	if cur, ok := c.store[key]; ok && !c.now().Before(cur.expiresAt) {
		delete(c.store, key)
	}
	c.mu.Unlock()
	return Response{}, false
}

func (c *ttlCache) set(key string, value Response, ttl time.Duration) {
	c.mu.Lock()
	c.store[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
