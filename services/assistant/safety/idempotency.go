// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// =============================================================================
// Idempotency Guard
// =============================================================================

// DefaultIdempotencyTTL is how long a write fingerprint blocks repeats.
const DefaultIdempotencyTTL = 60 * time.Second

// Fingerprint hashes a write's identity: method, path, and serialized body.
// The same user asking for the same order twice within the TTL window
// produces the same fingerprint regardless of phrasing.
func Fingerprint(method, path, body string) string {
	sum := sha256.Sum256([]byte(method + "|" + path + "|" + body))
	return hex.EncodeToString(sum[:])
}

// IdempotencyGuard remembers recent write fingerprints. Expired entries are
// purged lazily on each check; the store never outgrows the write rate times
// the TTL.
//
// Thread Safety: Safe for concurrent use.
type IdempotencyGuard struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewIdempotencyGuard builds a guard. ttl <= 0 selects the default.
func NewIdempotencyGuard(ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// CheckAndRemember reports whether key is fresh, remembering it when it is.
// Returns false for a repeat inside the TTL window.
func (g *IdempotencyGuard) CheckAndRemember(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, t := range g.seen {
		if now.Sub(t) > g.ttl {
			delete(g.seen, k)
		}
	}
	if _, dup := g.seen[key]; dup {
		return false
	}
	g.seen[key] = now
	return true
}
