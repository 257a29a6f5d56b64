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
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Audit Trail
// =============================================================================

// DefaultAuditBuffer is the in-memory ring capacity.
const DefaultAuditBuffer = 200

// Record is one audit event.
type Record struct {
	Time     time.Time      `json:"ts"`
	Kind     string         `json:"kind"`
	Method   string         `json:"api_method,omitempty"`
	Path     string         `json:"api_path,omitempty"`
	Decision string         `json:"decision,omitempty"`
	Reasons  []string       `json:"reasons,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// Sink mirrors audit records to durable or external storage. Sinks are
// best-effort: a failing sink is logged and skipped, never blocks the
// decision path, and never loses the in-memory record.
type Sink interface {
	Write(rec Record) error

	// Name labels the sink in logs.
	Name() string
}

// Auditor keeps the last N records in memory and mirrors each one to every
// configured sink.
//
// Thread Safety: Safe for concurrent use.
type Auditor struct {
	mu     sync.Mutex
	buf    []Record
	next   int
	filled bool

	sinks  []Sink
	logger *slog.Logger
}

// NewAuditor builds an auditor with a ring of the given capacity.
// capacity <= 0 selects the default.
func NewAuditor(capacity int, logger *slog.Logger, sinks ...Sink) *Auditor {
	if capacity <= 0 {
		capacity = DefaultAuditBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		buf:    make([]Record, capacity),
		sinks:  sinks,
		logger: logger,
	}
}

// Log appends a record to the ring and mirrors it to the sinks.
func (a *Auditor) Log(rec Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	a.mu.Lock()
	a.buf[a.next] = rec
	a.next = (a.next + 1) % len(a.buf)
	if a.next == 0 {
		a.filled = true
	}
	a.mu.Unlock()

	for _, sink := range a.sinks {
		if err := sink.Write(rec); err != nil {
			a.logger.Warn("audit: sink write failed",
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// LogSafety records a policy decision.
func (a *Auditor) LogSafety(method, path, decision string, reasons []string, context map[string]any) {
	a.Log(Record{
		Kind:     "safety",
		Method:   method,
		Path:     path,
		Decision: decision,
		Reasons:  reasons,
		Context:  context,
	})
}

// Recent returns up to n most recent records, oldest first.
func (a *Auditor) Recent(n int) []Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ordered []Record
	if a.filled {
		ordered = append(ordered, a.buf[a.next:]...)
		ordered = append(ordered, a.buf[:a.next]...)
	} else {
		ordered = append(ordered, a.buf[:a.next]...)
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
