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
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

// =============================================================================
// Retry Decorator
// =============================================================================

// retryDelays is the fixed backoff schedule. One attempt per delay slot:
// four attempts total, ~2.6s worst case before giving up.
var retryDelays = []time.Duration{
	100 * time.Millisecond,
	300 * time.Millisecond,
	700 * time.Millisecond,
	1500 * time.Millisecond,
}

// RetryBackend decorates another backend with bounded retry on transient
// error replies (429 and 5xx). The exhausted last reply is returned as data,
// never swallowed — the orchestrator and audit trail need the real status.
//
// Thread Safety: Safe for concurrent use when the inner backend is.
type RetryBackend struct {
	inner  Backend
	delays []time.Duration
	logger *slog.Logger
}

// NewRetryBackend wraps inner with the standard backoff schedule.
func NewRetryBackend(inner Backend, logger *slog.Logger) *RetryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryBackend{inner: inner, delays: retryDelays, logger: logger}
}

// Name implements Backend.
func (b *RetryBackend) Name() string { return b.inner.Name() }

// Execute implements Backend.
//
// Outputs:
//   - Response: The first non-retryable reply, or the last error reply when
//     the budget is exhausted.
//   - error: Transport failure from the inner backend, or ctx cancellation
//     mid-backoff. Transport errors are not retried: a connection-level
//     failure usually needs operator attention, not another hammer blow.
func (b *RetryBackend) Execute(ctx context.Context, method, path string, query url.Values, body map[string]any) (Response, error) {
	var last Response
	for i, delay := range b.delays {
		resp, err := b.inner.Execute(ctx, method, path, query, body)
		if err != nil {
			return Response{}, err
		}
		if !isRetryable(resp) {
			return resp, nil
		}
		last = resp
		retriesTotal.WithLabelValues(method).Inc()
		b.logger.Warn("router: transient upstream error, backing off",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, ctx.Err()
		case <-timer.C:
		}
	}

	upstreamErrors.WithLabelValues(method, strconv.Itoa(last.StatusCode)).Inc()
	return last, nil
}
