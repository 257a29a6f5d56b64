// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router executes resolved tool requests against a pluggable
// backend, with a shared rate gate, a TTL response cache for reads, and
// bounded retry on transient upstream failures.
package router

import (
	"context"
	"net/url"
)

// =============================================================================
// Response & Backend Contracts
// =============================================================================

// Response is the normalized backend reply. Broker-side errors travel as
// data (the "error"/"status_code"/"details" convention) so the orchestrator
// can show the user exactly what the API said; a Go error from a Backend
// means the call never completed.
type Response struct {
	StatusCode int
	Data       map[string]any
}

// IsError reports whether the reply carries the error convention.
func (r Response) IsError() bool {
	if r.Data == nil {
		return false
	}
	_, ok := r.Data["error"]
	return ok
}

// retryableStatuses are the upstream statuses worth retrying: throttling
// and transient server-side failures.
var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// isRetryable reports whether the response is an error with a transient
// status code.
func isRetryable(r Response) bool {
	return r.IsError() && retryableStatuses[r.StatusCode]
}

// Backend executes one request. Implementations: HTTPBackend (live API),
// Simulator (in-process synthetic data), RetryBackend (decorator).
type Backend interface {
	Execute(ctx context.Context, method, path string, query url.Values, body map[string]any) (Response, error)

	// Name labels the backend in metrics and logs.
	Name() string
}
