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
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

// scriptedBackend replays canned responses and counts calls.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []Response
	err       error
	calls     int
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Execute(_ context.Context, _, _ string, _ url.Values, _ map[string]any) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return Response{}, b.err
	}
	idx := b.calls - 1
	if idx >= len(b.responses) {
		idx = len(b.responses) - 1
	}
	return b.responses[idx], nil
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func okResponse(key, val string) Response {
	return Response{StatusCode: http.StatusOK, Data: map[string]any{key: val}}
}

func errResponse(status int) Response {
	return Response{StatusCode: status, Data: map[string]any{"error": "upstream", "status_code": status}}
}

func getRequest(path string) registry.ToolRequest {
	return registry.ToolRequest{Method: http.MethodGet, Path: path, Query: url.Values{}}
}

func TestRouter_GetResponsesAreCached(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{okResponse("v", "1")}}
	r := New(backend, Config{RatePerSec: 1000, Burst: 1000}, nil)

	req := getRequest("/v1/instruments/SBER@MISX/quotes/latest")
	for i := 0; i < 5; i++ {
		resp, err := r.Execute(context.Background(), req)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if resp.Data["v"] != "1" {
			t.Fatalf("unexpected data: %v", resp.Data)
		}
	}
	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}
}

func TestRouter_WritesBypassCache(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{okResponse("v", "1")}}
	r := New(backend, Config{RatePerSec: 1000, Burst: 1000}, nil)

	req := registry.ToolRequest{Method: http.MethodPost, Path: "/v1/accounts/A/orders"}
	for i := 0; i < 3; i++ {
		if _, err := r.Execute(context.Background(), req); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}
	if got := backend.callCount(); got != 3 {
		t.Errorf("backend called %d times, want 3", got)
	}
}

func TestRouter_ErrorRepliesAreNotCached(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{errResponse(http.StatusNotFound), okResponse("v", "2")}}
	r := New(backend, Config{RatePerSec: 1000, Burst: 1000}, nil)

	req := getRequest("/v1/assets/NOPE@MISX")
	resp, err := r.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !resp.IsError() {
		t.Fatal("expected error reply")
	}

	resp, err = r.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.IsError() {
		t.Error("second call should reach the backend and succeed")
	}
}

func TestRouter_QueryOrderDoesNotSplitCache(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{okResponse("v", "1")}}
	r := New(backend, Config{RatePerSec: 1000, Burst: 1000}, nil)

	q1 := url.Values{}
	q1.Set("timeframe", "TIME_FRAME_D")
	q1.Set("interval.start_time", "2025-08-01T00:00:00Z")
	q2 := url.Values{}
	q2.Set("interval.start_time", "2025-08-01T00:00:00Z")
	q2.Set("timeframe", "TIME_FRAME_D")

	path := "/v1/instruments/SBER@MISX/bars"
	if _, err := r.Execute(context.Background(), registry.ToolRequest{Method: "GET", Path: path, Query: q1}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := r.Execute(context.Background(), registry.ToolRequest{Method: "GET", Path: path, Query: q2}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times, want 1 (same logical request)", got)
	}
}

func TestRouter_RateGateBoundsThroughput(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{okResponse("v", "1")}}
	// burst 1, 50 rps: 5 extra requests must take at least 100ms
	r := New(backend, Config{RatePerSec: 50, Burst: 1}, nil)

	start := time.Now()
	for i := 0; i < 6; i++ {
		req := registry.ToolRequest{Method: http.MethodPost, Path: "/v1/x"}
		if _, err := r.Execute(context.Background(), req); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("6 requests at 50 rps burst 1 took %v, want >= 100ms", elapsed)
	}
}

func TestRouter_TransportErrorPropagates(t *testing.T) {
	backend := &scriptedBackend{err: errors.New("connection refused")}
	r := New(backend, Config{RatePerSec: 1000, Burst: 1000}, nil)

	if _, err := r.Execute(context.Background(), getRequest("/v1/system/time")); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestRetryBackend_RetriesTransientThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{
		errResponse(http.StatusTooManyRequests),
		errResponse(http.StatusBadGateway),
		okResponse("v", "ok"),
	}}
	rb := NewRetryBackend(backend, nil)

	resp, err := rb.Execute(context.Background(), "GET", "/v1/x", nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Data["v"] != "ok" {
		t.Errorf("unexpected data: %v", resp.Data)
	}
	if got := backend.callCount(); got != 3 {
		t.Errorf("backend called %d times, want 3", got)
	}
}

func TestRetryBackend_ExhaustionReturnsLastReply(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{errResponse(http.StatusServiceUnavailable)}}
	rb := &RetryBackend{inner: backend, delays: []time.Duration{time.Millisecond, time.Millisecond}, logger: testLogger()}

	resp, err := rb.Execute(context.Background(), "GET", "/v1/x", nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !resp.IsError() || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected the exhausted 503 reply, got %+v", resp)
	}
	if got := backend.callCount(); got != 2 {
		t.Errorf("backend called %d times, want 2", got)
	}
}

func TestRetryBackend_NonRetryableStatusReturnsImmediately(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{errResponse(http.StatusNotFound)}}
	rb := NewRetryBackend(backend, nil)

	resp, err := rb.Execute(context.Background(), "GET", "/v1/x", nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times, want 1 (404 is permanent)", got)
	}
}

func TestRetryBackend_ContextCancelDuringBackoff(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{errResponse(http.StatusTooManyRequests)}}
	rb := &RetryBackend{inner: backend, delays: []time.Duration{time.Hour}, logger: testLogger()}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rb.Execute(ctx, "GET", "/v1/x", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestTTLForPath(t *testing.T) {
	if ttlForPath("/v1/instruments/SBER@MISX/orderbook") != volatileTTL {
		t.Error("orderbook must use the volatile TTL")
	}
	if ttlForPath("/v1/instruments/SBER@MISX/quotes/latest") != volatileTTL {
		t.Error("quotes must use the volatile TTL")
	}
	if ttlForPath("/v1/assets") != stableTTL {
		t.Error("reference data must use the stable TTL")
	}
}

func TestCache_EntryExpires(t *testing.T) {
	c := newTTLCache()
	base := time.Now()
	c.now = func() time.Time { return base }

	c.set("k", okResponse("v", "1"), 30*time.Second)
	if _, ok := c.get("k"); !ok {
		t.Fatal("fresh entry must hit")
	}

	c.now = func() time.Time { return base.Add(31 * time.Second) }
	if _, ok := c.get("k"); ok {
		t.Error("expired entry must miss")
	}
}
