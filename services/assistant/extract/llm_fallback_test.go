// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	badgerstore "github.com/aeshef/Finam-AI-Chat/services/assistant/storage/badger"
)

func newMemStore(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFallback_QuoteFromFencedJSON(t *testing.T) {
	stub := &stubCompleter{reply: "```json\n{\"intent\": \"quote\", \"symbol\": \"SBER\"}\n```"}
	fb := NewFallbackExtractor(stub, nil, slog.Default())

	req, missing := fb.Extract(context.Background(), "почем сбер")
	if len(missing) != 0 {
		t.Fatalf("unexpected missing: %v", missing)
	}
	quote, ok := req.(QuoteRequest)
	if !ok {
		t.Fatalf("expected QuoteRequest, got %T", req)
	}
	if quote.Symbol != "SBER@MISX" {
		t.Errorf("symbol = %q", quote.Symbol)
	}
}

func TestFallback_BarsNormalizesTimeframeAndDates(t *testing.T) {
	stub := &stubCompleter{reply: `Вот JSON: {"intent":"bars","symbol":"GAZP","timeframe":"час","start":"2025-08-01","end":"2025-08-31"}`}
	fb := NewFallbackExtractor(stub, nil, slog.Default())

	req, _ := fb.Extract(context.Background(), "часовые свечи газпрома за август")
	bars, ok := req.(BarsRequest)
	if !ok {
		t.Fatalf("expected BarsRequest, got %T", req)
	}
	if bars.Timeframe != "TIME_FRAME_H1" {
		t.Errorf("timeframe = %q", bars.Timeframe)
	}
	if bars.Start != "2025-08-01T00:00:00Z" || bars.End != "2025-08-31T00:00:00Z" {
		t.Errorf("interval = %q..%q", bars.Start, bars.End)
	}
}

func TestFallback_MissingSlotReported(t *testing.T) {
	stub := &stubCompleter{reply: `{"intent":"orders_list"}`}
	fb := NewFallbackExtractor(stub, nil, slog.Default())

	req, missing := fb.Extract(context.Background(), "мои заявки")
	if req != nil {
		t.Fatalf("expected nil request, got %T", req)
	}
	if len(missing) != 1 || missing[0] != "account_id" {
		t.Errorf("missing = %v", missing)
	}
}

func TestFallback_ModelErrorIsSilent(t *testing.T) {
	stub := &stubCompleter{err: errors.New("upstream down")}
	fb := NewFallbackExtractor(stub, nil, slog.Default())

	req, missing := fb.Extract(context.Background(), "почем сбер")
	if req != nil || missing != nil {
		t.Errorf("expected (nil, nil), got (%T, %v)", req, missing)
	}
}

func TestFallback_GarbageReplyIsSilent(t *testing.T) {
	stub := &stubCompleter{reply: "извините, не могу помочь"}
	fb := NewFallbackExtractor(stub, nil, slog.Default())

	req, missing := fb.Extract(context.Background(), "почем сбер")
	if req != nil || missing != nil {
		t.Errorf("expected (nil, nil), got (%T, %v)", req, missing)
	}
}

func TestFallback_UntrustedIntentIgnored(t *testing.T) {
	stub := &stubCompleter{reply: `{"intent":"order_cancel","account_id":"ACC-001-A","order_id":"ORD1"}`}
	fb := NewFallbackExtractor(stub, nil, slog.Default())

	req, _ := fb.Extract(context.Background(), "отмени заявку")
	if req != nil {
		t.Errorf("write intents must not come from the fallback, got %T", req)
	}
}

func TestFallback_RepliesAreCached(t *testing.T) {
	store := newMemStore(t)
	stub := &stubCompleter{reply: `{"intent":"quote","symbol":"LKOH"}`}
	fb := NewFallbackExtractor(stub, store, slog.Default())

	for i := 0; i < 3; i++ {
		req, _ := fb.Extract(context.Background(), "почем лукойл")
		if _, ok := req.(QuoteRequest); !ok {
			t.Fatalf("iteration %d: expected QuoteRequest, got %T", i, req)
		}
	}
	if stub.calls != 1 {
		t.Errorf("model called %d times, want 1 (cache hit)", stub.calls)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"{\"a\":1}", "{\"a\":1}", true},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}", true},
		{"prefix {\"a\":{\"b\":2}} suffix", "{\"a\":{\"b\":2}}", true},
		{"no json here", "", false},
		{"}{", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSONObject(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractJSONObject(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
