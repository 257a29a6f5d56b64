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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPolicy_GetIsAllowedWithoutConfirm(t *testing.T) {
	d := DefaultPolicy().Evaluate("GET", "/v1/instruments/SBER@MISX/quotes/latest", nil)
	if !d.Allowed || d.RequiresConfirm {
		t.Errorf("GET quote: %+v", d)
	}
}

func TestPolicy_WritesRequireConfirm(t *testing.T) {
	p := DefaultPolicy()
	for _, method := range []string{"POST", "DELETE"} {
		d := p.Evaluate(method, "/v1/accounts/A/orders", nil)
		if !d.Allowed {
			t.Errorf("%s should be allowed: %+v", method, d)
		}
		if !d.RequiresConfirm {
			t.Errorf("%s must require confirmation", method)
		}
	}
}

func TestPolicy_DisallowedMethodShortCircuits(t *testing.T) {
	d := DefaultPolicy().Evaluate("PUT", "/v1/anything", nil)
	if d.Allowed || d.RequiresConfirm {
		t.Errorf("PUT: %+v", d)
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "Method not allowed" {
		t.Errorf("reasons = %v", d.Reasons)
	}
}

func TestPolicy_MarketAllowlistFromPath(t *testing.T) {
	p := DefaultPolicy()
	if d := p.Evaluate("GET", "/v1/instruments/AAPL@XNYS/quotes/latest", nil); d.Allowed {
		t.Errorf("XNYS must be blocked: %+v", d)
	}
	if d := p.Evaluate("GET", "/v1/instruments/SBER@MISX/quotes/latest", nil); !d.Allowed {
		t.Errorf("MISX must pass: %+v", d)
	}
}

func TestPolicy_MarketFromOrderBody(t *testing.T) {
	body := map[string]any{"symbol": "AAPL@XNYS", "quantity": map[string]any{"value": "10"}}
	d := DefaultPolicy().Evaluate("POST", "/v1/accounts/A/orders", body)
	if d.Allowed {
		t.Errorf("order for blocked market must fail: %+v", d)
	}
}

// Multiple violations accumulate into one decision.
func TestPolicy_ReasonsAccumulate(t *testing.T) {
	body := map[string]any{"symbol": "AAPL@XNYS", "quantity": map[string]any{"value": "50000"}}
	d := DefaultPolicy().Evaluate("POST", "/v1/accounts/A/orders", body)
	if d.Allowed {
		t.Fatal("expected blocked")
	}
	if len(d.Reasons) != 2 {
		t.Errorf("reasons = %v, want both market and quantity violations", d.Reasons)
	}
}

func TestPolicy_QuantityShapes(t *testing.T) {
	p := DefaultPolicy()
	shapes := []map[string]any{
		{"quantity": 20000},
		{"quantity": float64(20000)},
		{"quantity": "20000"},
		{"quantity": map[string]any{"value": "20000"}},
	}
	for i, body := range shapes {
		if d := p.Evaluate("POST", "/v1/accounts/A/orders", body); d.Allowed {
			t.Errorf("shape %d: oversized order must be blocked: %+v", i, d)
		}
	}
	if d := p.Evaluate("POST", "/v1/accounts/A/orders", map[string]any{"quantity": 100}); !d.Allowed {
		t.Errorf("normal quantity must pass: %+v", d)
	}
}

func TestLoadPolicy_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	content := `{"allowed_methods": ["GET"], "max_order_quantity": 5}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p := LoadPolicy(path, nil)
	if d := p.Evaluate("POST", "/v1/accounts/A/orders", nil); d.Allowed {
		t.Errorf("POST should be blocked by the override: %+v", d)
	}
	if p.MaxOrderQuantity != 5 {
		t.Errorf("MaxOrderQuantity = %d", p.MaxOrderQuantity)
	}
	// fields absent from the file keep their defaults
	if len(p.AllowedMarkets) == 0 {
		t.Error("AllowedMarkets should keep defaults")
	}
}

func TestLoadPolicy_BrokenFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	p := LoadPolicy(path, nil)
	if p.MaxOrderQuantity != DefaultPolicy().MaxOrderQuantity {
		t.Errorf("broken file must fall back to defaults, got %+v", p)
	}
}

func TestIdempotency_RepeatBlockedUntilTTL(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	base := time.Now()
	g.now = func() time.Time { return base }

	key := Fingerprint("POST", "/v1/accounts/A/orders", `{"symbol":"SBER@MISX"}`)
	if !g.CheckAndRemember(key) {
		t.Fatal("first write must pass")
	}
	if g.CheckAndRemember(key) {
		t.Fatal("repeat inside TTL must be blocked")
	}

	g.now = func() time.Time { return base.Add(61 * time.Second) }
	if !g.CheckAndRemember(key) {
		t.Error("repeat after TTL must pass")
	}
}

func TestIdempotency_DistinctWritesPass(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	k1 := Fingerprint("POST", "/v1/accounts/A/orders", `{"q":1}`)
	k2 := Fingerprint("POST", "/v1/accounts/A/orders", `{"q":2}`)
	if k1 == k2 {
		t.Fatal("different bodies must fingerprint differently")
	}
	if !g.CheckAndRemember(k1) || !g.CheckAndRemember(k2) {
		t.Error("distinct writes must both pass")
	}
}

func TestAuditor_RingEviction(t *testing.T) {
	a := NewAuditor(3, nil)
	for i := 0; i < 5; i++ {
		a.LogSafety("GET", "/v1/x", "allowed", nil, map[string]any{"i": i})
	}

	recent := a.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].Context["i"] != 2 || recent[2].Context["i"] != 4 {
		t.Errorf("eviction order wrong: %v ... %v", recent[0].Context, recent[2].Context)
	}
}

func TestAuditor_RecentLimit(t *testing.T) {
	a := NewAuditor(10, nil)
	for i := 0; i < 6; i++ {
		a.LogSafety("GET", "/v1/x", "allowed", nil, map[string]any{"i": i})
	}
	recent := a.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[1].Context["i"] != 5 {
		t.Errorf("last record = %v", recent[1].Context)
	}
}

func TestJSONLSink_AppendsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	a := NewAuditor(10, nil, NewJSONLSink(path))

	a.LogSafety("POST", "/v1/accounts/A/orders", "blocked", []string{"Order quantity exceeds max policy limit"}, nil)
	a.LogSafety("GET", "/v1/assets", "allowed", nil, nil)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := 0
	for _, b := range raw {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}

func TestSanityChecks_Warnings(t *testing.T) {
	order := map[string]any{
		"symbol":   "SBER@MISX",
		"side":     "SIDE_BUY",
		"type":     "ORDER_TYPE_LIMIT",
		"quantity": map[string]any{"value": "10"},
		"limit_price": map[string]any{"value": "320.00"},
	}
	review := SanityChecks(BuildOrderReview(order), 300.0)
	if len(review.Warnings) != 1 {
		t.Fatalf("warnings = %v", review.Warnings)
	}
	if review.Warnings[0] != "Limit buy price > 2% above last trade" {
		t.Errorf("warning = %q", review.Warnings[0])
	}
}

func TestSanityChecks_LimitWithoutPrice(t *testing.T) {
	order := map[string]any{
		"symbol":   "SBER@MISX",
		"side":     "SIDE_SELL",
		"type":     "ORDER_TYPE_LIMIT",
		"quantity": 0,
	}
	review := SanityChecks(BuildOrderReview(order), 0)
	want := map[string]bool{
		"Quantity is not positive":       true,
		"Limit-like order without price": true,
	}
	if len(review.Warnings) != 2 {
		t.Fatalf("warnings = %v", review.Warnings)
	}
	for _, w := range review.Warnings {
		if !want[w] {
			t.Errorf("unexpected warning %q", w)
		}
	}
}

func TestSanityChecks_CleanOrder(t *testing.T) {
	order := map[string]any{
		"symbol":      "SBER@MISX",
		"side":        "SIDE_BUY",
		"type":        "ORDER_TYPE_MARKET",
		"quantity":    map[string]any{"value": "10"},
	}
	review := SanityChecks(BuildOrderReview(order), 300.0)
	if len(review.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", review.Warnings)
	}
}
