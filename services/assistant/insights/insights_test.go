// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/router"
)

// stubExecutor serves canned replies keyed by path suffix.
type stubExecutor struct {
	quote router.Response
	book  router.Response
	err   error
}

func (s *stubExecutor) Execute(_ context.Context, req registry.ToolRequest) (router.Response, error) {
	if s.err != nil {
		return router.Response{}, s.err
	}
	if strings.HasSuffix(req.Path, "/orderbook") {
		return s.book, nil
	}
	return s.quote, nil
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

func TestCompute_SpreadAndImpact(t *testing.T) {
	exec := &stubExecutor{
		quote: router.Response{StatusCode: 200, Data: map[string]any{
			"last": "100.00", "turnover": "1000000",
		}},
		book: router.Response{StatusCode: 200, Data: map[string]any{
			"bids": []any{map[string]any{"price": "99.90", "size": "50"}},
			"asks": []any{
				map[string]any{"price": "100.10", "size": "5"},
				map[string]any{"price": "100.20", "size": "100"},
			},
		}},
	}

	in := Compute(context.Background(), exec, "SBER@MISX")
	if !in.HasSpread || !approx(in.Spread, 0.2) {
		t.Errorf("spread = %+v", in)
	}
	if !approx(in.SpreadBps, 0.2/100.0*10000) {
		t.Errorf("spread_bps = %f", in.SpreadBps)
	}
	if !in.HasLast || in.LastPrice != 100.0 {
		t.Errorf("last = %+v", in)
	}
	// target notional is 1000, level one holds 5*100.10, remainder
	// completes on the second level
	if !in.HasImpact || in.ImpactPrice != 100.20 {
		t.Errorf("impact = %+v", in)
	}
}

func TestCompute_NestedQuoteAndRows(t *testing.T) {
	exec := &stubExecutor{
		quote: router.Response{StatusCode: 200, Data: map[string]any{
			"symbol": "SBER@MISX",
			"quote":  map[string]any{"last": "309.90"},
		}},
		book: router.Response{StatusCode: 200, Data: map[string]any{
			"orderbook": map[string]any{"rows": []any{
				map[string]any{"price": "309.85", "buy_size": "100"},
				map[string]any{"price": "309.95", "sell_size": "80"},
			}},
		}},
	}

	in := Compute(context.Background(), exec, "SBER@MISX")
	if !in.HasLast || in.LastPrice != 309.90 {
		t.Errorf("last = %+v", in)
	}
	if !in.HasSpread || !approx(in.Spread, 0.1) {
		t.Errorf("spread = %+v", in)
	}
	if in.BestBidSize != 100 || in.BestAskSize != 80 {
		t.Errorf("sizes = %+v", in)
	}
	if in.HasImpact {
		t.Error("no turnover means no impact estimate")
	}
}

func TestCompute_UpstreamFailureDegradesSilently(t *testing.T) {
	in := Compute(context.Background(), &stubExecutor{err: errors.New("down")}, "SBER@MISX")
	if in.Symbol != "SBER@MISX" {
		t.Errorf("symbol = %q", in.Symbol)
	}
	if in.HasSpread || in.HasLast || in.HasImpact {
		t.Errorf("no metrics expected: %+v", in)
	}
}

func TestCompute_ErrorReplyIgnored(t *testing.T) {
	exec := &stubExecutor{
		quote: router.Response{StatusCode: 404, Data: map[string]any{"error": "not found"}},
		book:  router.Response{StatusCode: 404, Data: map[string]any{"error": "not found"}},
	}
	in := Compute(context.Background(), exec, "NOPE@MISX")
	if in.HasSpread || in.HasLast {
		t.Errorf("error replies must not produce metrics: %+v", in)
	}
}

func TestImpactPrice_InsufficientDepth(t *testing.T) {
	asks := []Level{{Price: 100, Size: 1}, {Price: 101, Size: 1}, {Price: 102, Size: 1}}
	if _, ok := impactPrice(asks, 10000); ok {
		t.Error("top three levels cannot fill the notional")
	}
}

func TestExtractSymbol(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"цена SBER@MISX сейчас", "SBER@MISX"},
		{"GET /v1/instruments/GAZP@MISX/orderbook", "GAZP@MISX"},
		{"просто текст без тикера", ""},
	}
	for _, tt := range tests {
		if got := ExtractSymbol(tt.text); got != tt.want {
			t.Errorf("ExtractSymbol(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestSuggest_WideSpreadBuy(t *testing.T) {
	in := Insights{HasSpread: true, SpreadBps: 35, HasLast: true, LastPrice: 100, BestAskSize: 500}
	s := Suggest(in, "buy")
	for _, want := range []string{"широкий спрэд", "для покупки", "лимит участия", "TIF"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in %q", want, s)
		}
	}
}

func TestSuggest_NoMetricsStillGivesTIF(t *testing.T) {
	s := Suggest(Insights{}, "")
	if !strings.Contains(s, "TIF") {
		t.Errorf("suggestion = %q", s)
	}
	if strings.Contains(s, "спрэд") {
		t.Errorf("no spread metric, no spread advice: %q", s)
	}
}

func TestSlicing_TWAPEqualWeights(t *testing.T) {
	p := Slicing(1000, 30, "twap")
	if p.Profile != "TWAP" || p.Steps != 6 {
		t.Fatalf("profile = %+v", p)
	}
	for i, v := range p.Schedule {
		if !approx(v, 1000.0/6.0) {
			t.Errorf("step %d = %f", i, v)
		}
	}
}

func TestSlicing_POVFrontLoads(t *testing.T) {
	p := Slicing(1000, 15, "POV")
	if p.Steps != 3 {
		t.Fatalf("steps = %d", p.Steps)
	}
	if !approx(p.Schedule[0], 400) || !approx(p.Schedule[1], 300) || !approx(p.Schedule[2], 300) {
		t.Errorf("schedule = %v", p.Schedule)
	}
}

func TestSlicing_ShortDurationSingleStep(t *testing.T) {
	p := Slicing(500, 3, "")
	if p.Steps != 1 || !approx(p.Schedule[0], 500) {
		t.Errorf("profile = %+v", p)
	}
}
