// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insights derives lightweight market microstructure metrics from a
// quote and an orderbook snapshot. Everything here is best-effort decoration:
// missing or malformed upstream data degrades to absent fields, never to an
// error that would fail the request that triggered the lookup.
package insights

import (
	"context"
	"regexp"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/router"
)

// Executor runs resolved tool requests. *router.Router satisfies it.
type Executor interface {
	Execute(ctx context.Context, req registry.ToolRequest) (router.Response, error)
}

// impactLevels caps how deep the impact estimate walks into the book.
const impactLevels = 3

// turnoverFraction sizes the impact probe as a share of daily turnover.
const turnoverFraction = 0.001

var symbolInTextRe = regexp.MustCompile(`([A-Z0-9_.-]+@[A-Z]+)`)

// ExtractSymbol returns the first TICKER@MIC token in text, or "".
func ExtractSymbol(text string) string {
	return symbolInTextRe.FindString(text)
}

// Level is one side-agnostic orderbook row.
type Level struct {
	Price float64
	Size  float64
}

// Insights summarizes the current microstructure of one instrument.
//
// Description:
//
//	Optional metrics carry a Has* flag instead of a pointer so callers can
//	range over the struct without nil checks. A zero Insights with only
//	Symbol set means both upstream fetches failed.
type Insights struct {
	Symbol string `json:"symbol"`

	Spread      float64 `json:"spread,omitempty"`
	SpreadBps   float64 `json:"spread_bps,omitempty"`
	BestBidSize float64 `json:"best_bid_size,omitempty"`
	BestAskSize float64 `json:"best_ask_size,omitempty"`
	HasSpread   bool    `json:"-"`

	LastPrice float64 `json:"last_price,omitempty"`
	HasLast   bool    `json:"-"`

	// ImpactPrice estimates where a turnover-proportional market buy
	// would complete, walking the top ask levels.
	ImpactPrice float64 `json:"impact_px,omitempty"`
	HasImpact   bool    `json:"-"`
}

// Compute fetches the latest quote and orderbook concurrently and reduces
// them to Insights.
//
// Inputs:
//   - exec: The tool router (or a test stub).
//   - symbol: Full TICKER@MIC identifier.
//
// Outputs:
//   - Insights: Whatever could be derived; never an error.
func Compute(ctx context.Context, exec Executor, symbol string) Insights {
	out := Insights{Symbol: symbol}

	var quoteResp, bookResp router.Response
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := exec.Execute(gctx, registry.ToolRequest{
			Method: "GET",
			Path:   "/v1/instruments/" + symbol + "/quotes/latest",
		})
		if err == nil && !resp.IsError() {
			quoteResp = resp
		}
		return nil
	})
	g.Go(func() error {
		resp, err := exec.Execute(gctx, registry.ToolRequest{
			Method: "GET",
			Path:   "/v1/instruments/" + symbol + "/orderbook",
		})
		if err == nil && !resp.IsError() {
			bookResp = resp
		}
		return nil
	})
	_ = g.Wait()

	last, hasLast, turnover := parseQuote(quoteResp.Data)
	out.LastPrice, out.HasLast = last, hasLast

	bids, asks := parseBook(bookResp.Data)
	if len(bids) > 0 && len(asks) > 0 {
		spread := asks[0].Price - bids[0].Price
		mid := (asks[0].Price + bids[0].Price) / 2
		out.Spread = spread
		out.HasSpread = true
		if mid != 0 {
			out.SpreadBps = spread / mid * 10000
		}
		out.BestBidSize = bids[0].Size
		out.BestAskSize = asks[0].Size
	}

	if px, ok := impactPrice(asks, turnover*turnoverFraction); ok {
		out.ImpactPrice = px
		out.HasImpact = true
	}
	return out
}

// impactPrice walks the top ask levels until targetNotional is filled and
// returns the price of the completing level.
func impactPrice(asks []Level, targetNotional float64) (float64, bool) {
	if targetNotional <= 0 {
		return 0, false
	}
	spent := 0.0
	limit := len(asks)
	if limit > impactLevels {
		limit = impactLevels
	}
	for _, level := range asks[:limit] {
		if level.Price <= 0 || level.Size <= 0 {
			continue
		}
		vol := (targetNotional - spent) / level.Price
		if vol > level.Size {
			vol = level.Size
		}
		spent += vol * level.Price
		if spent >= targetNotional {
			return level.Price, true
		}
	}
	return 0, false
}

// parseQuote digs last price and turnover out of a quote reply. The live
// API nests the quote under "quote"; older shapes are flat.
func parseQuote(data map[string]any) (last float64, hasLast bool, turnover float64) {
	if data == nil {
		return 0, false, 0
	}
	fields := data
	if nested, ok := data["quote"].(map[string]any); ok {
		fields = nested
	}
	if v, ok := asFloat(fields["last"]); ok {
		last, hasLast = v, true
	}
	turnover, _ = asFloat(fields["turnover"])
	return last, hasLast, turnover
}

// parseBook splits an orderbook reply into bid and ask ladders. Explicit
// bids/asks arrays win; the mixed "rows" shape is split by the side-specific
// size key each row carries.
func parseBook(data map[string]any) (bids, asks []Level) {
	if data == nil {
		return nil, nil
	}
	fields := data
	if nested, ok := data["orderbook"].(map[string]any); ok {
		fields = nested
	}

	if raw, ok := fields["bids"].([]any); ok {
		bids = parseLevels(raw, "buy_size")
	}
	if raw, ok := fields["asks"].([]any); ok {
		asks = parseLevels(raw, "sell_size")
	}
	if bids != nil || asks != nil {
		return bids, asks
	}

	rows, ok := fields["rows"].([]any)
	if !ok {
		return nil, nil
	}
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		price, ok := asFloat(firstOf(row, "price", "p"))
		if !ok {
			continue
		}
		if sz, ok := asFloat(row["buy_size"]); ok {
			bids = append(bids, Level{Price: price, Size: sz})
		} else if sz, ok := asFloat(row["sell_size"]); ok {
			asks = append(asks, Level{Price: price, Size: sz})
		}
	}
	return bids, asks
}

func parseLevels(raw []any, sideSizeKey string) []Level {
	levels := make([]Level, 0, len(raw))
	for _, r := range raw {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		price, ok := asFloat(firstOf(row, "price", "bid", "ask", "p"))
		if !ok {
			continue
		}
		size, _ := asFloat(firstOf(row, "size", sideSizeKey))
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels
}

func firstOf(row map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case map[string]any:
		return asFloat(t["value"])
	default:
		return 0, false
	}
}
