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
	"log/slog"
	"regexp"
	"strings"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

// =============================================================================
// Deterministic Extractor
// =============================================================================

// Hints carries conversation-level values that outrank anything inferred
// from the utterance text.
type Hints struct {
	Symbol    string
	AccountID string
	OrderID   string
	Timeframe string
	Start     string
	End       string
	Depth     int
	Limit     int
}

// Extractor scores catalog intents against an utterance and builds the
// matching typed request.
//
// Description:
//
//	Intent selection is a weighted lexical score over the live catalog:
//	synonym hits count double, keyword hits single, plus slot-availability
//	boosts (symbol/account presence, order-id presence on order paths, a
//	strong cancel cue for DELETE endpoints, and nudges for schedule/params
//	vocabulary). The best score wins only when strictly greater, so a tie
//	resolves to the earliest declared intent — catalog order is the
//	tie-break policy, not an accident.
//
// Thread Safety: Safe for concurrent use.
type Extractor struct {
	registry *registry.Registry
	symbols  *SymbolResolver
	logger   *slog.Logger
}

// NewExtractor builds a deterministic extractor over the given catalog.
func NewExtractor(reg *registry.Registry, symbols *SymbolResolver, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{registry: reg, symbols: symbols, logger: logger}
}

// Extract returns the structured request for question, or the slot names it
// could not fill.
//
// Outputs:
//   - registry.Request: Non-nil on success.
//   - []string: Missing required slots when the intent matched but could not
//     be built. Empty together with a nil request means no intent matched at
//     all (caller escalates to the model fallback).
func (e *Extractor) Extract(ctx context.Context, question string, hints Hints) (registry.Request, []string) {
	intent := e.matchIntent(ctx, question, hints)
	if intent == "" {
		return nil, nil
	}

	sym := e.symbols.Resolve(ctx, question, hints, false)
	acc := strings.TrimSpace(hints.AccountID)
	if acc == "" {
		acc = inferAccountID(question)
	}
	orderID := strings.TrimSpace(hints.OrderID)
	if orderID == "" {
		orderID = inferOrderID(question)
	}

	timeframe := e.timeframeFor(question, hints)
	start, end := e.intervalFor(intent, question, hints)

	req, missing := buildRequest(intent, sym, acc, orderID, timeframe, start, end, hints)
	if req == nil {
		e.logger.Debug("extract: intent matched but slots missing",
			slog.String("intent", intent),
			slog.Any("missing", missing),
		)
		return nil, missing
	}
	e.logger.Debug("extract: deterministic hit", slog.String("intent", intent))
	return req, nil
}

// matchIntent runs the weighted lexical score over the catalog.
func (e *Extractor) matchIntent(ctx context.Context, question string, hints Hints) string {
	q := strings.ToLower(question)
	trimmed := strings.TrimSpace(q)

	hasSymbol := e.symbols.Resolve(ctx, question, hints, false) != ""
	hasAccount := hints.AccountID != "" || inferAccountID(question) != ""
	hasOrderID := hints.OrderID != "" || inferOrderID(question) != ""
	cancelCue := strings.HasPrefix(trimmed, "delete") || strings.Contains(q, "отмен")

	best := ""
	bestScore := 0
	for _, def := range e.registry.Items() {
		score := 0
		for _, syn := range def.Synonyms {
			if s := strings.ToLower(syn); s != "" && strings.Contains(q, s) {
				score += 2
			}
		}
		for _, kw := range def.Keywords {
			if k := strings.ToLower(kw); k != "" && strings.Contains(q, k) {
				score++
			}
		}

		path := def.Path
		if strings.Contains(path, "{symbol}") || strings.Contains(path, "/instruments/") || strings.Contains(path, "/assets/") {
			if hasSymbol {
				score++
			}
		}
		if (strings.Contains(path, "{account_id}") || strings.Contains(path, "/accounts/")) && hasAccount {
			score++
		}
		if cancelCue && def.Method == "DELETE" {
			score += 2
		}
		if strings.Contains(path, "/orders/") && strings.Contains(path, "{order_id}") && hasOrderID {
			score += 2
		}
		if strings.Contains(path, "/schedule") && (strings.Contains(q, "расписан") || strings.Contains(q, "клиринг")) {
			score++
		}
		if strings.Contains(path, "/params") &&
			(strings.Contains(q, "параметр") || strings.Contains(q, "шаг цены") ||
				strings.Contains(q, "лот") || strings.Contains(q, "ставка риска")) {
			score++
		}

		if score > bestScore {
			bestScore = score
			best = def.Intent
		}
	}
	return best
}

func (e *Extractor) timeframeFor(question string, hints Hints) string {
	if hints.Timeframe != "" {
		return NormalizeTimeframe(hints.Timeframe)
	}
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "днев") || strings.Contains(q, "day") || strings.Contains(q, "день"):
		return "TIME_FRAME_D"
	case strings.Contains(q, "час") || strings.Contains(q, "h1"):
		return "TIME_FRAME_H1"
	}
	return "TIME_FRAME_D"
}

// intervalFor resolves start/end: explicit hints first, then a natural
// period phrase for the interval-bearing intents.
func (e *Extractor) intervalFor(intent, question string, hints Hints) (string, string) {
	start, end := "", ""
	if hints.Start != "" {
		start = NormalizeISO8601(hints.Start)
	}
	if hints.End != "" {
		end = NormalizeISO8601(hints.End)
	}
	if start != "" && end != "" {
		return start, end
	}
	switch intent {
	case "bars", "trades", "transactions":
		if s, ee, ok := ParseDateRange(question); ok {
			if start == "" {
				start = s
			}
			if end == "" {
				end = ee
			}
		}
	}
	return start, end
}

// buildRequest constructs the typed request for intent, reporting missing
// required slots instead of fabricating values.
func buildRequest(intent, sym, acc, orderID, timeframe, start, end string, hints Hints) (registry.Request, []string) {
	switch intent {
	case "quote":
		if sym == "" {
			return nil, []string{"symbol"}
		}
		return QuoteRequest{Symbol: sym}, nil

	case "orderbook":
		if sym == "" {
			return nil, []string{"symbol"}
		}
		return OrderbookRequest{Symbol: sym, Depth: hints.Depth}, nil

	case "bars":
		if sym == "" {
			return nil, []string{"symbol"}
		}
		return BarsRequest{Symbol: sym, Timeframe: timeframe, Start: start, End: end}, nil

	case "trades_latest":
		if sym == "" {
			return nil, []string{"symbol"}
		}
		return TradesLatestRequest{Symbol: sym}, nil

	case "account":
		if acc == "" {
			return nil, []string{"account_id"}
		}
		return AccountRequest{AccountID: acc}, nil

	case "orders_list":
		if acc == "" {
			return nil, []string{"account_id"}
		}
		return OrdersListRequest{AccountID: acc}, nil

	case "order_create":
		// Order details (side, quantity, price) are never inferred
		// lexically; the model-assisted mapper owns this intent.
		missing := []string{"order"}
		if acc == "" {
			missing = append([]string{"account_id"}, missing...)
		}
		return nil, missing

	case "order_get", "order_cancel":
		var missing []string
		if acc == "" {
			missing = append(missing, "account_id")
		}
		if orderID == "" {
			missing = append(missing, "order_id")
		}
		if len(missing) > 0 {
			return nil, missing
		}
		if intent == "order_get" {
			return OrderGetRequest{AccountID: acc, OrderID: orderID}, nil
		}
		return OrderCancelRequest{AccountID: acc, OrderID: orderID}, nil

	case "trades":
		if acc == "" {
			return nil, []string{"account_id"}
		}
		return TradesRequest{AccountID: acc, Start: start, End: end}, nil

	case "transactions":
		if acc == "" {
			return nil, []string{"account_id"}
		}
		return TransactionsRequest{AccountID: acc, Start: start, End: end, Limit: hints.Limit}, nil

	case "asset_info", "asset_schedule", "asset_options":
		if sym == "" {
			return nil, []string{"symbol"}
		}
		return AssetRequest{IntentName: intent, Symbol: sym}, nil

	case "asset_params":
		if sym == "" {
			return nil, []string{"symbol"}
		}
		return AssetRequest{IntentName: intent, Symbol: sym, AccountID: acc}, nil

	case "assets_list", "exchanges_list", "session_create", "session_details", "system_time":
		return StaticRequest{IntentName: intent}, nil
	}
	return nil, nil
}

// =============================================================================
// Identifier Inference
// =============================================================================

var (
	accountFullRe  = regexp.MustCompile(`\b(?:ACC|USR|FIN)-\d{3}-[A-Z]\b`)
	accountAlnumRe = regexp.MustCompile(`\b[A-Z]\d{5,}\b`)
	accountNumRe   = regexp.MustCompile(`\b\d{3,}\b`)
	orderIDRe      = regexp.MustCompile(`\bORD[A-Z0-9-]*\b`)
)

// inferAccountID tries the structured account formats first, then a bare
// numeric id as the weakest fallback.
func inferAccountID(text string) string {
	upper := strings.ToUpper(text)
	if m := accountFullRe.FindString(upper); m != "" {
		return m
	}
	if m := accountAlnumRe.FindString(upper); m != "" {
		return m
	}
	return accountNumRe.FindString(text)
}

// inferOrderID accepts broad Finam-style order ids: ORD123, ORD-ABC-123.
func inferOrderID(text string) string {
	return orderIDRe.FindString(strings.ToUpper(text))
}
