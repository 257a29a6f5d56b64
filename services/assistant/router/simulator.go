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
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// In-Process Simulator Backend
//
// Serves deterministic synthetic data shaped like real TradeAPI replies.
// Prices derive from a hash of the symbol, so the same question always gets
// the same answer — demos, offline development, and the end-to-end tests all
// run without credentials or network.
// =============================================================================

var (
	simQuoteRe     = regexp.MustCompile(`^/v1/instruments/([^/]+)/quotes/latest$`)
	simOrderbookRe = regexp.MustCompile(`^/v1/instruments/([^/]+)/orderbook$`)
	simBarsRe      = regexp.MustCompile(`^/v1/instruments/([^/]+)/bars$`)
	simTapeRe      = regexp.MustCompile(`^/v1/instruments/([^/]+)/trades/latest$`)
	simAccountRe   = regexp.MustCompile(`^/v1/accounts/([^/]+)$`)
	simOrdersRe    = regexp.MustCompile(`^/v1/accounts/([^/]+)/orders$`)
	simOrderRe     = regexp.MustCompile(`^/v1/accounts/([^/]+)/orders/([^/]+)$`)
	simTradesRe    = regexp.MustCompile(`^/v1/accounts/([^/]+)/trades$`)
	simTxRe        = regexp.MustCompile(`^/v1/accounts/([^/]+)/transactions$`)
	simAssetRe     = regexp.MustCompile(`^/v1/assets/([^/]+)$`)
	simAssetSubRe  = regexp.MustCompile(`^/v1/assets/([^/]+)/(params|schedule|options)$`)
)

// Simulator is the offline Backend.
//
// Thread Safety: Safe for concurrent use. All state is derived per call.
type Simulator struct {
	now func() time.Time
}

// NewSimulator builds the offline backend.
func NewSimulator() *Simulator {
	return &Simulator{now: time.Now}
}

// Name implements Backend.
func (s *Simulator) Name() string { return "simulator" }

// Execute implements Backend. Unknown paths return the 404 error convention
// rather than a Go error, mirroring how the live API misbehaves.
func (s *Simulator) Execute(_ context.Context, method, path string, query url.Values, body map[string]any) (Response, error) {
	switch {
	case method == http.MethodGet && simQuoteRe.MatchString(path):
		sym := simQuoteRe.FindStringSubmatch(path)[1]
		return s.ok(s.quote(sym)), nil

	case method == http.MethodGet && simOrderbookRe.MatchString(path):
		sym := simOrderbookRe.FindStringSubmatch(path)[1]
		depth := 10
		if d, err := strconv.Atoi(query.Get("depth")); err == nil && d > 0 {
			depth = d
		}
		return s.ok(s.orderbook(sym, depth)), nil

	case method == http.MethodGet && simBarsRe.MatchString(path):
		sym := simBarsRe.FindStringSubmatch(path)[1]
		return s.ok(s.bars(sym, query.Get("timeframe"))), nil

	case method == http.MethodGet && simTapeRe.MatchString(path):
		sym := simTapeRe.FindStringSubmatch(path)[1]
		return s.ok(s.tape(sym)), nil

	case method == http.MethodGet && simAccountRe.MatchString(path):
		acc := simAccountRe.FindStringSubmatch(path)[1]
		return s.ok(s.account(acc)), nil

	case method == http.MethodGet && simOrdersRe.MatchString(path):
		acc := simOrdersRe.FindStringSubmatch(path)[1]
		return s.ok(map[string]any{"orders": []any{s.order(acc, "ORD1001", "NEW")}}), nil

	case method == http.MethodPost && simOrdersRe.MatchString(path):
		acc := simOrdersRe.FindStringSubmatch(path)[1]
		id := fmt.Sprintf("ORD%d", hashOf(fmt.Sprint(body))%90000+10000)
		created := s.order(acc, id, "NEW")
		for k, v := range body {
			if k != "client_order_id" {
				created[k] = v
			}
		}
		return s.ok(created), nil

	case method == http.MethodGet && simOrderRe.MatchString(path):
		m := simOrderRe.FindStringSubmatch(path)
		return s.ok(s.order(m[1], m[2], "FILLED")), nil

	case method == http.MethodDelete && simOrderRe.MatchString(path):
		return s.ok(map[string]any{"status": "success", "message": "Operation completed"}), nil

	case method == http.MethodGet && simTradesRe.MatchString(path):
		acc := simTradesRe.FindStringSubmatch(path)[1]
		return s.ok(map[string]any{"trades": []any{
			map[string]any{"account_id": acc, "symbol": "SBER@MISX", "price": "309.80", "size": "10"},
		}}), nil

	case method == http.MethodGet && simTxRe.MatchString(path):
		acc := simTxRe.FindStringSubmatch(path)[1]
		return s.ok(map[string]any{"transactions": []any{
			map[string]any{"account_id": acc, "category": "COMMISSION", "change": "-12.50"},
		}}), nil

	case method == http.MethodGet && path == "/v1/assets":
		return s.ok(map[string]any{"assets": []any{
			map[string]any{"symbol": "SBER@MISX", "name": "Сбербанк"},
			map[string]any{"symbol": "GAZP@MISX", "name": "Газпром"},
			map[string]any{"symbol": "YDEX@MISX", "name": "Яндекс"},
		}}), nil

	case method == http.MethodGet && simAssetSubRe.MatchString(path):
		m := simAssetSubRe.FindStringSubmatch(path)
		return s.ok(s.assetSub(m[1], m[2])), nil

	case method == http.MethodGet && simAssetRe.MatchString(path):
		sym := simAssetRe.FindStringSubmatch(path)[1]
		return s.ok(map[string]any{"symbol": sym, "name": "Инструмент " + sym, "type": "EQUITIES", "lot_size": "10"}), nil

	case method == http.MethodGet && path == "/v1/exchanges":
		return s.ok(map[string]any{"exchanges": []any{
			map[string]any{"mic": "MISX", "name": "Московская Биржа"},
			map[string]any{"mic": "RTSX", "name": "Срочный рынок"},
		}}), nil

	case method == http.MethodPost && path == "/v1/sessions":
		return s.ok(map[string]any{"token": "sim-jwt-token"}), nil

	case method == http.MethodPost && path == "/v1/sessions/details":
		return s.ok(map[string]any{
			"created_at": s.now().UTC().Format(time.RFC3339),
			"expires_at": s.now().Add(15 * time.Minute).UTC().Format(time.RFC3339),
		}), nil

	case method == http.MethodGet && path == "/v1/system/time":
		return s.ok(map[string]any{"timestamp": s.now().UTC().Format(time.RFC3339)}), nil
	}

	return Response{
		StatusCode: http.StatusNotFound,
		Data: map[string]any{
			"error":       fmt.Sprintf("%s %s: not found", method, path),
			"status_code": http.StatusNotFound,
		},
	}, nil
}

func (s *Simulator) ok(data map[string]any) Response {
	return Response{StatusCode: http.StatusOK, Data: data}
}

// hashOf gives a stable small number per input.
func hashOf(input string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(input))
	return h.Sum32()
}

// basePrice maps a symbol to a stable price in [100.00, 1000.00).
func basePrice(symbol string) float64 {
	return 100 + float64(hashOf(symbol)%90000)/100
}

func fmtPrice(p float64) string { return strconv.FormatFloat(p, 'f', 2, 64) }

func (s *Simulator) quote(symbol string) map[string]any {
	p := basePrice(symbol)
	return map[string]any{
		"symbol": symbol,
		"quote": map[string]any{
			"last":   fmtPrice(p),
			"bid":    fmtPrice(p - 0.05),
			"ask":    fmtPrice(p + 0.05),
			"volume": strconv.Itoa(int(hashOf(symbol)%1000000) + 1000),
		},
	}
}

func (s *Simulator) orderbook(symbol string, depth int) map[string]any {
	p := basePrice(symbol)
	rows := make([]any, 0, depth*2)
	for i := 0; i < depth; i++ {
		rows = append(rows,
			map[string]any{"price": fmtPrice(p - 0.05*float64(i+1)), "buy_size": strconv.Itoa(100 * (i + 1))},
			map[string]any{"price": fmtPrice(p + 0.05*float64(i+1)), "sell_size": strconv.Itoa(80 * (i + 1))},
		)
	}
	return map[string]any{"symbol": symbol, "orderbook": map[string]any{"rows": rows}}
}

func (s *Simulator) bars(symbol, timeframe string) map[string]any {
	if timeframe == "" {
		timeframe = "TIME_FRAME_D"
	}
	p := basePrice(symbol)
	bars := make([]any, 0, 5)
	day := s.now().UTC().Truncate(24 * time.Hour)
	for i := 4; i >= 0; i-- {
		drift := float64(i) * 0.4
		bars = append(bars, map[string]any{
			"timestamp": day.AddDate(0, 0, -i).Format(time.RFC3339),
			"open":      fmtPrice(p - drift),
			"high":      fmtPrice(p - drift + 1.2),
			"low":       fmtPrice(p - drift - 1.1),
			"close":     fmtPrice(p - drift + 0.3),
			"volume":    strconv.Itoa(int(hashOf(symbol)%10000)*(i+1) + 500),
		})
	}
	return map[string]any{"symbol": symbol, "timeframe": timeframe, "bars": bars}
}

func (s *Simulator) tape(symbol string) map[string]any {
	p := basePrice(symbol)
	return map[string]any{"symbol": symbol, "trades": []any{
		map[string]any{"price": fmtPrice(p), "size": "5", "side": "SIDE_BUY"},
		map[string]any{"price": fmtPrice(p - 0.05), "size": "3", "side": "SIDE_SELL"},
	}}
}

func (s *Simulator) account(accountID string) map[string]any {
	return map[string]any{
		"account_id": accountID,
		"type":       "UNION",
		"equity":     map[string]any{"value": "1000000.00"},
		"positions": []any{
			map[string]any{"symbol": "SBER@MISX", "quantity": map[string]any{"value": "100"}},
		},
	}
}

func (s *Simulator) order(accountID, orderID, status string) map[string]any {
	return map[string]any{
		"order_id":   orderID,
		"account_id": accountID,
		"status":     "ORDER_STATUS_" + status,
		"symbol":     "SBER@MISX",
	}
}

func (s *Simulator) assetSub(symbol, kind string) map[string]any {
	switch kind {
	case "params":
		return map[string]any{
			"symbol":        symbol,
			"tradeable":     true,
			"lot_size":      "10",
			"min_step":      "0.01",
			"long_risk_ate": map[string]any{"value": "100.0"},
		}
	case "schedule":
		return map[string]any{"symbol": symbol, "sessions": []any{
			map[string]any{"type": "CORE_TRADING", "interval": map[string]any{
				"start_time": "07:00:00Z", "end_time": "15:39:59Z",
			}},
		}}
	default: // options
		return map[string]any{"symbol": symbol, "options": []any{
			map[string]any{"symbol": symbol + "-C-310", "type": "TYPE_CALL", "strike": map[string]any{"value": "310"}},
		}}
	}
}
