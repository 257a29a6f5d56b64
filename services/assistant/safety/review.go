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
	"strconv"
	"strings"
)

// =============================================================================
// Order Review
// =============================================================================

// OrderReview summarizes an order body for the confirmation prompt, with
// advisory warnings. Warnings never block execution — the policy does that;
// these exist so the human confirming the order sees what is odd about it.
type OrderReview struct {
	Symbol      string
	Side        string
	OrderType   string
	Quantity    int
	Price       float64
	HasPrice    bool
	StopPrice   float64
	HasStop     bool
	TimeInForce string
	Warnings    []string
}

// BuildOrderReview extracts the review fields from an order body, accepting
// both flat values and the broker's {"value": "..."} wrappers.
func BuildOrderReview(order map[string]any) OrderReview {
	r := OrderReview{
		Side:        asString(order["side"]),
		OrderType:   asString(order["type"]),
		TimeInForce: asString(order["time_in_force"]),
	}
	r.Symbol = asString(order["symbol"])
	if r.Symbol == "" {
		r.Symbol = asString(order["instrument"])
	}
	if q, ok := asFloat(order["quantity"]); ok {
		r.Quantity = int(q)
	}
	if p, ok := asFloat(firstNonNil(order["limit_price"], order["price"])); ok {
		r.Price, r.HasPrice = p, true
	}
	if sp, ok := asFloat(order["stop_price"]); ok {
		r.StopPrice, r.HasStop = sp, true
	}
	return r
}

// SanityChecks fills the review's warnings. lastPrice <= 0 skips the price
// distance checks.
func SanityChecks(r OrderReview, lastPrice float64) OrderReview {
	var warnings []string
	if r.Quantity <= 0 {
		warnings = append(warnings, "Quantity is not positive")
	}

	kind := strings.ToLower(r.OrderType)
	limitLike := strings.Contains(kind, "limit")
	stopLike := strings.Contains(kind, "stop")
	if limitLike && !r.HasPrice {
		warnings = append(warnings, "Limit-like order without price")
	}
	if stopLike && !r.HasStop {
		warnings = append(warnings, "Stop order without stop_price")
	}

	if lastPrice > 0 && r.HasPrice {
		side := strings.ToLower(r.Side)
		buy := side == "buy" || strings.HasSuffix(side, "_buy")
		sell := side == "sell" || strings.HasSuffix(side, "_sell")
		if buy && r.Price > lastPrice*1.02 {
			warnings = append(warnings, "Limit buy price > 2% above last trade")
		}
		if sell && r.Price < lastPrice*0.98 {
			warnings = append(warnings, "Limit sell price < 2% below last trade")
		}
	}
	r.Warnings = warnings
	return r
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat unwraps numbers, numeric strings, and {"value": "..."} objects.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case map[string]any:
		return asFloat(x["value"])
	}
	return 0, false
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
