// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"regexp"
	"strings"
	"time"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/extract"
)

// nowFunc is swapped by tests that pin the clock.
var nowFunc = func() time.Time { return time.Now().UTC() }

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// barsDefaultDays is the lookback injected when a bars path omits its
// interval.
const barsDefaultDays = 7

// FindPlaceholders lists the {field} tokens left in path, in order.
func FindPlaceholders(path string) []string {
	matches := placeholderRe.FindAllStringSubmatch(path, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// SubstitutePlaceholders fills {field} tokens from params and reports the
// ones it could not fill. Unfilled tokens stay in the path verbatim so the
// caller can show them back to the user.
func SubstitutePlaceholders(path string, params map[string]string) (string, []string) {
	var missing []string
	filled := placeholderRe.ReplaceAllStringFunc(path, func(token string) string {
		key := token[1 : len(token)-1]
		if v := params[key]; v != "" {
			return v
		}
		missing = append(missing, key)
		return token
	})
	return filled, missing
}

// NormalizeSymbolsInPath repairs two chronic model mistakes: instrument
// symbols without a market suffix, and bars paths without timeframe or
// interval parameters.
//
// Description:
//
//	/v1/instruments/{symbol}/... gets the symbol passed through
//	InferMarketSymbol. A /bars path missing timeframe or interval bounds is
//	backfilled with the daily timeframe and the last week, the shape the
//	broker requires for a non-empty reply.
func NormalizeSymbolsInPath(path string) string {
	base, query, hasQuery := strings.Cut(path, "?")

	parts := strings.Split(strings.Trim(base, "/"), "/")
	for i, part := range parts {
		if part == "instruments" && i+1 < len(parts) {
			parts[i+1] = extract.InferMarketSymbol(parts[i+1])
		}
	}
	base = "/" + strings.Join(parts, "/")

	if strings.HasSuffix(base, "/bars") || strings.Contains(base, "/bars/") {
		var params []string
		if query != "" {
			params = append(params, query)
		}
		if !strings.Contains(query, "timeframe=") {
			params = append(params, "timeframe=TIME_FRAME_D")
		}
		now := nowFunc()
		if !strings.Contains(query, "interval.start_time=") {
			start := now.AddDate(0, 0, -barsDefaultDays).Format("2006-01-02") + "T00:00:00Z"
			params = append(params, "interval.start_time="+start)
		}
		if !strings.Contains(query, "interval.end_time=") {
			params = append(params, "interval.end_time="+now.Format("2006-01-02T15:04:05Z"))
		}
		query = strings.Join(params, "&")
		hasQuery = true
	}

	if hasQuery && query != "" {
		return base + "?" + query
	}
	return base
}
