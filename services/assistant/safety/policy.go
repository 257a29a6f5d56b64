// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety holds the execution-side guardrails: the declarative
// policy, the idempotency guard for writes, the audit trail, and order
// sanity review. Nothing here talks to the network except the optional
// audit sinks.
package safety

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Policy
// =============================================================================

// Policy is the declarative execution policy.
type Policy struct {
	// AllowedMethods whitelists HTTP methods outright.
	AllowedMethods []string `json:"allowed_methods"`

	// ConfirmMethods require explicit user confirmation before execution.
	ConfirmMethods []string `json:"confirm_methods"`

	// AllowedMarkets whitelists market suffixes (the part after @).
	AllowedMarkets []string `json:"allowed_markets"`

	// MaxOrderQuantity caps order size.
	MaxOrderQuantity int `json:"max_order_quantity"`
}

// DefaultPolicy returns the shipped guardrails.
func DefaultPolicy() Policy {
	return Policy{
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		ConfirmMethods:   []string{"POST", "DELETE"},
		AllowedMarkets:   []string{"MISX", "FORTS", "RTSX", "XNGS", "SPBEX"},
		MaxOrderQuantity: 10000,
	}
}

// LoadPolicy reads the policy JSON from path, falling back to the
// APP_SAFETY_POLICY_JSON env var when path is empty, then to defaults.
// A broken policy file degrades to defaults with a warning: a typo in ops
// config must not silently disable trading entirely nor open the gates.
func LoadPolicy(path string, logger *slog.Logger) Policy {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = os.Getenv("APP_SAFETY_POLICY_JSON")
	}
	if path == "" {
		return DefaultPolicy()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("safety: cannot read policy file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return DefaultPolicy()
	}
	policy := DefaultPolicy()
	if err := json.Unmarshal(raw, &policy); err != nil {
		logger.Warn("safety: cannot parse policy file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return DefaultPolicy()
	}
	logger.Info("safety: policy loaded", slog.String("path", path))
	return policy
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed         bool
	RequiresConfirm bool

	// Reasons lists every violated rule, not just the first: the user gets
	// one complete refusal instead of a violation drip.
	Reasons []string
}

var instrumentPathRe = regexp.MustCompile(`instruments/([^/]+)/`)

// Evaluate applies the policy to a resolved request.
//
// Inputs:
//   - method: HTTP method, upper case expected but normalized anyway.
//   - path: Resolved API path.
//   - body: Optional JSON body (order placement).
//
// A disallowed method short-circuits: nothing else about the request
// matters when the verb itself is banned.
func (p Policy) Evaluate(method, path string, body map[string]any) Decision {
	m := strings.ToUpper(method)
	if !contains(p.AllowedMethods, m) {
		return Decision{Reasons: []string{"Method not allowed"}}
	}

	d := Decision{RequiresConfirm: contains(p.ConfirmMethods, m)}

	if market := marketOf(path, body); market != "" && !contains(p.AllowedMarkets, market) {
		d.Reasons = append(d.Reasons, fmt.Sprintf("Market %s not in allowlist", market))
	}

	if m == "POST" && body != nil {
		if qty, ok := quantityOf(body); ok && qty > p.MaxOrderQuantity {
			d.Reasons = append(d.Reasons, "Order quantity exceeds max policy limit")
		}
	}

	d.Allowed = len(d.Reasons) == 0
	return d
}

// marketOf extracts the market suffix from an instrument path segment or,
// failing that, from the body's symbol/instrument field.
func marketOf(path string, body map[string]any) string {
	if m := instrumentPathRe.FindStringSubmatch(path); m != nil {
		if _, market, ok := strings.Cut(m[1], "@"); ok {
			return market
		}
	}
	if body != nil {
		for _, key := range []string{"instrument", "symbol"} {
			if s, ok := body[key].(string); ok {
				if _, market, found := strings.Cut(s, "@"); found {
					return market
				}
			}
		}
	}
	return ""
}

// quantityOf handles both the flat {"quantity": 10} shape and the broker's
// wrapped {"quantity": {"value": "10"}} shape.
func quantityOf(body map[string]any) (int, bool) {
	raw, ok := body["quantity"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			n, err := strconv.Atoi(s)
			return n, err == nil
		}
		if f, ok := v["value"].(float64); ok {
			return int(f), true
		}
	}
	return 0, false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
