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
	_ "embed"
	"encoding/csv"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliasesYAML []byte

// =============================================================================
// Symbol Resolution
// =============================================================================

// Completer is the minimal model-call surface the extractor needs. The llm
// package satisfies it; tests use stubs.
type Completer interface {
	// Complete sends one user prompt (with optional system preamble) and
	// returns the raw assistant text.
	Complete(ctx context.Context, system, user string) (string, error)
}

// SymbolResolverConfig tunes the resolution strategy chain.
type SymbolResolverConfig struct {
	// AliasesPath overrides the embedded alias table when non-empty.
	AliasesPath string

	// LocalAssetsPath is an optional CSV (name/symbol columns) of known
	// instruments, matched by name substring.
	LocalAssetsPath string

	// Completer enables the model strategy. Nil disables it.
	Completer Completer
}

// SymbolResolver finds an instrument symbol in free text.
//
// Description:
//
//	Strategies run in fixed order: explicit context value, Russian alias
//	table (longest alias first), ticker pattern with a stoplist, local
//	asset CSV, and finally the model when enabled and allowed. Every hit
//	is market-qualified via InferMarketSymbol before returning.
//
// Thread Safety: Safe for concurrent use after construction.
type SymbolResolver struct {
	aliases     map[string]string
	aliasOrder  []string // keys sorted longest-first
	localAssets string
	completer   Completer
	logger      *slog.Logger
}

// NewSymbolResolver builds a resolver. A broken aliases file degrades to the
// pattern-only chain with a warning rather than failing construction.
func NewSymbolResolver(cfg SymbolResolverConfig, logger *slog.Logger) *SymbolResolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SymbolResolver{
		localAssets: cfg.LocalAssetsPath,
		completer:   cfg.Completer,
		logger:      logger,
	}

	raw := defaultAliasesYAML
	if cfg.AliasesPath != "" {
		if b, err := os.ReadFile(cfg.AliasesPath); err == nil {
			raw = b
		} else {
			logger.Warn("symbols: cannot read aliases file, using embedded table",
				slog.String("path", cfg.AliasesPath),
				slog.String("error", err.Error()),
			)
		}
	}
	var doc struct {
		InstrumentAliases map[string]string `yaml:"instrument_aliases"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		logger.Warn("symbols: cannot parse aliases, alias strategy disabled",
			slog.String("error", err.Error()),
		)
	}
	r.aliases = make(map[string]string, len(doc.InstrumentAliases))
	for k, v := range doc.InstrumentAliases {
		r.aliases[strings.ToLower(k)] = v
	}
	r.aliasOrder = make([]string, 0, len(r.aliases))
	for k := range r.aliases {
		r.aliasOrder = append(r.aliasOrder, k)
	}
	sort.Slice(r.aliasOrder, func(i, j int) bool {
		if len(r.aliasOrder[i]) != len(r.aliasOrder[j]) {
			return len(r.aliasOrder[i]) > len(r.aliasOrder[j])
		}
		return r.aliasOrder[i] < r.aliasOrder[j]
	})
	return r
}

// Resolve returns the market-qualified symbol found in text, or "" when no
// strategy fires. allowLLM gates the model strategy so score-only probing
// during intent matching never burns a model call.
func (r *SymbolResolver) Resolve(ctx context.Context, text string, hints Hints, allowLLM bool) string {
	if s := strings.TrimSpace(hints.Symbol); s != "" {
		return InferMarketSymbol(s)
	}
	if s := r.fromAlias(text); s != "" {
		return InferMarketSymbol(s)
	}
	if s := r.fromPattern(text); s != "" {
		return InferMarketSymbol(s)
	}
	if s := r.fromLocalAssets(text); s != "" {
		return InferMarketSymbol(s)
	}
	if allowLLM && r.completer != nil {
		if s := r.fromModel(ctx, text); s != "" {
			return InferMarketSymbol(s)
		}
	}
	return ""
}

var (
	tickerRe     = regexp.MustCompile(`\b([A-Za-z0-9]{2,12}(?:@[A-Za-z]{2,8})?)\b`)
	orderTokenRe = regexp.MustCompile(`^ORD\d+$`)
	digitsRe     = regexp.MustCompile(`^\d{2,4}$`)
	letterRe     = regexp.MustCompile(`[A-Za-z]`)
	modelReplyRe = regexp.MustCompile(`^[A-Z0-9]{2,12}(?:@[A-Z]{2,8})?$`)
)

// symbolStoplist rejects tokens the ticker pattern matches but that are
// never instruments in user text.
var symbolStoplist = map[string]bool{"ISIN": true}

// fromPattern inspects only the first ticker-shaped token. Scanning further
// would promote account fragments and other identifiers into symbols.
func (r *SymbolResolver) fromPattern(text string) string {
	m := tickerRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	token := m[1]
	upper := strings.ToUpper(token)
	if symbolStoplist[upper] {
		return ""
	}
	// order ids and bare numbers (years, quantities) are not tickers
	if orderTokenRe.MatchString(upper) || digitsRe.MatchString(token) {
		return ""
	}
	if !letterRe.MatchString(token) {
		return ""
	}
	return token
}

func (r *SymbolResolver) fromAlias(text string) string {
	low := strings.ToLower(text)
	for _, key := range r.aliasOrder {
		if strings.Contains(low, key) {
			return r.aliases[key]
		}
	}
	return ""
}

func (r *SymbolResolver) fromLocalAssets(text string) string {
	if r.localAssets == "" {
		return ""
	}
	f, err := os.Open(r.localAssets)
	if err != nil {
		return ""
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return ""
	}
	nameIdx, symIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "name", "shortname":
			if nameIdx < 0 {
				nameIdx = i
			}
		case "symbol", "ticker":
			if symIdx < 0 {
				symIdx = i
			}
		}
	}
	if nameIdx < 0 || symIdx < 0 {
		return ""
	}

	low := strings.ToLower(text)
	for {
		row, err := reader.Read()
		if err != nil {
			return ""
		}
		if nameIdx >= len(row) || symIdx >= len(row) {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(row[nameIdx]))
		symbol := strings.TrimSpace(row[symIdx])
		if name != "" && symbol != "" && strings.Contains(low, name) {
			return symbol
		}
	}
}

func (r *SymbolResolver) fromModel(ctx context.Context, text string) string {
	prompt := "Выдели финансовый инструмент из текста. Верни строго тикер (например, SBER или SBER@MISX).\n" +
		"Если явного тикера нет, верни пустую строку.\n\nТекст: " + text
	reply, err := r.completer.Complete(ctx, "", prompt)
	if err != nil {
		r.logger.Debug("symbols: model strategy failed", slog.String("error", err.Error()))
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(reply))
	if len(fields) == 0 {
		return ""
	}
	if modelReplyRe.MatchString(fields[0]) {
		return fields[0]
	}
	return ""
}
