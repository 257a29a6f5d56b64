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
	"os"
	"path/filepath"
	"testing"
)

// stubCompleter returns a canned reply or error.
type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func newTestResolver(t *testing.T, cfg SymbolResolverConfig) *SymbolResolver {
	t.Helper()
	return NewSymbolResolver(cfg, slog.Default())
}

func TestSymbolResolver_HintOutranksEverything(t *testing.T) {
	r := newTestResolver(t, SymbolResolverConfig{})
	got := r.Resolve(context.Background(), "почем сбербанк", Hints{Symbol: "GAZP"}, false)
	if got != "GAZP@MISX" {
		t.Errorf("Resolve = %q, want GAZP@MISX", got)
	}
}

func TestSymbolResolver_AliasBeforePattern(t *testing.T) {
	r := newTestResolver(t, SymbolResolverConfig{})
	// "ISIN" is the first ticker-shaped token but sits in the stoplist;
	// the alias fires instead.
	got := r.Resolve(context.Background(), "найди ISIN сбербанка", Hints{}, false)
	if got != "SBER@MISX" {
		t.Errorf("Resolve = %q, want SBER@MISX", got)
	}
}

func TestSymbolResolver_LongestAliasWins(t *testing.T) {
	r := newTestResolver(t, SymbolResolverConfig{})
	got := r.Resolve(context.Background(), "что с норильский никель", Hints{}, false)
	if got != "GMKN@MISX" {
		t.Errorf("Resolve = %q, want GMKN@MISX", got)
	}
}

func TestSymbolResolver_PatternSkipsOrderIDsAndNumbers(t *testing.T) {
	r := newTestResolver(t, SymbolResolverConfig{})
	if got := r.Resolve(context.Background(), "отмени ORD12345", Hints{}, false); got != "" {
		t.Errorf("order id must not resolve as symbol, got %q", got)
	}
	if got := r.Resolve(context.Background(), "итоги 2025", Hints{}, false); got != "" {
		t.Errorf("bare year must not resolve as symbol, got %q", got)
	}
}

func TestSymbolResolver_PatternPreservesMarket(t *testing.T) {
	r := newTestResolver(t, SymbolResolverConfig{})
	if got := r.Resolve(context.Background(), "котировка YDEX@MISX", Hints{}, false); got != "YDEX@MISX" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestSymbolResolver_LocalAssetsCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "assets.csv")
	content := "name,symbol\nакции аэрофлота особые,AFLT2\n"
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r := newTestResolver(t, SymbolResolverConfig{LocalAssetsPath: csvPath})
	got := r.Resolve(context.Background(), "купить акции аэрофлота особые", Hints{}, false)
	// the embedded "аэрофлот" alias is shorter than the CSV name but runs first
	if got != "AFLT@MISX" {
		t.Errorf("Resolve = %q, want AFLT@MISX (alias strategy precedes CSV)", got)
	}
}

func TestSymbolResolver_ModelGatedByAllowLLM(t *testing.T) {
	stub := &stubCompleter{reply: "PLZL"}
	r := newTestResolver(t, SymbolResolverConfig{Completer: stub})

	if got := r.Resolve(context.Background(), "что по золотодобытчику", Hints{}, false); got != "" {
		t.Errorf("model must not run with allowLLM=false, got %q", got)
	}
	if stub.calls != 0 {
		t.Fatalf("model called %d times with allowLLM=false", stub.calls)
	}

	got := r.Resolve(context.Background(), "что по золотодобытчику", Hints{}, true)
	if got != "PLZL@MISX" {
		t.Errorf("Resolve = %q, want PLZL@MISX", got)
	}
}

func TestSymbolResolver_ModelErrorIsSilent(t *testing.T) {
	stub := &stubCompleter{err: errors.New("boom")}
	r := newTestResolver(t, SymbolResolverConfig{Completer: stub})
	if got := r.Resolve(context.Background(), "что по золотодобытчику", Hints{}, true); got != "" {
		t.Errorf("model error must yield empty result, got %q", got)
	}
}

func TestSymbolResolver_ModelGarbageRejected(t *testing.T) {
	stub := &stubCompleter{reply: "не знаю, возможно Сбер?"}
	r := newTestResolver(t, SymbolResolverConfig{Completer: stub})
	if got := r.Resolve(context.Background(), "что по банку", Hints{}, true); got != "" {
		t.Errorf("free-text model reply must be rejected, got %q", got)
	}
}
