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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
	badgerstore "github.com/aeshef/Finam-AI-Chat/services/assistant/storage/badger"
)

// =============================================================================
// Model-Assisted Fallback
//
// Covers only the intents where free-text phrasing routinely defeats the
// lexical scorer. Everything else either extracts deterministically or goes
// through the full mapping layer. Model failures are silent: the fallback
// returns (nil, nil) and the caller proceeds to disambiguation.
// =============================================================================

// extractionCachePrefix namespaces fallback replies in the shared badger DB.
const extractionCachePrefix = "extract:"

// ExtractionPrompt is the instruction block for JSON slot extraction.
func ExtractionPrompt() string {
	return "Определите intent и извлеките параметры из запроса. Допустимые intent: " +
		"quote, orderbook, bars, trades_latest, account, orders_list, order_get, trades, transactions, " +
		"session_details, session_create, order_create, order_cancel.\n" +
		"Верните JSON вида: {\"intent\": str, ...поля...}.\n" +
		"Поля: symbol, timeframe (TIME_FRAME_*), start (ISO8601), end (ISO8601), account_id, order_id, " +
		"limit, side, type, quantity, price, stop_price, time_in_force. Возвращайте ТОЛЬКО найденные поля."
}

// FallbackExtractor asks the model for a JSON intent+slots object when the
// deterministic extractor finds nothing.
//
// Thread Safety: Safe for concurrent use.
type FallbackExtractor struct {
	completer Completer
	store     *badgerstore.DB // optional reply cache, nil disables
	logger    *slog.Logger
}

// NewFallbackExtractor builds the fallback. store may be nil.
func NewFallbackExtractor(completer Completer, store *badgerstore.DB, logger *slog.Logger) *FallbackExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackExtractor{completer: completer, store: store, logger: logger}
}

// extractionReply is the JSON object the model is asked to produce.
type extractionReply struct {
	Intent    string `json:"intent"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     string `json:"start"`
	End       string `json:"end"`
	AccountID string `json:"account_id"`
}

// Extract returns a structured request built from the model's JSON reply.
//
// Outputs:
//   - registry.Request: Non-nil on success. Only the quote, bars,
//     orders_list, and account intents are trusted from the model.
//   - []string: Missing slots for a recognized intent the reply left
//     unfilled. Both nil on any model or parse failure.
func (f *FallbackExtractor) Extract(ctx context.Context, question string) (registry.Request, []string) {
	if f.completer == nil {
		return nil, nil
	}

	content, ok := f.cachedReply(question)
	if !ok {
		prompt := ExtractionPrompt() + "\n\nВопрос: \"" + question + "\"\nJSON:"
		reply, err := f.completer.Complete(ctx, "", prompt)
		if err != nil {
			f.logger.Debug("extract: fallback model call failed", slog.String("error", err.Error()))
			return nil, nil
		}
		content = reply
		f.storeReply(question, content)
	}

	payload, ok := ExtractJSONObject(content)
	if !ok {
		return nil, nil
	}
	var rep extractionReply
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		f.logger.Debug("extract: fallback reply is not valid JSON", slog.String("error", err.Error()))
		return nil, nil
	}

	switch strings.ToLower(rep.Intent) {
	case "quote":
		if rep.Symbol == "" {
			return nil, []string{"symbol"}
		}
		return QuoteRequest{Symbol: InferMarketSymbol(rep.Symbol)}, nil

	case "bars":
		if rep.Symbol == "" {
			return nil, []string{"symbol"}
		}
		tfRaw := rep.Timeframe
		if tfRaw == "" {
			tfRaw = "D"
		}
		req := BarsRequest{
			Symbol:    InferMarketSymbol(rep.Symbol),
			Timeframe: NormalizeTimeframe(tfRaw),
		}
		if rep.Start != "" {
			req.Start = NormalizeISO8601(rep.Start)
		}
		if rep.End != "" {
			req.End = NormalizeISO8601(rep.End)
		}
		return req, nil

	case "orders_list":
		if rep.AccountID == "" {
			return nil, []string{"account_id"}
		}
		return OrdersListRequest{AccountID: rep.AccountID}, nil

	case "account":
		if rep.AccountID == "" {
			return nil, []string{"account_id"}
		}
		return AccountRequest{AccountID: rep.AccountID}, nil
	}
	return nil, nil
}

// ExtractJSONObject strips markdown fences and returns the first-{ to
// last-} slice of s. Models decorate JSON freely; this recovers the object
// without trusting anything around it.
func ExtractJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func cacheKey(question string) []byte {
	sum := sha256.Sum256([]byte(question))
	return []byte(extractionCachePrefix + hex.EncodeToString(sum[:]))
}

func (f *FallbackExtractor) cachedReply(question string) (string, bool) {
	if f.store == nil {
		return "", false
	}
	var content string
	err := f.store.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(question))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			content = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return content, true
}

func (f *FallbackExtractor) storeReply(question, content string) {
	if f.store == nil {
		return
	}
	err := f.store.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set(cacheKey(question), []byte(content))
	})
	if err != nil {
		f.logger.Debug("extract: cannot cache fallback reply", slog.String("error", err.Error()))
	}
}
