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
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/extract"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

// fallbackPath is the harmless read the mapper returns when nothing else
// can be determined: it needs no slots and cannot mutate anything.
const fallbackPath = "/v1/assets"

// Mapper turns a natural-language question into (METHOD, PATH).
//
// Description:
//
//	Deterministic-first: the lexical extractor plus registry resolution
//	handles the common phrasings with zero model cost. Only unmatched
//	questions reach the model, and its answer is validated against the
//	registry before use.
//
// Thread Safety: Safe for concurrent use.
type Mapper struct {
	reg          *registry.Registry
	extractor    *extract.Extractor
	completer    extract.Completer
	knownSymbols []string
	logger       *slog.Logger
}

// NewMapper builds a Mapper. completer may be nil for offline-only mapping.
func NewMapper(reg *registry.Registry, extractor *extract.Extractor, completer extract.Completer, knownSymbols []string, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		reg:          reg,
		extractor:    extractor,
		completer:    completer,
		knownSymbols: knownSymbols,
		logger:       logger,
	}
}

// Map resolves question to an API call.
//
// Outputs:
//   - method, path: The call, path carrying any query string inline.
//   - source: "structured", "llm", or "fallback" — which layer answered.
func (m *Mapper) Map(ctx context.Context, question string, hints extract.Hints) (method, path, source string) {
	if req, missing := m.extractor.Extract(ctx, question, hints); req != nil && len(missing) == 0 {
		if tool, err := m.reg.Resolve(req); err == nil {
			path := tool.Path
			if encoded := tool.Query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return tool.Method, path, "structured"
		}
	}

	if m.completer == nil {
		return "GET", fallbackPath, "fallback"
	}

	prompt := MappingSystemPrompt() + "\n\n" + EndpointsSpec(m.reg)
	if block := SymbolsSpec(m.knownSymbols); block != "" {
		prompt += "\n\n" + block
	}
	prompt += "\n\nВопрос: \"" + question + "\"\nОтвет (только HTTP метод и путь, без объяснений):"

	reply, err := m.completer.Complete(ctx, "", prompt)
	if err != nil {
		m.logger.Warn("mapper: model unavailable", slog.String("error", err.Error()))
		return "GET", fallbackPath, "fallback"
	}

	method, path = ParseModelReply(reply)
	if _, ok := m.reg.ClassifyPath(path); !ok {
		m.logger.Warn("mapper: model reply outside catalog", slog.String("path", path))
		return "GET", fallbackPath, "fallback"
	}
	return method, path, "llm"
}

// ParseModelReply recovers METHOD and /path from a model answer that may
// contain prose. An answer with no path at all maps to the fallback read.
func ParseModelReply(reply string) (method, path string) {
	reply = strings.TrimSpace(reply)
	method = "GET"
	path = reply
	for _, m := range []string{"GET", "POST", "DELETE", "PUT", "PATCH"} {
		if strings.HasPrefix(strings.ToUpper(reply), m) {
			method = m
			path = strings.TrimSpace(reply[len(m):])
			break
		}
	}
	if !strings.HasPrefix(path, "/") {
		for _, part := range strings.Fields(path) {
			if strings.HasPrefix(part, "/") {
				path = part
				break
			}
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = fallbackPath
	}
	return method, path
}

// BackfillAccount fills {account_id} from the caller, falling back to the
// DEFAULT_ACCOUNT_ID environment variable.
func BackfillAccount(path, accountID string) string {
	if accountID == "" {
		accountID = os.Getenv("DEFAULT_ACCOUNT_ID")
	}
	if accountID == "" {
		return path
	}
	return strings.ReplaceAll(path, "{account_id}", accountID)
}

// EnsureInterval resolves leftover {slot} interval placeholders from the
// question's date phrases and injects a default interval into bars paths
// that have none. The end bound never exceeds now — the broker rejects
// future timestamps.
func EnsureInterval(path, question string) string {
	nowISO := nowFunc().Format("2006-01-02T15:04:05Z")

	timeScoped := strings.Contains(path, "/bars") ||
		strings.Contains(path, "/trades") ||
		strings.Contains(path, "/transactions")
	if timeScoped && strings.Contains(path, "{slot}") {
		if start, end, ok := extract.ParseDateRange(question); ok {
			if end > nowISO {
				end = nowISO
			}
			path = strings.ReplaceAll(path, "interval.start_time={slot}", "interval.start_time="+start)
			path = strings.ReplaceAll(path, "interval.end_time={slot}", "interval.end_time="+end)
		}
	}

	if strings.Contains(path, "/bars") && !strings.Contains(path, "interval.start_time=") {
		start, end, ok := extract.ParseDateRange(question)
		if !ok {
			start = nowFunc().AddDate(0, 0, -30).Format("2006-01-02T15:04:05Z")
			end = nowISO
		}
		if end > nowISO {
			end = nowISO
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		params := make([]string, 0, 3)
		if !strings.Contains(path, "timeframe=") {
			params = append(params, "timeframe=TIME_FRAME_D")
		}
		params = append(params, "interval.start_time="+start, "interval.end_time="+end)
		path += sep + strings.Join(params, "&")
	}
	return path
}
