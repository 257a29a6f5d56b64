// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant assembles the trading-assistant pipeline behind a gin
// HTTP surface: endpoint registry, extractor, tool router, safety layer, and
// orchestrator, wired from the service configuration.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/config"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/extract"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/finam"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/llm"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/router"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/safety"
	badgerstore "github.com/aeshef/Finam-AI-Chat/services/assistant/storage/badger"
)

// =============================================================================
// Service Assembly
// =============================================================================

// Service owns the assembled pipeline shared by every request.
//
// Thread Safety: Safe for concurrent use after NewService returns; every
// collaborator guards its own state.
type Service struct {
	cfg     *config.Config
	reg     *registry.Registry
	exec    *router.Router
	orch    *orchestrate.Orchestrator
	mapper  *orchestrate.Mapper
	auditor *safety.Auditor
	logger  *slog.Logger

	influx *safety.InfluxSink // closed on shutdown when configured
}

// NewService wires the pipeline from configuration.
//
// Description:
//
//	Builds the registry (embedded or on-disk catalogs), selects the router
//	backend ("http" dispatches to the Finam TradeAPI, "simulator" replays
//	canned market data), attaches audit sinks, and — when the model layer
//	is enabled and an API key is present — the OpenRouter-backed fallbacks.
//	Optional collaborators degrade to disabled rather than failing the
//	whole service: a missing OPENROUTER_API_KEY or an unreachable GCS
//	bucket is a warning, not a startup error.
//
// Inputs:
//   - cfg: Validated service configuration. Must be non-nil.
//   - store: Shared badger instance for the extraction reply cache. May be
//     nil; caching is then disabled.
//   - logger: Destination for wiring diagnostics. Nil selects slog.Default().
//
// Outputs:
//   - *Service: The assembled service. Caller must Close it on shutdown.
//   - error: Non-nil only for hard wiring failures (bad catalog).
func NewService(cfg *config.Config, store *badgerstore.DB, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	regOpts := []registry.Option{registry.WithLogger(logger)}
	if cfg.Registry.CatalogPath != "" {
		regOpts = append(regOpts, registry.WithCatalogPath(cfg.Registry.CatalogPath))
	}
	if len(cfg.Registry.ExtraCatalogs) > 0 {
		regOpts = append(regOpts, registry.WithExtraCatalogs(cfg.Registry.ExtraCatalogs...))
	}
	reg, err := registry.New(regOpts...)
	if err != nil {
		return nil, fmt.Errorf("assistant: registry: %w", err)
	}

	var backend router.Backend
	switch cfg.Router.Backend {
	case "simulator":
		backend = router.NewSimulator()
	default:
		backend = router.NewHTTPBackend(finam.NewClient(finam.WithLogger(logger)))
	}
	exec := router.New(
		router.NewRetryBackend(backend, logger),
		router.Config{RatePerSec: cfg.Router.RatePerSec, Burst: cfg.Router.Burst},
		logger,
	)

	svc := &Service{cfg: cfg, reg: reg, exec: exec, logger: logger}

	var sinks []safety.Sink
	if cfg.Safety.AuditLogPath != "" {
		sinks = append(sinks, safety.NewJSONLSink(cfg.Safety.AuditLogPath))
	}
	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		svc.influx = safety.NewInfluxSink(
			url,
			os.Getenv("INFLUXDB_TOKEN"),
			os.Getenv("INFLUXDB_ORG"),
			os.Getenv("INFLUXDB_BUCKET"),
		)
		sinks = append(sinks, svc.influx)
	}
	if bucket := os.Getenv("AUDIT_GCS_BUCKET"); bucket != "" {
		gcs, err := safety.NewGCSSink(context.Background(), bucket, os.Getenv("AUDIT_GCS_PREFIX"))
		if err != nil {
			logger.Warn("assistant: GCS audit sink disabled", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, gcs)
		}
	}
	svc.auditor = safety.NewAuditor(cfg.Safety.AuditBuffer, logger, sinks...)

	var completer extract.Completer
	if cfg.LLM.Enabled {
		client, err := llm.NewOpenRouterClient(logger)
		if err != nil {
			logger.Warn("assistant: model fallbacks disabled", slog.String("error", err.Error()))
		} else {
			completer = client
		}
	}

	symbols := extract.NewSymbolResolver(extract.SymbolResolverConfig{
		AliasesPath:     os.Getenv("SYMBOL_ALIASES_PATH"),
		LocalAssetsPath: os.Getenv("LOCAL_ASSETS_PATH"),
		Completer:       completer,
	}, logger)
	extractor := extract.NewExtractor(reg, symbols, logger)

	var fallback *extract.FallbackExtractor
	if completer != nil {
		fallback = extract.NewFallbackExtractor(completer, store, logger)
	}

	svc.orch = orchestrate.NewOrchestrator(
		reg,
		extractor,
		fallback,
		exec,
		safety.LoadPolicy(cfg.Safety.PolicyPath, logger),
		safety.NewIdempotencyGuard(time.Duration(cfg.Safety.IdempotencyTTLSeconds)*time.Second),
		svc.auditor,
		logger,
	)
	svc.mapper = orchestrate.NewMapper(reg, extractor, completer, knownSymbolsFromEnv(), logger)

	logger.Info("assistant: service assembled",
		slog.String("backend", cfg.Router.Backend),
		slog.Bool("llm", completer != nil),
		slog.Bool("insights", cfg.Insights.Enabled),
		slog.Int("intents", len(reg.Items())),
	)
	return svc, nil
}

// knownSymbolsFromEnv parses KNOWN_SYMBOLS, a comma-separated ticker list
// surfaced to the model mapping prompt.
func knownSymbolsFromEnv() []string {
	raw := os.Getenv("KNOWN_SYMBOLS")
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Request Entry Points
// =============================================================================

// Ask runs one utterance through the pipeline.
func (s *Service) Ask(ctx context.Context, question string, octx orchestrate.Context, observer orchestrate.StageObserver) orchestrate.Result {
	octx.SkipInsights = !s.cfg.Insights.Enabled
	return s.orch.Run(ctx, question, octx, observer)
}

// MapQuestion resolves a question to an API call without executing it.
func (s *Service) MapQuestion(ctx context.Context, question string, hints extract.Hints) (method, path, source string) {
	return s.mapper.Map(ctx, question, hints)
}

// RecentAudit returns up to n audit records, newest first.
func (s *Service) RecentAudit(n int) []safety.Record {
	return s.auditor.Recent(n)
}

// CatalogItems returns the registry's definitions in catalog order.
func (s *Service) CatalogItems() []registry.Definition {
	return s.reg.Items()
}

// ReloadCatalog re-reads the catalog sources from disk.
func (s *Service) ReloadCatalog() error {
	return s.reg.Reload()
}

// WatchCatalog blocks on the registry's fsnotify watcher until ctx is
// cancelled. No-op when watching is disabled in configuration.
func (s *Service) WatchCatalog(ctx context.Context) error {
	if !s.cfg.Registry.Watch {
		return nil
	}
	return s.reg.Watch(ctx)
}

// Close releases sink resources. The badger store is owned by the caller.
func (s *Service) Close() {
	if s.influx != nil {
		s.influx.Close()
	}
}
