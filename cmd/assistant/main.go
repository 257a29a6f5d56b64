// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assistant starts the Finam trading-assistant API server.
//
// The assistant maps free-text trading questions onto Finam TradeAPI calls
// through a declarative endpoint catalog, with a safety layer in front of
// every write operation.
//
// Usage:
//
//	go run ./cmd/assistant
//	go run ./cmd/assistant -port 9090
//
// Against the live API (confirmed writes only):
//
//	FINAM_ACCESS_TOKEN=... ROUTER_BACKEND=http go run ./cmd/assistant
//
// With model-assisted extraction:
//
//	OPENROUTER_API_KEY=... go run ./cmd/assistant
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/assistant/health
//
//	# Dry-run a question (default)
//	curl -X POST http://localhost:8080/v1/assistant/ask \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "какая цена SBER@MISX"}'
//
//	# Execute for real
//	curl -X POST http://localhost:8080/v1/assistant/ask \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "какая цена SBER@MISX", "dry_run": false}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aeshef/Finam-AI-Chat/services/assistant"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/config"
	badgerstore "github.com/aeshef/Finam-AI-Chat/services/assistant/storage/badger"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/telemetry"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (0 uses the configured port)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	traceStdout := flag.Bool("trace-stdout", false, "Print spans to stdout when no collector is configured")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Get()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port == 0 {
		*port = cfg.Server.Port
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName: "finam-assistant",
		Stdout:      *traceStdout,
	})
	if err != nil {
		slog.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Extraction cache BadgerDB, service-global, in ~/.finamchat/cache/extraction.
	// Graceful degradation: without it, model replies are simply not cached.
	cacheDir := os.Getenv("EXTRACTION_CACHE_DIR")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cacheDir = filepath.Join(home, ".finamchat", "cache", "extraction")
		}
	}
	var cacheDB *badgerstore.DB
	if cacheDir != "" {
		storeCfg := badgerstore.DefaultConfig()
		storeCfg.Path = cacheDir
		db, err := badgerstore.OpenDB(storeCfg)
		if err != nil {
			slog.Warn("Extraction cache BadgerDB unavailable, reply caching disabled",
				slog.String("path", cacheDir),
				slog.String("error", err.Error()),
			)
		} else {
			cacheDB = db
			slog.Info("Extraction cache BadgerDB opened", slog.String("path", cacheDir))
		}
	}

	svc, err := assistant.NewService(cfg, cacheDB, slog.Default())
	if err != nil {
		slog.Error("Failed to assemble service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := assistant.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("finam-assistant"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	assistant.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Catalog hot reload: the watcher blocks until shutdown.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	go func() {
		if err := svc.WatchCatalog(watchCtx); err != nil && watchCtx.Err() == nil {
			slog.Warn("Catalog watcher stopped", slog.String("error", err.Error()))
		}
	}()

	printBanner(*port, cfg.Router.Backend)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down assistant server")
		cancelWatch()
		svc.Close()
		if cacheDB != nil {
			if err := cacheDB.Close(); err != nil {
				slog.Warn("Failed to close extraction cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting assistant server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printBanner(port int, backend string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     FINAM ASSISTANT SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Natural-language front end for the Finam TradeAPI.               ║
║  Backend: %-56s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/assistant/health           │  ║
║  │                                                             │  ║
║  │ # Dry-run a question                                        │  ║
║  │ curl -X POST http://localhost:%d/v1/assistant/ask \    │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"question": "какая цена SBER@MISX"}'                 │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Pipeline: /ask, /ask/stream, /map                            ║
║  ├── Catalog:  /catalog, /catalog/reload, /catalog/generate       ║
║  └── Ops:      /audit, /health, /ready, /metrics                  ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, backend, port, port)
}
