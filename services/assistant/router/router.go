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
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

// =============================================================================
// Router
// =============================================================================

// Config tunes the router's rate gate.
type Config struct {
	// RatePerSec is the token refill rate shared by every caller.
	RatePerSec float64

	// Burst caps how many requests pass without waiting.
	Burst int
}

// DefaultConfig matches the broker's documented public limits.
func DefaultConfig() Config {
	return Config{RatePerSec: 5.0, Burst: 10}
}

// Router executes resolved tool requests: rate gate first, then the GET
// cache, then the backend (normally wrapped in RetryBackend).
//
// Description:
//
//	Only GET responses are cached; writes always reach the backend. Cache
//	keys include sorted query parameters so logically identical requests
//	share an entry. The rate gate applies to cache hits too — a hit still
//	consumed a user-visible operation and the limiter's accounting must
//	match the original contract.
//
// Thread Safety: Safe for concurrent use.
type Router struct {
	backend Backend
	cache   *ttlCache
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a Router over backend.
func New(backend Backend, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RatePerSec <= 0 {
		cfg = DefaultConfig()
	}
	return &Router{
		backend: backend,
		cache:   newTTLCache(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		logger:  logger,
	}
}

// Execute runs one resolved request through the gate, cache, and backend.
//
// Outputs:
//   - Response: Normalized reply; upstream errors arrive as data.
//   - error: Transport failure or context cancellation.
func (r *Router) Execute(ctx context.Context, req registry.ToolRequest) (Response, error) {
	ctx, span := otel.Tracer("finam.assistant").Start(ctx, "router.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("backend", r.backend.Name()),
	)

	if err := r.waitRate(ctx); err != nil {
		return Response{}, err
	}

	if req.Method == http.MethodGet {
		key := cacheKey(req.Method, req.Path, req.Query)
		if resp, ok := r.cache.get(key); ok {
			cacheLookups.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return resp, nil
		}
		cacheLookups.WithLabelValues("miss").Inc()

		resp, err := r.dispatch(ctx, req)
		if err != nil {
			return Response{}, err
		}
		if !resp.IsError() {
			r.cache.set(key, resp, ttlForPath(req.Path))
		}
		return resp, nil
	}

	return r.dispatch(ctx, req)
}

// waitRate reserves a token and sleeps out the mandated delay, honoring ctx.
func (r *Router) waitRate(ctx context.Context) error {
	reservation := r.limiter.Reserve()
	delay := reservation.Delay()
	rateWaitSeconds.Observe(delay.Seconds())
	if delay == 0 {
		return nil
	}

	r.logger.Debug("router: rate gate wait", slog.Duration("delay", delay))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Router) dispatch(ctx context.Context, req registry.ToolRequest) (Response, error) {
	start := time.Now()
	resp, err := r.backend.Execute(ctx, req.Method, req.Path, req.Query, req.Body)
	executeLatency.WithLabelValues(req.Method, r.backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Error("router: backend failure",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		return Response{}, err
	}
	if resp.IsError() {
		r.logger.Warn("router: upstream error reply",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
		)
	}
	return resp, nil
}
