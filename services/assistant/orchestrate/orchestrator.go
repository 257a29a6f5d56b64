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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/extract"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/insights"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/safety"
)

// defaultConfirmTTL is what the user is told about confirmation validity.
const defaultConfirmTTL = "60"

const tracerName = "finam.assistant"

// Orchestrator wires the pipeline's collaborators together.
//
// Thread Safety: Safe for concurrent use; all mutable state lives in the
// collaborators, each of which guards its own.
type Orchestrator struct {
	reg       *registry.Registry
	extractor *extract.Extractor
	fallback  *extract.FallbackExtractor
	exec      insights.Executor
	policy    safety.Policy
	guard     *safety.IdempotencyGuard
	auditor   *safety.Auditor
	logger    *slog.Logger
}

// NewOrchestrator builds the pipeline. fallback may be nil to disable
// model-assisted extraction.
func NewOrchestrator(
	reg *registry.Registry,
	extractor *extract.Extractor,
	fallback *extract.FallbackExtractor,
	exec insights.Executor,
	policy safety.Policy,
	guard *safety.IdempotencyGuard,
	auditor *safety.Auditor,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		reg:       reg,
		extractor: extractor,
		fallback:  fallback,
		exec:      exec,
		policy:    policy,
		guard:     guard,
		auditor:   auditor,
		logger:    logger,
	}
}

// Run takes one utterance through the pipeline to a terminal Result.
//
// Description:
//
//	Stages: plan, extract (when the text carries no explicit directive),
//	placeholders, safety, then the confirm and dry-run gates, execute, and
//	post_process. Each stage appends its wall-clock duration to the trace
//	and may terminate the run; the trace accumulated so far is attached to
//	every terminal Result. Backend error replies arrive as data under
//	OutcomeExecuted — only transport failures produce OutcomeError.
func (o *Orchestrator) Run(ctx context.Context, text string, octx Context, observer StageObserver) (res Result) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrate.run",
		oteltrace.WithAttributes(
			attribute.Bool("pipeline.dry_run", octx.DryRun),
			attribute.Bool("pipeline.confirm", octx.Confirm),
		))
	defer func() {
		span.SetAttributes(attribute.String("pipeline.outcome", string(res.Outcome)))
		span.End()
	}()

	var trace []StageTiming

	// PLAN
	var method, path string
	var body map[string]any
	var planned bool
	o.stage(ctx, "plan", &trace, observer, func(context.Context) {
		method, path, planned = ExtractAPIRequest(text)
	})

	// EXTRACT
	if !planned {
		var req registry.Request
		var missing []string
		o.stage(ctx, "extract", &trace, observer, func(sctx context.Context) {
			req, missing = o.extractor.Extract(sctx, text, extract.Hints{AccountID: octx.AccountID})
			if req == nil && missing == nil && o.fallback != nil {
				req, missing = o.fallback.Extract(sctx, text)
			}
		})
		if len(missing) > 0 {
			return o.terminal(Result{
				Outcome: OutcomeDisambiguation,
				Message: DisambiguationPrompt(missing),
			}, trace)
		}
		if req == nil {
			return o.terminal(Result{
				Outcome: OutcomeDisambiguation,
				Message: "Требуются уточнения параметров",
			}, trace)
		}

		tool, err := o.reg.Resolve(req)
		if err != nil {
			// The extractor produced a request the registry cannot resolve:
			// an inconsistency between the two, not a user problem.
			o.logger.Error("orchestrate: resolve failed",
				slog.String("intent", req.Intent()),
				slog.String("error", err.Error()),
			)
			return o.terminal(Result{Outcome: OutcomeError, Message: err.Error()}, trace)
		}
		method, path, body = tool.Method, tool.Path, tool.Body
		if encoded := tool.Query.Encode(); encoded != "" {
			path += "?" + encoded
		}
	}

	// PLACEHOLDER_FILL
	var leftover []string
	o.stage(ctx, "placeholders", &trace, observer, func(context.Context) {
		params := map[string]string{}
		if octx.AccountID != "" {
			params["account_id"] = octx.AccountID
		}
		path, leftover = SubstitutePlaceholders(path, params)
		if len(leftover) == 0 {
			path = NormalizeSymbolsInPath(path)
		}
	})
	if len(leftover) > 0 {
		return o.terminal(Result{
			Outcome: OutcomeDisambiguation,
			Message: "Не хватает параметров: " + strings.Join(leftover, ", "),
			Method:  method,
			Path:    path,
		}, trace)
	}

	// SAFETY_CHECK
	var decision safety.Decision
	o.stage(ctx, "safety", &trace, observer, func(context.Context) {
		decision = o.policy.Evaluate(method, path, body)
	})
	if !decision.Allowed {
		o.auditor.LogSafety(method, path, "blocked", decision.Reasons, map[string]any{"phase": "pre-exec"})
		return o.terminal(Result{
			Outcome: OutcomeBlocked,
			Message: strings.Join(decision.Reasons, ", "),
			Method:  method,
			Path:    path,
		}, trace)
	}

	// CONFIRM_GATE
	if decision.RequiresConfirm && !octx.Confirm {
		o.auditor.LogSafety(method, path, "needs_confirm", []string{"confirm_required"}, map[string]any{"phase": "pre-exec"})
		intentHash := safety.Fingerprint(method, path, "")
		ttl := os.Getenv("CONFIRM_TTL_SECONDS")
		if ttl == "" {
			ttl = defaultConfirmTTL
		}
		return o.terminal(Result{
			Outcome:    OutcomeNeedsConfirm,
			Message:    fmt.Sprintf("Требуется подтверждение (TTL≈%sс). intent=%s", ttl, intentHash[:8]),
			Method:     method,
			Path:       path,
			IntentHash: intentHash,
		}, trace)
	}

	// DRY_RUN_EXIT
	if octx.DryRun {
		return o.terminal(Result{
			Outcome: OutcomeDryRun,
			Method:  method,
			Path:    path,
			Data:    map[string]any{"dry_run": true},
		}, trace)
	}

	// EXECUTE
	var data map[string]any
	var conflict bool
	var execErr error
	o.stage(ctx, "execute", &trace, observer, func(sctx context.Context) {
		if method == http.MethodPost || method == http.MethodDelete {
			if !o.guard.CheckAndRemember(safety.Fingerprint(method, path, encodeBody(body))) {
				conflict = true
				return
			}
		}
		tool, err := splitToolRequest(method, path, body)
		if err != nil {
			execErr = err
			return
		}
		resp, err := o.exec.Execute(sctx, tool)
		if err != nil {
			execErr = err
			return
		}
		data = resp.Data
	})
	if conflict {
		return o.terminal(Result{
			Outcome: OutcomeError,
			Message: "Повтор операции заблокирован идемпотентностью",
			Method:  method,
			Path:    path,
		}, trace)
	}
	if execErr != nil {
		return o.terminal(Result{
			Outcome: OutcomeError,
			Message: execErr.Error(),
			Method:  method,
			Path:    path,
		}, trace)
	}
	o.auditor.LogSafety(method, path, "executed", nil, map[string]any{"phase": "post-exec"})

	// POST_PROCESS
	result := Result{Outcome: OutcomeExecuted, Method: method, Path: path, Data: data}
	o.stage(ctx, "post_process", &trace, observer, func(sctx context.Context) {
		if octx.SkipInsights {
			return
		}
		sym := insights.ExtractSymbol(path)
		if sym == "" {
			sym = insights.ExtractSymbol(text)
		}
		if sym == "" {
			return
		}
		ins := insights.Compute(sctx, o.exec, sym)
		result.Insights = &ins
		result.Suggestions = insights.Suggest(ins, "")
	})
	return o.terminal(result, trace)
}

// stage runs fn under an otel span and records its duration.
func (o *Orchestrator) stage(ctx context.Context, name string, trace *[]StageTiming, observer StageObserver, fn func(context.Context)) {
	sctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrate."+name)
	start := time.Now()
	fn(sctx)
	span.End()

	d := time.Since(start)
	stageDuration.WithLabelValues(name).Observe(d.Seconds())
	*trace = append(*trace, StageTiming{Stage: name, Duration: d})
	if observer != nil {
		observer(name, d)
	}
}

func (o *Orchestrator) terminal(res Result, trace []StageTiming) Result {
	res.Trace = trace
	runsTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

// splitToolRequest separates an inline "?k=v" query from the path so the
// router's cache keys and backend matchers see canonical parts.
func splitToolRequest(method, path string, body map[string]any) (registry.ToolRequest, error) {
	base, rawQuery, _ := strings.Cut(path, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return registry.ToolRequest{}, fmt.Errorf("orchestrate: bad query in %q: %w", path, err)
	}
	return registry.ToolRequest{Method: method, Path: base, Query: query, Body: body}, nil
}

func encodeBody(body map[string]any) string {
	if body == nil {
		return ""
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(raw)
}
