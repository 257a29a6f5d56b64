// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrate runs one user utterance through the full pipeline:
// plan, extract, placeholder fill, safety gate, optional confirmation and
// dry-run exits, execution, post-processing. Terminal outcomes are data,
// never Go errors — every caller gets a Result with a displayable message
// and the stage trace.
package orchestrate

import (
	"time"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/insights"
)

// Outcome discriminates the terminal state of one pipeline run.
type Outcome string

const (
	// OutcomeDisambiguation means required slots are missing; Message names
	// them and asks the user to clarify.
	OutcomeDisambiguation Outcome = "disambiguation"

	// OutcomeBlocked means the safety policy denied the operation.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeNeedsConfirm means the operation needs an explicit confirmation
	// round-trip; IntentHash identifies what to confirm.
	OutcomeNeedsConfirm Outcome = "needs_confirm"

	// OutcomeDryRun means the pipeline stopped right before execution.
	OutcomeDryRun Outcome = "dry_run"

	// OutcomeExecuted means the backend was called; Data carries the reply.
	OutcomeExecuted Outcome = "executed"

	// OutcomeError covers idempotency conflicts and transport failures.
	OutcomeError Outcome = "error"
)

// Context carries per-request caller state through the pipeline.
type Context struct {
	// DryRun stops the pipeline before EXECUTE. Defaults to true — callers
	// opt in to live execution.
	DryRun bool

	// AccountID fills {account_id} placeholders.
	AccountID string

	// Confirm acknowledges a previous needs_confirm result.
	Confirm bool

	// SkipInsights disables the post-execution market enrichment for this
	// run. The stage still appears in the trace; it just does nothing.
	SkipInsights bool
}

// NewContext returns the safe default: dry run on, nothing confirmed.
func NewContext() Context {
	return Context{DryRun: true}
}

// StageTiming is one entry in the ordered pipeline trace.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// StageObserver is invoked after every completed stage. Used by the
// websocket progress stream; nil is fine.
type StageObserver func(stage string, d time.Duration)

// Result is the single caller-facing value of a pipeline run.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// Message is displayable as-is, in the product's language.
	Message string `json:"message,omitempty"`

	// Method and Path are the resolved API call, when one was determined.
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`

	// Data is the raw backend reply (or {"dry_run": true}).
	Data map[string]any `json:"data,omitempty"`

	// IntentHash is the fingerprint a confirming caller echoes back.
	IntentHash string `json:"intent_hash,omitempty"`

	// Insights and Suggestions are best-effort post-process enrichment.
	Insights    *insights.Insights `json:"insights,omitempty"`
	Suggestions string             `json:"suggestions,omitempty"`

	// Trace lists every stage that ran, in order, with wall-clock timings.
	Trace []StageTiming `json:"trace"`
}
