// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "llm",
			Name:      "prompt_tokens_total",
			Help:      "Prompt tokens consumed, by model.",
		},
		[]string{"model"},
	)

	completionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "llm",
			Name:      "completion_tokens_total",
			Help:      "Completion tokens produced, by model.",
		},
		[]string{"model"},
	)

	completionCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "llm",
			Name:      "completion_cost_usd_total",
			Help:      "Reported completion cost in USD, by model.",
		},
		[]string{"model"},
	)

	completionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finam",
			Subsystem: "llm",
			Name:      "completion_duration_seconds",
			Help:      "Wall time per completion call.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	completionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "llm",
			Name:      "completion_errors_total",
			Help:      "Failed completion calls by failure class.",
		},
		[]string{"class"},
	)
)

func recordUsage(model string, usage chatUsage) {
	promptTokens.WithLabelValues(model).Add(float64(usage.PromptTokens))
	completionTokens.WithLabelValues(model).Add(float64(usage.CompletionTokens))
	if usage.Cost > 0 {
		completionCost.WithLabelValues(model).Add(usage.Cost)
	}
}
