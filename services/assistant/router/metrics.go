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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: method and backend, never raw paths (symbols
// and account ids would explode the series count).
var (
	executeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finam",
			Subsystem: "router",
			Name:      "execute_duration_seconds",
			Help:      "Backend execution latency per request.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "backend"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "router",
			Name:      "cache_lookups_total",
			Help:      "GET cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "router",
			Name:      "retries_total",
			Help:      "Retry attempts on transient upstream failures.",
		},
		[]string{"method"},
	)

	rateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finam",
			Subsystem: "router",
			Name:      "rate_wait_seconds",
			Help:      "Time spent waiting on the shared rate gate.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	upstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finam",
			Subsystem: "router",
			Name:      "upstream_errors_total",
			Help:      "Error replies that survived the retry budget.",
		},
		[]string{"method", "status"},
	)
)
