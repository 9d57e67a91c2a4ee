// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchDuration measures snapshot fetches.
	//
	// Labels:
	//   - status: "success" or "error"
	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graphqa",
			Subsystem: "schema",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of schema fetches in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// cacheLookupsTotal counts Get outcomes.
	//
	// Labels:
	//   - result: "hit", "miss", "stale", "unavailable"
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "schema",
			Name:      "cache_lookups_total",
			Help:      "Schema cache lookups by result.",
		},
		[]string{"result"},
	)
)
