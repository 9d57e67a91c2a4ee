// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "orchestrator",
			Name:      "sessions_total",
			Help:      "Sessions by terminal status and answer source.",
		},
		[]string{"status", "answer_source"},
	)

	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "graphqa",
			Subsystem: "orchestrator",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of sessions.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "orchestrator",
			Name:      "steps_total",
			Help:      "Reasoning steps by selection kind, status and reason.",
		},
		[]string{"kind", "status", "reason"},
	)

	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "orchestrator",
			Name:      "state_transitions_total",
			Help:      "Session state transitions by target state.",
		},
		[]string{"state"},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "orchestrator",
			Name:      "classifications_total",
			Help:      "Classification outcomes: catalog, dynamic, explicit or none.",
		},
		[]string{"outcome"},
	)

	guardValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "guard",
			Name:      "validations_total",
			Help:      "Guard validations by result and rejection reason.",
		},
		[]string{"result", "reason"},
	)
)

func recordState(s State) {
	stateTransitionsTotal.WithLabelValues(string(s)).Inc()
}
