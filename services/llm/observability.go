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
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chatTracerName is the shared OTel tracer name for completer calls.
const chatTracerName = "graphqa.llm"

// Package-level Prometheus metrics for completer calls.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// chatCallDuration measures the duration of completion calls.
	//
	// Labels:
	//   - provider: "openai", "azure", "ollama"
	//   - purpose: "generate", "answer"
	//   - status: "success" or "error"
	chatCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graphqa",
			Subsystem: "chat",
			Name:      "call_duration_seconds",
			Help:      "Duration of language model calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "purpose", "status"},
	)

	// chatCallsTotal counts completion calls.
	chatCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "chat",
			Name:      "calls_total",
			Help:      "Total number of language model calls.",
		},
		[]string{"provider", "purpose", "status"},
	)

	// chatErrorsTotal counts completion errors by type.
	//
	// Labels:
	//   - error_type: "timeout", "auth", "rate_limit", "server", "cost_limit",
	//     "nil_client", "unknown"
	chatErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Total language model errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	chatTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "chat",
			Name:      "tokens_total",
			Help:      "Provider-reported tokens by direction.",
		},
		[]string{"provider", "direction"},
	)

	chatCostCentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "chat",
			Name:      "cost_cents_total",
			Help:      "Estimated language model spend in US cents.",
		},
		[]string{"provider"},
	)
)

// classifyChatError maps an error to a label-safe error type string.
//
// Description:
//
//	Inspects the error to categorize it into one of the predefined
//	error types. Used for Prometheus labels to avoid high cardinality.
//
// Inputs:
//
//	err - The error to classify. May be nil.
//
// Outputs:
//
//	string - One of: "timeout", "auth", "rate_limit", "server", "cost_limit",
//	         "nil_client", "unknown". Returns empty string for nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyChatError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCostLimitExceeded) {
		return "cost_limit"
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "client is nil"):
		return "nil_client"
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "internal error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordChatMetrics records Prometheus metrics for a completed call.
//
// Inputs:
//
//	provider - Provider name.
//	purpose - Call purpose label. Empty is recorded as "unspecified".
//	duration - How long the call took.
//	err - The error, if any. Nil means success.
//
// Thread Safety: Safe for concurrent use.
func recordChatMetrics(provider, purpose string, duration time.Duration, err error) {
	if purpose == "" {
		purpose = "unspecified"
	}
	status := "success"
	if err != nil {
		status = "error"
		chatErrorsTotal.WithLabelValues(provider, classifyChatError(err)).Inc()
	}

	chatCallDuration.WithLabelValues(provider, purpose, status).Observe(duration.Seconds())
	chatCallsTotal.WithLabelValues(provider, purpose, status).Inc()
}

// recordUsageMetrics records token and spend counters for a successful call.
func recordUsageMetrics(provider string, promptTokens, completionTokens int, costCents float64) {
	chatTokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	chatTokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	if costCents > 0 {
		chatCostCentsTotal.WithLabelValues(provider).Add(costCents)
	}
}
