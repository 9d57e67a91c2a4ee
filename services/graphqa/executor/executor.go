// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs validated queries and normalises their results.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/GraphQA/services/graphqa/graphdb"
	"github.com/AleutianAI/GraphQA/services/llm"
)

// ErrExecution is matched by every execution failure.
var ErrExecution = errors.New("query execution failed")

const tracerName = "graphqa.executor"

// DataStore runs a read query with a row cap. graphdb.Client implements it.
type DataStore interface {
	Execute(ctx context.Context, query string, params map[string]any, rowCap int) (graphdb.QueryResult, error)
}

// ExecutionResult is the uniform result shape.
type ExecutionResult struct {
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
	LatencyMS float64          `json:"latency_ms"`

	// AvailableAfterMS and ConsumedAfterMS are nil when the store did not report them.
	AvailableAfterMS *float64 `json:"available_after_ms,omitempty"`
	ConsumedAfterMS  *float64 `json:"consumed_after_ms,omitempty"`
}

// ExecutionError carries the store's message.
type ExecutionError struct {
	Message string
	Query   string
	Err     error
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.Message
}

// Unwrap exposes ErrExecution and the store error.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}

var (
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graphqa",
			Subsystem: "executor",
			Name:      "query_duration_seconds",
			Help:      "Wall-clock duration of graph queries.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	executionRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "graphqa",
			Subsystem: "executor",
			Name:      "rows_returned",
			Help:      "Rows returned per successful query.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

// Executor wraps a DataStore.
//
// Thread Safety: Safe for concurrent use if the DataStore is.
type Executor struct {
	store  DataStore
	rowCap int
	logger *slog.Logger
}

// New creates an Executor. rowCap is the hard ceiling passed to the store.
func New(store DataStore, rowCap int, logger *slog.Logger) *Executor {
	if rowCap <= 0 {
		rowCap = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, rowCap: rowCap, logger: logger.With(slog.String("component", "executor"))}
}

// Execute runs query once.
//
// Description:
//
//	There is no retry. Store timings are copied through when present.
//	Rows are never nil on success so they encode as [].
//
// Outputs:
//   - ExecutionResult: Rows and timings.
//   - error: *ExecutionError (matching ErrExecution) on any store failure,
//     including context cancellation.
//
// Thread Safety: Safe for concurrent use.
func (e *Executor) Execute(ctx context.Context, query string, params map[string]any) (ExecutionResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.Executor.Execute",
		trace.WithAttributes(
			attribute.Int("row_cap", e.rowCap),
			attribute.Int("params", len(params)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := e.store.Execute(ctx, query, params, e.rowCap)
	latency := time.Since(start)

	if err != nil {
		execErr := &ExecutionError{Message: err.Error(), Query: query, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, execErr.Message)
		executionDuration.WithLabelValues("error").Observe(latency.Seconds())
		e.logger.Warn("query execution failed",
			slog.String("error", llm.SafeLogString(err.Error())),
			slog.Duration("latency", latency),
		)
		return ExecutionResult{}, execErr
	}

	rows := res.Records
	if rows == nil {
		rows = []map[string]any{}
	}
	out := ExecutionResult{
		Columns:   res.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: res.Truncated,
		LatencyMS: millis(latency),
	}
	if res.AvailableAfter > 0 {
		v := millis(res.AvailableAfter)
		out.AvailableAfterMS = &v
	}
	if res.ConsumedAfter > 0 {
		v := millis(res.ConsumedAfter)
		out.ConsumedAfterMS = &v
	}

	executionDuration.WithLabelValues("success").Observe(latency.Seconds())
	executionRows.Observe(float64(out.RowCount))
	span.SetAttributes(
		attribute.Int("rows", out.RowCount),
		attribute.Bool("truncated", out.Truncated),
	)
	return out, nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Describe is a short human description of a failure for step records.
func Describe(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Message
	}
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
