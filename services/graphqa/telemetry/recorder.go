// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/GraphQA/services/graphqa/config"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

// =============================================================================
// Fan-out
// =============================================================================

// MultiRecorder forwards each session to every recorder and joins errors.
type MultiRecorder []orchestrator.SessionRecorder

// RecordSession implements orchestrator.SessionRecorder.
func (m MultiRecorder) RecordSession(ctx context.Context, s *orchestrator.Session) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordSession(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// OTel Metrics
// =============================================================================

// MeterRecorder records session outcomes as OTel instruments.
type MeterRecorder struct {
	sessions metric.Int64Counter
	steps    metric.Int64Counter
	rows     metric.Int64Histogram
	duration metric.Float64Histogram
}

// NewMeterRecorder creates the instruments on mp.
func NewMeterRecorder(mp metric.MeterProvider) (*MeterRecorder, error) {
	m := mp.Meter("graphqa.sessions")
	var r MeterRecorder
	var err error
	if r.sessions, err = m.Int64Counter("graphqa.recorder.sessions",
		metric.WithDescription("Finished question sessions")); err != nil {
		return nil, fmt.Errorf("telemetry: sessions counter: %w", err)
	}
	if r.steps, err = m.Int64Counter("graphqa.recorder.steps",
		metric.WithDescription("Reasoning steps in finished sessions")); err != nil {
		return nil, fmt.Errorf("telemetry: steps counter: %w", err)
	}
	if r.rows, err = m.Int64Histogram("graphqa.recorder.session_rows",
		metric.WithDescription("Rows returned across all steps of a session")); err != nil {
		return nil, fmt.Errorf("telemetry: rows histogram: %w", err)
	}
	if r.duration, err = m.Float64Histogram("graphqa.recorder.session_duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall time of a session")); err != nil {
		return nil, fmt.Errorf("telemetry: duration histogram: %w", err)
	}
	return &r, nil
}

// RecordSession implements orchestrator.SessionRecorder.
func (r *MeterRecorder) RecordSession(ctx context.Context, s *orchestrator.Session) error {
	status := metric.WithAttributes(attribute.String("status", s.Status))
	r.sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", s.Status),
		attribute.String("answer_source", s.AnswerSource),
	))
	for _, step := range s.Steps {
		r.steps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", step.Status),
			attribute.String("reason", step.Reason),
		))
	}
	r.rows.Record(ctx, int64(s.TotalResults()), status)
	if !s.FinishedAt.IsZero() {
		r.duration.Record(ctx, float64(s.FinishedAt.Sub(s.StartedAt).Microseconds())/1000, status)
	}
	return nil
}

// =============================================================================
// InfluxDB
// =============================================================================

// Measurement names written by InfluxRecorder.
const (
	MeasurementSession = "graphqa_session"
	MeasurementStep    = "graphqa_step"
)

// InfluxRecorder writes one point per session and one per step to an
// InfluxDB bucket through the non-blocking write API.
//
// Thread Safety: Safe for concurrent use.
type InfluxRecorder struct {
	client influxdb2.Client
	writer api.WriteAPI
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewInfluxRecorder connects to cfg.URL with token.
func NewInfluxRecorder(cfg config.InfluxConfig, token string, logger *slog.Logger) *InfluxRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(1000))
	r := &InfluxRecorder{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger: logger.With(slog.String("component", "influx_recorder")),
		done:   make(chan struct{}),
	}
	go r.drainErrors()
	return r
}

func (r *InfluxRecorder) drainErrors() {
	errs := r.writer.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.Warn("influx write failed", slog.String("error", err.Error()))
		case <-r.done:
			return
		}
	}
}

// RecordSession implements orchestrator.SessionRecorder.
func (r *InfluxRecorder) RecordSession(_ context.Context, s *orchestrator.Session) error {
	for _, p := range sessionPoints(s) {
		r.writer.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and releases the client.
func (r *InfluxRecorder) Close() {
	r.closeOnce.Do(func() {
		r.writer.Flush()
		close(r.done)
		r.client.Close()
	})
}

func sessionPoints(s *orchestrator.Session) []*write.Point {
	ts := s.FinishedAt
	points := make([]*write.Point, 0, len(s.Steps)+1)
	points = append(points, influxdb2.NewPoint(MeasurementSession,
		tags("status", s.Status, "answer_source", s.AnswerSource),
		map[string]any{
			"session_id":    s.ID,
			"steps":         len(s.Steps),
			"failed_steps":  s.FailedSteps(),
			"total_results": s.TotalResults(),
			"duration_ms":   float64(s.FinishedAt.Sub(s.StartedAt).Microseconds()) / 1000,
			"reason":        s.Reason,
		},
		ts))
	for _, step := range s.Steps {
		tool := step.ToolName
		if tool == "" {
			tool = "unknown"
		}
		fields := map[string]any{
			"session_id":   s.ID,
			"index":        step.Index,
			"result_count": step.ResultCount,
			"truncated":    step.Truncated,
			"latency_ms":   step.Timing.LatencyMS,
		}
		if step.Timing.GenerationMS > 0 {
			fields["generation_ms"] = step.Timing.GenerationMS
		}
		if step.Attempts > 0 {
			fields["attempts"] = step.Attempts
		}
		points = append(points, influxdb2.NewPoint(MeasurementStep,
			tags("tool", tool, "status", step.Status, "reason", step.Reason),
			fields, ts))
	}
	return points
}

// tags builds a tag set from key/value pairs, dropping empty values.
func tags(kv ...string) map[string]string {
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			out[kv[i]] = kv[i+1]
		}
	}
	return out
}
