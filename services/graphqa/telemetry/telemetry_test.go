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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/GraphQA/services/graphqa/config"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

func testSession() *orchestrator.Session {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &orchestrator.Session{
		ID:           "s-1",
		Question:     "who maintains the billing service",
		Status:       orchestrator.StatusCompleted,
		AnswerSource: orchestrator.AnswerSourceTemplate,
		StartedAt:    start,
		FinishedAt:   start.Add(250 * time.Millisecond),
		Steps: []orchestrator.ReasoningStep{
			{Index: 0, ToolName: "service_owners", Status: orchestrator.StepOK, ResultCount: 3, Timing: orchestrator.Timing{LatencyMS: 12}},
			{Index: 1, ToolName: "text2cypher", Status: orchestrator.StepError, Reason: orchestrator.ReasonExecutionError, Attempts: 2},
		},
	}
}

func TestSetup_StdoutTraces(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.TelemetryConfig{ServiceName: "graphqa-test", Traces: "stdout", Metrics: "prometheus"}

	p, err := Setup(context.Background(), cfg, nil,
		WithWriter(&buf), WithRegisterer(prometheus.NewRegistry()), WithoutGlobal())
	require.NoError(t, err)
	require.NotNil(t, p.Tracer)

	_, span := p.Tracer.Tracer("test").Start(context.Background(), "graphqa.test.Span")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "graphqa.test.Span")
	assert.Contains(t, buf.String(), "graphqa-test")
}

func TestSetup_NoTraces(t *testing.T) {
	cfg := config.TelemetryConfig{ServiceName: "graphqa", Traces: "none", Metrics: "prometheus"}
	p, err := Setup(context.Background(), cfg, nil, WithRegisterer(prometheus.NewRegistry()), WithoutGlobal())
	require.NoError(t, err)
	assert.Nil(t, p.Tracer)
	assert.NotNil(t, p.Meter)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_UnsupportedExporters(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Traces: "jaeger"}, nil, WithoutGlobal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jaeger")

	_, err = Setup(context.Background(), config.TelemetryConfig{Traces: "none", Metrics: "statsd"}, nil, WithoutGlobal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd")
}

func TestMeterRecorder_ExportsThroughPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.TelemetryConfig{ServiceName: "graphqa", Traces: "none", Metrics: "prometheus"}
	p, err := Setup(context.Background(), cfg, nil, WithRegisterer(reg), WithoutGlobal())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	rec, err := NewMeterRecorder(p.Meter)
	require.NoError(t, err)
	require.NoError(t, rec.RecordSession(context.Background(), testSession()))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "graphqa_recorder_sessions")
	assert.Contains(t, joined, "graphqa_recorder_steps")
}

type recorderFunc func(context.Context, *orchestrator.Session) error

func (f recorderFunc) RecordSession(ctx context.Context, s *orchestrator.Session) error { return f(ctx, s) }

func TestMultiRecorder(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	m := MultiRecorder{
		recorderFunc(func(context.Context, *orchestrator.Session) error { calls++; return nil }),
		nil,
		recorderFunc(func(context.Context, *orchestrator.Session) error { calls++; return boom }),
	}
	err := m.RecordSession(context.Background(), testSession())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestSessionPoints(t *testing.T) {
	points := sessionPoints(testSession())
	require.Len(t, points, 3)

	var lines []string
	for _, p := range points {
		lines = append(lines, write.PointToLineProtocol(p, time.Nanosecond))
	}
	assert.True(t, strings.HasPrefix(lines[0], MeasurementSession+","))
	assert.Contains(t, lines[0], "status=Completed")
	assert.Contains(t, lines[0], "total_results=3i")
	assert.Contains(t, lines[0], "failed_steps=1i")

	assert.Contains(t, lines[1], "tool=service_owners")
	assert.NotContains(t, lines[1], "reason=", "empty tags are dropped")
	assert.Contains(t, lines[2], "reason=execution-error")
	assert.Contains(t, lines[2], "attempts=2i")
}

func TestInfluxRecorder_WritesToBucket(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := NewInfluxRecorder(config.InfluxConfig{Enabled: true, URL: srv.URL, Org: "acme", Bucket: "sessions"}, "tok", nil)
	require.NoError(t, rec.RecordSession(context.Background(), testSession()))
	rec.Close()
	rec.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(strings.Join(bodies, "\n"), MeasurementStep)
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, query, "bucket=sessions")
	assert.Contains(t, query, "org=acme")
	assert.Contains(t, strings.Join(bodies, "\n"), MeasurementSession)
}
