// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry trace and metric providers
// and the session recorders that report completed question sessions.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"

	"github.com/AleutianAI/GraphQA/services/graphqa/config"
)

const (
	defaultBatchTimeout   = 5 * time.Second
	defaultMetricInterval = 30 * time.Second
)

// Providers holds the installed SDK providers.
//
// Thread Safety: Safe for concurrent use.
type Providers struct {
	// Tracer is nil when traces are disabled.
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider

	logger *slog.Logger
}

// Option customizes Setup.
type Option func(*options)

type options struct {
	writer     io.Writer
	registerer prometheus.Registerer
	global     bool
}

// WithWriter sets the destination of the stdout exporters.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithRegisterer sets the Prometheus registry the metric exporter joins.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithoutGlobal keeps the providers out of the otel globals.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// Setup builds the trace and metric providers selected by cfg.
//
// Description:
//
//	Traces go to nowhere, stdout or an OTLP gRPC collector. Metrics are
//	exposed through the Prometheus registry (served by /metrics) or
//	written to stdout periodically. Unless WithoutGlobal is given, both
//	providers and the W3C propagators are installed as otel globals so
//	that every package tracer picks them up.
//
// Inputs:
//   - ctx: Context for exporter construction.
//   - cfg: Telemetry configuration.
//   - logger: Logger; nil uses slog.Default().
//
// Outputs:
//   - *Providers: Call Shutdown before exit to flush pending data.
//   - error: Non-nil if an exporter could not be created.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger, opts ...Option) (*Providers, error) {
	o := options{writer: os.Stdout, registerer: prometheus.DefaultRegisterer, global: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "telemetry"))

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	p := &Providers{logger: logger}

	spanExporter, err := newSpanExporter(ctx, cfg, o.writer)
	if err != nil {
		return nil, err
	}
	if spanExporter != nil {
		p.Tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter, sdktrace.WithBatchTimeout(defaultBatchTimeout)),
			sdktrace.WithResource(res),
		)
	}

	reader, err := newMetricReader(cfg, o)
	if err != nil {
		if p.Tracer != nil {
			_ = p.Tracer.Shutdown(ctx)
		}
		return nil, err
	}
	p.Meter = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	if o.global {
		if p.Tracer != nil {
			otel.SetTracerProvider(p.Tracer)
		}
		otel.SetMeterProvider(p.Meter)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
	}

	logger.Info("telemetry initialized",
		slog.String("traces", cfg.Traces),
		slog.String("metrics", cfg.Metrics),
		slog.String("service", cfg.ServiceName),
	)
	return p, nil
}

func newSpanExporter(ctx context.Context, cfg config.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Traces {
	case "", "none":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(nil)))
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter %s: %w", cfg.OTLPEndpoint, err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("telemetry: unsupported traces exporter %q", cfg.Traces)
	}
}

func newMetricReader(cfg config.TelemetryConfig, o options) (sdkmetric.Reader, error) {
	switch cfg.Metrics {
	case "", "prometheus":
		exp, err := otelprom.New(otelprom.WithRegisterer(o.registerer))
		if err != nil {
			return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(defaultMetricInterval)), nil
	default:
		return nil, fmt.Errorf("telemetry: unsupported metrics exporter %q", cfg.Metrics)
	}
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("telemetry shutdown incomplete", slog.String("error", err.Error()))
		return err
	}
	return nil
}
