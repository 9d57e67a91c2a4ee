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
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultSystemPrompt is the persona sent with every completion.
const DefaultSystemPrompt = "You are an expert code analysis agent. You answer questions about a " +
	"codebase that is stored as a Neo4j graph of files, functions, classes, commits and developers. " +
	"Be precise and never invent data that was not provided to you."

// CompleterConfig configures a ChatCompleter.
type CompleterConfig struct {
	// SystemPrompt is prepended as a system message. Empty uses DefaultSystemPrompt.
	SystemPrompt string

	// RequestsPerSecond limits outbound calls. Zero or negative disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Values below 1 are raised to 1.
	Burst int

	// CostLimitCents stops further calls once cumulative spend reaches it.
	// Zero means unlimited.
	CostLimitCents float64
}

// ChatCompleter adapts a ChatBackend to the single-shot Completer interface.
//
// Description:
//
//	Every call waits on the rate limiter, checks the spend ceiling, opens
//	an OTel span, and records Prometheus metrics and cost after the
//	backend returns.
//
// Thread Safety: ChatCompleter is safe for concurrent use.
type ChatCompleter struct {
	backend      ChatBackend
	systemPrompt string
	limiter      *rate.Limiter
	cost         *CostEstimator
	logger       *slog.Logger
}

// NewChatCompleter wraps a backend.
//
// Inputs:
//   - backend: The provider client. Must not be nil.
//   - cfg: Completer configuration.
//   - logger: Logger. Nil uses slog.Default().
//
// Outputs:
//   - *ChatCompleter: The configured completer.
func NewChatCompleter(backend ChatBackend, cfg CompleterConfig, logger *slog.Logger) *ChatCompleter {
	if logger == nil {
		logger = slog.Default()
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &ChatCompleter{
		backend:      backend,
		systemPrompt: prompt,
		limiter:      limiter,
		cost:         NewCostEstimator(cfg.CostLimitCents),
		logger:       logger,
	}
}

// Cost returns the completer's cost estimator.
func (c *ChatCompleter) Cost() *CostEstimator {
	return c.cost
}

// Complete implements Completer.
//
// Inputs:
//   - ctx: Context for cancellation. Also bounds the rate-limiter wait.
//   - prompt: The user prompt.
//   - opts: Per-call options.
//
// Outputs:
//   - string: The model's reply text.
//   - error: Non-nil on limiter cancellation, spend ceiling or backend failure.
//
// Thread Safety: This method is safe for concurrent use.
func (c *ChatCompleter) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	if c.backend == nil {
		return "", fmt.Errorf("completer: backend client is nil")
	}
	provider := c.backend.Provider()

	ctx, span := otel.Tracer(chatTracerName).Start(ctx, "llm.ChatCompleter.Complete",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("purpose", opts.Purpose),
			attribute.Int("prompt_len", len(prompt)),
			attribute.Float64("temperature", opts.Temperature),
		),
	)
	defer span.End()

	startTime := time.Now()
	result, err := c.complete(ctx, prompt, opts)
	duration := time.Since(startTime)
	recordChatMetrics(provider, opts.Purpose, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Completion failed",
			slog.String("provider", provider),
			slog.String("purpose", opts.Purpose),
			slog.Duration("duration", duration),
			slog.String("error", SafeLogString(err.Error())))
		return "", err
	}

	costCents := c.cost.Record(provider, result.Model, result.PromptTokens, result.CompletionTokens)
	recordUsageMetrics(provider, result.PromptTokens, result.CompletionTokens, costCents)

	span.SetAttributes(
		attribute.String("model", result.Model),
		attribute.Int("prompt_tokens", result.PromptTokens),
		attribute.Int("completion_tokens", result.CompletionTokens),
	)
	c.logger.Info("LLM metrics",
		slog.String("provider", provider),
		slog.String("model", result.Model),
		slog.String("purpose", opts.Purpose),
		slog.Duration("latency", duration),
		slog.Int("prompt_tokens", result.PromptTokens),
		slog.Int("completion_tokens", result.CompletionTokens),
		slog.Float64("estimated_cost_cents", costCents))

	return result.Content, nil
}

func (c *ChatCompleter) complete(ctx context.Context, prompt string, opts CompleteOptions) (ChatResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ChatResult{}, fmt.Errorf("completer: rate limiter wait: %w", err)
		}
	}
	if err := c.cost.CheckBudget(); err != nil {
		return ChatResult{}, fmt.Errorf("completer: %w", err)
	}

	params := GenerationParams{}
	if opts.Temperature >= 0 {
		temp := float32(opts.Temperature)
		params.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		params.MaxTokens = &maxTokens
	}

	messages := []Message{
		{Role: "system", Content: c.systemPrompt},
		{Role: "user", Content: prompt},
	}
	return c.backend.Chat(ctx, messages, params)
}
