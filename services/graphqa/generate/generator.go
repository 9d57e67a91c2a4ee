// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate turns a natural-language question into a candidate
// Cypher query with a single language model call.
//
// The generator owns prompt construction and response parsing. It never
// validates or executes the query and never retries on its own.
package generate

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/GraphQA/services/llm"
)

// ErrGenerationFailed is returned when no query can be obtained.
var ErrGenerationFailed = errors.New("query generation failed")

const tracerName = "graphqa.generate"

// Sources of a generated query.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback-extraction"
)

//go:embed graph_docs.md
var defaultGraphDocs string

// GeneratedQuery is a candidate query. It is never cached.
type GeneratedQuery struct {
	Query       string `json:"query"`
	Explanation string `json:"explanation,omitempty"`
	Source      string `json:"source"`
}

// Feedback carries a rejected attempt into the next prompt.
type Feedback struct {
	PreviousQuery string
	Reason        string
}

// Options select the prompt grounding.
type Options struct {
	// IncludeGraphDocs adds the curated docs alongside the schema.
	IncludeGraphDocs bool `json:"include_graph_docs"`

	// UseDocsOnly replaces the schema with the curated docs.
	UseDocsOnly bool `json:"use_docs_only"`

	// Feedback is set on the retry after a guard rejection.
	Feedback *Feedback `json:"-"`
}

// Config configures a Generator.
type Config struct {
	// DocsPath overrides the embedded graph docs. Empty uses the embedded copy.
	DocsPath string

	// RowCap is stated in the prompt as the maximum LIMIT.
	RowCap int

	// Temperature for the model call. Negative omits it.
	Temperature float64

	// MaxTokens for the model call. Zero omits it.
	MaxTokens int

	Logger *slog.Logger
}

// Generator builds prompts and parses responses.
//
// Thread Safety: Safe for concurrent use if the Completer is.
type Generator struct {
	completer llm.Completer
	docs      string
	cfg       Config
	logger    *slog.Logger
}

// New creates a Generator.
//
// Outputs:
//   - error: Non-nil if DocsPath is set but cannot be read.
func New(completer llm.Completer, cfg Config) (*Generator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RowCap <= 0 {
		cfg.RowCap = 100
	}
	docs := defaultGraphDocs
	if cfg.DocsPath != "" {
		raw, err := os.ReadFile(cfg.DocsPath)
		if err != nil {
			return nil, fmt.Errorf("generate: read graph docs: %w", err)
		}
		docs = string(raw)
	}
	return &Generator{
		completer: completer,
		docs:      strings.TrimSpace(docs),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "generator")),
	}, nil
}

// Prompt renders the prompt Generate would send. Exposed for diagnostics.
func (g *Generator) Prompt(question, schemaText string, opts Options) (string, error) {
	data := promptData{
		Question: strings.TrimSpace(question),
		RowCap:   g.cfg.RowCap,
		Feedback: opts.Feedback,
	}
	switch {
	case opts.UseDocsOnly:
		data.Docs = g.docs
	case opts.IncludeGraphDocs:
		data.Schema = schemaText
		data.Docs = g.docs
	default:
		data.Schema = schemaText
	}
	return renderPrompt(data)
}

// Generate asks the model for a query answering question.
//
// Description:
//
//	Exactly one Completer call is made. The response is parsed by the
//	ordered strategies: a JSON object (source "llm"), a fenced cypher
//	block, then a clause scan (both "fallback-extraction"). schemaText may
//	be empty when the schema is unavailable; generation still proceeds.
//
// Inputs:
//   - ctx: Context for the model call.
//   - question: The user's question. Must be non-empty.
//   - schemaText: Rendered schema snapshot. May be empty.
//   - opts: Grounding flags and optional retry feedback.
//
// Outputs:
//   - GeneratedQuery: Non-empty query.
//   - error: Wraps ErrGenerationFailed on a model error or unparseable
//     response.
//
// Thread Safety: Safe for concurrent use.
func (g *Generator) Generate(ctx context.Context, question, schemaText string, opts Options) (GeneratedQuery, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "generate.Generator.Generate",
		trace.WithAttributes(
			attribute.Bool("schema_present", schemaText != ""),
			attribute.Bool("include_graph_docs", opts.IncludeGraphDocs),
			attribute.Bool("use_docs_only", opts.UseDocsOnly),
			attribute.Bool("retry", opts.Feedback != nil),
		),
	)
	defer span.End()

	fail := func(err error) (GeneratedQuery, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GeneratedQuery{}, err
	}

	if strings.TrimSpace(question) == "" {
		return fail(fmt.Errorf("%w: empty question", ErrGenerationFailed))
	}
	if g.completer == nil {
		return fail(fmt.Errorf("%w: no language model configured", ErrGenerationFailed))
	}

	prompt, err := g.Prompt(question, schemaText, opts)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}

	raw, err := g.completer.Complete(ctx, prompt, llm.CompleteOptions{
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Purpose:     "generate",
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}

	gq, strategy, ok := extract(raw)
	if !ok {
		g.logger.Warn("model response contained no query",
			slog.String("response_preview", llm.SafeLogString(preview(raw, 200))),
		)
		return fail(fmt.Errorf("%w: no query found in model response", ErrGenerationFailed))
	}

	span.SetAttributes(
		attribute.String("source", gq.Source),
		attribute.String("strategy", strategy),
	)
	g.logger.Debug("query generated",
		slog.String("source", gq.Source),
		slog.String("strategy", strategy),
		slog.Int("query_len", len(gq.Query)),
	)
	return gq, nil
}

// preview cuts s to at most n bytes without splitting a UTF-8 sequence.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
