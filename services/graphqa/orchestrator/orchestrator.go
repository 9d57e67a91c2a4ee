// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs one question through classification, tool
// execution and answer composition, emitting reasoning steps as they land.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/executor"
	"github.com/AleutianAI/GraphQA/services/graphqa/generate"
	"github.com/AleutianAI/GraphQA/services/graphqa/guard"
	"github.com/AleutianAI/GraphQA/services/graphqa/schema"
	"github.com/AleutianAI/GraphQA/services/llm"
)

// Session-level errors.
var (
	// ErrNoToolSelectable means neither a catalog tool nor the dynamic path
	// could be chosen. The session still completes with a templated answer.
	ErrNoToolSelectable = errors.New("no tool selectable")

	// ErrTotalFailure means not even the templated summary could be produced.
	ErrTotalFailure = errors.New("total failure")
)

const tracerName = "graphqa.orchestrator"

// Defaults for Config.
const (
	DefaultMaxConcurrentSteps = 4
	DefaultStepResultLimit    = 10
	DefaultGenerationAttempts = 2
)

// =============================================================================
// Collaborators
// =============================================================================

// ToolCatalog is the read side of catalog.Catalog.
type ToolCatalog interface {
	List(ctx context.Context) []catalog.ToolDescriptor
	Get(name string) (catalog.ToolDescriptor, error)
}

// SchemaProvider is satisfied by *schema.Cache.
type SchemaProvider interface {
	Get(ctx context.Context, forceRefresh bool) (schema.Result, error)
}

// QueryGenerator is satisfied by *generate.Generator.
type QueryGenerator interface {
	Generate(ctx context.Context, question, schemaText string, opts generate.Options) (generate.GeneratedQuery, error)
}

// QueryValidator is satisfied by *guard.Guard.
type QueryValidator interface {
	Validate(query string) (guard.Result, error)
}

// QueryExecutor is satisfied by *executor.Executor.
type QueryExecutor interface {
	Execute(ctx context.Context, query string, params map[string]any) (executor.ExecutionResult, error)
}

// Deps are the orchestrator's collaborators. Catalog, Guard and Executor
// are required. A nil Generator disables the dynamic path, a nil Schema
// generates without schema grounding and a nil Completer always uses the
// templated answer.
type Deps struct {
	Catalog   ToolCatalog
	Schema    SchemaProvider
	Generator QueryGenerator
	Guard     QueryValidator
	Executor  QueryExecutor
	Completer llm.Completer
	Recorder  SessionRecorder
}

// Config tunes the orchestrator.
type Config struct {
	Classifier ClassifierConfig

	// MaxConcurrentSteps bounds steps computed at once.
	MaxConcurrentSteps int

	// StepResultLimit bounds the rows kept on each ReasoningStep.
	StepResultLimit int

	// GenerationAttempts is the number of generate+validate rounds on the
	// dynamic path. 2 allows one retry after a guard rejection.
	GenerationAttempts int

	// FinalAnswerLLM composes the answer with the Completer when set.
	FinalAnswerLLM bool

	// AnswerTemperature for the answer call. Negative omits it.
	AnswerTemperature float64

	// AnswerMaxTokens for the answer call. Zero omits it.
	AnswerMaxTokens int

	// DefaultOptions are the generation flags used when a request does not
	// override them.
	DefaultOptions generate.Options

	Logger *slog.Logger
}

// Request is one question.
type Request struct {
	Question string `json:"question"`

	// Tools names tools explicitly and skips classification.
	Tools []string `json:"tools,omitempty"`

	// Params binds parameters of parameterized catalog tools.
	Params map[string]any `json:"params,omitempty"`

	IncludeGraphDocs *bool `json:"include_graph_docs,omitempty"`
	UseDocsOnly      *bool `json:"use_docs_only,omitempty"`
}

// Orchestrator runs sessions.
//
// # Thread Safety
//
// Safe for concurrent use. Sessions share only the catalog and the schema
// cache, which synchronise themselves.
type Orchestrator struct {
	deps       Deps
	cfg        Config
	classifier *Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Orchestrator.
//
// Outputs:
//   - error: Non-nil if a required collaborator is missing.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Catalog == nil || deps.Guard == nil || deps.Executor == nil {
		return nil, errors.New("orchestrator: catalog, guard and executor are required")
	}
	if cfg.MaxConcurrentSteps <= 0 {
		cfg.MaxConcurrentSteps = DefaultMaxConcurrentSteps
	}
	if cfg.StepResultLimit <= 0 {
		cfg.StepResultLimit = DefaultStepResultLimit
	}
	if cfg.GenerationAttempts <= 0 {
		cfg.GenerationAttempts = DefaultGenerationAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		classifier: NewClassifier(cfg.Classifier),
		logger:     logger.With(slog.String("component", "orchestrator")),
		now:        time.Now,
	}, nil
}

// =============================================================================
// Selection
// =============================================================================

// Plan chooses the selections for req.
//
// # Description
//
// Explicitly named tools are used as given, with text2cypher mapping to the
// dynamic path; unknown names are skipped. Otherwise the question is
// classified against the catalog and, when nothing matches, routed to the
// dynamic path.
//
// # Outputs
//
//   - []Selection: In invocation order.
//   - string: Classification outcome (explicit, catalog, dynamic).
//   - error: ErrNoToolSelectable when nothing can run.
func (o *Orchestrator) Plan(ctx context.Context, req Request) ([]Selection, string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, "none", fmt.Errorf("%w: empty question", ErrNoToolSelectable)
	}
	opts := o.options(req)

	if len(req.Tools) > 0 {
		var sels []Selection
		seen := make(map[string]bool, len(req.Tools))
		for _, name := range req.Tools {
			if seen[name] {
				continue
			}
			seen[name] = true
			if name == catalog.DynamicToolName {
				if o.deps.Generator != nil {
					sels = append(sels, DynamicQuery{Question: question, Options: opts})
				}
				continue
			}
			tool, err := o.deps.Catalog.Get(name)
			if err != nil {
				o.logger.Warn("requested tool not found", slog.String("tool", name))
				continue
			}
			if tool.Dynamic {
				if o.deps.Generator != nil {
					sels = append(sels, DynamicQuery{Question: question, Options: opts})
				}
				continue
			}
			sels = append(sels, CatalogLookup{Tool: tool, Params: req.Params})
		}
		if len(sels) == 0 {
			return nil, "none", fmt.Errorf("%w: none of the requested tools can run", ErrNoToolSelectable)
		}
		return sels, "explicit", nil
	}

	candidates := o.classifier.Classify(question, o.deps.Catalog.List(ctx))
	if len(candidates) > 0 {
		sels := make([]Selection, len(candidates))
		for i, c := range candidates {
			sels[i] = CatalogLookup{Tool: c.Tool, Params: req.Params}
		}
		return sels, "catalog", nil
	}
	if o.deps.Generator == nil {
		return nil, "none", fmt.Errorf("%w: no catalog match and query generation is disabled", ErrNoToolSelectable)
	}
	return []Selection{DynamicQuery{Question: question, Options: opts}}, "dynamic", nil
}

func (o *Orchestrator) options(req Request) generate.Options {
	opts := o.cfg.DefaultOptions
	opts.Feedback = nil
	if req.IncludeGraphDocs != nil {
		opts.IncludeGraphDocs = *req.IncludeGraphDocs
	}
	if req.UseDocsOnly != nil {
		opts.UseDocsOnly = *req.UseDocsOnly
	}
	return opts
}

// =============================================================================
// Session lifecycle
// =============================================================================

// Run starts a session and returns its event channel.
//
// # Description
//
// The channel carries a step event per selection, in selection order, each
// sent as soon as it and every earlier step are ready, then exactly one
// final or error event. It is buffered to len(selections)+1 so the session
// never blocks on a slow consumer. When ctx is cancelled the channel is
// closed promptly and results of in-flight calls are discarded.
//
// # Outputs
//
//   - <-chan Event: Closed when the session ends.
//   - *Session: Owned by the session goroutine until the channel is closed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (<-chan Event, *Session) {
	sess := &Session{
		ID:        uuid.NewString(),
		Question:  strings.TrimSpace(req.Question),
		Steps:     []ReasoningStep{},
		State:     StateReceived,
		StartedAt: o.now(),
	}
	recordState(StateReceived)
	o.transition(sess, StateClassifying)

	sels, outcome, planErr := o.Plan(ctx, req)
	classificationsTotal.WithLabelValues(outcome).Inc()

	ch := make(chan Event, len(sels)+1)
	go o.run(ctx, sess, sels, planErr, ch)
	return ch, sess
}

// Answer runs a session to completion without streaming.
//
// Outputs:
//   - *Session: The finished session, also on error.
//   - error: Wraps ErrTotalFailure for a Failed session, or the context
//     error for a cancelled one.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Session, error) {
	ch, sess := o.Run(ctx, req)
	var last Event
	for ev := range ch {
		last = ev
	}
	switch sess.Status {
	case StatusCompleted:
		return sess, nil
	case StatusCancelled:
		if err := ctx.Err(); err != nil {
			return sess, err
		}
		return sess, context.Canceled
	default:
		return sess, fmt.Errorf("%w: %s", ErrTotalFailure, last.Reason)
	}
}

func (o *Orchestrator) run(ctx context.Context, sess *Session, sels []Selection, planErr error, ch chan<- Event) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("session_id", sess.ID),
			attribute.Int("selections", len(sels)),
		),
	)
	defer span.End()
	defer close(ch)
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("internal error: %v", r)
			o.logger.Error("session panicked",
				slog.String("session_id", sess.ID),
				slog.Any("panic", r),
			)
			span.SetStatus(codes.Error, reason)
			o.finish(ctx, sess, StatusFailed, reason)
			select {
			case ch <- Event{Kind: EventError, Status: StatusFailed, Reason: reason}:
			default:
			}
		}
	}()

	if planErr != nil {
		o.logger.Info("no tool selectable",
			slog.String("session_id", sess.ID),
			slog.String("reason", planErr.Error()),
		)
		o.transition(sess, StateFinalizing)
		sess.Answer = NoToolAnswer
		sess.AnswerSource = AnswerSourceTemplate
		o.finish(ctx, sess, StatusCompleted, "")
		ch <- Event{Kind: EventFinal, Answer: sess.Answer, Status: StatusCompleted}
		return
	}

	for _, sel := range sels {
		if _, dynamic := sel.(DynamicQuery); dynamic {
			recordState(StateQueryGenerationPending)
		} else {
			recordState(StateToolSelected)
		}
	}
	o.transition(sess, StateExecuting)

	n := len(sels)
	slots := make([]ReasoningStep, n)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentSteps)
	go func() {
		for i, sel := range sels {
			if ctx.Err() != nil {
				return
			}
			g.Go(func() error {
				defer close(done[i])
				slots[i] = o.runStep(ctx, i, sel)
				return nil
			})
		}
	}()

	for i := 0; i < n; i++ {
		select {
		case <-done[i]:
		case <-ctx.Done():
			o.cancel(ctx, sess, ch)
			return
		}
		if ctx.Err() != nil {
			o.cancel(ctx, sess, ch)
			return
		}
		step := slots[i]
		sess.Steps = append(sess.Steps, step)
		o.transition(sess, StateStepRecorded)
		ch <- Event{Kind: EventStep, Step: &step}
	}

	o.transition(sess, StateFinalizing)
	answer, source, err := o.composeAnswer(ctx, sess)
	if ctx.Err() != nil {
		o.cancel(ctx, sess, ch)
		return
	}
	if err != nil {
		reason := fmt.Errorf("%w: %w", ErrTotalFailure, err).Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		o.finish(ctx, sess, StatusFailed, reason)
		ch <- Event{Kind: EventError, Status: StatusFailed, Reason: reason}
		return
	}

	sess.Answer = answer
	sess.AnswerSource = source
	o.finish(ctx, sess, StatusCompleted, "")
	span.SetAttributes(
		attribute.String("answer_source", source),
		attribute.Int("failed_steps", sess.FailedSteps()),
	)
	ch <- Event{Kind: EventFinal, Answer: answer, Status: StatusCompleted}
}

func (o *Orchestrator) cancel(ctx context.Context, sess *Session, ch chan<- Event) {
	o.logger.Info("session cancelled",
		slog.String("session_id", sess.ID),
		slog.Int("steps_emitted", len(sess.Steps)),
	)
	o.finish(ctx, sess, StatusCancelled, ReasonCancelled)
	select {
	case ch <- Event{Kind: EventError, Status: StatusCancelled, Reason: ReasonCancelled}:
	default:
	}
}

// finish sets the terminal fields, records metrics and hands the session to
// the recorder.
func (o *Orchestrator) finish(ctx context.Context, sess *Session, status, reason string) {
	sess.Status = status
	sess.Reason = reason
	sess.FinishedAt = o.now()
	switch status {
	case StatusCompleted:
		o.transition(sess, StateCompleted)
	case StatusCancelled:
		o.transition(sess, StateCancelled)
	default:
		o.transition(sess, StateFailed)
	}

	sessionsTotal.WithLabelValues(status, sess.AnswerSource).Inc()
	sessionDuration.Observe(sess.FinishedAt.Sub(sess.StartedAt).Seconds())
	o.logger.Info("session finished",
		slog.String("session_id", sess.ID),
		slog.String("status", status),
		slog.Int("steps", len(sess.Steps)),
		slog.Int("failed_steps", sess.FailedSteps()),
		slog.Duration("duration", sess.FinishedAt.Sub(sess.StartedAt)),
	)

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.RecordSession(context.WithoutCancel(ctx), sess); err != nil {
			o.logger.Warn("session recorder failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *Orchestrator) transition(sess *Session, s State) {
	sess.State = s
	recordState(s)
}

// =============================================================================
// Steps
// =============================================================================

// RunDynamic runs the dynamic path once, outside a session.
//
// Outputs:
//   - ReasoningStep: The step, successful or not.
//   - error: ErrNoToolSelectable if query generation is not configured.
func (o *Orchestrator) RunDynamic(ctx context.Context, question string, req Request) (ReasoningStep, error) {
	if o.deps.Generator == nil {
		return ReasoningStep{}, fmt.Errorf("%w: query generation is disabled", ErrNoToolSelectable)
	}
	return o.runStep(ctx, 0, DynamicQuery{Question: strings.TrimSpace(question), Options: o.options(req)}), nil
}

// runStep computes one step. It never panics.
func (o *Orchestrator) runStep(ctx context.Context, index int, sel Selection) (step ReasoningStep) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.Orchestrator.runStep",
		trace.WithAttributes(
			attribute.Int("index", index),
			attribute.String("tool", sel.Name()),
		),
	)
	defer span.End()

	kind := "catalog"
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("step panicked",
				slog.String("tool", sel.Name()),
				slog.Any("panic", r),
			)
			step = failStep(ReasoningStep{Index: index, ToolName: sel.Name(), Description: sel.Name()}, ReasonInternal, fmt.Sprint(r))
		}
		if !step.OK() {
			span.SetStatus(codes.Error, step.Reason)
		}
		span.SetAttributes(
			attribute.String("status", step.Status),
			attribute.Int("result_count", step.ResultCount),
		)
		stepsTotal.WithLabelValues(kind, step.Status, step.Reason).Inc()
	}()

	switch s := sel.(type) {
	case CatalogLookup:
		return o.runCatalog(ctx, index, s)
	case DynamicQuery:
		kind = "dynamic"
		return o.runDynamic(ctx, index, s)
	default:
		return failStep(ReasoningStep{Index: index, ToolName: sel.Name()}, ReasonInternal, fmt.Sprintf("unsupported selection %T", sel))
	}
}

func (o *Orchestrator) runCatalog(ctx context.Context, index int, sel CatalogLookup) ReasoningStep {
	tool := sel.Tool
	step := ReasoningStep{
		Index:       index,
		Description: tool.Description,
		ToolName:    tool.Name,
		Category:    string(tool.Category),
		Source:      "catalog",
		Attempts:    1,
		SchemaState: SchemaNotUsed,
	}

	params, err := bindParams(tool, sel.Params)
	if err != nil {
		return failStep(step, ReasonMissingParameter, err.Error())
	}

	vr, err := o.validate(tool.Query)
	if err != nil {
		return failStep(step, rejectionReason(err), err.Error())
	}

	recordState(StateExecuting)
	res, err := o.deps.Executor.Execute(ctx, vr.Query, params)
	if err != nil {
		return failStep(step, ReasonExecutionError, executor.Describe(err))
	}
	o.fillResult(&step, res)
	return step
}

func (o *Orchestrator) runDynamic(ctx context.Context, index int, sel DynamicQuery) ReasoningStep {
	step := ReasoningStep{
		Index:       index,
		Description: "Generated a Cypher query from the question",
		ToolName:    catalog.DynamicToolName,
		Category:    string(catalog.CategoryQuery),
		SchemaState: SchemaNotUsed,
	}

	schemaText := ""
	if o.deps.Schema != nil && !sel.Options.UseDocsOnly {
		res, err := o.deps.Schema.Get(ctx, false)
		switch {
		case err == nil:
			schemaText = res.Snapshot.Render()
			step.SchemaState = SchemaFresh
			if res.Stale {
				step.SchemaState = SchemaStale
			}
		case errors.Is(err, schema.ErrSchemaUnavailable):
			o.logger.Warn("schema unavailable, generating without it", slog.String("error", err.Error()))
			step.SchemaState = SchemaUnavailable
		default:
			step.SchemaState = SchemaUnavailable
			return failStep(step, ReasonSchemaUnavailable, err.Error())
		}
	}

	opts := sel.Options
	opts.Feedback = nil
	var generationTime time.Duration
	var gq generate.GeneratedQuery
	var vr guard.Result

	for attempt := 1; attempt <= o.cfg.GenerationAttempts; attempt++ {
		step.Attempts = attempt
		start := o.now()
		var err error
		gq, err = o.deps.Generator.Generate(ctx, sel.Question, schemaText, opts)
		generationTime += o.now().Sub(start)
		step.Timing.GenerationMS = millis(generationTime)
		if err != nil {
			return failStep(step, ReasonGenerationFailed, err.Error())
		}
		step.GeneratedQuery = gq.Query
		step.Explanation = gq.Explanation
		step.Source = gq.Source

		vr, err = o.validate(gq.Query)
		if err == nil {
			break
		}
		reason := rejectionReason(err)
		if attempt == o.cfg.GenerationAttempts {
			return failStep(step, reason, err.Error())
		}
		o.logger.Info("generated query rejected, retrying",
			slog.String("reason", reason),
			slog.Int("attempt", attempt),
		)
		opts.Feedback = &generate.Feedback{PreviousQuery: gq.Query, Reason: reason}
	}

	step.GeneratedQuery = vr.Query
	recordState(StateExecuting)
	res, err := o.deps.Executor.Execute(ctx, vr.Query, nil)
	if err != nil {
		return failStep(step, ReasonExecutionError, executor.Describe(err))
	}
	o.fillResult(&step, res)
	return step
}

// validate runs the guard and records the outcome.
func (o *Orchestrator) validate(query string) (guard.Result, error) {
	vr, err := o.deps.Guard.Validate(query)
	if err != nil {
		guardValidationsTotal.WithLabelValues("rejected", rejectionReason(err)).Inc()
		return vr, err
	}
	guardValidationsTotal.WithLabelValues("accepted", "").Inc()
	return vr, nil
}

func (o *Orchestrator) fillResult(step *ReasoningStep, res executor.ExecutionResult) {
	step.Status = StepOK
	step.ResultCount = res.RowCount
	step.Truncated = res.Truncated
	step.Timing.LatencyMS = res.LatencyMS
	step.Timing.AvailableAfterMS = res.AvailableAfterMS
	step.Timing.ConsumedAfterMS = res.ConsumedAfterMS
	rows := res.Rows
	if len(rows) > o.cfg.StepResultLimit {
		rows = rows[:o.cfg.StepResultLimit]
	}
	step.Results = rows
}

func failStep(step ReasoningStep, reason, msg string) ReasoningStep {
	step.Status = StepError
	step.Reason = reason
	step.Error = msg
	step.ResultCount = 0
	step.Results = nil
	return step
}

func rejectionReason(err error) string {
	var rej *guard.RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return "rejected"
}

// bindParams resolves declared parameters from supplied values and
// defaults. Undeclared supplied values are ignored.
func bindParams(tool catalog.ToolDescriptor, supplied map[string]any) (map[string]any, error) {
	if len(tool.Parameters) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(tool.Parameters))
	var missing []string
	for _, p := range tool.Parameters {
		if v, ok := supplied[p.Name]; ok && v != nil {
			params[p.Name] = normalizeParam(v)
			continue
		}
		if p.Default != nil {
			params[p.Name] = normalizeParam(p.Default)
			continue
		}
		if p.Required {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return params, nil
}

// normalizeParam turns integral JSON numbers into int64 so they can be used
// where Cypher expects an integer, such as LIMIT.
func normalizeParam(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}

// =============================================================================
// Final answer
// =============================================================================

// composeAnswer picks the answer for a finished set of steps.
//
// With no rows and no failures the answer is NoResultsAnswer. With rows and
// a configured Completer the model writes the answer; any model failure
// falls back to the templated summary. The error is non-nil only when the
// summary itself cannot be rendered.
func (o *Orchestrator) composeAnswer(ctx context.Context, sess *Session) (string, string, error) {
	if sess.TotalResults() == 0 && sess.FailedSteps() == 0 {
		return NoResultsAnswer, AnswerSourceTemplate, nil
	}

	if sess.TotalResults() > 0 && o.cfg.FinalAnswerLLM && o.deps.Completer != nil {
		answer, err := o.llmAnswer(ctx, sess)
		if err == nil {
			return answer, AnswerSourceLLM, nil
		}
		o.logger.Warn("answer generation failed, using summary",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	summary, err := renderSummary(sess.Question, sess.Steps)
	if err != nil {
		return "", "", err
	}
	if sess.TotalResults() == 0 {
		summary = NoResultsAnswer + ".\n\n" + summary
	}
	return summary, AnswerSourceTemplate, nil
}

func (o *Orchestrator) llmAnswer(ctx context.Context, sess *Session) (string, error) {
	prompt, err := renderAnswerPrompt(sess.Question, sess.Steps)
	if err != nil {
		return "", err
	}
	answer, err := o.deps.Completer.Complete(ctx, prompt, llm.CompleteOptions{
		Temperature: o.cfg.AnswerTemperature,
		MaxTokens:   o.cfg.AnswerMaxTokens,
		Purpose:     "answer",
	})
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errors.New("empty answer from model")
	}
	return answer, nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
