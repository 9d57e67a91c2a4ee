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
	"context"
	"time"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/generate"
)

// =============================================================================
// Selection
// =============================================================================

// Selection is one tool invocation chosen for a session. The only
// implementations are CatalogLookup and DynamicQuery.
type Selection interface {
	// Name is the tool name shown in the reasoning step.
	Name() string
	isSelection()
}

// CatalogLookup runs a stored catalog query.
type CatalogLookup struct {
	Tool   catalog.ToolDescriptor
	Params map[string]any
}

// Name implements Selection.
func (c CatalogLookup) Name() string { return c.Tool.Name }
func (CatalogLookup) isSelection() {}

// DynamicQuery generates a query from the question.
type DynamicQuery struct {
	Question string
	Options  generate.Options
}

// Name implements Selection.
func (DynamicQuery) Name() string { return catalog.DynamicToolName }
func (DynamicQuery) isSelection() {}

// =============================================================================
// States and statuses
// =============================================================================

// State is a session's position in the workflow.
type State string

const (
	StateReceived               State = "Received"
	StateClassifying            State = "Classifying"
	StateToolSelected           State = "ToolSelected"
	StateQueryGenerationPending State = "QueryGenerationPending"
	StateExecuting              State = "Executing"
	StateStepRecorded           State = "StepRecorded"
	StateFinalizing             State = "Finalizing"
	StateCompleted              State = "Completed"
	StateFailed                 State = "Failed"
	StateCancelled              State = "Cancelled"
)

// Terminal session statuses.
const (
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
	StatusCancelled = "Cancelled"
)

// Step statuses.
const (
	StepOK    = "ok"
	StepError = "error"
)

// Answer sources.
const (
	AnswerSourceLLM      = "llm"
	AnswerSourceTemplate = "template"
)

// Step failure reasons that do not come from the guard.
const (
	ReasonGenerationFailed  = "generation-failed"
	ReasonExecutionError    = "execution-error"
	ReasonMissingParameter  = "missing-parameter"
	ReasonCancelled         = "cancelled"
	ReasonInternal          = "internal-error"
	ReasonSchemaUnavailable = "schema-unavailable"
)

// Schema states recorded on dynamic steps.
const (
	SchemaFresh       = "fresh"
	SchemaStale       = "stale"
	SchemaUnavailable = "unavailable"
	SchemaNotUsed     = "not-used"
)

// =============================================================================
// ReasoningStep and Session
// =============================================================================

// Timing holds step latencies in milliseconds. Store timings are nil when
// the store did not report them.
type Timing struct {
	LatencyMS        float64  `json:"latency_ms"`
	AvailableAfterMS *float64 `json:"available_after_ms,omitempty"`
	ConsumedAfterMS  *float64 `json:"consumed_after_ms,omitempty"`
	GenerationMS     float64  `json:"generation_ms,omitempty"`
}

// ReasoningStep records one tool invocation. It is built once and never
// modified after emission.
type ReasoningStep struct {
	Index          int              `json:"index"`
	Description    string           `json:"description"`
	ToolName       string           `json:"tool_name,omitempty"`
	Category       string           `json:"category,omitempty"`
	GeneratedQuery string           `json:"generated_query,omitempty"`
	Explanation    string           `json:"explanation,omitempty"`
	ResultCount    int              `json:"result_count"`
	Truncated      bool             `json:"truncated,omitempty"`
	Timing         Timing           `json:"timing"`
	Results        []map[string]any `json:"results,omitempty"`
	Status         string           `json:"status"`
	Error          string           `json:"error,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Source         string           `json:"source,omitempty"`
	Attempts       int              `json:"attempts,omitempty"`
	SchemaState    string           `json:"schema_state,omitempty"`
}

// OK reports whether the step succeeded.
func (s ReasoningStep) OK() bool { return s.Status == StepOK }

// Session is the state of one question. It is not persisted.
//
// A Session returned by Run is written by the session goroutine until the
// event channel is closed. Read it only after that.
type Session struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	Steps        []ReasoningStep `json:"steps"`
	Answer       string          `json:"answer"`
	AnswerSource string          `json:"answer_source,omitempty"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	State        State           `json:"-"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// TotalResults sums ResultCount over successful steps.
func (s *Session) TotalResults() int {
	n := 0
	for _, st := range s.Steps {
		if st.OK() {
			n += st.ResultCount
		}
	}
	return n
}

// FailedSteps counts steps with status error.
func (s *Session) FailedSteps() int {
	n := 0
	for _, st := range s.Steps {
		if !st.OK() {
			n++
		}
	}
	return n
}

// =============================================================================
// Events
// =============================================================================

// EventKind distinguishes events on a session channel.
type EventKind string

const (
	EventStep  EventKind = "step"
	EventFinal EventKind = "final"
	EventError EventKind = "error"
)

// Event is one message to the presentation layer. A session produces zero
// or more step events followed by exactly one final or error event.
type Event struct {
	Kind   EventKind      `json:"type"`
	Step   *ReasoningStep `json:"step,omitempty"`
	Answer string         `json:"answer,omitempty"`
	Status string         `json:"status,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// SessionRecorder receives every finished session. Implementations must
// not retain the pointer.
type SessionRecorder interface {
	RecordSession(ctx context.Context, s *Session) error
}
