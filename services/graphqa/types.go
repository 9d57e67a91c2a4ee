// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphqa

import (
	"strings"
	"time"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
	"github.com/AleutianAI/GraphQA/services/graphqa/schema"
)

// =============================================================================
// Errors
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeMissingQuestion    = "MISSING_QUESTION"
	CodeToolNotFound       = "TOOL_NOT_FOUND"
	CodeToolConflict       = "TOOL_CONFLICT"
	CodeToolForbidden      = "TOOL_FORBIDDEN"
	CodeInvalidTool        = "INVALID_TOOL"
	CodeGenerationDisabled = "GENERATION_DISABLED"
	CodeSchemaUnavailable  = "SCHEMA_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// =============================================================================
// Questions
// =============================================================================

// QueryRequest is the body of /query, /query/stream and /text2cypher.
//
// Query is accepted as an alias for Question.
type QueryRequest struct {
	Question         string         `json:"question"`
	Query            string         `json:"query,omitempty"`
	Tools            []string       `json:"tools,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
	IncludeGraphDocs *bool          `json:"include_graph_docs,omitempty"`
	UseDocsOnly      *bool          `json:"use_docs_only,omitempty"`
}

// question returns the trimmed question text.
func (r QueryRequest) question() string {
	if q := strings.TrimSpace(r.Question); q != "" {
		return q
	}
	return strings.TrimSpace(r.Query)
}

func (r QueryRequest) toRequest() orchestrator.Request {
	return orchestrator.Request{
		Question:         r.question(),
		Tools:            r.Tools,
		Params:           r.Params,
		IncludeGraphDocs: r.IncludeGraphDocs,
		UseDocsOnly:      r.UseDocsOnly,
	}
}

// StatusMessage is sent on stream start, heartbeats and completion.
type StatusMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Stream status values.
const (
	StreamProcessing = "processing"
	StreamHeartbeat  = "heartbeat"
	StreamCompleted  = "completed"
)

// DBMetrics reports database timings of one query.
type DBMetrics struct {
	Rows             int      `json:"rows"`
	Truncated        bool     `json:"truncated"`
	LatencyMS        float64  `json:"latency_ms"`
	AvailableAfterMS *float64 `json:"available_after_ms,omitempty"`
	ConsumedAfterMS  *float64 `json:"consumed_after_ms,omitempty"`
}

// Text2CypherResponse is the body of /text2cypher.
type Text2CypherResponse struct {
	Question       string           `json:"question"`
	GeneratedQuery string           `json:"generated_query"`
	Explanation    string           `json:"explanation,omitempty"`
	Source         string           `json:"source,omitempty"`
	Status         string           `json:"status"`
	Error          string           `json:"error,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Attempts       int              `json:"attempts,omitempty"`
	SchemaState    string           `json:"schema_state,omitempty"`
	GenerationMS   float64          `json:"generation_ms,omitempty"`
	Results        []map[string]any `json:"results"`
	DBMetrics      DBMetrics        `json:"db_metrics"`
}

func text2CypherResponse(question string, step orchestrator.ReasoningStep) Text2CypherResponse {
	results := step.Results
	if results == nil {
		results = []map[string]any{}
	}
	return Text2CypherResponse{
		Question:       question,
		GeneratedQuery: step.GeneratedQuery,
		Explanation:    step.Explanation,
		Source:         step.Source,
		Status:         step.Status,
		Error:          step.Error,
		Reason:         step.Reason,
		Attempts:       step.Attempts,
		SchemaState:    step.SchemaState,
		GenerationMS:   step.Timing.GenerationMS,
		Results:        results,
		DBMetrics: DBMetrics{
			Rows:             step.ResultCount,
			Truncated:        step.Truncated,
			LatencyMS:        step.Timing.LatencyMS,
			AvailableAfterMS: step.Timing.AvailableAfterMS,
			ConsumedAfterMS:  step.Timing.ConsumedAfterMS,
		},
	}
}

// =============================================================================
// Tools
// =============================================================================

// ToolListResponse is the body of GET /tools.
type ToolListResponse struct {
	Tools []catalog.ToolDescriptor `json:"tools"`
	Count int                      `json:"count"`
}

// ToolDeleteResponse is the body of DELETE /tools/:name.
type ToolDeleteResponse struct {
	Deleted string `json:"deleted"`
}

// =============================================================================
// Schema and Health
// =============================================================================

// SchemaResponse is the body of GET /schema and POST /schema/refresh.
type SchemaResponse struct {
	Status   schema.Status    `json:"status"`
	Snapshot *schema.Snapshot `json:"snapshot,omitempty"`
	Stale    bool             `json:"stale,omitempty"`
	Rendered string           `json:"rendered,omitempty"`
}

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Neo4j     string    `json:"neo4j,omitempty"`
	Error     string    `json:"error,omitempty"`
}
