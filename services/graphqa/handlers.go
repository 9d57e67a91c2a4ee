// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphqa exposes the question-answering service over HTTP, server
// sent events and websockets.
package graphqa

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
	"github.com/AleutianAI/GraphQA/services/graphqa/schema"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "graphqa"

// =============================================================================
// Dependencies
// =============================================================================

// QuestionAnswerer runs question sessions.
type QuestionAnswerer interface {
	Run(ctx context.Context, req orchestrator.Request) (<-chan orchestrator.Event, *orchestrator.Session)
	Answer(ctx context.Context, req orchestrator.Request) (*orchestrator.Session, error)
	RunDynamic(ctx context.Context, question string, req orchestrator.Request) (orchestrator.ReasoningStep, error)
}

// ToolStore manages tool descriptors.
type ToolStore interface {
	List(ctx context.Context) []catalog.ToolDescriptor
	ListByCategory(ctx context.Context, category catalog.Category) []catalog.ToolDescriptor
	Get(name string) (catalog.ToolDescriptor, error)
	Create(ctx context.Context, d catalog.ToolDescriptor) (catalog.ToolDescriptor, error)
	Update(ctx context.Context, name string, upd catalog.ToolUpdate) (catalog.ToolDescriptor, error)
	Delete(ctx context.Context, name string) error
}

// SchemaCache serves graph schema snapshots.
type SchemaCache interface {
	Get(ctx context.Context, forceRefresh bool) (schema.Result, error)
	Invalidate()
	Status() schema.Status
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlersConfig tunes the handlers.
type HandlersConfig struct {
	// Heartbeat is the SSE status interval. Zero uses 15s.
	Heartbeat time.Duration

	// ReadyTimeout bounds the readiness ping. Zero uses 5s.
	ReadyTimeout time.Duration

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Handlers serves the GraphQA HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	qa     QuestionAnswerer
	tools  ToolStore
	schema SchemaCache
	db     Pinger
	cfg    HandlersConfig
	logger *slog.Logger
}

// NewHandlers creates handlers. schema and db may be nil; the related
// endpoints then report the dependency as unavailable.
func NewHandlers(qa QuestionAnswerer, tools ToolStore, schemaCache SchemaCache, db Pinger, cfg HandlersConfig) *Handlers {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		qa:     qa,
		tools:  tools,
		schema: schemaCache,
		db:     db,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "graphqa_http")),
	}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// writeError maps err onto a status code and error body.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	var verr *catalog.ValidationError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		status, code = http.StatusNotFound, CodeToolNotFound
	case errors.Is(err, catalog.ErrConflict):
		status, code = http.StatusConflict, CodeToolConflict
	case errors.Is(err, catalog.ErrForbidden):
		status, code = http.StatusForbidden, CodeToolForbidden
	case errors.As(err, &verr), errors.Is(err, catalog.ErrInvalid):
		status, code = http.StatusBadRequest, CodeInvalidTool
	case errors.Is(err, orchestrator.ErrNoToolSelectable):
		status, code = http.StatusServiceUnavailable, CodeGenerationDisabled
	case errors.Is(err, schema.ErrSchemaUnavailable):
		status, code = http.StatusServiceUnavailable, CodeSchemaUnavailable
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, RequestID: getOrCreateRequestID(c)})
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: code, RequestID: getOrCreateRequestID(c)})
}

// bindQuestion parses a QueryRequest and rejects an empty question.
func bindQuestion(c *gin.Context) (QueryRequest, bool) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, CodeInvalidRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if req.question() == "" {
		badRequest(c, CodeMissingQuestion, "question is required")
		return req, false
	}
	return req, true
}

// =============================================================================
// Questions
// =============================================================================

// HandleQuery handles POST /v1/graphqa/query.
//
// Description:
//
//	Runs a full session and returns the Session. A session that ends
//	Failed is still returned with 200; its status and reason say why.
//
// Response:
//
//	200 OK: orchestrator.Session
//	400 Bad Request: Malformed body or empty question
//	499: Client went away before the session finished
func (h *Handlers) HandleQuery(c *gin.Context) {
	logger := h.requestLogger(c, "HandleQuery")
	req, ok := bindQuestion(c)
	if !ok {
		return
	}

	sess, err := h.qa.Answer(c.Request.Context(), req.toRequest())
	if err != nil && !errors.Is(err, orchestrator.ErrTotalFailure) {
		logger.Info("query abandoned", slog.String("error", err.Error()))
		c.JSON(499, ErrorResponse{Error: err.Error(), Code: orchestrator.ReasonCancelled, RequestID: getOrCreateRequestID(c)})
		return
	}

	logger.Info("query answered",
		slog.String("session_id", sess.ID),
		slog.String("status", sess.Status),
		slog.Int("steps", len(sess.Steps)),
	)
	c.JSON(http.StatusOK, sess)
}

// HandleText2Cypher handles POST /v1/graphqa/text2cypher.
//
// Description:
//
//	Generates, validates and runs a query for the question without
//	classification or answer composition.
//
// Response:
//
//	200 OK: Text2CypherResponse (status "error" when the step failed)
//	400 Bad Request: Malformed body or empty question
//	503 Service Unavailable: Query generation is not configured
func (h *Handlers) HandleText2Cypher(c *gin.Context) {
	logger := h.requestLogger(c, "HandleText2Cypher")
	req, ok := bindQuestion(c)
	if !ok {
		return
	}
	question := req.question()

	step, err := h.qa.RunDynamic(c.Request.Context(), question, req.toRequest())
	if err != nil {
		logger.Warn("text2cypher unavailable", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}
	logger.Info("text2cypher",
		slog.String("status", step.Status),
		slog.String("source", step.Source),
		slog.Int("rows", step.ResultCount),
	)
	c.JSON(http.StatusOK, text2CypherResponse(question, step))
}

// =============================================================================
// Tools
// =============================================================================

// HandleListTools handles GET /v1/graphqa/tools.
//
// Query Parameters:
//
//	category: Optional category filter
func (h *Handlers) HandleListTools(c *gin.Context) {
	ctx := c.Request.Context()
	var tools []catalog.ToolDescriptor
	if cat := c.Query("category"); cat != "" {
		if !slices.Contains(catalog.Categories, catalog.Category(cat)) {
			badRequest(c, CodeInvalidRequest, "unknown category "+cat)
			return
		}
		tools = h.tools.ListByCategory(ctx, catalog.Category(cat))
	} else {
		tools = h.tools.List(ctx)
	}
	if tools == nil {
		tools = []catalog.ToolDescriptor{}
	}
	c.JSON(http.StatusOK, ToolListResponse{Tools: tools, Count: len(tools)})
}

// HandleGetTool handles GET /v1/graphqa/tools/:name.
func (h *Handlers) HandleGetTool(c *gin.Context) {
	d, err := h.tools.Get(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// HandleCreateTool handles POST /v1/graphqa/tools.
//
// Response:
//
//	201 Created: catalog.ToolDescriptor
//	400 Bad Request: Invalid descriptor
//	409 Conflict: Name taken
func (h *Handlers) HandleCreateTool(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateTool")
	var d catalog.ToolDescriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, CodeInvalidRequest, "invalid tool body: "+err.Error())
		return
	}
	created, err := h.tools.Create(c.Request.Context(), d)
	if err != nil {
		logger.Info("tool create rejected", slog.String("name", d.Name), slog.String("error", err.Error()))
		writeError(c, err)
		return
	}
	logger.Info("tool created", slog.String("name", created.Name))
	c.JSON(http.StatusCreated, created)
}

// HandleUpdateTool handles PATCH /v1/graphqa/tools/:name.
//
// Response:
//
//	200 OK: catalog.ToolDescriptor
//	400 Bad Request: Invalid update
//	403 Forbidden: Built-in tool
//	404 Not Found: Unknown tool
//	409 Conflict: Rename onto an existing name
func (h *Handlers) HandleUpdateTool(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateTool")
	var upd catalog.ToolUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, CodeInvalidRequest, "invalid update body: "+err.Error())
		return
	}
	name := c.Param("name")
	updated, err := h.tools.Update(c.Request.Context(), name, upd)
	if err != nil {
		logger.Info("tool update rejected", slog.String("name", name), slog.String("error", err.Error()))
		writeError(c, err)
		return
	}
	logger.Info("tool updated", slog.String("name", name), slog.String("new_name", updated.Name))
	c.JSON(http.StatusOK, updated)
}

// HandleDeleteTool handles DELETE /v1/graphqa/tools/:name.
func (h *Handlers) HandleDeleteTool(c *gin.Context) {
	name := c.Param("name")
	if err := h.tools.Delete(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	h.requestLogger(c, "HandleDeleteTool").Info("tool deleted", slog.String("name", name))
	c.JSON(http.StatusOK, ToolDeleteResponse{Deleted: name})
}

// =============================================================================
// Schema
// =============================================================================

// HandleSchemaStatus handles GET /v1/graphqa/schema.
func (h *Handlers) HandleSchemaStatus(c *gin.Context) {
	if h.schema == nil {
		writeError(c, schema.ErrSchemaUnavailable)
		return
	}
	c.JSON(http.StatusOK, SchemaResponse{Status: h.schema.Status()})
}

// HandleSchemaRefresh handles POST /v1/graphqa/schema/refresh.
//
// Response:
//
//	200 OK: SchemaResponse with the fresh (or stale) snapshot
//	503 Service Unavailable: No snapshot could be obtained
func (h *Handlers) HandleSchemaRefresh(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSchemaRefresh")
	if h.schema == nil {
		writeError(c, schema.ErrSchemaUnavailable)
		return
	}
	res, err := h.schema.Get(c.Request.Context(), true)
	if err != nil {
		logger.Warn("schema refresh failed", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}
	logger.Info("schema refreshed", slog.Bool("stale", res.Stale))
	c.JSON(http.StatusOK, SchemaResponse{
		Status:   h.schema.Status(),
		Snapshot: res.Snapshot,
		Stale:    res.Stale,
		Rendered: res.Snapshot.Render(),
	})
}

// HandleSchemaInvalidate handles DELETE /v1/graphqa/schema.
func (h *Handlers) HandleSchemaInvalidate(c *gin.Context) {
	if h.schema == nil {
		writeError(c, schema.ErrSchemaUnavailable)
		return
	}
	h.schema.Invalidate()
	h.requestLogger(c, "HandleSchemaInvalidate").Info("schema cache invalidated")
	c.JSON(http.StatusOK, SchemaResponse{Status: h.schema.Status()})
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /v1/graphqa/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: ServiceName, Timestamp: time.Now().UTC()})
}

// HandleReady handles GET /v1/graphqa/ready.
//
// Response:
//
//	200 OK: Neo4j reachable
//	503 Service Unavailable: Ping failed or no database configured
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := HealthResponse{Service: ServiceName, Timestamp: time.Now().UTC()}
	if h.db == nil {
		resp.Status, resp.Neo4j = "not_ready", "not_configured"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.ReadyTimeout)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.requestLogger(c, "HandleReady").Warn("neo4j not reachable", slog.String("error", err.Error()))
		resp.Status, resp.Neo4j, resp.Error = "not_ready", "unreachable", err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status, resp.Neo4j = "ready", "connected"
	c.JSON(http.StatusOK, resp)
}
