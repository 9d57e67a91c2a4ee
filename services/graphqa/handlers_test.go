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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
	"github.com/AleutianAI/GraphQA/services/graphqa/schema"
	badgerstore "github.com/AleutianAI/GraphQA/services/graphqa/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

// MockAnswerer implements QuestionAnswerer for testing.
type MockAnswerer struct {
	mu       sync.Mutex
	requests []orchestrator.Request

	// events are emitted by Run, after delay when set.
	events []orchestrator.Event
	delay  time.Duration

	// started receives the context of each Run when set.
	started chan context.Context

	answerFunc  func(ctx context.Context, req orchestrator.Request) (*orchestrator.Session, error)
	dynamicFunc func(ctx context.Context, question string, req orchestrator.Request) (orchestrator.ReasoningStep, error)
}

func (m *MockAnswerer) record(req orchestrator.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *MockAnswerer) lastRequest() orchestrator.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return orchestrator.Request{}
	}
	return m.requests[len(m.requests)-1]
}

func (m *MockAnswerer) Run(ctx context.Context, req orchestrator.Request) (<-chan orchestrator.Event, *orchestrator.Session) {
	m.record(req)
	if m.started != nil {
		m.started <- ctx
	}
	ch := make(chan orchestrator.Event, len(m.events))
	sess := &orchestrator.Session{ID: "sess-1", Question: req.Question}
	go func() {
		defer close(ch)
		if m.delay > 0 {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return
			}
		}
		for _, ev := range m.events {
			ch <- ev
		}
	}()
	return ch, sess
}

func (m *MockAnswerer) Answer(ctx context.Context, req orchestrator.Request) (*orchestrator.Session, error) {
	m.record(req)
	if m.answerFunc != nil {
		return m.answerFunc(ctx, req)
	}
	return &orchestrator.Session{
		ID:       "sess-1",
		Question: req.Question,
		Steps:    []orchestrator.ReasoningStep{},
		Answer:   orchestrator.NoResultsAnswer,
		Status:   orchestrator.StatusCompleted,
	}, nil
}

func (m *MockAnswerer) RunDynamic(ctx context.Context, question string, req orchestrator.Request) (orchestrator.ReasoningStep, error) {
	m.record(req)
	if m.dynamicFunc != nil {
		return m.dynamicFunc(ctx, question, req)
	}
	return orchestrator.ReasoningStep{Status: orchestrator.StepOK}, nil
}

type mockSchema struct {
	getFunc     func(ctx context.Context, force bool) (schema.Result, error)
	invalidated int
}

func (m *mockSchema) Get(ctx context.Context, force bool) (schema.Result, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, force)
	}
	return schema.Result{}, schema.ErrSchemaUnavailable
}

func (m *mockSchema) Invalidate() { m.invalidated++ }

func (m *mockSchema) Status() schema.Status {
	return schema.Status{Cached: m.invalidated == 0, TTLSeconds: 300}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	c, err := catalog.New(context.Background(), catalog.NewBadgerStore(db, nil), nil)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type testEnv struct {
	qa      *MockAnswerer
	tools   *catalog.Catalog
	schema  *mockSchema
	pingErr error
	router  *gin.Engine
}

func setupTestRouter(t *testing.T, cfg HandlersConfig) *testEnv {
	t.Helper()
	env := &testEnv{qa: &MockAnswerer{}, tools: newTestCatalog(t), schema: &mockSchema{}}
	db := pingFunc(func(context.Context) error { return env.pingErr })
	h := NewHandlers(env.qa, env.tools, env.schema, db, cfg)
	env.router = gin.New()
	env.router.Use(RequestIDMiddleware())
	RegisterRoutes(env.router.Group("/v1"), h)
	return env
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return resp
}

// =============================================================================
// Query
// =============================================================================

func TestHandleQuery_Success(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	docsOnly := true

	w := doJSON(t, env.router, "POST", "/v1/graphqa/query", map[string]any{
		"question":      "  show me vulnerable dependencies ",
		"tools":         []string{"vulnerable_dependencies_summary"},
		"use_docs_only": docsOnly,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var sess orchestrator.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sess.Status != orchestrator.StatusCompleted {
		t.Errorf("status = %q", sess.Status)
	}

	req := env.qa.lastRequest()
	if req.Question != "show me vulnerable dependencies" {
		t.Errorf("question = %q, want trimmed", req.Question)
	}
	if len(req.Tools) != 1 || req.UseDocsOnly == nil || !*req.UseDocsOnly {
		t.Errorf("request not forwarded: %+v", req)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestHandleQuery_QueryAlias(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	w := doJSON(t, env.router, "POST", "/v1/graphqa/query", map[string]any{"query": "who owns main.go"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := env.qa.lastRequest().Question; got != "who owns main.go" {
		t.Errorf("question = %q", got)
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{"empty question", map[string]any{"question": "   "}, CodeMissingQuestion},
		{"malformed json", "{not json", CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t, HandlersConfig{})
			w := doJSON(t, env.router, "POST", "/v1/graphqa/query", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if resp := decodeError(t, w); resp.Code != tt.wantCode || resp.RequestID == "" {
				t.Errorf("error = %+v, want code %s", resp, tt.wantCode)
			}
		})
	}
}

func TestHandleQuery_FailedSessionIsReturned(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.answerFunc = func(ctx context.Context, req orchestrator.Request) (*orchestrator.Session, error) {
		return &orchestrator.Session{ID: "s", Status: orchestrator.StatusFailed, Reason: orchestrator.ReasonInternal},
			fmt.Errorf("%w: internal-error", orchestrator.ErrTotalFailure)
	}
	w := doJSON(t, env.router, "POST", "/v1/graphqa/query", map[string]any{"question": "q"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"Failed"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleQuery_Cancelled(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.answerFunc = func(ctx context.Context, req orchestrator.Request) (*orchestrator.Session, error) {
		return &orchestrator.Session{ID: "s", Status: orchestrator.StatusCancelled}, context.Canceled
	}
	w := doJSON(t, env.router, "POST", "/v1/graphqa/query", map[string]any{"question": "q"})
	if w.Code != 499 {
		t.Fatalf("status = %d, want 499", w.Code)
	}
}

// =============================================================================
// Text2Cypher
// =============================================================================

func TestHandleText2Cypher_Success(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	avail := 2.0
	env.qa.dynamicFunc = func(ctx context.Context, question string, req orchestrator.Request) (orchestrator.ReasoningStep, error) {
		if question != "how many files are there" {
			t.Errorf("question = %q", question)
		}
		return orchestrator.ReasoningStep{
			ToolName:       catalog.DynamicToolName,
			GeneratedQuery: "MATCH (f:File) RETURN count(f) AS n\nLIMIT 100",
			Explanation:    "counts files",
			Source:         "llm",
			Status:         orchestrator.StepOK,
			ResultCount:    1,
			Results:        []map[string]any{{"n": 42}},
			Timing:         orchestrator.Timing{LatencyMS: 3.5, AvailableAfterMS: &avail},
		}, nil
	}

	w := doJSON(t, env.router, "POST", "/v1/graphqa/text2cypher", map[string]any{"question": "how many files are there"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp Text2CypherResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.GeneratedQuery == "" || resp.Source != "llm" || resp.Status != orchestrator.StepOK {
		t.Errorf("resp = %+v", resp)
	}
	if resp.DBMetrics.Rows != 1 || resp.DBMetrics.LatencyMS != 3.5 || resp.DBMetrics.AvailableAfterMS == nil {
		t.Errorf("db metrics = %+v", resp.DBMetrics)
	}
	if len(resp.Results) != 1 {
		t.Errorf("results = %v", resp.Results)
	}
}

func TestHandleText2Cypher_FailedStepStillOK(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.dynamicFunc = func(context.Context, string, orchestrator.Request) (orchestrator.ReasoningStep, error) {
		return orchestrator.ReasoningStep{Status: orchestrator.StepError, Reason: orchestrator.ReasonGenerationFailed, Error: "rejected"}, nil
	}
	w := doJSON(t, env.router, "POST", "/v1/graphqa/text2cypher", map[string]any{"question": "drop everything"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp Text2CypherResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Reason != orchestrator.ReasonGenerationFailed || resp.Results == nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleText2Cypher_GenerationDisabled(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.dynamicFunc = func(context.Context, string, orchestrator.Request) (orchestrator.ReasoningStep, error) {
		return orchestrator.ReasoningStep{}, fmt.Errorf("%w: query generation is disabled", orchestrator.ErrNoToolSelectable)
	}
	w := doJSON(t, env.router, "POST", "/v1/graphqa/text2cypher", map[string]any{"question": "q"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if decodeError(t, w).Code != CodeGenerationDisabled {
		t.Error("wrong code")
	}
}

// =============================================================================
// Tools
// =============================================================================

func TestHandleTools_CRUD(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	r := env.router

	w := doJSON(t, r, "GET", "/v1/graphqa/tools", nil)
	var list ToolListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	builtins := list.Count
	if builtins == 0 || list.Count != len(list.Tools) {
		t.Fatalf("list = %d tools, count %d", len(list.Tools), list.Count)
	}

	tool := map[string]any{
		"name":        "orphan_files",
		"description": "Files nobody has touched",
		"category":    "Custom",
		"query":       "MATCH (f:File) WHERE NOT (f)<-[:MODIFIED]-() RETURN f.path AS path",
		"keywords":    []string{"orphan files"},
	}
	if w := doJSON(t, r, "POST", "/v1/graphqa/tools", tool); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, r, "POST", "/v1/graphqa/tools", tool); w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", w.Code)
	}

	w = doJSON(t, r, "GET", "/v1/graphqa/tools/orphan_files", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "orphan_files") {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, "PATCH", "/v1/graphqa/tools/orphan_files", map[string]any{"description": "Untouched files"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Untouched files") {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, "GET", "/v1/graphqa/tools?category=Custom", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 || list.Tools[0].Name != "orphan_files" {
		t.Errorf("category filter = %+v", list.Tools)
	}

	if w := doJSON(t, r, "DELETE", "/v1/graphqa/tools/orphan_files", nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := doJSON(t, r, "GET", "/v1/graphqa/tools/orphan_files", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}

	w = doJSON(t, r, "GET", "/v1/graphqa/tools", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != builtins {
		t.Errorf("count after delete = %d, want %d", list.Count, builtins)
	}
}

func TestHandleTools_ErrorMapping(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	r := env.router

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"delete built-in", "DELETE", "/v1/graphqa/tools/large_files_analysis", nil, http.StatusForbidden, CodeToolForbidden},
		{"update built-in", "PATCH", "/v1/graphqa/tools/large_files_analysis", map[string]any{"description": "x"}, http.StatusForbidden, CodeToolForbidden},
		{"update unknown", "PATCH", "/v1/graphqa/tools/nope", map[string]any{"description": "x"}, http.StatusNotFound, CodeToolNotFound},
		{"delete unknown", "DELETE", "/v1/graphqa/tools/nope", nil, http.StatusNotFound, CodeToolNotFound},
		{"create invalid", "POST", "/v1/graphqa/tools", map[string]any{"name": "bad", "category": "Custom"}, http.StatusBadRequest, CodeInvalidTool},
		{"create shadowing built-in", "POST", "/v1/graphqa/tools", map[string]any{
			"name": "large_files_analysis", "description": "d", "category": "Custom", "query": "MATCH (n) RETURN n",
		}, http.StatusConflict, CodeToolConflict},
		{"unknown category", "GET", "/v1/graphqa/tools?category=Nope", nil, http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeError(t, w).Code; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

// =============================================================================
// Schema and Health
// =============================================================================

func TestHandleSchema(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	snap := &schema.Snapshot{Labels: map[string][]string{"File": {"path"}}, CapturedAt: time.Now()}
	env.schema.getFunc = func(ctx context.Context, force bool) (schema.Result, error) {
		if !force {
			t.Error("refresh must force")
		}
		return schema.Result{Snapshot: snap}, nil
	}

	if w := doJSON(t, env.router, "GET", "/v1/graphqa/schema", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w := doJSON(t, env.router, "POST", "/v1/graphqa/schema/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", w.Code)
	}
	var resp SchemaResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Snapshot == nil || !strings.Contains(resp.Rendered, "File") {
		t.Errorf("refresh resp = %+v", resp)
	}

	if w := doJSON(t, env.router, "DELETE", "/v1/graphqa/schema", nil); w.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", w.Code)
	}
	if env.schema.invalidated != 1 {
		t.Errorf("invalidated = %d", env.schema.invalidated)
	}
}

func TestHandleSchemaRefresh_Unavailable(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	w := doJSON(t, env.router, "POST", "/v1/graphqa/schema/refresh", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if decodeError(t, w).Code != CodeSchemaUnavailable {
		t.Error("wrong code")
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})

	if w := doJSON(t, env.router, "GET", "/v1/graphqa/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	if w := doJSON(t, env.router, "GET", "/v1/graphqa/ready", nil); w.Code != http.StatusOK {
		t.Fatalf("ready = %d", w.Code)
	}

	env.pingErr = errors.New("connection refused")
	w := doJSON(t, env.router, "GET", "/v1/graphqa/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with failing ping = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleReady_NoDatabase(t *testing.T) {
	h := NewHandlers(&MockAnswerer{}, newTestCatalog(t), nil, nil, HandlersConfig{})
	r := gin.New()
	RegisterRoutes(r.Group("/v1"), h)
	if w := doJSON(t, r, "GET", "/v1/graphqa/ready", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
	if w := doJSON(t, r, "GET", "/v1/graphqa/schema", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("schema status = %d", w.Code)
	}
}

func TestRequestIDMiddleware_ReusesInbound(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	req, _ := http.NewRequest("GET", "/v1/graphqa/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestNewRouter_ServesMetrics(t *testing.T) {
	h := NewHandlers(&MockAnswerer{}, newTestCatalog(t), nil, nil, HandlersConfig{})
	r := NewRouter(h, "graphqa-test", nil)
	w := doJSON(t, r, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "graphqa_catalog") {
		t.Errorf("expected catalog metrics in exposition")
	}
}
