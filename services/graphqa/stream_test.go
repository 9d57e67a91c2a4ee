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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

func sampleEvents() []orchestrator.Event {
	return []orchestrator.Event{
		{Kind: orchestrator.EventStep, Step: &orchestrator.ReasoningStep{Index: 0, ToolName: "large_files_analysis", Status: orchestrator.StepOK, ResultCount: 2}},
		{Kind: orchestrator.EventStep, Step: &orchestrator.ReasoningStep{Index: 1, ToolName: "complex_methods_analysis", Status: orchestrator.StepOK}},
		{Kind: orchestrator.EventFinal, Answer: "Here are the results", Status: orchestrator.StatusCompleted},
	}
}

func TestHandleQueryStream_EventOrder(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.events = sampleEvents()

	w := doJSON(t, env.router, "POST", "/v1/graphqa/query/stream", map[string]any{"question": "large files"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	body := w.Body.String()
	status := strings.Index(body, "event:status")
	first := strings.Index(body, "large_files_analysis")
	second := strings.Index(body, "complex_methods_analysis")
	final := strings.Index(body, "event:final")
	if status < 0 || first < 0 || second < 0 || final < 0 {
		t.Fatalf("missing events in body:\n%s", body)
	}
	if !(status < first && first < second && second < final) {
		t.Errorf("events out of order:\n%s", body)
	}
	if strings.Count(body, "event:step") != 2 {
		t.Errorf("step events = %d, want 2", strings.Count(body, "event:step"))
	}
	if !strings.Contains(body, `"session_id":"sess-1"`) {
		t.Errorf("opening status lacks session id:\n%s", body)
	}
}

func TestHandleQueryStream_Heartbeat(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{Heartbeat: 10 * time.Millisecond})
	env.qa.events = sampleEvents()
	env.qa.delay = 80 * time.Millisecond

	w := doJSON(t, env.router, "POST", "/v1/graphqa/query/stream", map[string]any{"question": "large files"})
	body := w.Body.String()
	if !strings.Contains(body, StreamHeartbeat) {
		t.Errorf("expected heartbeat status while waiting:\n%s", body)
	}
	if !strings.Contains(body, "event:final") {
		t.Errorf("missing final event:\n%s", body)
	}
}

func TestHandleQueryStream_EmptyQuestion(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	w := doJSON(t, env.router, "POST", "/v1/graphqa/query/stream", map[string]any{"question": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/graphqa/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHandleWebSocket_PingPong(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	conn := dialWS(t, env)

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if msg := readType(t, conn); msg["type"] != "pong" {
		t.Errorf("reply = %v, want pong", msg)
	}
}

func TestHandleWebSocket_Query(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.events = sampleEvents()
	conn := dialWS(t, env)

	if err := conn.WriteJSON(map[string]string{"type": "query", "query": "large files"}); err != nil {
		t.Fatal(err)
	}

	want := []string{"status", "step", "step", "final", "status"}
	var got []string
	for range want {
		got = append(got, readType(t, conn)["type"].(string))
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("message types = %v, want %v", got, want)
	}
	if q := env.qa.lastRequest().Question; q != "large files" {
		t.Errorf("question = %q", q)
	}
}

func TestHandleWebSocket_Errors(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	conn := dialWS(t, env)

	for _, raw := range []string{`{"type":"dance"}`, `{"type":"query"}`, `not json`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		msg := readType(t, conn)
		if msg["type"] != "error" {
			t.Errorf("%s: reply = %v, want error", raw, msg)
		}
	}

	// The connection survives bad messages.
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if msg := readType(t, conn); msg["type"] != "pong" {
		t.Errorf("reply = %v", msg)
	}
}

func TestHandleWebSocket_ClientCloseCancelsSession(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{})
	env.qa.delay = time.Minute
	env.qa.started = make(chan context.Context, 1)
	conn := dialWS(t, env)

	if err := conn.WriteJSON(map[string]string{"type": "query", "question": "large files"}); err != nil {
		t.Fatal(err)
	}
	if msg := readType(t, conn); msg["type"] != "status" {
		t.Fatalf("first message = %v, want status", msg)
	}

	var runCtx context.Context
	select {
	case runCtx = <-env.qa.started:
	case <-time.After(5 * time.Second):
		t.Fatal("session was not started")
	}

	_ = conn.Close()

	select {
	case <-runCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session context was not cancelled after the client went away")
	}
}

func TestHandleWebSocket_OriginCheck(t *testing.T) {
	env := setupTestRouter(t, HandlersConfig{AllowedOrigins: []string{"https://graphqa.example"}})
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/graphqa/ws"

	header := http.Header{"Origin": {"https://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected upgrade to be refused")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	header = http.Header{"Origin": {"https://graphqa.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	_ = conn.Close()
}

func TestStatusMessage_PongShape(t *testing.T) {
	b, _ := json.Marshal(StatusMessage{Type: "pong"})
	if string(b) != `{"type":"pong"}` {
		t.Errorf("pong = %s", b)
	}
}
