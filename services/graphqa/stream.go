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
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

// =============================================================================
// Server-Sent Events
// =============================================================================

// HandleQueryStream handles POST /v1/graphqa/query/stream.
//
// Description:
//
//	Streams a session as server-sent events. A "status" event opens the
//	stream, then one "step" event per reasoning step in order, then one
//	"final" or "error" event. A "status" heartbeat is sent whenever the
//	stream has been quiet for the heartbeat interval. Closing the
//	connection cancels the session.
//
// Response:
//
//	200 OK: text/event-stream
//	400 Bad Request: Malformed body or empty question
func (h *Handlers) HandleQueryStream(c *gin.Context) {
	logger := h.requestLogger(c, "HandleQueryStream")
	req, ok := bindQuestion(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, sess := h.qa.Run(ctx, req.toRequest())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(name string, data any) {
		c.SSEvent(name, data)
		c.Writer.Flush()
	}
	send("status", StatusMessage{Type: "status", Status: StreamProcessing, SessionID: sess.ID})

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()

	steps := 0
	for {
		select {
		case ev, open := <-events:
			if !open {
				logger.Info("stream finished", slog.String("session_id", sess.ID), slog.Int("steps", steps))
				return
			}
			send(string(ev.Kind), ev)
			if ev.Kind == orchestrator.EventStep {
				steps++
			}
			heartbeat.Reset(h.cfg.Heartbeat)
		case <-heartbeat.C:
			send("status", StatusMessage{Type: "status", Status: StreamHeartbeat, SessionID: sess.ID})
		case <-ctx.Done():
			logger.Info("stream client disconnected", slog.String("session_id", sess.ID))
			for range events {
			}
			return
		}
	}
}

// =============================================================================
// WebSocket
// =============================================================================

// wsMessage is a client message. Query is accepted as an alias for Question.
type wsMessage struct {
	Type string `json:"type"`
	QueryRequest
}

// wsError is sent for malformed or failed client messages.
type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	wsWriteWait   = 10 * time.Second
	wsMaxMessage  = 64 << 10
	wsReadTimeout = 10 * time.Minute
	wsQueueSize   = 16
)

func (h *Handlers) upgrader() *websocket.Upgrader {
	allowed := h.cfg.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		},
	}
}

// HandleWebSocket handles GET /v1/graphqa/ws.
//
// Description:
//
//	Upgrades to a websocket and serves messages one at a time. A
//	{"type":"ping"} is answered with {"type":"pong"}. A {"type":"query"}
//	runs a session and relays a "status" message, the session events and a
//	closing "status" message. Anything else yields an "error" message.
//
//	A dedicated reader goroutine owns the socket's read side and queues
//	messages for the serving loop. When the client goes away the read
//	fails and the connection context is cancelled, which stops an in-flight
//	session without waiting for the next write. A failed write also ends
//	the connection.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	logger := h.requestLogger(c, "HandleWebSocket")
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	logger.Info("websocket connected")
	msgs := h.wsReadLoop(ctx, cancel, conn, logger)
	for data := range msgs {
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if h.wsWrite(conn, wsError{Type: "error", Message: "invalid message: " + err.Error()}) != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "ping":
			err = h.wsWrite(conn, StatusMessage{Type: "pong"})
		case "query":
			err = h.wsQuery(ctx, conn, msg.QueryRequest, logger)
		default:
			err = h.wsWrite(conn, wsError{Type: "error", Message: "Unknown message type"})
		}
		if err != nil {
			logger.Info("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// wsReadLoop reads client messages until the socket fails or ctx ends.
// The returned channel is closed when reading stops, and cancel is called
// so work tied to the connection stops with it.
func (h *Handlers) wsReadLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, logger *slog.Logger) <-chan []byte {
	msgs := make(chan []byte, wsQueueSize)
	go func() {
		defer close(msgs)
		defer cancel()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("websocket read ended", slog.String("error", err.Error()))
				}
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return msgs
}

func (h *Handlers) wsQuery(parent context.Context, conn *websocket.Conn, req QueryRequest, logger *slog.Logger) error {
	if req.question() == "" {
		return h.wsWrite(conn, wsError{Type: "error", Message: "question is required"})
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	events, sess := h.qa.Run(ctx, req.toRequest())

	if err := h.wsWrite(conn, StatusMessage{Type: "status", Status: StreamProcessing, SessionID: sess.ID, Message: "Processing your query..."}); err != nil {
		cancel()
		for range events {
		}
		return err
	}
	for ev := range events {
		if err := h.wsWrite(conn, ev); err != nil {
			cancel()
			for range events {
			}
			return err
		}
	}
	logger.Info("websocket query finished", slog.String("session_id", sess.ID), slog.String("status", sess.Status))
	return h.wsWrite(conn, StatusMessage{Type: "status", Status: StreamCompleted, SessionID: sess.ID, Message: "Query completed"})
}

func (h *Handlers) wsWrite(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
