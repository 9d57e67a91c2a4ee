// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/GraphQA/services/graphqa"
	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

// maxEventSize bounds one SSE data line. Steps carry result rows.
const maxEventSize = 4 << 20

// apiError is a non-2xx response from the server.
type apiError struct {
	Status int
	graphqa.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.ErrorResponse.Error, e.Code, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.ErrorResponse.Error)
}

// apiClient talks to the GraphQA HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/v1/graphqa",
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &apiError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &e.ErrorResponse); err != nil || e.ErrorResponse.Error == "" {
		e.ErrorResponse.Error = strings.TrimSpace(string(raw))
		if e.ErrorResponse.Error == "" {
			e.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
	}
	return e
}

// =============================================================================
// Questions
// =============================================================================

// Query runs a question and returns the finished session.
func (c *apiClient) Query(ctx context.Context, req graphqa.QueryRequest) (*orchestrator.Session, error) {
	var sess orchestrator.Session
	if err := c.do(ctx, http.MethodPost, "/query", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// QueryStream runs a question over SSE and calls onEvent for every event.
// The "status" events are passed with a nil Event. Returning an error from
// onEvent stops the stream.
func (c *apiClient) QueryStream(ctx context.Context, req graphqa.QueryRequest, onEvent func(name string, ev *orchestrator.Event) error) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query/stream", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// The stream outlives the request timeout of the shared client.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST /query/stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), maxEventSize)
	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name == "" && data.Len() == 0 {
				continue
			}
			if err := dispatchEvent(name, data.String(), onEvent); err != nil {
				return err
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if name != "" || data.Len() > 0 {
		return dispatchEvent(name, data.String(), onEvent)
	}
	return nil
}

func dispatchEvent(name, data string, onEvent func(string, *orchestrator.Event) error) error {
	if name == "status" {
		return onEvent(name, nil)
	}
	var ev orchestrator.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return fmt.Errorf("decode %s event: %w", name, err)
	}
	return onEvent(name, &ev)
}

// =============================================================================
// Tools
// =============================================================================

func (c *apiClient) ListTools(ctx context.Context, category string) (graphqa.ToolListResponse, error) {
	path := "/tools"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var out graphqa.ToolListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) GetTool(ctx context.Context, name string) (catalog.ToolDescriptor, error) {
	var out catalog.ToolDescriptor
	err := c.do(ctx, http.MethodGet, "/tools/"+url.PathEscape(name), nil, &out)
	return out, err
}

func (c *apiClient) CreateTool(ctx context.Context, d catalog.ToolDescriptor) (catalog.ToolDescriptor, error) {
	var out catalog.ToolDescriptor
	err := c.do(ctx, http.MethodPost, "/tools", d, &out)
	return out, err
}

func (c *apiClient) DeleteTool(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/tools/"+url.PathEscape(name), nil, nil)
}

// =============================================================================
// Schema
// =============================================================================

func (c *apiClient) SchemaStatus(ctx context.Context) (graphqa.SchemaResponse, error) {
	var out graphqa.SchemaResponse
	err := c.do(ctx, http.MethodGet, "/schema", nil, &out)
	return out, err
}

func (c *apiClient) RefreshSchema(ctx context.Context) (graphqa.SchemaResponse, error) {
	var out graphqa.SchemaResponse
	err := c.do(ctx, http.MethodPost, "/schema/refresh", nil, &out)
	return out, err
}

func (c *apiClient) InvalidateSchema(ctx context.Context) (graphqa.SchemaResponse, error) {
	var out graphqa.SchemaResponse
	err := c.do(ctx, http.MethodDelete, "/schema", nil, &out)
	return out, err
}
