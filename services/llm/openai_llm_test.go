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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestOpenAIClient points a client at an httptest server.
func newTestOpenAIClient(server *httptest.Server, azure bool) *OpenAIClient {
	return &OpenAIClient{
		httpClient: server.Client(),
		apiKey:     "test-key",
		model:      "gpt-4o-mini",
		baseURL:    server.URL,
		azure:      azure,
	}
}

func writeChoice(w http.ResponseWriter, content string, usage *openaiUsage) {
	resp := openaiResponse{
		Choices: []openaiChoice{
			{
				Message:      openaiMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: usage,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestNewOpenAIClient_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient()
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "openai:") {
		t.Errorf("error should include 'openai:' prefix, got: %s", err.Error())
	}
}

func TestNewOpenAIClient_DefaultModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OPENAI_BASE_URL", "")

	client, err := NewOpenAIClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want %q", client.model, "gpt-4o-mini")
	}
	if client.baseURL != defaultOpenAIBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, defaultOpenAIBaseURL)
	}
}

func TestNewAzureOpenAIClient_BuildsDeploymentURL(t *testing.T) {
	client, err := NewAzureOpenAIClient("https://res.openai.azure.com/", "gpt4o-prod", "", "azure-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://res.openai.azure.com/openai/deployments/gpt4o-prod/chat/completions?api-version=2024-12-01-preview"
	if client.baseURL != want {
		t.Errorf("baseURL = %q, want %q", client.baseURL, want)
	}
	if client.Provider() != "azure" {
		t.Errorf("Provider() = %q, want azure", client.Provider())
	}
}

func TestNewAzureOpenAIClient_MissingFields(t *testing.T) {
	if _, err := NewAzureOpenAIClient("", "dep", "", "k"); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewAzureOpenAIClient("https://x", "dep", "", ""); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestOpenAIClient_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q, want %q", req.Model, "gpt-4o-mini")
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Errorf("temperature should be sent as explicit 0")
		}

		writeChoice(w, "MATCH (n) RETURN n LIMIT 5", &openaiUsage{PromptTokens: 120, CompletionTokens: 12})
	}))
	defer server.Close()

	client := newTestOpenAIClient(server, false)
	temp := float32(0)
	result, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "Hi"}}, GenerationParams{Temperature: &temp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "MATCH (n) RETURN n LIMIT 5" {
		t.Errorf("content = %q", result.Content)
	}
	if result.PromptTokens != 120 || result.CompletionTokens != 12 {
		t.Errorf("usage = %d/%d, want 120/12", result.PromptTokens, result.CompletionTokens)
	}
}

func TestOpenAIClient_Chat_AzureUsesAPIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "test-key" {
			t.Errorf("api-key = %q, want test-key", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization should be empty in azure mode, got %q", got)
		}
		var req openaiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "" {
			t.Errorf("azure request should not carry a model, got %q", req.Model)
		}
		writeChoice(w, "ok", nil)
	}))
	defer server.Close()

	client := newTestOpenAIClient(server, true)
	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "Hi"}}, GenerationParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenAIClient_Chat_UnknownRoleMappedToUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, msg := range req.Messages {
			if msg.Content == "unknown role content" && msg.Role != "user" {
				t.Errorf("unknown role should be mapped to 'user', got %q", msg.Role)
			}
		}
		writeChoice(w, "response", nil)
	}))
	defer server.Close()

	client := newTestOpenAIClient(server, false)
	messages := []Message{
		{Role: "user", Content: "normal message"},
		{Role: "tool_result", Content: "unknown role content"},
	}

	result, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "response" {
		t.Errorf("result = %q, want %q", result.Content, "response")
	}
}

func TestOpenAIClient_Chat_ErrorIncludesProviderPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid key sk-abcdefghijklmnopqrstuvwxyz", "type": "auth_error"}}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server, false)
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "Hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	msg := err.Error()
	if !strings.Contains(msg, "openai:") {
		t.Errorf("error should include 'openai:' prefix, got: %s", msg)
	}
	if !strings.Contains(msg, "returned status 401") {
		t.Errorf("error should carry the status, got: %s", msg)
	}
	if strings.Contains(msg, "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Errorf("error leaked an API key: %s", msg)
	}
}

func TestOpenAIClient_Chat_NoChoicesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiResponse{Choices: []openaiChoice{}})
	}))
	defer server.Close()

	client := newTestOpenAIClient(server, false)
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "Hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if !strings.Contains(err.Error(), "openai:") {
		t.Errorf("error should include 'openai:' prefix, got: %s", err.Error())
	}
}

func TestOpenAIClient_Chat_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want %q (should be overridden)", req.Model, "gpt-4o")
		}
		writeChoice(w, "using override model", nil)
	}))
	defer server.Close()

	client := newTestOpenAIClient(server, false)
	result, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "Hi"}}, GenerationParams{ModelOverride: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Model != "gpt-4o" {
		t.Errorf("result model = %q, want gpt-4o", result.Model)
	}
}
