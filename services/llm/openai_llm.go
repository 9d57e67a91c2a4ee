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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// =============================================================================
// OpenAI Wire Types
// =============================================================================

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultAzureAPIVersion = "2024-12-01-preview"
)

type openaiRequest struct {
	Model               string          `json:"model,omitempty"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient implements ChatBackend for OpenAI and Azure OpenAI using raw net/http.
//
// Description:
//
//	Uses the Chat Completions REST API directly. In Azure mode the model
//	is addressed by deployment in the URL and the key is sent in the
//	api-key header instead of a bearer token.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	azure      bool
}

// NewOpenAIClientWithConfig creates an OpenAIClient with explicit configuration.
//
// Inputs:
//   - apiKey: The OpenAI API key.
//   - model: The model name (e.g., "gpt-4o"). Empty defaults to gpt-4o-mini.
//   - baseURL: Full chat completions URL. Empty uses the public endpoint.
//
// Outputs:
//   - *OpenAIClient: The configured client.
func NewOpenAIClientWithConfig(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewOpenAIClient creates a new OpenAIClient from environment variables.
//
// Description:
//
//	Reads OPENAI_API_KEY, OPENAI_MODEL and OPENAI_BASE_URL.
//	Defaults to "gpt-4o-mini" if OPENAI_MODEL is not set.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if OPENAI_API_KEY is missing.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Warn("OpenAI API Key is empty. OpenAI Client will not function.")
		return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		slog.Warn("OPENAI_MODEL not set, defaulting to " + defaultOpenAIModel)
	}
	slog.Info("Initializing OpenAI client", slog.String("model", model))
	return NewOpenAIClientWithConfig(apiKey, model, os.Getenv("OPENAI_BASE_URL")), nil
}

// NewAzureOpenAIClient creates an OpenAIClient that talks to an Azure OpenAI deployment.
//
// Inputs:
//   - endpoint: Resource endpoint, e.g. "https://myres.openai.azure.com".
//   - deployment: Deployment name. Also used as the model label.
//   - apiVersion: API version. Empty uses 2024-12-01-preview.
//   - apiKey: Azure OpenAI key.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if endpoint, deployment or key is missing.
func NewAzureOpenAIClient(endpoint, deployment, apiVersion, apiKey string) (*OpenAIClient, error) {
	if endpoint == "" || deployment == "" {
		return nil, fmt.Errorf("azure: endpoint and deployment are required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("azure: API key is missing (AZURE_OPENAI_API_KEY)")
	}
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}

	u := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(endpoint, "/"), url.PathEscape(deployment), url.QueryEscape(apiVersion))

	slog.Info("Initializing Azure OpenAI client",
		slog.String("deployment", deployment),
		slog.String("api_version", apiVersion))

	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      deployment,
		baseURL:    u,
		azure:      true,
	}, nil
}

// Provider implements ChatBackend.
func (o *OpenAIClient) Provider() string {
	if o.azure {
		return "azure"
	}
	return "openai"
}

// Model returns the configured model or deployment name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Chat implements ChatBackend using the chat completions API.
//
// Description:
//
//	Converts messages to the OpenAI wire format and sends one request.
//	Unknown roles are mapped to "user". Usage counters are returned when
//	the API reports them.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters.
//
// Outputs:
//   - ChatResult: The assistant's response and usage.
//   - error: Non-nil if the request fails. Prefixed with "openai:" or "azure:".
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (ChatResult, error) {
	prefix := o.Provider()
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	slog.Debug("Chat via OpenAI", slog.String("provider", prefix), slog.String("model", model), slog.Int("messages", len(messages)))

	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant":
		default:
			slog.Warn("OpenAI: unknown message role, mapping to user",
				slog.String("unknown_role", role),
				slog.String("model", model),
			)
			role = "user"
		}
		oaiMessages = append(oaiMessages, openaiMessage{Role: role, Content: msg.Content})
	}

	reqPayload := openaiRequest{
		Messages:            oaiMessages,
		Temperature:         params.Temperature,
		MaxCompletionTokens: params.MaxTokens,
		TopP:                params.TopP,
	}
	// Azure selects the model by deployment in the URL.
	if !o.azure {
		reqPayload.Model = model
	}
	if len(params.Stop) > 0 {
		reqPayload.Stop = params.Stop
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%s: marshaling request: %w", prefix, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return ChatResult{}, fmt.Errorf("%s: creating HTTP request: %w", prefix, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.azure {
		httpReq.Header.Set("api-key", o.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%s: HTTP request failed: %w", prefix, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%s: reading response body: %w", prefix, err)
	}

	if resp.StatusCode != http.StatusOK {
		return ChatResult{}, fmt.Errorf("%s: API returned status %d: %s", prefix, resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return ChatResult{}, fmt.Errorf("%s: parsing response JSON: %w", prefix, err)
	}

	if apiResp.Error != nil {
		return ChatResult{}, fmt.Errorf("%s: API error: %s - %s", prefix, apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("%s: returned no choices", prefix)
	}

	result := ChatResult{
		Content: apiResp.Choices[0].Message.Content,
		Model:   model,
	}
	if apiResp.Model != "" {
		result.Model = apiResp.Model
	}
	if apiResp.Usage != nil {
		result.PromptTokens = apiResp.Usage.PromptTokens
		result.CompletionTokens = apiResp.Usage.CompletionTokens
	}

	slog.Debug("Received OpenAI chat response",
		slog.String("finish_reason", apiResp.Choices[0].FinishReason),
		slog.Int("response_len", len(result.Content)),
		slog.Int("prompt_tokens", result.PromptTokens),
		slog.Int("completion_tokens", result.CompletionTokens),
	)

	return result, nil
}
