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
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// LangchainClient implements ChatBackend on top of any langchaingo llms.Model.
//
// Description:
//
//	Used for local Ollama deployments. Any other langchaingo backend can be
//	passed to NewLangchainClient directly.
//
// Thread Safety: LangchainClient is safe for concurrent use if the wrapped
// model is.
type LangchainClient struct {
	model    llms.Model
	name     string
	provider string
}

// NewLangchainClient wraps an existing langchaingo model.
//
// Inputs:
//   - model: The langchaingo model. Must not be nil.
//   - provider: Label-safe provider name for metrics.
//   - modelName: Model name reported in ChatResult.
//
// Outputs:
//   - *LangchainClient: The configured client.
func NewLangchainClient(model llms.Model, provider, modelName string) *LangchainClient {
	return &LangchainClient{model: model, name: modelName, provider: provider}
}

// NewOllamaClient creates a LangchainClient talking to an Ollama server.
//
// Inputs:
//   - serverURL: Ollama base URL. Empty uses http://localhost:11434.
//   - model: Ollama model tag, e.g. "llama3.1".
//
// Outputs:
//   - *LangchainClient: The configured client.
//   - error: Non-nil if the model is empty or the client cannot be built.
func NewOllamaClient(serverURL, model string) (*LangchainClient, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model is required (OLLAMA_MODEL)")
	}
	if serverURL == "" {
		serverURL = defaultOllamaURL
	}

	client, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("ollama: creating client: %w", err)
	}

	slog.Info("Initializing Ollama client",
		slog.String("server_url", serverURL),
		slog.String("model", model))

	return NewLangchainClient(client, "ollama", model), nil
}

// Provider implements ChatBackend.
func (c *LangchainClient) Provider() string {
	return c.provider
}

// Chat implements ChatBackend via llms.Model.GenerateContent.
func (c *LangchainClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (ChatResult, error) {
	if c.model == nil {
		return ChatResult{}, fmt.Errorf("%s: client is nil", c.provider)
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(langchainRole(msg.Role), msg.Content))
	}

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	model := c.name
	if params.ModelOverride != "" {
		model = params.ModelOverride
		opts = append(opts, llms.WithModel(model))
	}

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%s: generate content: %w", c.provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("%s: returned no choices", c.provider)
	}

	choice := resp.Choices[0]
	return ChatResult{
		Content:          choice.Content,
		Model:            model,
		PromptTokens:     generationInt(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: generationInt(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

func langchainRole(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// generationInt reads a numeric usage field from a langchaingo GenerationInfo map.
func generationInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
