// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides language-model clients and the single-shot Completer
// abstraction consumed by the query generator and the answer composer.
//
// Thread Safety:
//
//	All clients and adapters in this package are safe for concurrent use.
package llm

import (
	"context"
)

// Message is one turn of a chat conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`
}

// GenerationParams holds backend-level generation parameters.
//
// Description:
//
//	Pointer fields are omitted from the wire request when nil so the
//	provider default applies.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	ModelOverride string
}

// ChatResult is the outcome of one chat call.
type ChatResult struct {
	// Content is the assistant's response text.
	Content string

	// Model is the model that served the request.
	Model string

	// PromptTokens and CompletionTokens are provider-reported usage.
	// Zero when the backend does not report usage.
	PromptTokens     int
	CompletionTokens int
}

// ChatBackend is implemented by the concrete provider clients.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatBackend interface {
	// Chat sends the conversation and returns the assistant's reply.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages.
	//   - params: Generation parameters.
	//
	// Outputs:
	//   - ChatResult: Reply text and usage.
	//   - error: Non-nil on transport or API failure.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (ChatResult, error)

	// Provider returns a label-safe provider name ("openai", "azure", "ollama").
	Provider() string
}

// CompleteOptions are per-call options for Completer.Complete.
type CompleteOptions struct {
	// Temperature controls randomness. Negative omits it from the request.
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// Purpose labels the call for metrics and tracing ("generate", "answer").
	Purpose string
}

// Completer is the single-shot language-model interface.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Completer interface {
	// Complete sends one prompt and returns the model's text.
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
}
