// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm wraps the OpenAI-compatible chat surface of the local model
// backend. It owns streaming, usage extraction, and the mapping of raw
// transport failures onto the error categories the session layer acts on.
package llm

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client streams chat completions from the backend.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a chat client against an OpenAI-compatible base URL.
// Local backends ignore the API key but the transport requires one.
func NewClient(baseURL, model string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := openai.DefaultConfig("local")
	cfg.BaseURL = baseURL
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Usage is the backend-reported token accounting for one completion.
// Zero values mean the backend omitted usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamChat sends the prepared messages and invokes onDelta for every
// content fragment as it arrives. It returns the backend-reported usage,
// which requires stream_options support; backends without it return a
// zero Usage and callers fall back to heuristic accounting.
func (c *Client) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, onDelta func(string)) (Usage, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	start := time.Now()
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return Usage{}, Categorize(err)
	}
	defer stream.Close()

	var usage Usage
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return usage, Categorize(err)
		}

		if resp.Usage != nil {
			usage.PromptTokens = resp.Usage.PromptTokens
			usage.CompletionTokens = resp.Usage.CompletionTokens
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				onDelta(choice.Delta.Content)
			}
		}
	}

	c.logger.Debug("chat stream complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens))
	return usage, nil
}
