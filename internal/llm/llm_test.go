// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ERROR CATEGORIZATION TESTS
// =============================================================================

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "context length api error",
			err:  &openai.APIError{Message: "This model's maximum context length is 8192 tokens"},
			want: ErrTypeContextExceeded,
		},
		{
			name: "context window phrasing",
			err:  &openai.APIError{Message: "request exceeds the available context window"},
			want: ErrTypeContextExceeded,
		},
		{
			name: "other api error",
			err:  &openai.APIError{Message: "model not loaded"},
			want: ErrTypeGeneric,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: ErrTypeConnectivity,
		},
		{
			name: "connection refused by message",
			err:  fmt.Errorf("Post \"http://x/v1/chat\": dial tcp: connection refused"),
			want: ErrTypeConnectivity,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ErrTypeGeneric,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Categorize(tc.err)
			var ce *ChatError
			require.ErrorAs(t, got, &ce)
			assert.Equal(t, tc.want, ce.Type)
		})
	}
}

func TestCategorize_NilPassthrough(t *testing.T) {
	assert.NoError(t, Categorize(nil))
}

func TestUserMessage(t *testing.T) {
	ctx := Categorize(&openai.APIError{Message: "maximum context length exceeded"})
	assert.Contains(t, UserMessage(ctx), "new conversation")

	conn := Categorize(context.DeadlineExceeded)
	assert.Contains(t, UserMessage(conn), "not responding")

	assert.Contains(t, UserMessage(errors.New("raw")), "try again")
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

// sseHandler replays pre-built SSE chunks the way an OpenAI-compatible
// backend does.
func sseHandler(t *testing.T, chunks []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestStreamChat_DeltasAndUsage(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[],"usage":{"prompt_tokens":42,"completion_tokens":2}}`,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gemma3-prod", nil)
	var sb strings.Builder
	usage, err := c.StreamChat(context.Background(),
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		func(delta string) { sb.WriteString(delta) })

	require.NoError(t, err)
	assert.Equal(t, "Hello", sb.String())
	assert.Equal(t, 42, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestStreamChat_NoUsageReported(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"ok"}}]}`,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gemma3-prod", nil)
	usage, err := c.StreamChat(context.Background(),
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		func(string) {})

	require.NoError(t, err)
	assert.Zero(t, usage.PromptTokens)
	assert.Zero(t, usage.CompletionTokens)
}

func TestStreamChat_BackendDown(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "gemma3-prod", nil)
	_, err := c.StreamChat(context.Background(),
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		func(string) {})

	require.Error(t, err)
	assert.True(t, IsConnectivity(err), "dial failure should categorize as connectivity, got: %v", err)
}
