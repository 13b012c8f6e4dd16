// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string { return string(r) }

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is one message in the conversation: a user submission, an assistant
// response, or a synthesized system/assistant notice.
//
// Content is either Text (Parts == nil) or the Parts list. Turns are
// immutable once appended, with one exception: an assistant turn grows in
// place while its response streams, then is finalized.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Text is the plain content for text-only turns.
	Text string `json:"text,omitempty"`

	// Parts is the structured content for multimodal turns. When non-nil
	// it takes precedence over Text.
	Parts []ContentPart `json:"parts,omitempty"`

	// Streaming state for an assistant turn under generation.
	// strings.Builder avoids quadratic allocation while tokens accumulate.
	IsStreaming bool `json:"-"`
	streamBuf   strings.Builder

	// Token usage reported by the backend for the call that produced this
	// turn (assistant turns only, zero when the backend omitted usage).
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// NewUserTurn creates a plain-text user turn.
func NewUserTurn(text string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Timestamp: time.Now(),
		Text:      text,
	}
}

// NewUserPartsTurn creates a structured user turn from content parts.
func NewUserPartsTurn(parts []ContentPart) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Timestamp: time.Now(),
		Parts:     parts,
	}
}

// NewStreamingAssistantTurn creates an empty assistant turn that will grow
// as response fragments arrive.
func NewStreamingAssistantTurn() *Turn {
	return &Turn{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// NewAssistantNotice creates a completed assistant turn carrying a
// synthesized explanation (for example the oversized-content rejection).
func NewAssistantNotice(text string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
		Text:      text,
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// AppendDelta appends a streamed fragment to an in-flight assistant turn.
func (t *Turn) AppendDelta(fragment string) {
	if t.IsStreaming {
		t.streamBuf.WriteString(fragment)
	}
}

// FinalizeStream completes streaming, folding the accumulated fragments
// into Text and recording backend-reported usage when available.
func (t *Turn) FinalizeStream(promptTokens, completionTokens int) {
	if !t.IsStreaming {
		return
	}
	t.Text = t.streamBuf.String()
	t.streamBuf.Reset()
	t.IsStreaming = false
	t.PromptTokens = promptTokens
	t.CompletionTokens = completionTokens
}

// =============================================================================
// CONTENT ACCESS
// =============================================================================

// IsPlain reports whether the turn carries plain text rather than parts.
func (t *Turn) IsPlain() bool { return t.Parts == nil }

// DisplayContent returns the text to render for this turn: the streaming
// buffer while generating, otherwise the displayable text of its content.
func (t *Turn) DisplayContent() string {
	if t.IsStreaming {
		return t.streamBuf.String()
	}
	if t.IsPlain() {
		return t.Text
	}
	var sb strings.Builder
	for _, p := range t.Parts {
		if s := p.DisplayText(); s != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// ContentLen returns the length of the turn's content, used by the export
// cache signature to detect in-place streaming growth.
func (t *Turn) ContentLen() int {
	if t.IsStreaming {
		return t.streamBuf.Len()
	}
	if t.IsPlain() {
		return len(t.Text)
	}
	n := 0
	for _, p := range t.Parts {
		n += len(p.Text) + len(p.Data) + len(p.URL)
	}
	return n
}

// IsEmpty reports whether the turn has no content at all.
func (t *Turn) IsEmpty() bool {
	return t.Text == "" && len(t.Parts) == 0 && t.streamBuf.Len() == 0
}
