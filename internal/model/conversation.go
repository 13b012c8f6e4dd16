// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one session's chat history. Turns are never removed
// individually; the whole conversation is cleared by the new-conversation
// action.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Turns []*Turn `json:"turns"`

	// Model is the backend model this conversation talks to.
	Model string `json:"model"`
}

// NewConversation creates an empty conversation.
func NewConversation(modelName string) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Turns:     make([]*Turn, 0),
		Model:     modelName,
	}
}

// =============================================================================
// TURN MANAGEMENT
// =============================================================================

// Append adds a turn to the conversation.
func (c *Conversation) Append(t *Turn) {
	c.Turns = append(c.Turns, t)
	c.UpdatedAt = time.Now()
}

// Last returns the most recent turn, or nil if the conversation is empty.
func (c *Conversation) Last() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return c.Turns[len(c.Turns)-1]
}

// LastAssistant returns the most recent assistant turn, or nil.
func (c *Conversation) LastAssistant() *Turn {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleAssistant {
			return c.Turns[i]
		}
	}
	return nil
}

// Clear removes all turns. Session caches are cleared separately by the
// session owner; this only resets the history itself.
func (c *Conversation) Clear() {
	c.Turns = make([]*Turn, 0)
	c.UpdatedAt = time.Now()
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.Turns) }

// IsEmpty reports whether the conversation has no turns.
func (c *Conversation) IsEmpty() bool { return len(c.Turns) == 0 }

// =============================================================================
// CHANGE SIGNATURE
// =============================================================================

// Signature is a lightweight fingerprint of conversation state used to
// invalidate derived caches (transcript exports). Content length of the
// last turn captures in-place streaming growth.
type Signature struct {
	Count   int
	LastID  string
	LastLen int
}

// Signature returns the current conversation fingerprint.
func (c *Conversation) Signature() Signature {
	if len(c.Turns) == 0 {
		return Signature{}
	}
	last := c.Turns[len(c.Turns)-1]
	return Signature{
		Count:   len(c.Turns),
		LastID:  last.ID,
		LastLen: last.ContentLen(),
	}
}
