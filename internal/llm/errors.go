// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// ERROR CATEGORIES
// =============================================================================

// ChatError represents a categorized model-call failure.
type ChatError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes chat failures for user-facing handling.
type ErrorType int

const (
	// ErrTypeGeneric covers everything not matched below.
	ErrTypeGeneric ErrorType = iota

	// ErrTypeContextExceeded means the backend rejected the request for
	// exceeding the model's context window. The budgeter should have
	// prevented this; surfacing it keeps the UI honest when it slips
	// through (metadata drift, backend-side overhead).
	ErrTypeContextExceeded

	// ErrTypeConnectivity means the backend was unreachable or the call
	// timed out before completion.
	ErrTypeConnectivity
)

// IsContextExceeded reports whether err is a context-window rejection.
func IsContextExceeded(err error) bool {
	var ce *ChatError
	return errors.As(err, &ce) && ce.Type == ErrTypeContextExceeded
}

// IsConnectivity reports whether err is a reachability failure.
func IsConnectivity(err error) bool {
	var ce *ChatError
	return errors.As(err, &ce) && ce.Type == ErrTypeConnectivity
}

// =============================================================================
// CATEGORIZATION
// =============================================================================

// contextPhrases are the substrings backends use when refusing an
// oversized prompt. OpenAI-compatible servers do not agree on a status
// code for this, so the message text is the only reliable signal.
var contextPhrases = []string{
	"context length",
	"context window",
	"maximum context",
	"too many tokens",
	"exceeds the available context",
}

// Categorize maps a raw transport or API error onto a ChatError.
func Categorize(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		for _, phrase := range contextPhrases {
			if strings.Contains(msg, phrase) {
				return &ChatError{
					Type:    ErrTypeContextExceeded,
					Message: "the request exceeded the model's context window",
					Cause:   err,
				}
			}
		}
		return &ChatError{Type: ErrTypeGeneric, Message: "model call failed", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &ChatError{
			Type:    ErrTypeConnectivity,
			Message: "the model backend is unreachable",
			Cause:   err,
		}
	}

	// go-openai wraps dial failures in url.Error which satisfies net.Error
	// via its inner op error in most cases; catch the remaining ones by
	// message as a last resort.
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
		return &ChatError{
			Type:    ErrTypeConnectivity,
			Message: "the model backend is unreachable",
			Cause:   err,
		}
	}

	return &ChatError{Type: ErrTypeGeneric, Message: "model call failed", Cause: err}
}

// UserMessage renders the category as the notice shown in the transcript.
func UserMessage(err error) string {
	var ce *ChatError
	if !errors.As(err, &ce) {
		return "Something went wrong while generating a response. Please try again."
	}
	switch ce.Type {
	case ErrTypeContextExceeded:
		return "This conversation has grown too large for the model's context window. Start a new conversation to continue."
	case ErrTypeConnectivity:
		return "The model backend is not responding. Check that it is running and try again."
	default:
		return "Something went wrong while generating a response. Please try again."
	}
}
