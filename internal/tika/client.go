// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tika provides the HTTP client for the Apache Tika text-extraction
// server and a session-scoped cache of parse results.
package tika

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ParseError represents a failure to extract text from a document.
type ParseError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes parse failures.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeUnparseable
)

// Sentinel errors for easy checking.
var (
	ErrUnreachable = &ParseError{Type: ErrTypeUnreachable, Message: "document parser is not reachable"}
	ErrTimeout     = &ParseError{Type: ErrTypeTimeout, Message: "document parsing timed out"}
)

// IsUnreachable reports whether err means the parser was down.
func IsUnreachable(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && (pe.Type == ErrTypeUnreachable || pe.Type == ErrTypeTimeout)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a Tika server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given Tika server root.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// =============================================================================
// EXTRACTION
// =============================================================================

// ExtractText sends raw document bytes to PUT /tika and returns the plain
// text Tika extracted. An empty result is legal (image-only PDFs, empty
// files) and is the caller's advisory to raise.
func (c *Client) ExtractText(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", &ParseError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", ErrUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return "", &ParseError{Type: ErrTypeUnparseable, Message: "document format could not be parsed"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ParseError{
			Type:    ErrTypeUnknown,
			Message: "unexpected status from parser: " + resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ParseError{Type: ErrTypeUnknown, Message: "failed to read parser response", Cause: err}
	}
	return strings.TrimSpace(string(body)), nil
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the parser responds to GET /version.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return &ParseError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ParseError{
			Type:    ErrTypeUnknown,
			Message: "unexpected status from parser: " + resp.Status,
		}
	}
	return nil
}
