// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tika

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PARSE CACHE
// =============================================================================

// cacheTTL bounds how long a parse result is reused. Re-uploading the
// same file within a session should not re-parse it, but results do not
// outlive the session meaningfully either.
const cacheTTL = 15 * time.Minute

// Parser extracts text with a content-addressed cache in front of the
// Tika client. Only successful, non-empty extractions are cached: empty
// results and failures are retried on the next upload because they are
// usually transient (parser restarting, OCR-less image PDFs the user
// replaces with a text export).
type Parser struct {
	client *Client
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	text    string
	created time.Time
}

// NewParser wraps a Tika client with the session parse cache.
func NewParser(client *Client, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		client:  client,
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}
}

// ExtractText returns the plain text for the document bytes, consulting
// the cache first. The cache key is the content hash, so the same file
// uploaded under two names parses once.
func (p *Parser) ExtractText(ctx context.Context, data []byte) (string, error) {
	key := contentKey(data)

	p.mu.Lock()
	if entry, ok := p.entries[key]; ok && time.Since(entry.created) < cacheTTL {
		p.mu.Unlock()
		return entry.text, nil
	}
	p.mu.Unlock()

	text, err := p.client.ExtractText(ctx, data)
	if err != nil {
		return "", err
	}
	if text != "" {
		p.mu.Lock()
		p.entries[key] = cacheEntry{text: text, created: time.Now()}
		p.mu.Unlock()
	}

	p.logger.Debug("document parsed",
		zap.Int("bytes", len(data)),
		zap.Int("extracted_chars", len(text)))
	return text, nil
}

// Clear drops all cached parse results. Called when a new conversation
// starts so a fresh session never reuses stale extractions.
func (p *Parser) Clear() {
	p.mu.Lock()
	p.entries = make(map[string]cacheEntry)
	p.mu.Unlock()
}

// CheckRunning forwards the health probe to the underlying client.
func (p *Parser) CheckRunning(ctx context.Context) error {
	return p.client.CheckRunning(ctx)
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
