// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversation transcripts for download.
//
// Exports show what the user saw: attachment markers stay, hidden
// synthetic context and raw extracted document text never appear.
// Rendered transcripts are cached against a conversation signature so
// repeated downloads of an unchanged conversation cost one render.
package export

import (
	"fmt"
	"sync"

	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// EXPORTER INTERFACE
// =============================================================================

// Format identifies a transcript format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// Exporter renders a conversation into one format.
type Exporter interface {
	// Export renders the conversation.
	Export(conv *model.Conversation) ([]byte, error)

	// FileExtension returns the extension including the dot.
	FileExtension() string

	// MimeType returns the content type for downloads.
	MimeType() string
}

// New returns the exporter for a format.
func New(format Format) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return &MarkdownExporter{}, nil
	case FormatHTML:
		return &HTMLExporter{}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format: %s", format)
	}
}

// =============================================================================
// RENDER CACHE
// =============================================================================

// Cache memoizes rendered transcripts per format. The conversation
// signature invalidates entries: it changes when turns are added and as
// the last turn streams, so a stale render is never served.
type Cache struct {
	mu      sync.Mutex
	entries map[Format]cacheEntry
}

type cacheEntry struct {
	sig  model.Signature
	data []byte
}

// NewCache creates an empty render cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Format]cacheEntry)}
}

// Render returns the transcript for the conversation in the given
// format, reusing the previous render when the conversation has not
// changed since.
func (c *Cache) Render(conv *model.Conversation, format Format) ([]byte, error) {
	sig := conv.Signature()

	c.mu.Lock()
	if entry, ok := c.entries[format]; ok && entry.sig == sig {
		data := entry.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	exp, err := New(format)
	if err != nil {
		return nil, err
	}
	data, err := exp.Export(conv)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[format] = cacheEntry{sig: sig, data: data}
	c.mu.Unlock()
	return data, nil
}

// Clear drops all cached renders.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Format]cacheEntry)
	c.mu.Unlock()
}
