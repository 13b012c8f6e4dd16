// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations as structured JSON. Like the other
// formats it carries display content only: extracted document text and
// raw image bytes stay out, attachment names come along.
type JSONExporter struct{}

type jsonTranscript struct {
	Model      string     `json:"model"`
	CreatedAt  time.Time  `json:"created_at"`
	ExportedAt time.Time  `json:"exported_at"`
	Messages   []jsonTurn `json:"messages"`
}

type jsonTurn struct {
	Role        string    `json:"role"`
	Timestamp   time.Time `json:"timestamp"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}

	out := jsonTranscript{
		Model:      conv.Model,
		CreatedAt:  conv.CreatedAt,
		ExportedAt: time.Now(),
		Messages:   make([]jsonTurn, 0, conv.Len()),
	}
	for _, turn := range conv.Turns {
		jt := jsonTurn{
			Role:      turn.Role.String(),
			Timestamp: turn.Timestamp,
			Content:   turn.DisplayContent(),
		}
		for _, p := range turn.Parts {
			if p.Attachment != "" && p.IsMarker() {
				jt.Attachments = append(jt.Attachments, p.Attachment)
			}
			if p.IsImage() && p.Filename != "" {
				jt.Attachments = appendUnique(jt.Attachments, p.Filename)
			}
		}
		out.Messages = append(out.Messages, jt)
	}
	return json.MarshalIndent(out, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
