// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assemble builds the structured user turn for a submission:
// the hidden synthetic context block carrying extracted document text,
// the visible attachment markers, and the user's message text.
package assemble

import (
	"strings"

	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// SYNTHETIC CONTEXT BLOCK
// =============================================================================

const (
	// contextPrefix opens the synthetic block so the model can tell
	// injected document text from the user's own words.
	contextPrefix = "Context:\n"

	// blockSeparator joins per-document blocks. Its length must match the
	// separator length the ingestion aggregate cap accounts for.
	blockSeparator = "\n\n"
)

// BuildContextBlock renders extracted documents into the synthetic
// context text. Returns "" when there are no documents with text.
func BuildContextBlock(docs []model.DocumentEntry) string {
	var blocks []string
	for _, d := range docs {
		if d.ExtractedText == "" {
			continue
		}
		blocks = append(blocks, "--- "+d.Filename+" ---\n"+d.ExtractedText)
	}
	if len(blocks) == 0 {
		return ""
	}
	return contextPrefix + strings.Join(blocks, blockSeparator)
}

// =============================================================================
// TURN ASSEMBLY
// =============================================================================

// Input is everything a submission contributes to the new user turn.
type Input struct {
	// UserText is the message typed in the chat box, possibly empty.
	UserText string

	// Markers, Images, and Documents come from ingestion, in upload order.
	Markers   []model.ContentPart
	Images    []model.ContentPart
	Documents []model.DocumentEntry

	// DefaultUploadPrompt substitutes for empty UserText when any file
	// was accepted.
	DefaultUploadPrompt string
}

// BuildTurn assembles the user turn for a submission. Part order is
// fixed: synthetic context first, then markers, then images, then the
// user's text, so display layers and the payload encoder can rely on it.
//
// Returns nil when the submission carries nothing at all; the caller
// treats that as a no-op rather than sending an empty message.
func BuildTurn(in Input) *model.Turn {
	text := strings.TrimSpace(in.UserText)
	hasUploads := len(in.Markers) > 0 || len(in.Images) > 0 || len(in.Documents) > 0

	if text == "" && !hasUploads {
		return nil
	}
	if text == "" {
		text = in.DefaultUploadPrompt
	}

	// A plain message with no attachments stays a plain turn.
	if !hasUploads {
		return model.NewUserTurn(text)
	}

	var parts []model.ContentPart
	if block := BuildContextBlock(in.Documents); block != "" {
		parts = append(parts, model.SyntheticPart(block))
	}
	parts = append(parts, in.Markers...)
	parts = append(parts, in.Images...)
	if text != "" {
		parts = append(parts, model.TextPart(text))
	}
	return model.NewUserPartsTurn(parts)
}

// =============================================================================
// HISTORY FLATTENING
// =============================================================================

// FlattenHistory renders conversation turns into the single text whose
// token count approximates the text payload of the next request. It is a
// pure function of the turns passed in.
//
// Synthetic parts are included: hidden from display, they still ship in
// the wire payload and cost tokens. Image parts contribute nothing here;
// their cost is charged separately per image.
func FlattenHistory(turns []*model.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(t.Role.String())
		sb.WriteString(": ")
		sb.WriteString(flattenTurn(t))
	}
	return sb.String()
}

func flattenTurn(t *model.Turn) string {
	if t.IsPlain() {
		return t.Text
	}
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Kind != model.PartText || p.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}
