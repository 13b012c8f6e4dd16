// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package encode renders conversation turns into the wire messages the
// OpenAI-compatible chat endpoint accepts.
//
// The encoder is the last stage before the network: it gates images on
// vision support, folds content parts into multi-content messages, and
// guarantees no message ever ships with empty content.
package encode

import (
	"encoding/base64"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// timePlaceholder in the system prompt template is replaced with the
	// current local time at encode time, keeping the prompt honest across
	// long-lived sessions.
	timePlaceholder = "{{current_time_local}}"

	// emptyContentFiller replaces content that ended up empty after
	// gating. Some backends reject messages with no content outright.
	emptyContentFiller = "(empty message)"

	timeLayout = "Monday, January 2, 2006 at 3:04 PM MST"
)

// =============================================================================
// ENCODER
// =============================================================================

// Options configures one encoding pass.
type Options struct {
	// SystemTemplate is the system prompt template, possibly containing
	// the time placeholder. Empty means no system message.
	SystemTemplate string

	// Location renders the placeholder timestamp. Nil means local time.
	Location *time.Location

	// VisionSupported gates image parts. When false every image is
	// dropped from the payload and DroppedImages reports how many.
	VisionSupported bool

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Result is an encoded payload plus what the encoder had to leave out.
type Result struct {
	Messages []openai.ChatCompletionMessage

	// DroppedImages counts image parts omitted because the model does
	// not accept them. The session raises the advisory, once, so the
	// user is told the model never saw their pictures.
	DroppedImages int
}

// Encode renders the turns into wire messages, system message first.
func Encode(turns []*model.Turn, opts Options) Result {
	var res Result

	if opts.SystemTemplate != "" {
		res.Messages = append(res.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: renderSystem(opts),
		})
	}

	for _, t := range turns {
		msg, dropped := encodeTurn(t, opts.VisionSupported)
		res.DroppedImages += dropped
		res.Messages = append(res.Messages, msg)
	}
	return res
}

// renderSystem substitutes the time placeholder in the template.
func renderSystem(opts Options) string {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	ts := now()
	if opts.Location != nil {
		ts = ts.In(opts.Location)
	}
	return strings.ReplaceAll(opts.SystemTemplate, timePlaceholder, ts.Format(timeLayout))
}

// =============================================================================
// TURN ENCODING
// =============================================================================

// encodeTurn renders one turn. Plain turns become string-content
// messages; parts turns become multi-content messages unless gating
// strips them back down to text only.
func encodeTurn(t *model.Turn, visionSupported bool) (openai.ChatCompletionMessage, int) {
	role := string(t.Role)

	if t.IsPlain() {
		content := t.Text
		if content == "" {
			content = emptyContentFiller
		}
		return openai.ChatCompletionMessage{Role: role, Content: content}, 0
	}

	// One content item per part, in part order, so text interleaved with
	// images keeps its position relative to them.
	var multi []openai.ChatMessagePart
	images, hasText := 0, false
	dropped := 0

	for _, p := range t.Parts {
		switch {
		case p.IsImage():
			if !visionSupported {
				dropped++
				continue
			}
			images++
			multi = append(multi, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: imageURL(p),
				},
			})
		case p.Text != "":
			hasText = true
			multi = append(multi, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}

	// Without images a multi-content wrapper buys nothing; collapse to a
	// plain string message, which every backend accepts.
	if images == 0 {
		var texts []string
		for _, part := range multi {
			texts = append(texts, part.Text)
		}
		content := strings.Join(texts, "\n\n")
		if content == "" {
			content = emptyContentFiller
		}
		return openai.ChatCompletionMessage{Role: role, Content: content}, dropped
	}

	if !hasText {
		multi = append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: emptyContentFiller,
		}}, multi...)
	}

	return openai.ChatCompletionMessage{Role: role, MultiContent: multi}, dropped
}

// imageURL renders an image part as a data URL, passing through parts
// that already carry one.
func imageURL(p model.ContentPart) string {
	if p.URL != "" {
		return p.URL
	}
	mimeType := p.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}
