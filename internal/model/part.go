// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// CONTENT PART UNION
// =============================================================================

// PartKind discriminates the closed set of content part types. Every
// consumer must switch exhaustively over these three values so that a new
// kind is a compile-visible change, not a silently ignored map key.
type PartKind string

const (
	// PartText is literal text: the user's message, a visible attachment
	// marker, or the assembler's synthetic context block.
	PartText PartKind = "text"

	// PartImage carries raw image bytes captured at upload time.
	PartImage PartKind = "image"

	// PartImageRef carries an image by URL (typically a base64 data URL).
	PartImageRef PartKind = "image_url"
)

// ContentPart is a single block within a structured turn.
//
// Which fields are meaningful depends on Kind. Attachment markers are text
// parts with a non-empty Attachment filename; this explicit field replaces
// the historical string-prefix sniffing of marker glyphs, which broke as
// soon as user text contained the same glyphs.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	// PartText fields.
	Text string `json:"text,omitempty"`
	// Synthetic marks an assembler-generated part (the injected document
	// context block). Hidden from rendering, included in the model payload.
	Synthetic bool `json:"synthetic,omitempty"`
	// Attachment holds the filename when this text part is a visible
	// attachment marker for an uploaded file.
	Attachment string `json:"attachment,omitempty"`

	// PartImage fields.
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// PartImageRef fields.
	URL string `json:"url,omitempty"`

	// Filename applies to PartImage and PartImageRef.
	Filename string `json:"filename,omitempty"`
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// TextPart creates a plain user-visible text part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// SyntheticPart creates a hidden assembler-generated text part.
func SyntheticPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text, Synthetic: true}
}

// MarkerPart creates a visible attachment marker for the named file.
// The label is what the UI renders; the filename ties the marker to its
// document entry so budget eviction can remove both together.
func MarkerPart(label, filename string) ContentPart {
	return ContentPart{Kind: PartText, Text: label, Attachment: filename}
}

// ImagePart creates an inline image part from raw upload bytes.
func ImagePart(data []byte, mimeType, filename string) ContentPart {
	return ContentPart{Kind: PartImage, Data: data, MimeType: mimeType, Filename: filename}
}

// ImageRefPart creates an image reference part from a URL.
func ImageRefPart(url, filename string) ContentPart {
	return ContentPart{Kind: PartImageRef, URL: url, Filename: filename}
}

// =============================================================================
// PREDICATES
// =============================================================================

// IsMarker reports whether the part is a visible attachment marker.
func (p ContentPart) IsMarker() bool {
	return p.Kind == PartText && p.Attachment != ""
}

// IsImage reports whether the part carries image content of either kind.
func (p ContentPart) IsImage() bool {
	return p.Kind == PartImage || p.Kind == PartImageRef
}

// DisplayText returns the text the UI should render for this part.
// Synthetic parts render as nothing; image parts have no text.
func (p ContentPart) DisplayText() string {
	if p.Kind != PartText || p.Synthetic {
		return ""
	}
	return p.Text
}

// =============================================================================
// DOCUMENT ENTRY
// =============================================================================

// DocumentEntry is the extracted text of one uploaded document. Entries are
// transient: produced by ingestion, consumed by the assembler when building
// the synthetic context block, and never persisted beyond the current turn.
type DocumentEntry struct {
	Filename      string
	ExtractedText string
	// Truncated records whether the extracted text was cut to fit the
	// per-document character cap.
	Truncated bool
}
