// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// ADVISORIES
// =============================================================================

// AdvisoryKind categorizes non-fatal user-facing notices.
type AdvisoryKind string

const (
	// AdvisoryParsing covers document-extraction problems: parser offline,
	// empty extraction, oversized uploads.
	AdvisoryParsing AdvisoryKind = "parsing"

	// AdvisoryTruncation covers per-document and aggregate character-cap
	// clipping of extracted text.
	AdvisoryTruncation AdvisoryKind = "truncation"

	// AdvisoryBudget covers context-budget events: the warn threshold and
	// attachment eviction.
	AdvisoryBudget AdvisoryKind = "budget"

	// AdvisoryVision covers images dropped for a non-vision model.
	AdvisoryVision AdvisoryKind = "vision"

	// AdvisoryStream covers model-call failures surfaced mid-turn.
	AdvisoryStream AdvisoryKind = "stream"
)

// Advisory is a non-fatal, user-visible notice. Advisories are additive:
// they never halt turn processing, and the user can always continue the
// conversation after one is raised.
type Advisory struct {
	Kind    AdvisoryKind `json:"kind"`
	Message string       `json:"message"`

	// Detail carries raw error text shown only in the debug view.
	Detail string `json:"detail,omitempty"`
}

// NewAdvisory creates an advisory with no debug detail.
func NewAdvisory(kind AdvisoryKind, message string) Advisory {
	return Advisory{Kind: kind, Message: message}
}
