// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"strings"
	"unicode/utf8"
)

// =============================================================================
// CHARACTER-CAP TRUNCATION
// =============================================================================

// truncationMarker is appended to clipped text so the model and the user
// both see that content is missing.
const truncationMarker = "\n...[truncated]"

// aggregateSeparatorLen is the length of the joiner placed between
// document blocks when they are assembled into the synthetic context
// message. Aggregate accounting charges it between consecutive entries.
const aggregateSeparatorLen = 2

// TruncateToCap clips text to at most cap characters of content, plus the
// truncation marker when clipping occurred. Trailing whitespace on the
// clipped text is removed before the marker so the marker never floats
// after a blank line. A non-positive cap drops everything.
func TruncateToCap(text string, capChars int) (string, bool) {
	if capChars <= 0 {
		return "", true
	}
	if len(text) <= capChars {
		return text, false
	}
	// Back the cut up to a rune boundary: slicing through a multibyte
	// character would put invalid UTF-8 into the synthetic block.
	cut := capChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	clipped := strings.TrimRight(text[:cut], " \t\r\n")
	return clipped + truncationMarker, true
}

// enforceAggregate clips extracted document texts so the rendered block
// total, counting each entry's filename header and the separators that
// will join them, stays within capChars. Later entries absorb the
// clipping: entries are processed in upload order and each gets whatever
// budget remains. Returns the number of entries that were clipped or
// dropped.
func enforceAggregate(entries []documentText, capChars int) int {
	affected := 0
	remaining := capChars
	for i := range entries {
		if i > 0 {
			remaining -= aggregateSeparatorLen
		}
		if remaining < 0 {
			remaining = 0
		}
		header := blockHeaderLen(entries[i].filename)
		if header+len(entries[i].text) <= remaining {
			remaining -= header + len(entries[i].text)
			continue
		}
		textBudget := remaining - header
		if textBudget < 0 {
			textBudget = 0
		}
		clipped, _ := TruncateToCap(entries[i].text, textBudget)
		entries[i].text = clipped
		entries[i].truncated = true
		affected++
		remaining = 0
	}
	return affected
}

// blockHeaderLen is the length of the "--- name ---\n" header the
// assembler renders for an entry. Aggregate accounting charges it so the
// assembled block cannot overshoot the cap by the sum of its headers.
func blockHeaderLen(filename string) int {
	return len("--- ") + len(filename) + len(" ---\n")
}

type documentText struct {
	filename  string
	text      string
	truncated bool
}
