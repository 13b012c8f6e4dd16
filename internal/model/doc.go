// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, turns,
// and multimodal content parts.
//
// A conversation is an ordered list of turns. Each turn carries either a
// plain text string (the common case) or a list of content parts when the
// user attached files. Content parts form a closed tagged union of three
// kinds: text, inline image bytes, and image references. Parts flagged as
// synthetic were generated by the context assembler rather than authored
// by the user; they are hidden from display but included in the payload
// sent to the model.
package model
