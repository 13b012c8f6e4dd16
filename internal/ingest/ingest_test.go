// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ephemerai/internal/model"
	"github.com/jeranaias/ephemerai/internal/tika"
)

// =============================================================================
// TRUNCATION TESTS
// =============================================================================

func TestTruncateToCap(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		capChars int
		want     string
		wantTrunc bool
	}{
		{"fits untouched", "short", 100, "short", false},
		{"exactly at cap", "12345", 5, "12345", false},
		{"clipped with marker", "0123456789", 5, "01234" + truncationMarker, true},
		{"trailing space stripped before marker", "abcd \n\nxyz", 6, "abcd" + truncationMarker, true},
		{"zero cap drops everything", "content", 0, "", true},
		{"negative cap drops everything", "content", -1, "", true},
		{"empty text never truncates", "", 10, "", false},
		{"cut backs up to a rune boundary", strings.Repeat("é", 10), 5, "éé" + truncationMarker, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, truncated := TruncateToCap(tc.text, tc.capChars)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantTrunc, truncated)
		})
	}
}

func TestTruncateToCap_OutputAlwaysValidUTF8(t *testing.T) {
	for limit := 1; limit <= 20; limit++ {
		got, _ := TruncateToCap(strings.Repeat("é", 10), limit)
		assert.True(t, utf8.ValidString(got), "cap %d", limit)
	}
}

func TestEnforceAggregate(t *testing.T) {
	entries := []documentText{
		{filename: "a.txt", text: strings.Repeat("a", 10)},
		{filename: "b.txt", text: strings.Repeat("b", 10)},
		{filename: "c.txt", text: strings.Repeat("c", 10)},
	}
	// Each "--- x.txt ---\n" header costs 14. Budget: 14+10 (a's block)
	// + 2 (sep) + 14 + 5 of b's text. c gets nothing.
	affected := enforceAggregate(entries, 45)

	assert.Equal(t, 2, affected)
	assert.Equal(t, strings.Repeat("a", 10), entries[0].text)
	assert.Equal(t, strings.Repeat("b", 5)+truncationMarker, entries[1].text)
	assert.Empty(t, entries[2].text)
	assert.True(t, entries[2].truncated)
}

func TestEnforceAggregate_ChargesBlockHeaders(t *testing.T) {
	entries := []documentText{
		{filename: "report.txt", text: strings.Repeat("x", 50)},
	}
	// Text alone fits in 60; header (19) + text (50) does not, so the
	// rendered "--- report.txt ---\n" block stays within the cap.
	affected := enforceAggregate(entries, 60)

	require.Equal(t, 1, affected)
	block := "--- report.txt ---\n" + strings.TrimSuffix(entries[0].text, truncationMarker)
	assert.LessOrEqual(t, len(block), 60)
}

func TestEnforceAggregate_AllFit(t *testing.T) {
	entries := []documentText{
		{filename: "a.txt", text: "aaaa"},
		{filename: "b.txt", text: "bbbb"},
	}
	assert.Equal(t, 0, enforceAggregate(entries, 100))
	assert.Equal(t, "aaaa", entries[0].text)
	assert.Equal(t, "bbbb", entries[1].text)
}

// =============================================================================
// NORMALIZER TESTS
// =============================================================================

// fakeExtractor maps document bytes to scripted results.
type fakeExtractor struct {
	results map[string]string
	errs    map[string]error
}

func (f *fakeExtractor) ExtractText(_ context.Context, data []byte) (string, error) {
	if err, ok := f.errs[string(data)]; ok {
		return "", err
	}
	return f.results[string(data)], nil
}

func defaultOpts() Options {
	return Options{
		MaxCharsPerDoc:  4000,
		MaxContextChars: 12000,
		ImageWarnBytes:  50 * 1024 * 1024,
	}
}

func TestNormalize_SplitsImagesAndDocuments(t *testing.T) {
	ext := &fakeExtractor{results: map[string]string{"docbytes": "extracted text"}}
	n := NewNormalizer(ext, defaultOpts(), nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "photo.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
		{Filename: "report.pdf", MimeType: "application/pdf", Data: []byte("docbytes")},
	})

	require.Len(t, res.Images, 1)
	require.Len(t, res.Documents, 1)
	require.Len(t, res.Markers, 2)

	assert.Equal(t, "📷 *photo.png*", res.Markers[0].Text)
	assert.Equal(t, "📄 *report.pdf*", res.Markers[1].Text)
	assert.Equal(t, "photo.png", res.Markers[0].Attachment)
	assert.True(t, res.Markers[0].IsMarker())

	assert.Equal(t, "extracted text", res.Documents[0].ExtractedText)
	assert.False(t, res.Documents[0].Truncated)
	assert.Empty(t, res.Advisories)
}

func TestNormalize_ImageByExtensionFallback(t *testing.T) {
	n := NewNormalizer(&fakeExtractor{}, defaultOpts(), nil)
	res := n.Normalize(context.Background(), []Upload{
		{Filename: "shot.jpg", Data: []byte{0xff}},
	})
	assert.Len(t, res.Images, 1)
}

func TestNormalize_OversizedImageAdvisoryStillAccepted(t *testing.T) {
	opts := defaultOpts()
	opts.ImageWarnBytes = 4
	n := NewNormalizer(&fakeExtractor{}, opts, nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "huge.png", MimeType: "image/png", Data: []byte("12345")},
	})

	assert.Len(t, res.Images, 1, "oversized images are accepted, only flagged")
	require.Len(t, res.Advisories, 1)
	assert.Equal(t, model.AdvisoryParsing, res.Advisories[0].Kind)
	assert.Contains(t, res.Advisories[0].Message, "huge.png")
}

func TestNormalize_FailureIsolation(t *testing.T) {
	ext := &fakeExtractor{
		results: map[string]string{"good": "good text"},
		errs:    map[string]error{"bad": errors.New("corrupt stream")},
	}
	n := NewNormalizer(ext, defaultOpts(), nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "bad.pdf", MimeType: "application/pdf", Data: []byte("bad")},
		{Filename: "good.pdf", MimeType: "application/pdf", Data: []byte("good")},
	})

	require.Len(t, res.Documents, 1, "one bad file must not block the rest")
	assert.Equal(t, "good.pdf", res.Documents[0].Filename)
	require.Len(t, res.Markers, 2, "every upload keeps its chip, parsed or not")
	assert.Equal(t, "bad.pdf", res.Markers[0].Attachment)
	assert.Equal(t, "good.pdf", res.Markers[1].Attachment)

	require.Len(t, res.Advisories, 1)
	assert.Contains(t, res.Advisories[0].Message, "bad.pdf")
	assert.Equal(t, "corrupt stream", res.Advisories[0].Detail)
}

func TestNormalize_ParserOfflineAdvisory(t *testing.T) {
	ext := &fakeExtractor{errs: map[string]error{"doc": tika.ErrUnreachable}}
	n := NewNormalizer(ext, defaultOpts(), nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "a.docx", MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Data: []byte("doc")},
	})

	require.Len(t, res.Advisories, 1)
	assert.Contains(t, res.Advisories[0].Message, "parser is offline")
}

func TestNormalize_EmptyExtractionAdvisory(t *testing.T) {
	ext := &fakeExtractor{results: map[string]string{"scan": ""}}
	n := NewNormalizer(ext, defaultOpts(), nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "scan.pdf", MimeType: "application/pdf", Data: []byte("scan")},
	})

	assert.Empty(t, res.Documents)
	require.Len(t, res.Markers, 1, "the chip survives even when nothing was readable")
	assert.Equal(t, "scan.pdf", res.Markers[0].Attachment)
	require.Len(t, res.Advisories, 1)
	assert.Contains(t, res.Advisories[0].Message, "No readable text")
}

func TestNormalize_PerDocCap(t *testing.T) {
	ext := &fakeExtractor{results: map[string]string{"big": strings.Repeat("x", 5000)}}
	opts := defaultOpts()
	opts.MaxCharsPerDoc = 100
	n := NewNormalizer(ext, opts, nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "big.txt", MimeType: "text/plain", Data: []byte("big")},
	})

	require.Len(t, res.Documents, 1)
	assert.True(t, res.Documents[0].Truncated)
	assert.True(t, strings.HasSuffix(res.Documents[0].ExtractedText, truncationMarker))
	require.Len(t, res.Advisories, 1)
	assert.Equal(t, model.AdvisoryTruncation, res.Advisories[0].Kind)
}

func TestNormalize_AggregateAdvisoryAtMostOnce(t *testing.T) {
	ext := &fakeExtractor{results: map[string]string{
		"a": strings.Repeat("a", 50),
		"b": strings.Repeat("b", 50),
		"c": strings.Repeat("c", 50),
	}}
	opts := defaultOpts()
	opts.MaxContextChars = 60
	n := NewNormalizer(ext, opts, nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "a.txt", MimeType: "text/plain", Data: []byte("a")},
		{Filename: "b.txt", MimeType: "text/plain", Data: []byte("b")},
		{Filename: "c.txt", MimeType: "text/plain", Data: []byte("c")},
	})

	aggregate := 0
	for _, adv := range res.Advisories {
		if strings.Contains(adv.Message, "combined limit") {
			aggregate++
		}
	}
	assert.Equal(t, 1, aggregate, "aggregate clipping reports once no matter how many files it touches")
}

func TestNormalize_ZeroCapsDropEverything(t *testing.T) {
	ext := &fakeExtractor{results: map[string]string{"doc": "content"}}
	opts := defaultOpts()
	opts.MaxCharsPerDoc = 0
	n := NewNormalizer(ext, opts, nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "a.txt", MimeType: "text/plain", Data: []byte("doc")},
	})

	assert.Empty(t, res.Documents, "zero cap means drop, not unlimited")
}

func TestNormalize_ThousandsSeparatedCounts(t *testing.T) {
	ext := &fakeExtractor{results: map[string]string{"big": strings.Repeat("x", 20000)}}
	n := NewNormalizer(ext, defaultOpts(), nil)

	res := n.Normalize(context.Background(), []Upload{
		{Filename: "big.txt", MimeType: "text/plain", Data: []byte("big")},
	})

	require.NotEmpty(t, res.Advisories)
	assert.Contains(t, res.Advisories[0].Message, "4,000")
}
