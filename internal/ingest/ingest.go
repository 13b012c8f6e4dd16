// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest normalizes uploaded files into conversation content.
//
// Uploads split into images (forwarded as raw payload for vision models)
// and documents (routed through the text extractor). Each accepted file
// contributes a visible marker part; extracted text is collected into
// document entries for the assembler. Failures are isolated per file:
// one unparseable document never blocks the rest of the turn.
package ingest

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeranaias/ephemerai/internal/model"
	"github.com/jeranaias/ephemerai/internal/tika"
)

// =============================================================================
// TYPES
// =============================================================================

// Upload is one file received from the browser.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Result is the normalized outcome of one turn's uploads.
type Result struct {
	// Markers are the visible attachment chips, one per accepted file,
	// in upload order.
	Markers []model.ContentPart

	// Images are the accepted image parts, in upload order.
	Images []model.ContentPart

	// Documents are the extracted texts that survived capping, in upload
	// order.
	Documents []model.DocumentEntry

	// Advisories are the non-fatal notices raised during normalization.
	Advisories []model.Advisory
}

// Extractor is the document-text source, satisfied by *tika.Parser.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Options carries the ingestion caps.
type Options struct {
	// MaxCharsPerDoc caps each document's extracted text. Zero drops all
	// document text.
	MaxCharsPerDoc int

	// MaxContextChars caps the total extracted text across the turn,
	// including inter-block separators. Zero drops all document text.
	MaxContextChars int

	// ImageWarnBytes is the size above which an image raises a
	// may-be-slow advisory.
	ImageWarnBytes int64
}

// =============================================================================
// NORMALIZER
// =============================================================================

// Normalizer turns uploads into markers, image parts, and document
// entries.
type Normalizer struct {
	extractor Extractor
	opts      Options
	logger    *zap.Logger

	// printer renders counts with thousands separators in advisories.
	printer *message.Printer
}

// NewNormalizer creates a normalizer with the given caps.
func NewNormalizer(extractor Extractor, opts Options, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		extractor: extractor,
		opts:      opts,
		logger:    logger,
		printer:   message.NewPrinter(language.English),
	}
}

// Normalize processes the turn's uploads in order.
func (n *Normalizer) Normalize(ctx context.Context, uploads []Upload) Result {
	var res Result
	var texts []documentText

	for _, up := range uploads {
		if isImage(up) {
			n.acceptImage(up, &res)
			continue
		}
		n.extractDocument(ctx, up, &res, &texts)
	}

	n.applyCaps(texts, &res)
	return res
}

// acceptImage admits an image upload, raising a size advisory for very
// large files. Oversized images are still accepted.
func (n *Normalizer) acceptImage(up Upload, res *Result) {
	if n.opts.ImageWarnBytes > 0 && int64(len(up.Data)) > n.opts.ImageWarnBytes {
		res.Advisories = append(res.Advisories, model.NewAdvisory(model.AdvisoryParsing,
			n.printer.Sprintf("%s is %d bytes; large images can slow the model down considerably.",
				up.Filename, len(up.Data))))
	}
	res.Markers = append(res.Markers, model.MarkerPart(imageMarkerLabel(up.Filename), up.Filename))
	res.Images = append(res.Images, model.ImagePart(up.Data, up.MimeType, up.Filename))
}

// extractDocument routes a document through the extractor. The visible
// marker is appended before the parse attempt: the transcript shows the
// chip for every accepted upload, and when extraction fails or comes
// back empty an advisory explains what happened to it.
func (n *Normalizer) extractDocument(ctx context.Context, up Upload, res *Result, texts *[]documentText) {
	res.Markers = append(res.Markers, model.MarkerPart(documentMarkerLabel(up.Filename), up.Filename))

	text, err := n.extractor.ExtractText(ctx, up.Data)
	if err != nil {
		msg := fmt.Sprintf("Could not read %s. The file was skipped.", up.Filename)
		if tika.IsUnreachable(err) {
			msg = fmt.Sprintf("The document parser is offline; %s was skipped.", up.Filename)
		}
		adv := model.NewAdvisory(model.AdvisoryParsing, msg)
		adv.Detail = err.Error()
		res.Advisories = append(res.Advisories, adv)
		n.logger.Warn("document extraction failed",
			zap.String("filename", up.Filename), zap.Error(err))
		return
	}
	if text == "" {
		res.Advisories = append(res.Advisories, model.NewAdvisory(model.AdvisoryParsing,
			fmt.Sprintf("No readable text found in %s. If it is a scanned document, try a text export.", up.Filename)))
		return
	}

	*texts = append(*texts, documentText{filename: up.Filename, text: text})
}

// applyCaps enforces the per-document cap, then the aggregate cap, and
// converts survivors into document entries. The aggregate advisory is
// raised at most once per turn regardless of how many entries it clips.
func (n *Normalizer) applyCaps(texts []documentText, res *Result) {
	for i := range texts {
		clipped, truncated := TruncateToCap(texts[i].text, n.opts.MaxCharsPerDoc)
		if truncated {
			texts[i].text = clipped
			texts[i].truncated = true
			res.Advisories = append(res.Advisories, model.NewAdvisory(model.AdvisoryTruncation,
				n.printer.Sprintf("%s was shortened to fit the %d character per-document limit.",
					texts[i].filename, n.opts.MaxCharsPerDoc)))
		}
	}

	if enforceAggregate(texts, n.opts.MaxContextChars) > 0 {
		res.Advisories = append(res.Advisories, model.NewAdvisory(model.AdvisoryTruncation,
			n.printer.Sprintf("Uploaded documents exceed the %d character combined limit; later files were shortened.",
				n.opts.MaxContextChars)))
	}

	for _, dt := range texts {
		if dt.text == "" {
			continue
		}
		res.Documents = append(res.Documents, model.DocumentEntry{
			Filename:      dt.filename,
			ExtractedText: dt.text,
			Truncated:     dt.truncated,
		})
	}
}

// =============================================================================
// CLASSIFICATION AND MARKERS
// =============================================================================

// isImage classifies an upload by declared MIME type, falling back to
// the filename extension when the browser sent none.
func isImage(up Upload) bool {
	if strings.HasPrefix(strings.ToLower(up.MimeType), "image/") {
		return true
	}
	if up.MimeType == "" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(up.Filename))); byExt != "" {
			return strings.HasPrefix(byExt, "image/")
		}
	}
	return false
}

func imageMarkerLabel(filename string) string {
	return "📷 *" + filename + "*"
}

func documentMarkerLabel(filename string) string {
	return "📄 *" + filename + "*"
}
