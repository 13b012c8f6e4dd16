// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page with
// embedded CSS.
type HTMLExporter struct{}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString("    <title>Conversation transcript</title>\n")
	sb.WriteString("    <meta name=\"generator\" content=\"ephemerai\">\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(e.getCSS())
	sb.WriteString("</head>\n<body>\n")
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString("            <h1>Conversation transcript</h1>\n")
	sb.WriteString(fmt.Sprintf("            <p class=\"meta\">Model: %s &middot; %d messages &middot; %s</p>\n",
		html.EscapeString(conv.Model), conv.Len(), conv.CreatedAt.Format("January 2, 2006")))
	sb.WriteString("        </header>\n")

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, turn := range conv.Turns {
		sb.WriteString(e.renderTurn(turn))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Exported from <strong>ephemerai</strong> on %s</p>\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING
// =============================================================================

// renderTurn renders one message block. Content goes through
// DisplayContent so synthetic context stays out of the page, then gets
// escaped; transcripts are plain text, not trusted HTML.
func (e *HTMLExporter) renderTurn(turn *model.Turn) string {
	var sb strings.Builder
	role := strings.ToLower(turn.Role.String())

	sb.WriteString(fmt.Sprintf("            <section class=\"message %s\">\n", role))
	sb.WriteString(fmt.Sprintf("                <div class=\"role\">%s <time>%s</time></div>\n",
		html.EscapeString(turn.Role.DisplayName()),
		turn.Timestamp.Format("Jan 2, 15:04")))

	content := html.EscapeString(strings.TrimSpace(turn.DisplayContent()))
	content = strings.ReplaceAll(content, "\n", "<br>\n")
	sb.WriteString(fmt.Sprintf("                <div class=\"content\">%s</div>\n", content))
	sb.WriteString("            </section>\n")
	return sb.String()
}

func (e *HTMLExporter) getCSS() string {
	return `    <style>
        body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f5f5f4; color: #1c1917; }
        .container { max-width: 760px; margin: 0 auto; padding: 2rem 1rem; }
        .header h1 { margin-bottom: 0.25rem; }
        .meta { color: #78716c; margin-top: 0; }
        .message { background: #fff; border-radius: 8px; padding: 1rem 1.25rem; margin: 1rem 0; box-shadow: 0 1px 2px rgba(0,0,0,0.06); }
        .message.user { border-left: 3px solid #2563eb; }
        .message.assistant { border-left: 3px solid #16a34a; }
        .role { font-weight: 600; margin-bottom: 0.5rem; }
        .role time { font-weight: 400; color: #a8a29e; font-size: 0.85em; margin-left: 0.5rem; }
        .content { white-space: pre-wrap; overflow-wrap: anywhere; }
        .footer { text-align: center; color: #a8a29e; font-size: 0.85em; margin-top: 2rem; }
    </style>
`
}
