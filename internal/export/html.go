// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

var (
	codeBlockRe  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports chats to a standalone HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	return &HTMLExporter{options: normalize(opts)}
}

// Export converts a chat to HTML.
func (e *HTMLExporter) Export(chat *model.ChatSession) ([]byte, error) {
	if err := validate(chat); err != nil {
		return nil, err
	}

	title := html.EscapeString(chat.Title)
	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString("  <meta charset=\"UTF-8\">\n")
	sb.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "  <title>%s</title>\n", title)
	fmt.Fprintf(&sb, "  <meta name=\"generator\" content=\"%s\">\n", Generator)
	fmt.Fprintf(&sb, "  <meta name=\"date\" content=\"%s\">\n", chat.CreatedAt.Format(time.RFC3339))
	sb.WriteString(pageCSS)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", e.options.Theme)
	sb.WriteString("  <div class=\"container\">\n")

	sb.WriteString("    <header class=\"header\">\n")
	fmt.Fprintf(&sb, "      <h1>%s</h1>\n", title)
	fmt.Fprintf(&sb, "      <div class=\"metadata\">Created %s &middot; %d messages</div>\n",
		formatTimestamp(chat.CreatedAt), len(chat.Messages))
	sb.WriteString("    </header>\n")

	sb.WriteString("    <main class=\"conversation\">\n")
	for _, t := range chat.Messages {
		sb.WriteString(e.renderTurn(t))
	}
	sb.WriteString("    </main>\n")

	fmt.Fprintf(&sb, "    <footer class=\"footer\">Exported from <strong>%s</strong> on %s</footer>\n",
		Generator, formatTimestamp(e.options.Now()))
	sb.WriteString("  </div>\n</body>\n</html>\n")

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
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderTurn(t model.Turn) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "      <div class=\"message %s-message\">\n", html.EscapeString(strings.ToLower(t.Role.String())))
	sb.WriteString("        <div class=\"message-header\">\n")
	fmt.Fprintf(&sb, "          <span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(t.Role)))
	if e.options.IncludeTimestamps {
		fmt.Fprintf(&sb, "          <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(t.Timestamp))
	}
	sb.WriteString("        </div>\n")
	sb.WriteString("        <div class=\"message-content\">\n")
	sb.WriteString(formatContent(t.Content))
	sb.WriteString("\n        </div>\n")
	sb.WriteString("      </div>\n")
	return sb.String()
}

// formatContent escapes content and turns fenced code, inline code and
// blank-line separated paragraphs into HTML.
func formatContent(content string) string {
	var sb strings.Builder
	rest := strings.TrimSpace(content)

	for rest != "" {
		loc := codeBlockRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			writeParagraphs(&sb, rest)
			break
		}
		writeParagraphs(&sb, rest[:loc[0]])

		lang := rest[loc[2]:loc[3]]
		code := strings.TrimRight(rest[loc[4]:loc[5]], "\n")
		sb.WriteString("<div class=\"code-block\">")
		if lang != "" {
			fmt.Fprintf(&sb, "<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
		}
		fmt.Fprintf(&sb, "<pre><code class=\"language-%s\">%s</code></pre></div>\n",
			html.EscapeString(lang), html.EscapeString(code))

		rest = rest[loc[1]:]
	}
	return sb.String()
}

func writeParagraphs(sb *strings.Builder, text string) {
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = inlineCodeRe.ReplaceAllString(escaped, "<code class=\"inline-code\">$1</code>")
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		sb.WriteString("<p>" + escaped + "</p>\n")
	}
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const pageCSS = `  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body { font-family: -apple-system, "Segoe UI", "PingFang SC", "Microsoft YaHei", sans-serif; line-height: 1.6; }
    .light-theme { background: #f7f7f8; color: #1f2328; }
    .dark-theme { background: #1e1f22; color: #e6e6e6; }
    .container { max-width: 860px; margin: 0 auto; padding: 32px 16px; }
    .header { margin-bottom: 24px; }
    .header h1 { font-size: 1.6em; margin-bottom: 4px; }
    .metadata, .timestamp, .footer { color: #8a8f98; font-size: 0.85em; }
    .message { border-radius: 10px; padding: 12px 16px; margin-bottom: 14px; }
    .light-theme .user-message { background: #e8f0fe; }
    .light-theme .assistant-message { background: #ffffff; border: 1px solid #e1e4e8; }
    .dark-theme .user-message { background: #2b3545; }
    .dark-theme .assistant-message { background: #2a2b2f; border: 1px solid #3a3b40; }
    .message-header { display: flex; justify-content: space-between; margin-bottom: 6px; }
    .role-label { font-weight: 600; }
    .message-content p { margin: 0 0 8px; }
    .code-block { margin: 8px 0; }
    .code-lang { font-size: 0.75em; color: #8a8f98; }
    pre { overflow-x: auto; padding: 10px; border-radius: 6px; background: rgba(127,127,127,0.12); }
    code { font-family: "SF Mono", Consolas, monospace; font-size: 0.9em; }
    .inline-code { padding: 1px 4px; border-radius: 4px; background: rgba(127,127,127,0.15); }
    .footer { margin-top: 32px; text-align: center; }
  </style>
`
