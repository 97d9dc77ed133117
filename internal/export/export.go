// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// Generator is written into exported documents.
const Generator = "rigchat"

var (
	// ErrNilChat is returned when exporting a nil chat.
	ErrNilChat = errors.New("chat is nil")

	// ErrEmptyChat is returned when a chat has no turns.
	ErrEmptyChat = errors.New("chat has no messages")

	// ErrUnknownFormat is returned by ParseFormat for unsupported names.
	ErrUnknownFormat = errors.New("unknown export format")
)

// =============================================================================
// FORMAT
// =============================================================================

// Format names an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// ParseFormat accepts a format name or a common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q (markdown, json, html)", ErrUnknownFormat, s)
	}
}

// FormatFromPath picks the format from a file extension. Unknown or missing
// extensions give Markdown.
func FormatFromPath(path string) Format {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return FormatMarkdown
	}
	return f
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a chat to one format.
type Exporter interface {
	// Export converts a chat to the target format and returns the content.
	Export(chat *model.ChatSession) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// IncludeTimestamps adds per-turn times.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	Theme string

	// Now stamps the export time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeTimestamps: true,
		Theme:             "light",
		Now:               time.Now,
	}
}

func normalize(opts *Options) *Options {
	if opts == nil {
		return DefaultOptions()
	}
	cp := *opts
	if cp.Now == nil {
		cp.Now = time.Now
	}
	if cp.Theme != "dark" {
		cp.Theme = "light"
	}
	return &cp
}

// New returns the exporter for format.
func New(format Format, opts *Options) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatHTML:
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}
}

// Chat exports chat in format.
func Chat(chat *model.ChatSession, format Format, opts *Options) ([]byte, error) {
	e, err := New(format, opts)
	if err != nil {
		return nil, err
	}
	return e.Export(chat)
}

// Filename suggests a file name for chat, e.g. "chat_Go_channels_20260501_093000.md".
func Filename(chat *model.ChatSession, e Exporter) string {
	stamp := chat.UpdatedAt
	if stamp.IsZero() {
		stamp = chat.CreatedAt
	}
	return fmt.Sprintf("chat_%s_%s%s", sanitizeFilename(chat.Title), stamp.Format("20060102_150405"), e.FileExtension())
}

func validate(chat *model.ChatSession) error {
	if chat == nil {
		return ErrNilChat
	}
	if len(chat.Messages) == 0 {
		return ErrEmptyChat
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in file names.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127:
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "chat"
	}
	return string(out)
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04")
}

func roleLabel(r model.Role) string {
	if r == "" {
		return "Unknown"
	}
	return r.DisplayName()
}
