// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// noTTYStyle is glamour's plain style for uncolored output.
const noTTYStyle = "notty"

// Renderer formats chat content for the terminal.
type Renderer struct {
	markdown bool
	width    int

	once sync.Once
	md   *glamour.TermRenderer
}

// NewRenderer creates a renderer. markdown enables glamour rendering of
// assistant replies; width <= 0 means the terminal width.
func NewRenderer(markdown bool, width int) *Renderer {
	if width <= 0 {
		width = GetTerminalWidth()
	}
	return &Renderer{markdown: markdown, width: width}
}

// Width returns the wrap width.
func (r *Renderer) Width() int {
	return r.width
}

func (r *Renderer) termRenderer() *glamour.TermRenderer {
	r.once.Do(func() {
		style := glamour.WithAutoStyle()
		if !ColorsEnabled() {
			style = glamour.WithStandardStyle(noTTYStyle)
		}
		md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(r.width))
		if err == nil {
			r.md = md
		}
	})
	return r.md
}

// Markdown renders content as Markdown, or wraps it as plain text when
// rendering is disabled or fails.
func (r *Renderer) Markdown(content string) string {
	if r.markdown {
		if md := r.termRenderer(); md != nil {
			if out, err := md.Render(content); err == nil {
				return strings.Trim(out, "\n")
			}
		}
	}
	return wordwrap.String(content, r.width)
}

// Turn renders one chat turn with its role label and time.
func (r *Renderer) Turn(t model.Turn) string {
	label := RoleStyle(t.Role).Render(t.Role.DisplayName())
	stamp := DimStyle.Render(t.Timestamp.Local().Format("15:04"))
	body := t.Content
	if t.Role == model.RoleAssistant {
		body = r.Markdown(body)
	} else {
		body = wordwrap.String(body, r.width)
	}
	if t.Role == model.RoleError {
		body = ErrorStyle.Render(body)
	}
	return fmt.Sprintf("%s %s\n%s", label, stamp, body)
}

// Table lays out rows under headers in width-aware columns. Cells wider
// than maxCell are truncated.
func Table(headers []string, rows [][]string, maxCell int) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = util.StringWidth(h)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(headers))
		for i := range headers {
			if i >= len(row) {
				continue
			}
			c := row[i]
			if maxCell > 0 {
				c = util.TruncateWidth(c, maxCell)
			}
			cells[r][i] = c
			widths[i] = max(widths[i], util.StringWidth(c))
		}
	}

	var b strings.Builder
	writeRow := func(row []string, style *lipgloss.Style) {
		for i, c := range row {
			cell := c
			if i < len(row)-1 {
				cell = util.PadWidth(c, widths[i]) + "  "
			}
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
		}
		b.WriteString("\n")
	}
	writeRow(headers, &DimStyle)
	for _, row := range cells {
		writeRow(row, nil)
	}
	return b.String()
}
