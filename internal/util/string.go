// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended by the truncation helpers.
const Ellipsis = "..."

// TruncateRunes truncates s to at most maxRunes characters, replacing the
// tail with "..." when it had to cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= len(Ellipsis) {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-len(Ellipsis)]) + Ellipsis
}

// FirstWords returns the first n whitespace-separated words of s joined by a
// single space, followed by "..." when s had more than n words. Surrounding
// whitespace is dropped; s with n or fewer words is returned trimmed but
// otherwise untouched.
func FirstWords(s string, n int) string {
	trimmed := strings.TrimSpace(s)
	words := strings.Fields(trimmed)
	if n <= 0 || len(words) <= n {
		return trimmed
	}
	return strings.Join(words[:n], " ") + Ellipsis
}

// StringWidth returns the terminal display width of s. CJK and emoji count
// as two columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// TruncateWidth cuts s to fit in maxWidth display columns, ending with "..."
// when anything was removed.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(Ellipsis) {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// PadWidth right-pads s with spaces to width display columns. Strings that
// are already wider are returned unchanged.
func PadWidth(s string, width int) string {
	return runewidth.FillRight(s, width)
}
