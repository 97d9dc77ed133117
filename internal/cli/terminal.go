// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

const (
	// DefaultTerminalWidth is used when the width cannot be detected.
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the narrowest width used for wrapping.
	MinTerminalWidth = 40
)

// GetTerminalWidth returns the stdout width, or DefaultTerminalWidth.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

// Color modes accepted by SetColorMode.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

var (
	colorMu      sync.RWMutex
	colorMode    = ColorAuto
	colorsForced *bool
)

// SetColorMode selects auto, always or never and applies the resulting
// profile to lipgloss. Unknown modes mean auto.
func SetColorMode(mode string) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != ColorAlways && mode != ColorNever {
		mode = ColorAuto
	}
	colorMu.Lock()
	colorMode = mode
	colorsForced = nil
	colorMu.Unlock()
	lipgloss.SetColorProfile(GetColorProfile())
}

// ForceColorsEnabled overrides detection. Used by tests.
func ForceColorsEnabled(enabled bool) {
	colorMu.Lock()
	colorsForced = &enabled
	colorMu.Unlock()
	lipgloss.SetColorProfile(GetColorProfile())
}

// ColorsEnabled reports whether styled output should be produced.
// NO_COLOR always disables, FORCE_COLOR enables in auto mode.
func ColorsEnabled() bool {
	colorMu.RLock()
	mode, forced := colorMode, colorsForced
	colorMu.RUnlock()

	if forced != nil {
		return *forced
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return IsStdoutTTY()
}

// GetColorProfile returns the termenv profile for the current mode.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	if p := termenv.ColorProfile(); p != termenv.Ascii {
		return p
	}
	// Forced colors on a non-terminal.
	return termenv.ANSI256
}
