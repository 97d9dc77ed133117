// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a chat session to a file format.
//
// # Key Types
//
//   - Format: Export format enumeration (Markdown, JSON, HTML)
//   - Exporter: Converts a model.ChatSession to bytes
//   - Options: Export configuration options
//
// # Supported Formats
//
//   - Markdown: Human-readable, one section per turn
//   - JSON: The chat document with export metadata
//   - HTML: Standalone page with embedded CSS
//
// # Usage
//
//	data, err := export.Chat(chat, export.FormatHTML, nil)
//
// Choose the format from a file name:
//
//	format := export.FormatFromPath("notes/chat.html")
package export
