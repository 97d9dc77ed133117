// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the rigchat packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - FirstWords: word-based truncation used for chat titles
//   - PadWidth / TruncateWidth: display-width aware column helpers
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.FirstWords("explain how goroutines are scheduled in detail", 6)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
