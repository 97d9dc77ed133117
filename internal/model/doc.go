// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for projects, chat sessions and
// turns.
//
// This package defines the domain types persisted by the storage package and
// mutated by the session controller.
//
// # Key Types
//
//   - Project: Named workspace with instructions, files and chat sessions
//   - ChatSession: One ordered conversation inside a project
//   - Turn: Single message with role, content and timestamp
//   - FileMeta: Metadata of an attached file (name, size, MIME type, kind)
//
// # Usage
//
// Start a chat from a first message:
//
//	chat := model.NewChatSession("how do channels work?", time.Now())
//	chat.Append(model.NewTurn(model.RoleAssistant, reply, time.Now()))
//
// Create a project:
//
//	p := model.NewProject("Research", "🔬", time.Now())
//	p.Chats = append(p.Chats, *chat)
package model
