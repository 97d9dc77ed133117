// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides per-identity key-value persistence for rigchat.
//
// Every value lives under a namespace derived from the user identity (or the
// fallback "global" namespace), so switching identities exposes a disjoint
// data set. Writes replace the whole value: there is no merge and no
// concurrency check.
//
// # Key Types
//
//   - Store: raw byte-level backend (Put/Get/Close)
//   - Adapter: typed access to projects, current_project, instructions, files
//   - FileStore: one directory per namespace, atomic file writes
//   - SQLiteStore: single kv table in a pure-Go SQLite database
//   - MemoryStore: in-process map, used by tests and --ephemeral
//
// # Usage
//
//	store, err := storage.Open(storage.Options{Backend: "file", Dir: dataDir})
//	adapter := storage.NewAdapter(store)
//	err = adapter.PutProjects(ctx, "me@example.com", projects)
//	projects, err := adapter.GetProjects(ctx, "me@example.com", nil)
//
// # Storage Location
//
// By default state is kept in ~/.rigchat/data/<namespace-hash>/.
package storage
