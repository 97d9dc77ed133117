// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Key names of the persisted per-user entries.
const (
	KeyProjects       = "projects"
	KeyCurrentProject = "current_project"
	KeyInstructions   = "instructions"
	KeyFiles          = "files"
)

// GlobalNamespace is used when no identity is signed in.
const GlobalNamespace = "global"

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidKey is returned for empty key names.
	ErrInvalidKey = errors.New("invalid key name")

	// ErrUnknownBackend is returned by Open for unsupported backends.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Store is a byte-level key-value backend partitioned by namespace.
// Put replaces any previous value. Get reports found=false for missing keys.
type Store interface {
	Put(ctx context.Context, namespace, name string, value []byte) error
	Get(ctx context.Context, namespace, name string) (value []byte, found bool, err error)
	Close() error
}

// Namespace maps a user identity to its storage namespace. Identities are
// opaque: only surrounding whitespace is removed and case is preserved.
func Namespace(user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		return GlobalNamespace
	}
	return "user:" + user
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "file", "sqlite" or "memory".
	Backend string

	// Dir is the root directory of the file backend.
	Dir string

	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string
}

// Open creates the backend described by opts.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func validateKey(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidKey
	}
	return nil
}
