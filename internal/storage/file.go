// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/jeranaias/rigchat/internal/util"
)

// keyPattern restricts key names to safe file names.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore keeps each namespace in its own directory and each key in its
// own file. Writes are atomic: a crash leaves either the old or the new value.
type FileStore struct {
	// BaseDir is the root directory.
	// Default: ~/.rigchat/data/
	BaseDir string

	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
// An empty baseDir selects ~/.rigchat/data.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(home, ".rigchat", "data")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, namespace, name string, value []byte) error {
	path, err := s.path(namespace, name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := util.AtomicWriteFile(path, value, 0600); err != nil {
		return fmt.Errorf("write %s/%s: %w", namespace, name, err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, namespace, name string) ([]byte, bool, error) {
	path, err := s.path(namespace, name)
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, ErrClosed
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NamespaceDir returns the directory holding a namespace. The directory name
// is a BLAKE2b-128 digest of the namespace, so identities containing path
// separators or other unsafe characters map to a fixed-length safe name.
func (s *FileStore) NamespaceDir(namespace string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(namespace))
	return filepath.Join(s.BaseDir, "ns-"+hex.EncodeToString(h.Sum(nil)))
}

func (s *FileStore) path(namespace, name string) (string, error) {
	if err := validateKey(name); err != nil {
		return "", err
	}
	if !keyPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	return filepath.Join(s.NamespaceDir(namespace), name+".dat"), nil
}
