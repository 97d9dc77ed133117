// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/rigchat/internal/model"
)

// Adapter gives typed access to the per-user entries. Strings are stored as
// plain bytes, every other value as JSON.
type Adapter struct {
	store Store
}

// NewAdapter wraps a backend.
func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

// Store returns the underlying backend.
func (a *Adapter) Store() Store {
	return a.store
}

// PutProjects replaces the user's project list.
func (a *Adapter) PutProjects(ctx context.Context, user string, projects []model.Project) error {
	if projects == nil {
		projects = []model.Project{}
	}
	return putJSON(ctx, a.store, user, KeyProjects, projects)
}

// GetProjects returns the user's project list, or def when none is stored.
func (a *Adapter) GetProjects(ctx context.Context, user string, def []model.Project) ([]model.Project, error) {
	return getJSON(ctx, a.store, user, KeyProjects, def)
}

// PutCurrentProject stores the current project snapshot. A nil project is
// stored as JSON null.
func (a *Adapter) PutCurrentProject(ctx context.Context, user string, p *model.Project) error {
	return putJSON(ctx, a.store, user, KeyCurrentProject, p)
}

// GetCurrentProject returns the stored current project, def when nothing is
// stored, and nil when null was stored.
func (a *Adapter) GetCurrentProject(ctx context.Context, user string, def *model.Project) (*model.Project, error) {
	return getJSON(ctx, a.store, user, KeyCurrentProject, def)
}

// PutInstructions stores the working instruction text.
func (a *Adapter) PutInstructions(ctx context.Context, user, text string) error {
	if err := a.store.Put(ctx, Namespace(user), KeyInstructions, []byte(text)); err != nil {
		return fmt.Errorf("put %s: %w", KeyInstructions, err)
	}
	return nil
}

// GetInstructions returns the working instruction text, or def.
func (a *Adapter) GetInstructions(ctx context.Context, user, def string) (string, error) {
	raw, found, err := a.store.Get(ctx, Namespace(user), KeyInstructions)
	if err != nil {
		return def, fmt.Errorf("get %s: %w", KeyInstructions, err)
	}
	if !found {
		return def, nil
	}
	return string(raw), nil
}

// PutFiles stores the working file list.
func (a *Adapter) PutFiles(ctx context.Context, user string, files []model.FileMeta) error {
	if files == nil {
		files = []model.FileMeta{}
	}
	return putJSON(ctx, a.store, user, KeyFiles, files)
}

// GetFiles returns the working file list, or def.
func (a *Adapter) GetFiles(ctx context.Context, user string, def []model.FileMeta) ([]model.FileMeta, error) {
	return getJSON(ctx, a.store, user, KeyFiles, def)
}

func putJSON[T any](ctx context.Context, s Store, user, name string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.Put(ctx, Namespace(user), name, data); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func getJSON[T any](ctx context.Context, s Store, user, name string, def T) (T, error) {
	raw, found, err := s.Get(ctx, Namespace(user), name)
	if err != nil {
		return def, fmt.Errorf("get %s: %w", name, err)
	}
	if !found {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}
