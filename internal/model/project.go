// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultProjectEmoji is used when a project is created without one.
const DefaultProjectEmoji = "📁"

// Project is a named workspace grouping instructions, files and chats.
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Emoji        string        `json:"emoji"`
	Instructions string        `json:"instructions"`
	Files        []FileMeta    `json:"files"`
	Chats        []ChatSession `json:"chats"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// NewProject creates an empty project. The name is trimmed; callers validate
// that it is non-empty.
func NewProject(name, emoji string, at time.Time) *Project {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		emoji = DefaultProjectEmoji
	}
	return &Project{
		ID:        NewID("proj"),
		Name:      strings.TrimSpace(name),
		Emoji:     emoji,
		Files:     []FileMeta{},
		Chats:     []ChatSession{},
		CreatedAt: at,
	}
}

// Chat returns the chat with the given ID, or nil.
func (p *Project) Chat(id string) *ChatSession {
	for i := range p.Chats {
		if p.Chats[i].ID == id {
			return &p.Chats[i]
		}
	}
	return nil
}

// AddChat inserts a chat at the front of the list (most recent first).
func (p *Project) AddChat(c ChatSession) {
	p.Chats = append([]ChatSession{c}, p.Chats...)
}

// RemoveChat deletes the chat with the given ID and reports whether it was
// present.
func (p *Project) RemoveChat(id string) bool {
	for i := range p.Chats {
		if p.Chats[i].ID == id {
			p.Chats = append(p.Chats[:i], p.Chats[i+1:]...)
			return true
		}
	}
	return false
}

// Label returns "emoji name" for display.
func (p *Project) Label() string {
	if p.Emoji == "" {
		return p.Name
	}
	return p.Emoji + " " + p.Name
}

// Clone returns a deep copy.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Files = append([]FileMeta{}, p.Files...)
	cp.Chats = make([]ChatSession, len(p.Chats))
	for i := range p.Chats {
		cp.Chats[i] = *p.Chats[i].Clone()
	}
	return &cp
}

// FindProject returns the index of the project with the given ID, or -1.
func FindProject(projects []Project, id string) int {
	for i := range projects {
		if projects[i].ID == id {
			return i
		}
	}
	return -1
}

// CloneProjects deep-copies a project list.
func CloneProjects(projects []Project) []Project {
	out := make([]Project, len(projects))
	for i := range projects {
		out[i] = *projects[i].Clone()
	}
	return out
}

// NewID returns a prefixed UUIDv7. Version 7 UUIDs embed their creation time,
// so IDs sort by creation order.
func NewID(prefix string) string {
	return prefix + "_" + uuid.Must(uuid.NewV7()).String()
}
