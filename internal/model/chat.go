// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/util"
)

// TitleWords is the number of words of the first message kept in a chat title.
const TitleWords = 6

// DefaultChatTitle is used when a chat is created without any usable text.
const DefaultChatTitle = "New chat"

// ErrTurnNotPersistable is returned when appending a display-only turn.
var ErrTurnNotPersistable = errors.New("turn role cannot be stored in a chat")

// =============================================================================
// CHAT SESSION TYPE
// =============================================================================

// ChatSession is one ordered conversation. Messages are kept in append order.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Turn    `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewChatSession creates an empty chat whose title is derived from the first
// user message.
func NewChatSession(firstMessage string, at time.Time) *ChatSession {
	return &ChatSession{
		ID:        NewID("chat"),
		Title:     TitleFromMessage(firstMessage),
		Messages:  make([]Turn, 0, 2),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// TitleFromMessage returns the first TitleWords words of message, with "..."
// appended when the message is longer. Blank messages give DefaultChatTitle.
func TitleFromMessage(message string) string {
	title := util.FirstWords(strings.ReplaceAll(message, "\r", ""), TitleWords)
	if title == "" {
		return DefaultChatTitle
	}
	return title
}

// Append adds a turn and moves UpdatedAt forward to the turn's timestamp.
// UpdatedAt never moves backwards even if the clock does.
func (c *ChatSession) Append(t Turn) error {
	if !t.Role.Persistable() {
		return ErrTurnNotPersistable
	}
	c.Messages = append(c.Messages, t)
	c.touch(t.Timestamp)
	return nil
}

// ReplaceLastAssistant swaps the trailing assistant turn for t. It reports
// false when the chat does not end with an assistant turn.
func (c *ChatSession) ReplaceLastAssistant(t Turn) bool {
	n := len(c.Messages)
	if n == 0 || c.Messages[n-1].Role != RoleAssistant || t.Role != RoleAssistant {
		return false
	}
	c.Messages[n-1] = t
	c.touch(t.Timestamp)
	return true
}

// LastUserMessage returns the content of the most recent user turn.
func (c *ChatSession) LastUserMessage() (string, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content, true
		}
	}
	return "", false
}

// Preview returns the first user message truncated for list display.
func (c *ChatSession) Preview() string {
	for _, t := range c.Messages {
		if t.Role == RoleUser && t.Content != "" {
			return util.TruncateRunes(strings.ReplaceAll(t.Content, "\n", " "), 80)
		}
	}
	return ""
}

// Matches reports whether query (case-insensitive) occurs in the title or in
// any turn.
func (c *ChatSession) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Title), q) {
		return true
	}
	for _, t := range c.Messages {
		if strings.Contains(strings.ToLower(t.Content), q) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *ChatSession) Clone() *ChatSession {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = append([]Turn(nil), c.Messages...)
	return &cp
}

func (c *ChatSession) touch(at time.Time) {
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}
