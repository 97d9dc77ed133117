// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/reply"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyName is returned when a project name is blank.
	ErrEmptyName = errors.New("project name must not be empty")

	// ErrProjectNotFound is returned for an unknown project ID.
	ErrProjectNotFound = errors.New("project not found")

	// ErrChatNotFound is returned for an unknown chat ID.
	ErrChatNotFound = errors.New("chat not found")

	// ErrNoProject is returned by chat operations that need a current project.
	ErrNoProject = errors.New("no project selected")

	// ErrFileTooLarge marks a rejected attachment.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrFileIndex is returned by RemoveFile for an out-of-range index.
	ErrFileIndex = errors.New("file index out of range")

	// ErrSendInFlight is returned when a send or regenerate is already running.
	ErrSendInFlight = errors.New("a message is already being sent")

	// ErrNothingToRegenerate is returned when the active chat has no trailing
	// assistant turn.
	ErrNothingToRegenerate = errors.New("no assistant reply to regenerate")

	// ErrNoActiveChat is returned by operations that need an active chat.
	ErrNoActiveChat = errors.New("no active chat")
)

const (
	// msgServiceError prefixes application-level reply failures.
	msgServiceError = "抱歉，发生了错误："

	// msgUnknownError stands in for a service error without text.
	msgUnknownError = "未知错误"

	// msgUnreachable is shown for transport failures.
	msgUnreachable = "连接服务器失败，请检查网络连接或确保服务器正在运行。"

	// regenerateFallback is asked when a chat has no user turn to repeat.
	regenerateFallback = "请重新回答"
)

// =============================================================================
// TYPES
// =============================================================================

// SendResult describes one completed send.
type SendResult struct {
	// ChatID is the chat the turns belong to.
	ChatID string

	// Created is true when the send started a new chat.
	Created bool

	// User is the appended user turn.
	User model.Turn

	// Reply is the assistant turn on success or a RoleError turn on failure.
	Reply model.Turn

	// Err is the reply failure, nil on success.
	Err error
}

// Failed reports whether the reply failed.
func (r *SendResult) Failed() bool {
	return r != nil && r.Err != nil
}

// Rejection explains why an attachment was refused.
type Rejection struct {
	File   model.FileMeta
	Reason error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithUser sets the initial identity.
func WithUser(user string) Option {
	return func(c *Controller) {
		c.user = strings.TrimSpace(user)
	}
}

// WithLogger sets the event logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the application state container.
type Controller struct {
	adapter *storage.Adapter
	replier reply.Replier
	now     func() time.Time
	logger  *log.Logger

	// sending guards SendMessage and Regenerate. It is separate from mu so
	// the reply await runs without holding the state lock.
	sending atomic.Bool

	mu           sync.Mutex
	user         string
	projects     []model.Project
	currentID    string
	activeChatID string
	detached     []model.ChatSession
	files        []model.FileMeta
	instructions string
}

// NewController creates a controller over store, answering with replier.
// Call Load before use to read the user's persisted state.
func NewController(store storage.Store, replier reply.Replier, opts ...Option) *Controller {
	c := &Controller{
		adapter:  storage.NewAdapter(store),
		replier:  replier,
		now:      time.Now,
		logger:   log.New(io.Discard, "", 0),
		projects: []model.Project{},
		files:    []model.FileMeta{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces in-memory state with the current user's persisted snapshot.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

func (c *Controller) loadLocked(ctx context.Context) error {
	projects, err := c.adapter.GetProjects(ctx, c.user, []model.Project{})
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	current, err := c.adapter.GetCurrentProject(ctx, c.user, nil)
	if err != nil {
		return fmt.Errorf("load current project: %w", err)
	}
	instructions, err := c.adapter.GetInstructions(ctx, c.user, "")
	if err != nil {
		return fmt.Errorf("load instructions: %w", err)
	}
	files, err := c.adapter.GetFiles(ctx, c.user, []model.FileMeta{})
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}

	if projects == nil {
		projects = []model.Project{}
	}
	if files == nil {
		files = []model.FileMeta{}
	}

	c.projects = projects
	c.currentID = ""
	// The project list is authoritative; a current_project snapshot that no
	// longer matches a listed project is ignored.
	if current != nil && model.FindProject(projects, current.ID) >= 0 {
		c.currentID = current.ID
	}
	c.activeChatID = ""
	c.detached = nil
	c.instructions = instructions
	c.files = files

	c.logger.Printf("STATE_LOAD | user=%s projects=%d current=%s files=%d",
		storage.Namespace(c.user), len(projects), c.currentID, len(files))
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistLocked writes the whole snapshot for the current user.
func (c *Controller) persistLocked(ctx context.Context) error {
	if err := c.adapter.PutProjects(ctx, c.user, c.projects); err != nil {
		return fmt.Errorf("save projects: %w", err)
	}
	if err := c.adapter.PutCurrentProject(ctx, c.user, c.currentLocked()); err != nil {
		return fmt.Errorf("save current project: %w", err)
	}
	if err := c.adapter.PutInstructions(ctx, c.user, c.instructions); err != nil {
		return fmt.Errorf("save instructions: %w", err)
	}
	if err := c.adapter.PutFiles(ctx, c.user, c.files); err != nil {
		return fmt.Errorf("save files: %w", err)
	}
	return nil
}

// flushLocked copies working instructions and files into the current
// project.
func (c *Controller) flushLocked() {
	if p := c.currentLocked(); p != nil {
		p.Instructions = c.instructions
		p.Files = append([]model.FileMeta{}, c.files...)
	}
}

// currentLocked returns a pointer into c.projects, or nil.
func (c *Controller) currentLocked() *model.Project {
	if c.currentID == "" {
		return nil
	}
	if i := model.FindProject(c.projects, c.currentID); i >= 0 {
		return &c.projects[i]
	}
	return nil
}

// loadWorkingLocked makes p's instructions and files the working state.
func (c *Controller) loadWorkingLocked(p *model.Project) {
	if p == nil {
		c.instructions = ""
		c.files = []model.FileMeta{}
		return
	}
	c.instructions = p.Instructions
	c.files = append([]model.FileMeta{}, p.Files...)
}

// chatLocked finds a chat in the current project, or among detached chats
// when no project is current.
func (c *Controller) chatLocked(id string) *model.ChatSession {
	if id == "" {
		return nil
	}
	if p := c.currentLocked(); p != nil {
		return p.Chat(id)
	}
	for i := range c.detached {
		if c.detached[i].ID == id {
			return &c.detached[i]
		}
	}
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage appends text as a user turn to the active chat, creating one
// when none is active, and asks the replier for an answer.
//
// Whitespace-only text is ignored (nil, nil). The returned error is only set
// for ErrSendInFlight or a storage failure; reply failures are reported in
// SendResult.Err with a RoleError turn that is never stored.
func (c *Controller) SendMessage(ctx context.Context, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if !c.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer c.sending.Store(false)

	c.mu.Lock()
	now := c.now()
	res := &SendResult{User: model.NewTurn(model.RoleUser, text, now)}

	prevActive := c.activeChatID
	chat := c.chatLocked(c.activeChatID)
	if chat == nil {
		created := model.NewChatSession(text, now)
		if p := c.currentLocked(); p != nil {
			p.AddChat(*created)
			chat = &p.Chats[0]
		} else {
			c.detached = append([]model.ChatSession{*created}, c.detached...)
			chat = &c.detached[0]
		}
		c.activeChatID = created.ID
		res.Created = true
		c.logger.Printf("CHAT_CREATE | user=%s chat=%s title=%q", storage.Namespace(c.user), created.ID, created.Title)
	}
	res.ChatID = chat.ID
	prevLen, prevUpdated := len(chat.Messages), chat.UpdatedAt
	if err := chat.Append(res.User); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.persistLocked(ctx); err != nil {
		if res.Created {
			c.removeChatLocked(res.ChatID)
			c.activeChatID = prevActive
		} else {
			chat.Messages = chat.Messages[:prevLen]
			chat.UpdatedAt = prevUpdated
		}
		c.logger.Printf("SEND_ROLLBACK | chat=%s created=%t error=%v", res.ChatID, res.Created, err)
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	start := time.Now()
	answer, err := c.replier.Reply(ctx, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		res.Err = err
		res.Reply = model.NewTurn(model.RoleError, errorText(err), c.now())
		c.logger.Printf("REPLY_FAILED | chat=%s latency=%dms error=%v", res.ChatID, time.Since(start).Milliseconds(), err)
		return res, nil
	}

	res.Reply = model.NewTurn(model.RoleAssistant, answer, c.now())
	chat = c.chatLocked(res.ChatID)
	if chat == nil {
		// The chat was deleted or the project switched while waiting.
		c.logger.Printf("REPLY_ORPHANED | chat=%s", res.ChatID)
		return res, nil
	}
	if err := chat.Append(res.Reply); err != nil {
		return res, err
	}
	c.logger.Printf("REPLY_COMPLETE | chat=%s query=%q latency=%dms",
		res.ChatID, util.TruncateRunes(text, 50), time.Since(start).Milliseconds())
	return res, c.persistLocked(ctx)
}

// Regenerate asks again for the last user message of the active chat and
// replaces the trailing assistant turn. On failure the old turn stays and the
// result carries a RoleError turn.
func (c *Controller) Regenerate(ctx context.Context) (*SendResult, error) {
	if !c.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer c.sending.Store(false)

	c.mu.Lock()
	chat := c.chatLocked(c.activeChatID)
	if chat == nil {
		c.mu.Unlock()
		return nil, ErrNoActiveChat
	}
	n := len(chat.Messages)
	if n == 0 || chat.Messages[n-1].Role != model.RoleAssistant {
		c.mu.Unlock()
		return nil, ErrNothingToRegenerate
	}
	question, ok := chat.LastUserMessage()
	if !ok {
		question = regenerateFallback
	}
	res := &SendResult{
		ChatID: chat.ID,
		User:   model.NewTurn(model.RoleUser, question, c.now()),
	}
	c.mu.Unlock()

	answer, err := c.replier.Reply(ctx, question)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		res.Err = err
		res.Reply = model.NewTurn(model.RoleError, errorText(err), c.now())
		c.logger.Printf("REGENERATE_FAILED | chat=%s error=%v", res.ChatID, err)
		return res, nil
	}

	res.Reply = model.NewTurn(model.RoleAssistant, answer, c.now())
	chat = c.chatLocked(res.ChatID)
	if chat == nil || !chat.ReplaceLastAssistant(res.Reply) {
		c.logger.Printf("REPLY_ORPHANED | chat=%s", res.ChatID)
		return res, nil
	}
	c.logger.Printf("REGENERATE_COMPLETE | chat=%s", res.ChatID)
	return res, c.persistLocked(ctx)
}

// Sending reports whether a send is in flight.
func (c *Controller) Sending() bool {
	return c.sending.Load()
}

// errorText renders a reply failure for display.
func errorText(err error) string {
	var se *reply.ServiceError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = msgUnknownError
		}
		return msgServiceError + msg
	}
	return msgUnreachable
}

// =============================================================================
// NAVIGATION
// =============================================================================

// GoHome clears the active chat. The next send starts a new chat.
func (c *Controller) GoHome() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeChatID = ""
}

// OpenChat makes a chat of the current project active.
func (c *Controller) OpenChat(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatLocked(id) == nil {
		return ErrChatNotFound
	}
	c.activeChatID = id
	return nil
}

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject adds a project at the front of the list and makes it
// current. The previous project keeps the working instructions and files;
// the new one starts empty.
func (c *Controller) CreateProject(ctx context.Context, name, emoji string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked()
	p := model.NewProject(name, strings.TrimSpace(emoji), c.now())
	c.projects = append([]model.Project{*p}, c.projects...)
	c.currentID = p.ID
	c.activeChatID = ""
	c.loadWorkingLocked(nil)

	c.logger.Printf("PROJECT_CREATE | user=%s id=%s name=%q", storage.Namespace(c.user), p.ID, p.Name)
	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// SelectProject makes id current and loads its instructions and files.
func (c *Controller) SelectProject(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := model.FindProject(c.projects, id)
	if i < 0 {
		return ErrProjectNotFound
	}

	c.flushLocked()
	c.currentID = id
	c.activeChatID = ""
	c.loadWorkingLocked(&c.projects[i])

	c.logger.Printf("PROJECT_SELECT | user=%s id=%s", storage.Namespace(c.user), id)
	return c.persistLocked(ctx)
}

// RenameProject changes a project's name. Blank or unchanged names are
// ignored.
func (c *Controller) RenameProject(ctx context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := model.FindProject(c.projects, id)
	if i < 0 {
		return ErrProjectNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" || name == c.projects[i].Name {
		return nil
	}
	c.projects[i].Name = name
	return c.persistLocked(ctx)
}

// DeleteProject removes a project. Deleting the current project falls back
// to the first remaining one, or to no project with empty working state.
func (c *Controller) DeleteProject(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := model.FindProject(c.projects, id)
	if i < 0 {
		return ErrProjectNotFound
	}
	c.projects = append(c.projects[:i], c.projects[i+1:]...)

	if c.currentID == id {
		c.activeChatID = ""
		if len(c.projects) > 0 {
			c.currentID = c.projects[0].ID
			c.loadWorkingLocked(&c.projects[0])
		} else {
			c.currentID = ""
			c.loadWorkingLocked(nil)
		}
	}

	c.logger.Printf("PROJECT_DELETE | user=%s id=%s current=%s", storage.Namespace(c.user), id, c.currentID)
	return c.persistLocked(ctx)
}

// =============================================================================
// CHATS
// =============================================================================

// RenameChat retitles a chat of the current project. A blank title is
// ignored.
func (c *Controller) RenameChat(ctx context.Context, chatID, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.currentLocked()
	if p == nil {
		return ErrNoProject
	}
	chat := p.Chat(chatID)
	if chat == nil {
		return ErrChatNotFound
	}
	title = strings.TrimSpace(title)
	if title == "" || title == chat.Title {
		return nil
	}
	chat.Title = title
	return c.persistLocked(ctx)
}

// DeleteChat removes a chat of the current project. Deleting the active
// chat returns to the home state.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.currentLocked()
	if p == nil {
		return ErrNoProject
	}
	if !p.RemoveChat(chatID) {
		return ErrChatNotFound
	}
	if c.activeChatID == chatID {
		c.activeChatID = ""
	}
	c.logger.Printf("CHAT_DELETE | user=%s project=%s chat=%s", storage.Namespace(c.user), p.ID, chatID)
	return c.persistLocked(ctx)
}

// SearchChats returns copies of the chats whose title or turns contain query
// (case-insensitive). A blank query returns every chat.
func (c *Controller) SearchChats(query string) []model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.ChatSession
	for _, chat := range c.chatsLocked() {
		if chat.Matches(query) {
			out = append(out, *chat.Clone())
		}
	}
	return out
}

// ExportChat renders a chat in format.
func (c *Controller) ExportChat(id string, format export.Format) ([]byte, error) {
	c.mu.Lock()
	chat := c.chatLocked(id)
	if chat == nil {
		c.mu.Unlock()
		return nil, ErrChatNotFound
	}
	chat = chat.Clone()
	c.mu.Unlock()

	data, err := export.Chat(chat, format, nil)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", id, err)
	}
	return data, nil
}

// removeChatLocked drops a chat from the current project or the detached list.
func (c *Controller) removeChatLocked(id string) {
	if p := c.currentLocked(); p != nil {
		p.RemoveChat(id)
		return
	}
	for i := range c.detached {
		if c.detached[i].ID == id {
			c.detached = append(c.detached[:i], c.detached[i+1:]...)
			return
		}
	}
}

func (c *Controller) chatsLocked() []model.ChatSession {
	if p := c.currentLocked(); p != nil {
		return p.Chats
	}
	return c.detached
}

// =============================================================================
// FILES AND INSTRUCTIONS
// =============================================================================

// AttachFiles adds files to the pending list. Files over model.MaxFileSize
// are rejected one by one; the rest of the batch is still accepted.
func (c *Controller) AttachFiles(ctx context.Context, candidates []model.FileMeta) ([]model.FileMeta, []Rejection, error) {
	var accepted []model.FileMeta
	var rejected []Rejection
	for _, f := range candidates {
		if f.TooLarge() {
			rejected = append(rejected, Rejection{
				File:   f,
				Reason: fmt.Errorf("%w: %q is %s (limit %s)", ErrFileTooLarge, f.Name, model.FormatFileSize(f.Size), model.FormatFileSize(model.MaxFileSize)),
			})
			continue
		}
		accepted = append(accepted, f)
	}
	if len(accepted) == 0 {
		return nil, rejected, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.files = append(c.files, accepted...)
	c.flushLocked()
	c.logger.Printf("FILES_ATTACH | user=%s accepted=%d rejected=%d", storage.Namespace(c.user), len(accepted), len(rejected))
	if err := c.persistLocked(ctx); err != nil {
		return nil, rejected, err
	}
	return accepted, rejected, nil
}

// RemoveFile drops the pending file at index.
func (c *Controller) RemoveFile(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.files) {
		return ErrFileIndex
	}
	c.files = append(c.files[:index], c.files[index+1:]...)
	c.flushLocked()
	return c.persistLocked(ctx)
}

// SetInstructions replaces the working instructions.
func (c *Controller) SetInstructions(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.instructions = text
	c.flushLocked()
	return c.persistLocked(ctx)
}

// =============================================================================
// IDENTITY
// =============================================================================

// SwitchUser saves the current user's state and loads key's. An empty key
// selects the shared fallback namespace.
func (c *Controller) SwitchUser(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked()
	if err := c.persistLocked(ctx); err != nil {
		return err
	}
	prev := c.user
	c.user = strings.TrimSpace(key)
	c.logger.Printf("USER_SWITCH | from=%s to=%s", storage.Namespace(prev), storage.Namespace(c.user))
	return c.loadLocked(ctx)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// User returns the current identity.
func (c *Controller) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Projects returns a copy of the project list.
func (c *Controller) Projects() []model.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneProjects(c.projects)
}

// CurrentProject returns a copy of the current project, or nil.
func (c *Controller) CurrentProject() *model.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked().Clone()
}

// Chats returns copies of the current project's chats, or of the detached
// chats when no project is current.
func (c *Controller) Chats() []model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.chatsLocked()
	out := make([]model.ChatSession, len(src))
	for i := range src {
		out[i] = *src[i].Clone()
	}
	return out
}

// ActiveChat returns a copy of the active chat, or nil.
func (c *Controller) ActiveChat() *model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatLocked(c.activeChatID).Clone()
}

// Files returns a copy of the pending file list.
func (c *Controller) Files() []model.FileMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.FileMeta{}, c.files...)
}

// Instructions returns the working instructions.
func (c *Controller) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}
