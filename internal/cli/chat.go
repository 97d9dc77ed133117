// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for rigchat.
//
// Command: chat (default)
//
// Interactive commands:
//   /help                      Show commands
//   /new, /home                Leave the active chat; the next message starts one
//   /history                   Show the active chat
//   /chats                     List chats of the current project
//   /open REF                  Open a chat (number from /chats or id)
//   /rename TITLE              Rename the active chat
//   /delete [REF]              Delete a chat (default: active)
//   /search QUERY              Find chats by title or content
//   /export [--format F] [PATH] Export the active chat (markdown, json, html)
//   /regen                     Ask again for the last reply
//   /projects                  List projects
//   /project [create|select|rename|delete] ...
//   /attach PATH...            Attach files (10 MB limit each)
//   /files                     List pending files
//   /rmfile N                  Remove a pending file
//   /instructions [TEXT]       Show or set instructions
//   /user [ID]                 Show or switch identity
//   /quit                      Exit
//   Ctrl+C                     Cancel the pending reply
//   Ctrl+D                     Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/util"
)

// ErrQuit is returned by Execute when the user asked to leave.
var ErrQuit = errors.New("quit")

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor whose history lives in the config dir.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.line.SetCompleter(completeCommand)
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput prompts for one line and records it in history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (c *ChatCLI) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// completeCommand completes slash command names.
func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, cmd := range slashCommands {
		for _, name := range cmd.names {
			if strings.HasPrefix(name, line) {
				out = append(out, name)
			}
		}
	}
	return out
}

// =============================================================================
// REPL
// =============================================================================

// REPL executes chat input against a session controller.
type REPL struct {
	ctrl    *session.Controller
	out     io.Writer
	render  *Renderer
	quiet   bool
	animate bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewREPL creates a REPL writing to out.
func NewREPL(ctrl *session.Controller, out io.Writer, render *Renderer) *REPL {
	if render == nil {
		render = NewRenderer(false, DefaultTerminalWidth)
	}
	return &REPL{ctrl: ctrl, out: out, render: render}
}

// WithQuiet suppresses banners and progress lines.
func (r *REPL) WithQuiet(quiet bool) *REPL {
	r.quiet = quiet
	return r
}

// WithAnimation enables the spinner while a reply is pending. out must be a
// terminal.
func (r *REPL) WithAnimation(animate bool) *REPL {
	r.animate = animate
	return r
}

// Cancel aborts the pending reply, reporting whether one was pending.
func (r *REPL) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// Execute runs one input line: a slash command or a chat message.
func (r *REPL) Execute(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if !strings.HasPrefix(input, "/") {
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return ErrQuit
		}
		return r.send(ctx, input)
	}

	name, rest, _ := strings.Cut(input, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)
	for _, cmd := range slashCommands {
		for _, n := range cmd.names {
			if n == name {
				return cmd.run(r, ctx, rest)
			}
		}
	}
	return NewUsageError("", "unknown command %s (try /help)", name)
}

// Banner prints the welcome header.
func (r *REPL) Banner() {
	if r.quiet {
		return
	}
	fmt.Fprintln(r.out, welcomeStyle.Render("rigchat"))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("User"), displayUser(r.ctrl.User()))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Project"), projectLabel(r.ctrl.CurrentProject()))
	fmt.Fprintln(r.out, DimStyle.Render("Type a message, /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(r.out, RenderSeparator(min(r.render.Width(), 60)))
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

func (r *REPL) beginSend(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}
}

func (r *REPL) send(ctx context.Context, text string) error {
	ctx, done := r.beginSend(ctx)
	defer done()

	stop := r.typing()
	res, err := r.ctrl.SendMessage(ctx, text)
	stop()
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	r.showResult(res)
	return nil
}

func (r *REPL) typing() func() {
	if r.quiet {
		return func() {}
	}
	return startTyping(r.out, r.animate)
}

func (r *REPL) showResult(res *session.SendResult) {
	if res.Created && !r.quiet {
		if chat := r.ctrl.ActiveChat(); chat != nil {
			fmt.Fprintf(r.out, "%s %s\n", DimStyle.Render("New chat:"), chat.Title)
		}
	}
	if errors.Is(res.Err, context.Canceled) {
		fmt.Fprintln(r.out, WarningStyle.Render("[Cancelled]"))
		return
	}
	fmt.Fprintln(r.out, r.render.Turn(res.Reply))
	fmt.Fprintln(r.out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

type slashCommand struct {
	names []string
	usage string
	help  string
	run   func(r *REPL, ctx context.Context, arg string) error
}

var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{[]string{"/help", "/h", "/?"}, "/help", "Show commands", (*REPL).cmdHelp},
		{[]string{"/new", "/home"}, "/new", "Leave the active chat", (*REPL).cmdNew},
		{[]string{"/history"}, "/history", "Show the active chat", (*REPL).cmdHistory},
		{[]string{"/chats"}, "/chats", "List chats", (*REPL).cmdChats},
		{[]string{"/open"}, "/open REF", "Open a chat", (*REPL).cmdOpen},
		{[]string{"/rename"}, "/rename TITLE", "Rename the active chat", (*REPL).cmdRename},
		{[]string{"/delete"}, "/delete [REF]", "Delete a chat", (*REPL).cmdDelete},
		{[]string{"/search"}, "/search QUERY", "Find chats", (*REPL).cmdSearch},
		{[]string{"/export"}, "/export [--format F] [PATH]", "Export the active chat", (*REPL).cmdExport},
		{[]string{"/regen", "/regenerate"}, "/regen", "Ask again for the last reply", (*REPL).cmdRegen},
		{[]string{"/projects"}, "/projects", "List projects", (*REPL).cmdProjects},
		{[]string{"/project"}, "/project [create|select|rename|delete] ...", "Manage projects", (*REPL).cmdProject},
		{[]string{"/attach"}, "/attach PATH...", "Attach files", (*REPL).cmdAttach},
		{[]string{"/files"}, "/files", "List pending files", (*REPL).cmdFiles},
		{[]string{"/rmfile"}, "/rmfile N", "Remove a pending file", (*REPL).cmdRemoveFile},
		{[]string{"/instructions"}, "/instructions [TEXT|--clear]", "Show or set instructions", (*REPL).cmdInstructions},
		{[]string{"/user"}, "/user [ID]", "Show or switch identity", (*REPL).cmdUser},
		{[]string{"/quit", "/q", "/exit"}, "/quit", "Exit", (*REPL).cmdQuit},
	}
}

func (r *REPL) cmdHelp(_ context.Context, _ string) error {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, cmd := range slashCommands {
		fmt.Fprintf(r.out, "  %s %s\n", HighlightStyle.Render(util.PadWidth(cmd.usage, 44)), cmd.help)
	}
	return nil
}

func (r *REPL) cmdQuit(_ context.Context, _ string) error {
	return ErrQuit
}

func (r *REPL) cmdNew(_ context.Context, _ string) error {
	r.ctrl.GoHome()
	if !r.quiet {
		fmt.Fprintln(r.out, DimStyle.Render("Your next message starts a new chat."))
	}
	return nil
}

func (r *REPL) cmdHistory(_ context.Context, _ string) error {
	chat := r.ctrl.ActiveChat()
	if chat == nil {
		return session.ErrNoActiveChat
	}
	fmt.Fprintln(r.out, TitleStyle.Render(chat.Title))
	for _, t := range chat.Messages {
		fmt.Fprintln(r.out, r.render.Turn(t))
		fmt.Fprintln(r.out)
	}
	return nil
}

func (r *REPL) cmdChats(_ context.Context, _ string) error {
	r.printChats(r.ctrl.Chats())
	return nil
}

func (r *REPL) printChats(chats []model.ChatSession) {
	if len(chats) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No chats."))
		return
	}
	active := r.ctrl.ActiveChat()
	rows := make([][]string, 0, len(chats))
	for i, c := range chats {
		mark := " "
		if active != nil && active.ID == c.ID {
			mark = "*"
		}
		rows = append(rows, []string{
			mark + strconv.Itoa(i+1),
			c.Title,
			strconv.Itoa(len(c.Messages)),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Fprint(r.out, Table([]string{" #", "TITLE", "TURNS", "UPDATED"}, rows, 48))
}

// resolveChat maps a 1-based list number or chat id to an id.
func (r *REPL) resolveChat(ref string) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	chats := r.ctrl.Chats()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("%w: #%d", session.ErrChatNotFound, n)
		}
		return chats[n-1].ID, nil
	}
	for _, c := range chats {
		if c.ID == ref {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", session.ErrChatNotFound, ref)
}

func (r *REPL) cmdOpen(ctx context.Context, arg string) error {
	if arg == "" {
		return NewUsageError("/open", "missing chat reference")
	}
	id, err := r.resolveChat(arg)
	if err != nil {
		return err
	}
	if err := r.ctrl.OpenChat(id); err != nil {
		return err
	}
	return r.cmdHistory(ctx, "")
}

func (r *REPL) cmdRename(ctx context.Context, arg string) error {
	chat := r.ctrl.ActiveChat()
	if chat == nil {
		return session.ErrNoActiveChat
	}
	if arg == "" {
		return NewUsageError("/rename", "missing title")
	}
	if err := r.ctrl.RenameChat(ctx, chat.ID, arg); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Renamed to %s\n", RenderStatus("ok"), arg)
	return nil
}

func (r *REPL) cmdDelete(ctx context.Context, arg string) error {
	var id string
	if arg == "" {
		chat := r.ctrl.ActiveChat()
		if chat == nil {
			return session.ErrNoActiveChat
		}
		id = chat.ID
	} else {
		var err error
		if id, err = r.resolveChat(arg); err != nil {
			return err
		}
	}
	if err := r.ctrl.DeleteChat(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Chat deleted\n", RenderStatus("ok"))
	return nil
}

func (r *REPL) cmdSearch(_ context.Context, arg string) error {
	if arg == "" {
		return NewUsageError("/search", "missing query")
	}
	r.printChats(r.ctrl.SearchChats(arg))
	return nil
}

func (r *REPL) cmdExport(_ context.Context, arg string) error {
	chat := r.ctrl.ActiveChat()
	if chat == nil {
		return session.ErrNoActiveChat
	}

	p := NewArgParser(strings.Fields(arg))
	path := p.PositionalFrom(0)
	format := export.FormatFromPath(path)
	if name := p.FlagOrDefault("format", p.Flag("f")); name != "" {
		f, err := export.ParseFormat(name)
		if err != nil {
			return NewUsageError("/export", "%v", err)
		}
		format = f
	}

	data, err := r.ctrl.ExportChat(chat.ID, format)
	if err != nil {
		return err
	}
	if path == "" {
		r.out.Write(data)
		return nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		e, _ := export.New(format, nil)
		path = filepath.Join(path, export.Filename(chat, e))
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return NewCommandError("export", "write", err)
	}
	fmt.Fprintf(r.out, "%s Exported to %s\n", RenderStatus("ok"), path)
	return nil
}

func (r *REPL) cmdRegen(ctx context.Context, _ string) error {
	ctx, done := r.beginSend(ctx)
	defer done()

	stop := r.typing()
	res, err := r.ctrl.Regenerate(ctx)
	stop()
	if err != nil {
		return err
	}
	r.showResult(res)
	return nil
}

// =============================================================================
// PROJECT COMMANDS
// =============================================================================

func (r *REPL) cmdProjects(_ context.Context, _ string) error {
	writeProjects(r.out, r.ctrl.Projects(), r.ctrl.CurrentProject())
	return nil
}

func (r *REPL) cmdProject(ctx context.Context, arg string) error {
	if arg == "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Project"), projectLabel(r.ctrl.CurrentProject()))
		return nil
	}
	p := NewArgParser(strings.Fields(arg))
	return runProjectAction(ctx, r.ctrl, r.out, p, false)
}

// =============================================================================
// FILE AND INSTRUCTION COMMANDS
// =============================================================================

func (r *REPL) cmdAttach(ctx context.Context, arg string) error {
	paths := strings.Fields(arg)
	if len(paths) == 0 {
		return NewUsageError("/attach", "missing file path")
	}
	candidates := make([]model.FileMeta, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(r.out, "%s %v\n", RenderStatus("fail"), err)
			continue
		}
		if info.IsDir() {
			fmt.Fprintf(r.out, "%s %s is a directory\n", RenderStatus("fail"), path)
			continue
		}
		candidates = append(candidates, model.NewFileMeta(filepath.Base(path), info.Size(), info.ModTime()))
	}

	accepted, rejected, err := r.ctrl.AttachFiles(ctx, candidates)
	for _, rej := range rejected {
		fmt.Fprintf(r.out, "%s %v\n", RenderStatus("fail"), rej.Reason)
	}
	if err != nil {
		return err
	}
	for _, f := range accepted {
		fmt.Fprintf(r.out, "%s %s (%s)\n", RenderStatus("ok"), f.Name, model.FormatFileSize(f.Size))
	}
	return nil
}

func (r *REPL) cmdFiles(_ context.Context, _ string) error {
	files := r.ctrl.Files()
	if len(files) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No files attached."))
		return nil
	}
	rows := make([][]string, 0, len(files))
	for i, f := range files {
		rows = append(rows, []string{strconv.Itoa(i + 1), f.Name, string(f.Kind), model.FormatFileSize(f.Size)})
	}
	fmt.Fprint(r.out, Table([]string{"#", "NAME", "KIND", "SIZE"}, rows, 48))
	return nil
}

func (r *REPL) cmdRemoveFile(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil {
		return NewUsageError("/rmfile", "expected a file number, got %q", arg)
	}
	if err := r.ctrl.RemoveFile(ctx, n-1); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s File removed\n", RenderStatus("ok"))
	return nil
}

func (r *REPL) cmdInstructions(ctx context.Context, arg string) error {
	switch arg {
	case "":
		text := r.ctrl.Instructions()
		if text == "" {
			fmt.Fprintln(r.out, DimStyle.Render("No instructions."))
			return nil
		}
		fmt.Fprintln(r.out, text)
		return nil
	case "--clear":
		arg = ""
	}
	if err := r.ctrl.SetInstructions(ctx, arg); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Instructions saved\n", RenderStatus("ok"))
	return nil
}

func (r *REPL) cmdUser(ctx context.Context, arg string) error {
	if arg == "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("User"), displayUser(r.ctrl.User()))
		return nil
	}
	if arg == "-" {
		arg = ""
	}
	if err := r.ctrl.SwitchUser(ctx, arg); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Signed in as %s\n", RenderStatus("ok"), displayUser(r.ctrl.User()))
	return nil
}

func displayUser(u string) string {
	if u == "" {
		return "(guest)"
	}
	return u
}

func projectLabel(p *model.Project) string {
	if p == nil {
		return "(none)"
	}
	return p.Label()
}

// =============================================================================
// COMMAND ENTRY
// =============================================================================

// HandleChatCommand runs the interactive chat loop.
func HandleChatCommand(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	logger := newLogger(args)
	if err := checkReplier(ctx, newReplier(cfg, logger)); err != nil {
		return err
	}
	ctrl, store, err := openController(ctx, cfg, args, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	repl := NewREPL(ctrl, os.Stdout, NewRenderer(cfg.UI.Markdown && IsStdoutTTY(), cfg.UI.WordWrap)).
		WithQuiet(args.Quiet).
		WithAnimation(IsStdoutTTY() && ColorsEnabled())

	if !IsTTY() {
		return repl.RunLines(ctx, os.Stdin)
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C while a reply is pending cancels it; at the prompt liner
	// reports ErrPromptAborted instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if repl.Cancel() {
				fmt.Fprintln(os.Stderr)
			}
		}
	}()

	repl.Banner()
	for {
		line, err := input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or closed input.
			fmt.Println()
			return nil
		}
		if err := repl.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			DisplayError(os.Stderr, err, false)
		}
	}
}

// RunLines executes newline-separated input, for piped use.
func (r *REPL) RunLines(ctx context.Context, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if err := r.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			DisplayError(r.out, err, false)
		}
	}
	return nil
}
