// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/reply"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/util"
)

func TestMain(m *testing.M) {
	ForceColorsEnabled(false)
	os.Exit(m.Run())
}

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGCHAT_HOME", dir)
	for _, name := range []string{
		"PORT", "RIGCHAT_PORT", "RIGCHAT_HOST", "RIGCHAT_REPLY_MODE", "RIGCHAT_ENDPOINT",
		"RIGCHAT_STORAGE", "RIGCHAT_DATA_DIR", "RIGCHAT_SQLITE_PATH", "RIGCHAT_USER",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("RIGCHAT_MIN_DELAY_MS", "0")
	t.Setenv("RIGCHAT_MAX_DELAY_MS", "0")
	config.ResetGlobalForTesting()
	t.Cleanup(func() {
		config.ResetGlobalForTesting()
		ForceColorsEnabled(false)
	})
	return dir
}

type replierFunc func(ctx context.Context, msg string) (string, error)

func (f replierFunc) Reply(ctx context.Context, msg string) (string, error) {
	return f(ctx, msg)
}

func newTestREPL(t *testing.T, r reply.Replier) (*REPL, *session.Controller, *bytes.Buffer) {
	t.Helper()
	if r == nil {
		r = reply.NewLocal(reply.NewGenerator().WithSeed(1))
	}
	ctrl := session.NewController(storage.NewMemoryStore(), r)
	require.NoError(t, ctrl.Load(context.Background()))
	out := &bytes.Buffer{}
	return NewREPL(ctrl, out, NewRenderer(false, 80)).WithQuiet(true), ctrl, out
}

// =============================================================================
// PARSING
// =============================================================================

func TestParse(t *testing.T) {
	testCases := []struct {
		name  string
		argv  []string
		want  Command
		check func(t *testing.T, a Args)
	}{
		{"no args is chat", nil, CmdChat, nil},
		{"serve with addr", []string{"serve", "--addr", ":0"}, CmdServe, func(t *testing.T, a Args) {
			require.Equal(t, ":0", a.Addr)
		}},
		{"global flag before command", []string{"-u", "alice@example.com", "project", "list"}, CmdProject, func(t *testing.T, a Args) {
			require.Equal(t, "alice@example.com", a.User)
			require.Equal(t, "list", a.Subcommand)
			require.Equal(t, []string{"list"}, a.Raw)
		}},
		{"equals form after command", []string{"chat", "--user=bob", "--ephemeral", "--local"}, CmdChat, func(t *testing.T, a Args) {
			require.Equal(t, "bob", a.User)
			require.True(t, a.Ephemeral)
			require.True(t, a.Local)
			require.Empty(t, a.Raw)
		}},
		{"endpoint", []string{"--endpoint", "http://h:1", "chat"}, CmdChat, func(t *testing.T, a Args) {
			require.Equal(t, "http://h:1", a.Endpoint)
		}},
		{"project flags stay in raw", []string{"project", "create", "Work", "--emoji", "💼"}, CmdProject, func(t *testing.T, a Args) {
			require.Equal(t, []string{"create", "Work", "--emoji", "💼"}, a.Raw)
		}},
		{"version json", []string{"version", "--json"}, CmdVersion, func(t *testing.T, a Args) {
			require.True(t, a.JSON)
		}},
		{"help flag", []string{"--help"}, CmdHelp, nil},
		{"unknown command", []string{"frobnicate"}, CmdHelp, func(t *testing.T, a Args) {
			require.Equal(t, "frobnicate", a.Unknown)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, args := Parse(tc.argv)
			require.Equal(t, tc.want, cmd)
			if tc.check != nil {
				tc.check(t, args)
			}
		})
	}
}

func TestCommand_String(t *testing.T) {
	require.Equal(t, "serve", CmdServe.String())
	require.Equal(t, "unknown", Command(99).String())
}

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"create", "My", "Project", "--emoji", "🔬", "--force", "--", "--literal"}, "force")
	require.Equal(t, "create", p.Positional(0))
	require.Equal(t, "🔬", p.Flag("emoji"))
	require.True(t, p.BoolFlag("force"))
	require.Equal(t, "My Project --literal", p.PositionalFrom(1))
	require.Equal(t, 4, p.PositionalCount())
	require.Equal(t, "", p.Positional(9))
	require.Equal(t, "x", p.FlagOrDefault("missing", "x"))

	p = NewArgParser([]string{"--json=true", "--name=a=b", "--last"})
	require.True(t, p.BoolFlag("json"))
	require.Equal(t, "a=b", p.Flag("name"))
	require.True(t, p.BoolFlag("last"))
}

func TestUsageAndVersion(t *testing.T) {
	var b bytes.Buffer
	PrintUsage(&b)
	require.Contains(t, b.String(), "rigchat [global flags]")
	b.Reset()
	PrintVersion(&b)
	require.Contains(t, b.String(), "rigchat version")
}

// =============================================================================
// ERRORS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitGeneralError},
		{NewUsageError("x", "bad"), ExitUsageError},
		{NewCommandError("project", "create", session.ErrEmptyName), ExitUsageError},
		{fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "server.port", Message: "bad"}}), ExitConfigError},
		{fmt.Errorf("%w: dial", reply.ErrUnreachable), ExitNetworkError},
		{fmt.Errorf("%w: #3", session.ErrProjectNotFound), ExitNotFoundError},
		{session.ErrChatNotFound, ExitNotFoundError},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, GetExitCode(tc.err), "%v", tc.err)
	}
}

func TestDisplayError_JSON(t *testing.T) {
	var b bytes.Buffer
	DisplayError(&b, NewUsageError("config", "nope"), true)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b.Bytes(), &got))
	require.Equal(t, false, got["success"])
	require.Equal(t, "config: nope", got["error"])
	require.EqualValues(t, ExitUsageError, got["exit_code"])
}

// =============================================================================
// RENDERING
// =============================================================================

func TestTable_AlignsWideRunes(t *testing.T) {
	out := Table([]string{"NAME", "N"}, [][]string{{"日本", "1"}, {"abc", "22"}}, 0)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Equal(t, []string{"NAME  N", "日本  1", "abc   22"}, lines)
	require.Equal(t, util.StringWidth("NAME  "), util.StringWidth("日本  "))
}

func TestTable_TruncatesCells(t *testing.T) {
	out := Table([]string{"T"}, [][]string{{strings.Repeat("x", 30)}}, 10)
	require.Contains(t, out, "xxxxxxx...")
	require.NotContains(t, out, strings.Repeat("x", 11))
}

func TestRenderer_PlainWrap(t *testing.T) {
	r := NewRenderer(false, 20)
	out := r.Markdown("one two three four five six seven eight")
	for _, line := range strings.Split(out, "\n") {
		require.LessOrEqual(t, len(line), 20)
	}

	turn := model.NewTurn(model.RoleUser, "hello", time.Now())
	require.Contains(t, r.Turn(turn), "You")
	require.Contains(t, r.Turn(turn), "hello")
}

func TestRenderer_Markdown(t *testing.T) {
	r := NewRenderer(true, 60)
	out := r.Markdown("# Title\n\nsome **bold** text")
	require.Contains(t, out, "Title")
	require.Contains(t, out, "bold")
}

func TestSetColorMode(t *testing.T) {
	t.Cleanup(func() { ForceColorsEnabled(false) })

	SetColorMode("never")
	require.False(t, ColorsEnabled())

	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
	SetColorMode("always")
	require.True(t, ColorsEnabled())

	t.Setenv("NO_COLOR", "1")
	require.False(t, ColorsEnabled(), "NO_COLOR wins")
}

// =============================================================================
// REPL
// =============================================================================

func TestREPL_SendCreatesChat(t *testing.T) {
	r, ctrl, out := newTestREPL(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, "hello there"))
	chat := ctrl.ActiveChat()
	require.NotNil(t, chat)
	require.Equal(t, "hello there", chat.Title)
	require.Len(t, chat.Messages, 2)
	require.Equal(t, model.RoleAssistant, chat.Messages[1].Role)
	require.Contains(t, out.String(), "Assistant")

	require.NoError(t, r.Execute(ctx, "   "), "blank input is ignored")
	require.Len(t, ctrl.ActiveChat().Messages, 2)
}

func TestREPL_NewStartsAnotherChat(t *testing.T) {
	r, ctrl, _ := newTestREPL(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, "first"))
	require.NoError(t, r.Execute(ctx, "/new"))
	require.Nil(t, ctrl.ActiveChat())
	require.NoError(t, r.Execute(ctx, "second"))
	require.Len(t, ctrl.Chats(), 2)
	require.Equal(t, "second", ctrl.Chats()[0].Title)
}

func TestREPL_FailedReplyShowsErrorTurn(t *testing.T) {
	r, ctrl, out := newTestREPL(t, replierFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: refused", reply.ErrUnreachable)
	}))

	require.NoError(t, r.Execute(context.Background(), "anyone?"))
	require.Contains(t, out.String(), "Error")
	require.Len(t, ctrl.ActiveChat().Messages, 1, "error turn is not stored")
}

func TestREPL_CancelPendingReply(t *testing.T) {
	started := make(chan struct{})
	r, _, out := newTestREPL(t, replierFunc(func(ctx context.Context, _ string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}))
	require.False(t, r.Cancel())

	done := make(chan error, 1)
	go func() { done <- r.Execute(context.Background(), "slow") }()

	<-started
	require.Eventually(t, r.Cancel, time.Second, 5*time.Millisecond)
	require.NoError(t, <-done)
	require.Contains(t, out.String(), "[Cancelled]")
}

func TestREPL_Projects(t *testing.T) {
	r, ctrl, out := newTestREPL(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, "/project create Research --emoji 🔬"))
	require.NotNil(t, ctrl.CurrentProject())
	require.Equal(t, "Research", ctrl.CurrentProject().Name)
	require.Equal(t, "🔬", ctrl.CurrentProject().Emoji)

	require.NoError(t, r.Execute(ctx, "/project create Work"))
	out.Reset()
	require.NoError(t, r.Execute(ctx, "/projects"))
	require.Contains(t, out.String(), "🔬 Research")
	require.Contains(t, out.String(), "*1")

	require.NoError(t, r.Execute(ctx, "/project select research"))
	require.Equal(t, "Research", ctrl.CurrentProject().Name)

	err := r.Execute(ctx, "/project create   ")
	require.ErrorIs(t, err, session.ErrEmptyName)
	require.Len(t, ctrl.Projects(), 2)
}

func TestREPL_ChatManagement(t *testing.T) {
	r, ctrl, out := newTestREPL(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, "/project create Docs"))
	require.NoError(t, r.Execute(ctx, "alpha question"))
	require.NoError(t, r.Execute(ctx, "/new"))
	require.NoError(t, r.Execute(ctx, "beta question"))

	require.NoError(t, r.Execute(ctx, "/open 2"))
	require.Equal(t, "alpha question", ctrl.ActiveChat().Title)

	require.NoError(t, r.Execute(ctx, "/rename Alpha"))
	require.Equal(t, "Alpha", ctrl.ActiveChat().Title)

	out.Reset()
	require.NoError(t, r.Execute(ctx, "/search beta"))
	require.Contains(t, out.String(), "beta question")
	require.NotContains(t, out.String(), "Alpha")

	require.ErrorIs(t, r.Execute(ctx, "/open 9"), session.ErrChatNotFound)

	require.NoError(t, r.Execute(ctx, "/delete"))
	require.Nil(t, ctrl.ActiveChat())
	require.Len(t, ctrl.Chats(), 1)
	require.ErrorIs(t, r.Execute(ctx, "/history"), session.ErrNoActiveChat)
}

func TestREPL_RegenerateAndExport(t *testing.T) {
	n := 0
	r, ctrl, out := newTestREPL(t, replierFunc(func(_ context.Context, msg string) (string, error) {
		n++
		return fmt.Sprintf("answer %d to %s", n, msg), nil
	}))
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, "why"))
	require.NoError(t, r.Execute(ctx, "/regen"))
	msgs := ctrl.ActiveChat().Messages
	require.Len(t, msgs, 2)
	require.Equal(t, "answer 2 to why", msgs[1].Content)

	path := filepath.Join(t.TempDir(), "chat.md")
	require.NoError(t, r.Execute(ctx, "/export "+path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# why")
	require.Contains(t, string(data), "answer 2 to why")

	out.Reset()
	require.NoError(t, r.Execute(ctx, "/export"))
	require.Contains(t, out.String(), "**Assistant**")

	out.Reset()
	require.NoError(t, r.Execute(ctx, "/export --format json"))
	require.Contains(t, out.String(), `"generator": "rigchat"`)

	dir := t.TempDir()
	require.NoError(t, r.Execute(ctx, "/export -f html "+dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), ".html"))

	var usage *UsageError
	require.ErrorAs(t, r.Execute(ctx, "/export --format pdf"), &usage)
}

func TestREPL_AttachFiles(t *testing.T) {
	r, ctrl, out := newTestREPL(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	small := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(small, []byte("# notes"), 0600))
	big := filepath.Join(dir, "video.bin")
	f, err := os.Create(big)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(model.MaxFileSize+1))
	require.NoError(t, f.Close())

	require.NoError(t, r.Execute(ctx, "/attach "+small+" "+big+" "+filepath.Join(dir, "missing.txt")))
	require.Len(t, ctrl.Files(), 1)
	require.Equal(t, "notes.md", ctrl.Files()[0].Name)
	require.Equal(t, model.KindText, ctrl.Files()[0].Kind)
	require.Contains(t, out.String(), "[OK] notes.md")
	require.Equal(t, 2, strings.Count(out.String(), "[FAIL]"))

	out.Reset()
	require.NoError(t, r.Execute(ctx, "/files"))
	require.Contains(t, out.String(), "notes.md")

	var usage *UsageError
	require.ErrorAs(t, r.Execute(ctx, "/rmfile x"), &usage)
	require.ErrorIs(t, r.Execute(ctx, "/rmfile 5"), session.ErrFileIndex)
	require.NoError(t, r.Execute(ctx, "/rmfile 1"))
	require.Empty(t, ctrl.Files())
}

func TestREPL_InstructionsAndUser(t *testing.T) {
	r, ctrl, out := newTestREPL(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, "/instructions Answer in French."))
	require.Equal(t, "Answer in French.", ctrl.Instructions())
	out.Reset()
	require.NoError(t, r.Execute(ctx, "/instructions"))
	require.Contains(t, out.String(), "Answer in French.")
	require.NoError(t, r.Execute(ctx, "/instructions --clear"))
	require.Empty(t, ctrl.Instructions())

	require.NoError(t, r.Execute(ctx, "/project create Mine"))
	require.NoError(t, r.Execute(ctx, "/user bob@example.com"))
	require.Equal(t, "bob@example.com", ctrl.User())
	require.Empty(t, ctrl.Projects(), "identities are disjoint")

	require.NoError(t, r.Execute(ctx, "/user -"))
	require.Equal(t, "", ctrl.User())
	require.Len(t, ctrl.Projects(), 1)
}

func TestREPL_QuitAndUnknown(t *testing.T) {
	r, _, out := newTestREPL(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, r.Execute(ctx, "/quit"), ErrQuit)
	require.ErrorIs(t, r.Execute(ctx, "exit"), ErrQuit)

	var usage *UsageError
	require.ErrorAs(t, r.Execute(ctx, "/dance"), &usage)

	require.NoError(t, r.Execute(ctx, "/help"))
	require.Contains(t, out.String(), "/attach PATH...")
}

func TestREPL_RunLines(t *testing.T) {
	r, ctrl, out := newTestREPL(t, nil)
	input := strings.NewReader("hello\n/bogus\nsecond line\n/quit\nnever sent\n")

	require.NoError(t, r.RunLines(context.Background(), input))
	require.Len(t, ctrl.ActiveChat().Messages, 4)
	require.Contains(t, out.String(), "[ERROR]")
}

func TestCompleteCommand(t *testing.T) {
	require.ElementsMatch(t, []string{"/regen", "/regenerate", "/rename", "/rmfile"}, completeCommand("/r"))
	require.Nil(t, completeCommand("hello"))
	require.Nil(t, completeCommand("/open 1"))
}

// =============================================================================
// PROJECT COMMAND
// =============================================================================

func TestRunProjectAction(t *testing.T) {
	_, ctrl, _ := newTestREPL(t, nil)
	ctx := context.Background()
	var out bytes.Buffer
	run := func(jsonMode bool, argv ...string) error {
		out.Reset()
		return runProjectAction(ctx, ctrl, &out, NewArgParser(argv), jsonMode)
	}

	require.NoError(t, run(false))
	require.Contains(t, out.String(), "No projects")

	require.NoError(t, run(false, "create", "Side", "Quest", "--emoji", "🗺"))
	require.NoError(t, run(false, "create", "Main"))

	require.NoError(t, run(true, "list"))
	var resp struct {
		Success bool             `json:"success"`
		Data    []ProjectSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 2)
	require.Equal(t, "Main", resp.Data[0].Name)
	require.True(t, resp.Data[0].Current)
	require.Equal(t, "Side Quest", resp.Data[1].Name)

	require.NoError(t, run(false, "select", "2"))
	require.Equal(t, "Side Quest", ctrl.CurrentProject().Name)

	require.NoError(t, run(false, "rename", "1", "Primary", "work"))
	require.Equal(t, "Primary work", ctrl.Projects()[0].Name)

	require.ErrorIs(t, run(false, "delete", "nope"), session.ErrProjectNotFound)
	require.NoError(t, run(false, "delete", "Side Quest"))
	require.Len(t, ctrl.Projects(), 1)
	require.Equal(t, "Primary work", ctrl.CurrentProject().Name, "falls back to the first remaining project")

	var usage *UsageError
	require.ErrorAs(t, run(false, "explode"), &usage)
	require.ErrorAs(t, run(false, "rename", "1"), &usage)
}

func TestResolveProject_AmbiguousName(t *testing.T) {
	at := time.Now()
	projects := []model.Project{*model.NewProject("Twin", "", at), *model.NewProject("twin", "", at)}

	var usage *UsageError
	_, err := resolveProject(projects, "TWIN")
	require.ErrorAs(t, err, &usage)

	id, err := resolveProject(projects, projects[1].ID)
	require.NoError(t, err)
	require.Equal(t, projects[1].ID, id)
}

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func TestConfigCommand(t *testing.T) {
	dir := isolate(t)
	var out bytes.Buffer
	run := func(raw ...string) error {
		out.Reset()
		args := Args{Raw: raw}
		if len(raw) > 0 {
			args.Subcommand = raw[0]
		}
		return HandleConfigCommand(args, &out)
	}

	require.NoError(t, run("path"))
	require.Equal(t, filepath.Join(dir, "config.toml"), strings.TrimSpace(out.String()))

	require.NoError(t, run("init"))
	var usage *UsageError
	require.ErrorAs(t, run("init"), &usage, "refuses to overwrite")

	require.NoError(t, run("set", "reply.mode", "http"))
	require.NoError(t, run("set", "server.cors_origins", "https://a.example, https://b.example"))
	require.ErrorAs(t, run("set", "nope.key", "1"), &usage)
	require.ErrorAs(t, run("set", "server.port", "abc"), &usage)

	var verrs config.ValidateErrors
	require.ErrorAs(t, run("set", "server.port", "70000"), &verrs)

	cfg, err := config.LoadFromPath(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	require.Equal(t, "http", cfg.Reply.Mode)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, config.DefaultPort, cfg.Server.Port)

	require.NoError(t, run("validate"))
	require.NoError(t, run("show"))
	require.Contains(t, out.String(), `mode = "http"`)

	require.ErrorAs(t, run("frob"), &usage)
}

func TestConfigCommand_ShowJSON(t *testing.T) {
	isolate(t)
	var out bytes.Buffer
	require.NoError(t, HandleConfigCommand(Args{JSON: true, Ephemeral: true}, &out))

	var resp struct {
		Data config.Config `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Equal(t, storage.BackendMemory, resp.Data.Storage.Backend)
}

// =============================================================================
// WIRING
// =============================================================================

func TestLoadConfig_Overrides(t *testing.T) {
	isolate(t)

	cfg, err := loadConfig(Args{Endpoint: "http://127.0.0.1:9", Backend: "SQLITE", NoColor: true})
	require.NoError(t, err)
	require.Equal(t, "http", cfg.Reply.Mode)
	require.Equal(t, "sqlite", cfg.Storage.Backend)
	require.Equal(t, ColorNever, cfg.UI.Color)
	require.Same(t, cfg, config.Global())

	cfg, err = loadConfig(Args{Local: true, Ephemeral: true})
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Reply.Mode)
	require.Equal(t, storage.BackendMemory, cfg.Storage.Backend)

	_, err = loadConfig(Args{Backend: "redis"})
	require.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestStoreOptions_DefaultsUnderConfigDir(t *testing.T) {
	dir := isolate(t)
	opts, err := storeOptions(config.Default())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "data"), opts.Dir)
	require.Equal(t, filepath.Join(dir, "rigchat.db"), opts.SQLitePath)
}

func TestNewReplier(t *testing.T) {
	cfg := config.Default()
	cfg.Reply.MinDelayMs, cfg.Reply.MaxDelayMs = 0, 0
	local, ok := newReplier(cfg, log.New(io.Discard, "", 0)).(*reply.Local)
	require.True(t, ok)
	require.Nil(t, local.Delay)

	cfg.Reply.Mode = "http"
	cfg.Reply.Endpoint = "http://example.invalid/"
	client, ok := newReplier(cfg, log.New(io.Discard, "", 0)).(*reply.Client)
	require.True(t, ok)
	require.Equal(t, "http://example.invalid", client.BaseURL())
}

func TestDelayRange(t *testing.T) {
	require.Nil(t, delayRange(0, 0))
	require.Equal(t, 7*time.Millisecond, delayRange(7*time.Millisecond, 3*time.Millisecond)())

	pick := delayRange(10*time.Millisecond, 20*time.Millisecond)
	for i := 0; i < 100; i++ {
		d := pick()
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestOpenController_PersistsPerUser(t *testing.T) {
	isolate(t)
	ctx := context.Background()
	cfg, err := loadConfig(Args{})
	require.NoError(t, err)
	logger := log.New(io.Discard, "", 0)

	ctrl, store, err := openController(ctx, cfg, Args{User: "carol"}, logger)
	require.NoError(t, err)
	_, err = ctrl.CreateProject(ctx, "Saved", "")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	ctrl, store, err = openController(ctx, cfg, Args{User: "carol"}, logger)
	require.NoError(t, err)
	defer store.Close()
	require.Len(t, ctrl.Projects(), 1)
	require.Equal(t, "Saved", ctrl.CurrentProject().Name)

	other, otherStore, err := openController(ctx, cfg, Args{User: "dave"}, logger)
	require.NoError(t, err)
	defer otherStore.Close()
	require.Empty(t, other.Projects())
}

func TestCheckReplier(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, checkReplier(ctx, reply.NewLocal(nil)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	err = checkReplier(ctx, reply.NewClient(closed))
	require.ErrorIs(t, err, reply.ErrUnreachable)
	require.Contains(t, err.Error(), closed)
	require.Equal(t, ExitNetworkError, GetExitCode(err))

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"Server is running"}`))
	}))
	defer healthy.Close()
	require.NoError(t, checkReplier(ctx, reply.NewClient(healthy.URL)))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"success":false,"message":"down"}`))
	}))
	defer failing.Close()
	err = checkReplier(ctx, reply.NewClient(failing.URL))
	require.True(t, reply.IsServiceError(err))
	require.Equal(t, ExitGeneralError, GetExitCode(err))
}

func TestRunServer_ServesAndStops(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	cfg.Reply.MinDelayMs, cfg.Reply.MaxDelayMs = 0, 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, ln, log.New(io.Discard, "", 0), "") }()

	client := reply.NewClient("http://" + ln.Addr().String())
	require.Eventually(t, func() bool {
		_, err := client.Health(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	answer, err := client.Reply(context.Background(), "你好")
	require.NoError(t, err)
	require.NotEmpty(t, answer)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServer_CancelledBeforeStart(t *testing.T) {
	isolate(t)
	cfg := config.Default()

	for i := 0; i < 20; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		done := make(chan error, 1)
		go func() { done <- runServer(ctx, cfg, ln, log.New(io.Discard, "", 0), "") }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(shutdownTimeout + time.Second):
			t.Fatalf("run %d: server did not stop", i)
		}
	}
}

func TestRunServer_HotReload(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	cfg := config.Default()
	require.NoError(t, config.SaveTOML(cfg, path))

	srv := newServer(cfg, "127.0.0.1:0", log.New(io.Discard, "", 0))
	lo, hi := srv.Delay()
	require.Equal(t, 500*time.Millisecond, lo)
	require.Equal(t, 1500*time.Millisecond, hi)

	next := cfg.Clone()
	next.Reply.MinDelayMs, next.Reply.MaxDelayMs = 10, 20
	next.Server.CORSOrigins = []string{"https://app.example"}
	applyReload(srv, next)

	lo, hi = srv.Delay()
	require.Equal(t, 10*time.Millisecond, lo)
	require.Equal(t, 20*time.Millisecond, hi)
	require.Equal(t, []string{"https://app.example"}, srv.CORS().Origins())

	require.Equal(t, path, watchPath(Args{}))
	require.Equal(t, "", watchPath(Args{ConfigPath: filepath.Join(dir, "missing.toml")}))
}
