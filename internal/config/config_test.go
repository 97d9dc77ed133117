// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a fresh temp dir and clears the
// environment variables Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGCHAT_HOME", dir)
	for _, name := range []string{
		"PORT", "RIGCHAT_PORT", "RIGCHAT_HOST", "RIGCHAT_REPLY_MODE", "RIGCHAT_ENDPOINT",
		"RIGCHAT_MIN_DELAY_MS", "RIGCHAT_MAX_DELAY_MS", "RIGCHAT_STORAGE",
		"RIGCHAT_DATA_DIR", "RIGCHAT_SQLITE_PATH", "RIGCHAT_USER",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
	return dir
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, 500, cfg.Reply.MinDelayMs)
	require.Equal(t, 1500, cfg.Reply.MaxDelayMs)
	require.Equal(t, "file", cfg.Storage.Backend)
	require.Equal(t, "127.0.0.1:3000", cfg.Addr())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_TOMLFillsMissing(t *testing.T) {
	dir := isolate(t)
	data := `
[server]
port = 8080

[reply]
min_delay_ms = 10
max_delay_ms = 20

[storage]
backend = "sqlite"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, DefaultHost, cfg.Server.Host)
	require.Equal(t, 10, cfg.Reply.MinDelayMs)
	require.Equal(t, 20, cfg.Reply.MaxDelayMs)
	require.Equal(t, "sqlite", cfg.Storage.Backend)
	require.True(t, cfg.UI.Markdown, "unset boolean keeps its default")
}

func TestLoad_TOMLExplicitFalse(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[ui]\nmarkdown = false\n"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.UI.Markdown)
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"server":{"port":4000},"user":{"default":"me@example.com"}}`), 0600))

	path, err := ActivePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "config.json"), path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Server.Port)
	require.Equal(t, "me@example.com", cfg.User.Default)
	require.True(t, cfg.UI.Markdown)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[storage]\nbackend = \"redis\"\n"), 0600))

	_, err := Load()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	require.True(t, verrs.HasField("storage.backend"))
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "5000")
	t.Setenv("RIGCHAT_STORAGE", "memory")
	t.Setenv("RIGCHAT_USER", "bob@example.com")
	t.Setenv("RIGCHAT_MAX_DELAY_MS", "2500")
	t.Setenv("RIGCHAT_REPLY_MODE", "http")
	t.Setenv("NO_COLOR", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "bob@example.com", cfg.User.Default)
	require.Equal(t, 2500, cfg.Reply.MaxDelayMs)
	require.Equal(t, "http", cfg.Reply.Mode)
	require.Equal(t, "never", cfg.UI.Color)

	t.Setenv("RIGCHAT_PORT", "6000")
	cfg.ApplyEnvOverrides()
	require.Equal(t, 6000, cfg.Server.Port, "RIGCHAT_PORT wins over PORT")
}

func TestApplyEnvOverrides_IgnoresBadNumbers(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "not-a-port")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	require.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too big", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"no burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"bad mode", func(c *Config) { c.Reply.Mode = "grpc" }, "reply.mode"},
		{"inverted delays", func(c *Config) { c.Reply.MinDelayMs = 900; c.Reply.MaxDelayMs = 100 }, "reply.max_delay_ms"},
		{"bad endpoint", func(c *Config) { c.Reply.Mode = "http"; c.Reply.Endpoint = "localhost" }, "reply.endpoint"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"bad color", func(c *Config) { c.UI.Color = "sometimes" }, "ui.color"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.True(t, verrs.HasField(tc.field), "errors: %v", verrs)
		})
	}
}

func TestValidate_ZeroDelayAllowed(t *testing.T) {
	cfg := Default()
	cfg.Reply.MinDelayMs = 0
	cfg.Reply.MaxDelayMs = 0
	require.NoError(t, cfg.Validate())
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Server.Port = 9999
	cfg.Server.CORSOrigins = []string{"http://localhost:5173"}
	cfg.UI.Markdown = false
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestSaveJSON_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Storage.Backend = "memory"
	require.NoError(t, SaveJSON(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestClone_IsDeep(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.Server.CORSOrigins[0] = "http://evil.example"
	require.Equal(t, "*", cfg.Server.CORSOrigins[0])
}

// =============================================================================
// GLOBAL
// =============================================================================

func TestGlobal_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			require.NotNil(t, Global())
		}()
	}
	wg.Wait()
}

func TestReloadGlobal(t *testing.T) {
	dir := isolate(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	require.Equal(t, DefaultPort, Global().Server.Port)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[server]\nport = 7777\n"), 0600))
	require.NoError(t, ReloadGlobal())
	require.Equal(t, 7777, Global().Server.Port)
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[reply]\nmin_delay_ms = 1\nmax_delay_ms = 2\n"), 0600))

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c })
	require.NoError(t, err)
	w.WithDebounce(20 * time.Millisecond)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("[reply]\nmin_delay_ms = 5\nmax_delay_ms = 9\n"), 0600))

	select {
	case cfg := <-got:
		require.Equal(t, 5, cfg.Reply.MinDelayMs)
		require.Equal(t, 9, cfg.Reply.MaxDelayMs)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_SkipsInvalid(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0600))

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c })
	require.NoError(t, err)
	w.WithDebounce(20 * time.Millisecond)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = -4\n"), 0600))

	select {
	case <-got:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
