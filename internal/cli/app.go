// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/reply"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// loadConfig reads the configuration named by --config, or the default
// location, and applies command-line overrides.
func loadConfig(args Args) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if args.Backend != "" {
		cfg.Storage.Backend = strings.ToLower(args.Backend)
	}
	if args.Ephemeral {
		cfg.Storage.Backend = storage.BackendMemory
	}
	if args.Endpoint != "" {
		cfg.Reply.Mode = "http"
		cfg.Reply.Endpoint = args.Endpoint
	}
	if args.Local {
		cfg.Reply.Mode = "local"
	}
	if args.NoColor {
		cfg.UI.Color = ColorNever
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	config.SetGlobal(cfg)
	SetColorMode(cfg.UI.Color)
	return cfg, nil
}

// newLogger returns the event logger. Events are shown only with --verbose.
func newLogger(args Args) *log.Logger {
	if !args.Verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// =============================================================================
// STORAGE AND REPLIES
// =============================================================================

// storeOptions resolves backend locations under the config directory.
func storeOptions(cfg *config.Config) (storage.Options, error) {
	opts := storage.Options{
		Backend:    cfg.Storage.Backend,
		Dir:        cfg.Storage.DataDir,
		SQLitePath: cfg.Storage.SQLitePath,
	}
	if opts.Dir != "" && opts.SQLitePath != "" {
		return opts, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return opts, err
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join(dir, "data")
	}
	if opts.SQLitePath == "" {
		opts.SQLitePath = filepath.Join(dir, "rigchat.db")
	}
	return opts, nil
}

// openStore opens the configured persistence backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	opts, err := storeOptions(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(opts)
}

// newReplier builds the reply source selected by reply.mode.
func newReplier(cfg *config.Config, logger *log.Logger) reply.Replier {
	if cfg.Reply.Mode == "http" {
		return reply.NewClient(cfg.Reply.Endpoint).WithLogger(logger)
	}
	local := reply.NewLocal(reply.NewGenerator())
	local.Delay = delayRange(
		time.Duration(cfg.Reply.MinDelayMs)*time.Millisecond,
		time.Duration(cfg.Reply.MaxDelayMs)*time.Millisecond,
	)
	return local
}

// replyHealthTimeout bounds the startup health check of an HTTP reply service.
const replyHealthTimeout = 3 * time.Second

// checkReplier calls the health endpoint when r talks to a reply server.
// Transport failures wrap reply.ErrUnreachable.
func checkReplier(ctx context.Context, r reply.Replier) error {
	client, ok := r.(*reply.Client)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, replyHealthTimeout)
	defer cancel()

	_, err := client.Health(ctx)
	switch {
	case err == nil:
		return nil
	case reply.IsServiceError(err):
		return NewCommandError("chat", "check reply service", err)
	default:
		return fmt.Errorf("reply service at %s: %w", client.BaseURL(), err)
	}
}

// delayRange returns a uniform picker over [lo, hi], or nil for no delay.
func delayRange(lo, hi time.Duration) func() time.Duration {
	if hi <= 0 {
		return nil
	}
	if hi <= lo {
		return func() time.Duration { return lo }
	}
	return func() time.Duration {
		return lo + rand.N(hi-lo+1)
	}
}

// resolveUser picks the identity: --user, then user.default.
func resolveUser(cfg *config.Config, args Args) string {
	if u := strings.TrimSpace(args.User); u != "" {
		return u
	}
	return strings.TrimSpace(cfg.User.Default)
}

// openController loads the user's state. The returned store must be
// closed by the caller.
func openController(ctx context.Context, cfg *config.Config, args Args, logger *log.Logger) (*session.Controller, storage.Store, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	ctrl := session.NewController(store, newReplier(cfg, logger),
		session.WithUser(resolveUser(cfg, args)),
		session.WithLogger(logger),
	)
	if err := ctrl.Load(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return ctrl, store, nil
}
