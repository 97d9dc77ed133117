// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/server"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 5 * time.Second

// HandleServeCommand runs the reply server until SIGINT or SIGTERM.
func HandleServeCommand(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if args.Quiet {
		logger.SetOutput(io.Discard)
	}

	addr := cfg.Addr()
	if args.Addr != "" {
		addr = args.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return NewCommandError("serve", "listen", err)
	}
	return runServer(ctx, cfg, ln, logger, watchPath(args))
}

// watchPath returns the config file to watch, or "" when none exists.
func watchPath(args Args) string {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ActivePath()
		if err != nil {
			return ""
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// newServer builds a server from cfg.
func newServer(cfg *config.Config, addr string, logger *log.Logger) *server.Server {
	srv := server.NewServer(addr).
		WithLogger(logger).
		WithDelay(msDuration(cfg.Reply.MinDelayMs), msDuration(cfg.Reply.MaxDelayMs)).
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes).
		WithCORS(server.NewCORSConfig(cfg.Server.CORSOrigins))
	if cfg.Server.RateLimit > 0 {
		srv.WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	return srv
}

// applyReload copies the hot-reloadable settings of cfg into srv.
func applyReload(srv *server.Server, cfg *config.Config) {
	srv.SetDelay(msDuration(cfg.Reply.MinDelayMs), msDuration(cfg.Reply.MaxDelayMs))
	srv.CORS().SetOrigins(cfg.Server.CORSOrigins)
}

// runServer serves on ln until ctx is done. When configPath is set the file
// is watched and latency and CORS origins follow its changes.
func runServer(ctx context.Context, cfg *config.Config, ln net.Listener, logger *log.Logger, configPath string) error {
	srv := newServer(cfg, ln.Addr().String(), logger)

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(next *config.Config) {
			applyReload(srv, next)
			config.SetGlobal(next)
		})
		if err != nil {
			logger.Printf("CONFIG_WATCH_FAILED | path=%s err=%v", configPath, err)
		} else {
			w.WithLogger(logger)
			defer w.Close()
			go w.Run(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	fmt.Fprintf(os.Stderr, "%s listening on http://%s\n", SuccessStyle.Render("rigchat"), ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
