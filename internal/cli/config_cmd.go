// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command for rigchat.
//
// Subcommands:
//   show (default)      Print the effective configuration
//   path                Print the configuration file path
//   init                Write the default configuration if none exists
//   set KEY VALUE       Change one key and save
//   validate            Check the configuration file
//
// Examples:
//   rigchat config show --json
//   rigchat config set reply.mode http
//   rigchat config set server.cors_origins "https://a.example,https://b.example"

package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
)

// HandleConfigCommand runs "config" subcommands, writing to out.
func HandleConfigCommand(args Args, out io.Writer) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	switch args.Subcommand {
	case "", "show":
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config show", cfg).Print(out)
		}
		fmt.Fprintf(out, "%s\n", DimStyle.Render("# "+path))
		fmt.Fprint(out, cfg.String())
		return nil

	case "path":
		if args.JSON {
			_, statErr := os.Stat(path)
			return NewJSONResponse("config path", map[string]any{"path": path, "exists": statErr == nil}).Print(out)
		}
		fmt.Fprintln(out, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil {
			return NewUsageError("config init", "%s already exists", path)
		}
		if err := saveConfigTo(config.Default(), path); err != nil {
			return NewCommandError("config", "init", err)
		}
		fmt.Fprintf(out, "%s Wrote %s\n", RenderStatus("ok"), path)
		return nil

	case "validate":
		if _, err := config.LoadFromPath(path); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s is valid\n", RenderStatus("ok"), path)
		return nil

	case "set":
		p := NewArgParser(args.Raw)
		if p.PositionalCount() < 3 {
			return NewUsageError("config set", "usage: config set KEY VALUE (keys: %s)", strings.Join(settableKeys(), ", "))
		}
		key, value := p.Positional(1), p.PositionalFrom(2)

		cfg := config.Default()
		if _, err := os.Stat(path); err == nil {
			if cfg, err = config.LoadFromPath(path); err != nil {
				return err
			}
		}
		if err := setConfigKey(cfg, key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := saveConfigTo(cfg, path); err != nil {
			return NewCommandError("config", "set", err)
		}
		fmt.Fprintf(out, "%s %s = %s\n", RenderStatus("ok"), strings.ToLower(key), value)
		return nil

	default:
		return NewUsageError("config", "unknown action %q (show, path, init, set, validate)", args.Subcommand)
	}
}

// configFilePath returns --config or the active default path.
func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ActivePath()
}

func saveConfigTo(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

// =============================================================================
// KEY SETTERS
// =============================================================================

var configSetters = map[string]func(cfg *config.Config, v string) error{
	"server.host": func(c *config.Config, v string) error { c.Server.Host = v; return nil },
	"server.port": func(c *config.Config, v string) error { return setInt(&c.Server.Port, "server.port", v) },
	"server.cors_origins": func(c *config.Config, v string) error {
		c.Server.CORSOrigins = splitList(v)
		return nil
	},
	"server.rate_limit": func(c *config.Config, v string) error { return setInt(&c.Server.RateLimit, "server.rate_limit", v) },
	"server.rate_burst": func(c *config.Config, v string) error { return setInt(&c.Server.RateBurst, "server.rate_burst", v) },
	"reply.mode":        func(c *config.Config, v string) error { c.Reply.Mode = strings.ToLower(v); return nil },
	"reply.endpoint":    func(c *config.Config, v string) error { c.Reply.Endpoint = v; return nil },
	"reply.min_delay_ms": func(c *config.Config, v string) error {
		return setInt(&c.Reply.MinDelayMs, "reply.min_delay_ms", v)
	},
	"reply.max_delay_ms": func(c *config.Config, v string) error {
		return setInt(&c.Reply.MaxDelayMs, "reply.max_delay_ms", v)
	},
	"storage.backend":     func(c *config.Config, v string) error { c.Storage.Backend = strings.ToLower(v); return nil },
	"storage.data_dir":    func(c *config.Config, v string) error { c.Storage.DataDir = v; return nil },
	"storage.sqlite_path": func(c *config.Config, v string) error { c.Storage.SQLitePath = v; return nil },
	"user.default":        func(c *config.Config, v string) error { c.User.Default = v; return nil },
	"ui.markdown": func(c *config.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return NewUsageError("config set", "ui.markdown expects true or false, got %q", v)
		}
		c.UI.Markdown = b
		return nil
	},
	"ui.word_wrap": func(c *config.Config, v string) error { return setInt(&c.UI.WordWrap, "ui.word_wrap", v) },
	"ui.color":     func(c *config.Config, v string) error { c.UI.Color = strings.ToLower(v); return nil },
}

// setConfigKey assigns value to a dotted key such as "reply.mode".
func setConfigKey(cfg *config.Config, key, value string) error {
	set, ok := configSetters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return NewUsageError("config set", "unknown key %q", key)
	}
	return set(cfg, strings.TrimSpace(value))
}

func settableKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for k := range configSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setInt(dst *int, key, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return NewUsageError("config set", "%s expects a number, got %q", key, v)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
