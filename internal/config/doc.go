// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// Supports both TOML and JSON configuration formats, with built-in defaults,
// environment variable overrides and validation.
//
// Configuration file locations (in order of precedence):
//   - $RIGCHAT_HOME/config.toml (default ~/.rigchat/config.toml)
//   - $RIGCHAT_HOME/config.json
//   - Built-in defaults
//
// # Sections
//
//   - [server]  listen address, CORS origins, rate limit, body cap
//   - [reply]   simulated latency, reply mode (local|http) and endpoint
//   - [storage] backend (file|sqlite|memory) and locations
//   - [user]    default identity
//   - [ui]      terminal rendering
//
// # Hot Reload
//
// Watcher follows the config file with fsnotify and hands each successfully
// re-loaded Config to a callback. The server uses it to pick up latency and
// CORS changes without a restart.
package config
