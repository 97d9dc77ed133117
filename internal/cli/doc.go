// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the rigchat commands.
//
// # Key Types
//
//   - Command: enumeration of top-level commands
//   - Args: parsed global flags and the remaining arguments
//   - REPL: executes chat messages and slash commands against a
//     session.Controller
//   - Renderer: Markdown and plain rendering of chat turns
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	switch cmd {
//	case cli.CmdServe:
//	    cli.HandleServe(args)
//	case cli.CmdChat:
//	    cli.HandleChat(args)
//	}
//
// Handle* functions print errors and exit with the code from GetExitCode.
// The *Command variants return errors and are used by tests.
package cli
