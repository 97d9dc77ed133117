// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (set at build time via -ldflags).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Command identifies the top-level subcommand.
type Command int

const (
	// CmdChat starts the interactive chat REPL (default).
	CmdChat Command = iota
	// CmdServe runs the reply HTTP server.
	CmdServe
	// CmdProject manages projects non-interactively.
	CmdProject
	// CmdConfig shows configuration.
	CmdConfig
	// CmdVersion prints version information.
	CmdVersion
	// CmdHelp prints usage.
	CmdHelp
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdServe:
		return "serve"
	case CmdProject:
		return "project"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds the parsed command line.
type Args struct {
	// User overrides the configured identity.
	User string

	// Backend overrides storage.backend. Ephemeral forces "memory".
	Backend   string
	Ephemeral bool

	// Reply overrides: Endpoint implies http mode, Local forces the
	// in-process generator.
	Endpoint string
	Local    bool

	// Addr overrides the serve listen address.
	Addr string

	// ConfigPath loads configuration from an explicit file.
	ConfigPath string

	// Subcommand is the first positional argument after the command.
	Subcommand string

	// Raw holds the arguments after the command word.
	Raw []string

	JSON    bool
	Quiet   bool
	Verbose bool
	NoColor bool

	// Unknown is set when the command word was not recognized.
	Unknown string
}

// =============================================================================
// USAGE
// =============================================================================

const usageText = `rigchat - local chat assistant workspace

Usage:
  rigchat [global flags] <command> [args]

Commands:
  chat                       Start an interactive chat (default)
  serve                      Run the reply HTTP server
  project list               List projects
  project create NAME        Create a project (--emoji E)
  project rename ID NAME     Rename a project
  project delete ID          Delete a project
  project select ID          Make a project current
  config show                Print the effective configuration
  config path                Print the configuration file path
  config init                Write the default configuration file
  version                    Print version information
  help                       Show this help

Global flags:
  -u, --user ID              Identity whose data is used
  --backend NAME             Storage backend: file, sqlite, memory
  --ephemeral                Use in-memory storage (nothing is saved)
  --endpoint URL             Ask a remote reply server
  --local                    Use the in-process reply generator
  --addr HOST:PORT           Listen address for serve
  --config PATH              Read configuration from PATH
  --json                     Machine-readable output
  --no-color                 Disable colors
  -q, --quiet                Minimal output
  -v, --verbose              Verbose output

Version: %s
`

// PrintUsage writes the usage text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// VersionData is the JSON form of version output.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// PrintVersion writes version information to w.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s\n", runtime.Version())
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses argv (without the program name) into a command and args.
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdChat, args
	}

	word := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	args.Raw = remaining
	if len(remaining) > 0 {
		args.Subcommand = strings.ToLower(remaining[0])
	}

	switch word {
	case "chat":
		return CmdChat, args
	case "serve", "server":
		return CmdServe, args
	case "project", "projects", "p":
		return CmdProject, args
	case "config":
		return CmdConfig, args
	case "version", "--version", "-V":
		return CmdVersion, args
	case "help", "--help", "-h":
		return CmdHelp, args
	default:
		args.Unknown = word
		return CmdHelp, args
	}
}

// parseGlobalFlags extracts global flags anywhere on the line and returns
// the rest in order.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	value := func(i *int, name string) string {
		arg := argv[*i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v
		}
		if *i+1 < len(argv) {
			*i++
			return argv[*i]
		}
		return ""
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		name, _, _ := strings.Cut(arg, "=")

		switch name {
		case "-u", "--user":
			args.User = value(&i, name)
		case "--backend":
			args.Backend = value(&i, name)
		case "--endpoint":
			args.Endpoint = value(&i, name)
		case "--addr":
			args.Addr = value(&i, name)
		case "--config":
			args.ConfigPath = value(&i, name)
		case "--ephemeral":
			args.Ephemeral = true
		case "--local":
			args.Local = true
		case "--json":
			args.JSON = true
		case "--no-color":
			args.NoColor = true
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		default:
			remaining = append(remaining, arg)
		}
	}

	return remaining, args
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// exitOnError prints err and exits with its mapped code.
func exitOnError(err error, args Args) {
	if err == nil {
		return
	}
	DisplayError(os.Stderr, err, args.JSON)
	os.Exit(GetExitCode(err))
}

// HandleChat handles the "chat" command.
func HandleChat(args Args) {
	exitOnError(HandleChatCommand(args), args)
}

// HandleServe handles the "serve" command.
func HandleServe(args Args) {
	exitOnError(HandleServeCommand(args), args)
}

// HandleProject handles the "project" command.
func HandleProject(args Args) {
	exitOnError(HandleProjectCommand(args), args)
}

// HandleConfig handles the "config" command.
func HandleConfig(args Args) {
	exitOnError(HandleConfigCommand(args, os.Stdout), args)
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		exitOnError(NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print(os.Stdout), args)
		return
	}
	PrintVersion(os.Stdout)
}

// HandleHelp handles the "help" command and unknown commands.
func HandleHelp(args Args) {
	if args.Unknown != "" {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args.Unknown)
		PrintUsage(os.Stderr)
		os.Exit(ExitUsageError)
	}
	PrintUsage(os.Stdout)
}
