// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
)

// ProjectSummary is the JSON form of one project in listings.
type ProjectSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Emoji     string    `json:"emoji"`
	Chats     int       `json:"chats"`
	Files     int       `json:"files"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"createdAt"`
}

func summarize(projects []model.Project, current *model.Project) []ProjectSummary {
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, ProjectSummary{
			ID:        p.ID,
			Name:      p.Name,
			Emoji:     p.Emoji,
			Chats:     len(p.Chats),
			Files:     len(p.Files),
			Current:   current != nil && current.ID == p.ID,
			CreatedAt: p.CreatedAt,
		})
	}
	return out
}

// HandleProjectCommand runs "project" subcommands against the user's data.
func HandleProjectCommand(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	ctrl, store, err := openController(ctx, cfg, args, newLogger(args))
	if err != nil {
		return err
	}
	defer store.Close()

	return runProjectAction(ctx, ctrl, os.Stdout, NewArgParser(args.Raw), args.JSON)
}

// runProjectAction executes list, create, select, rename or delete. The
// first positional of p is the action; list is the default.
func runProjectAction(ctx context.Context, ctrl *session.Controller, out io.Writer, p *ArgParser, jsonMode bool) error {
	action := strings.ToLower(p.Positional(0))
	switch action {
	case "", "list", "ls":
		if jsonMode {
			return NewJSONResponse("project list", summarize(ctrl.Projects(), ctrl.CurrentProject())).Print(out)
		}
		writeProjects(out, ctrl.Projects(), ctrl.CurrentProject())
		return nil

	case "create", "new":
		name := p.PositionalFrom(1)
		proj, err := ctrl.CreateProject(ctx, name, p.Flag("emoji"))
		if err != nil {
			return NewCommandError("project", "create", err)
		}
		return report(out, jsonMode, "project create", proj, "Created "+proj.Label())

	case "select", "use", "switch":
		id, err := resolveProject(ctrl.Projects(), p.PositionalFrom(1))
		if err != nil {
			return err
		}
		if err := ctrl.SelectProject(ctx, id); err != nil {
			return NewCommandError("project", "select", err)
		}
		return report(out, jsonMode, "project select", ctrl.CurrentProject(), "Now in "+projectLabel(ctrl.CurrentProject()))

	case "rename":
		if p.PositionalCount() < 3 {
			return NewUsageError("project rename", "usage: project rename REF NAME")
		}
		id, err := resolveProject(ctrl.Projects(), p.Positional(1))
		if err != nil {
			return err
		}
		name := p.PositionalFrom(2)
		if err := ctrl.RenameProject(ctx, id, name); err != nil {
			return NewCommandError("project", "rename", err)
		}
		return report(out, jsonMode, "project rename", map[string]string{"id": id, "name": name}, "Renamed to "+name)

	case "delete", "rm":
		id, err := resolveProject(ctrl.Projects(), p.PositionalFrom(1))
		if err != nil {
			return err
		}
		if err := ctrl.DeleteProject(ctx, id); err != nil {
			return NewCommandError("project", "delete", err)
		}
		return report(out, jsonMode, "project delete", map[string]string{"id": id}, "Project deleted")

	default:
		return NewUsageError("project", "unknown action %q (list, create, select, rename, delete)", action)
	}
}

func report(out io.Writer, jsonMode bool, command string, data any, msg string) error {
	if jsonMode {
		return NewJSONResponse(command, data).Print(out)
	}
	fmt.Fprintf(out, "%s %s\n", RenderStatus("ok"), msg)
	return nil
}

// resolveProject maps a 1-based list number, id or unique name to an id.
func resolveProject(projects []model.Project, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", NewUsageError("project", "missing project reference")
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		if n < 1 || n > len(projects) {
			return "", fmt.Errorf("%w: #%d", session.ErrProjectNotFound, n)
		}
		return projects[n-1].ID, nil
	}
	var byName []string
	for _, p := range projects {
		if p.ID == ref {
			return p.ID, nil
		}
		if strings.EqualFold(p.Name, ref) {
			byName = append(byName, p.ID)
		}
	}
	switch len(byName) {
	case 1:
		return byName[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s", session.ErrProjectNotFound, ref)
	default:
		return "", NewUsageError("project", "%d projects are named %q; use the number or id", len(byName), ref)
	}
}

// writeProjects prints the project table with the current one marked.
func writeProjects(out io.Writer, projects []model.Project, current *model.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No projects. Create one with: project create NAME"))
		return
	}
	rows := make([][]string, 0, len(projects))
	for i, p := range projects {
		mark := " "
		if current != nil && current.ID == p.ID {
			mark = "*"
		}
		rows = append(rows, []string{
			mark + strconv.Itoa(i+1),
			p.Label(),
			strconv.Itoa(len(p.Chats)),
			strconv.Itoa(len(p.Files)),
			p.ID,
		})
	}
	fmt.Fprint(out, Table([]string{" #", "PROJECT", "CHATS", "FILES", "ID"}, rows, 40))
}
