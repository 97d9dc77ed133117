// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// typingLabel is shown while a reply is pending.
const typingLabel = "Assistant is typing..."

// replyDoneMsg stops the typing indicator.
type replyDoneMsg struct{}

// =============================================================================
// TYPING INDICATOR MODEL
// =============================================================================

// typingModel animates a spinner next to typingLabel until replyDoneMsg.
type typingModel struct {
	spinner spinner.Model
	started time.Time
	done    bool
}

func newTypingModel() typingModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = HighlightStyle
	return typingModel{spinner: s, started: time.Now()}
}

func (m typingModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m typingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case replyDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m typingModel) View() string {
	if m.done {
		return ""
	}
	label := typingLabel
	if elapsed := time.Since(m.started); elapsed >= time.Second {
		label = fmt.Sprintf("%s %ds", typingLabel, int(elapsed.Seconds()))
	}
	return m.spinner.View() + " " + DimStyle.Render(label)
}

// =============================================================================
// INDICATOR LIFECYCLE
// =============================================================================

// startTyping shows the typing indicator on out and returns a function that
// removes it. Without animation a single static line is printed.
func startTyping(out io.Writer, animate bool) (stop func()) {
	if !animate {
		fmt.Fprintln(out, DimStyle.Render(typingLabel))
		return func() {}
	}

	p := tea.NewProgram(newTypingModel(),
		tea.WithInput(nil),
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		p.Run()
	}()
	return func() {
		p.Send(replyDoneMsg{})
		<-finished
	}
}
