// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestTypingModel_ViewAndDone(t *testing.T) {
	m := newTypingModel()
	require.NotNil(t, m.Init())
	require.Contains(t, m.View(), typingLabel)

	m.started = time.Now().Add(-3 * time.Second)
	require.Contains(t, m.View(), typingLabel+" 3s")

	next, cmd := m.Update(replyDoneMsg{})
	require.Empty(t, next.View())
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTypingModel_IgnoresOtherMessages(t *testing.T) {
	m := newTypingModel()
	next, cmd := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	require.Nil(t, cmd)
	require.Contains(t, next.View(), typingLabel)
}

func TestStartTyping_Static(t *testing.T) {
	var out bytes.Buffer
	stop := startTyping(&out, false)
	stop()
	require.Equal(t, typingLabel+"\n", out.String())
}

func TestREPL_ShowsTypingWhenNotQuiet(t *testing.T) {
	r, _, out := newTestREPL(t, nil)
	r.WithQuiet(false)
	require.NoError(t, r.Execute(t.Context(), "hello"))
	require.Contains(t, out.String(), typingLabel)
	require.Contains(t, out.String(), "New chat:")
}
