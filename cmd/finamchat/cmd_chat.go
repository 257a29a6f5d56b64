// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
)

func runChatCommand(cmd *cobra.Command, _ []string) error {
	execute, _ := cmd.Flags().GetBool("execute")

	model := newChatModel(newAPIClient(), execute)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("finamchat: TUI error: %w", err)
	}
	return nil
}

// ---------- messages from the pipeline goroutine ----------

type stageEventMsg struct {
	stage string
	ms    float64
}

type runDoneMsg struct {
	res orchestrate.Result
	err error
}

// ---------- styles ----------

var (
	chatUserStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	chatStatusStyle = lipgloss.NewStyle().Background(lipgloss.Color("235")).Foreground(lipgloss.Color("252")).Padding(0, 1)
	chatErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	chatHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

const chatStatusBarHeight = 1
const chatInputHeight = 1

// chatModel is the bubbletea model for the interactive session.
type chatModel struct {
	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	width     int
	height    int

	client  *apiClient
	execute bool

	// content holds transcript lines. A strings.Builder would trip its
	// copy check when bubbletea copies the model between updates.
	content []string
	busy    bool
	pending bool // next send confirms the previous needs_confirm result

	lastQuestion string
	events       chan tea.Msg

	quitting bool
}

func newChatModel(client *apiClient, execute bool) chatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "какая цена SBER@MISX"
	ti.CharLimit = 1024
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = stageStyle

	m := chatModel{
		viewport:  viewport.New(80, 24),
		textinput: ti,
		spinner:   sp,
		client:    client,
		execute:   execute,
		events:    make(chan tea.Msg, 16),
	}
	mode := "dry-run"
	if execute {
		mode = "LIVE"
	}
	m.appendLine(chatHintStyle.Render(fmt.Sprintf("finamchat · %s · подтверждение: ответьте «да» на needs_confirm", mode)))
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// waitEvent blocks on the pipeline goroutine's channel for the next message.
func waitEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - chatStatusBarHeight - chatInputHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
		m.textinput.Width = m.width - 4
		m.viewport.SetContent(m.renderContent())
		m.viewport.GotoBottom()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.busy {
				return m, nil
			}
			text := strings.TrimSpace(m.textinput.Value())
			if text == "" {
				return m, nil
			}
			m.textinput.SetValue("")
			if text == "exit" || text == "quit" || text == "q" {
				m.quitting = true
				return m, tea.Quit
			}
			return m.startRun(text)
		}
		if !m.busy {
			var cmd tea.Cmd
			m.textinput, cmd = m.textinput.Update(msg)
			cmds = append(cmds, cmd)
		}

	case stageEventMsg:
		m.appendLine(renderStage(msg.stage, msg.ms))
		cmds = append(cmds, waitEvent(m.events))

	case runDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.appendLine(chatErrorStyle.Render("Error: " + msg.err.Error()))
		} else {
			m.appendLine(strings.TrimRight(renderResult(msg.res), "\n"))
			m.pending = msg.res.Outcome == orchestrate.OutcomeNeedsConfirm
			if m.pending {
				m.appendLine(chatHintStyle.Render("Введите «да» для подтверждения или задайте другой вопрос."))
			}
		}
		m.appendLine("")
		m.textinput.Focus()
		cmds = append(cmds, textinput.Blink)
	}

	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoBottom()

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

// startRun launches the pipeline for one question on its own goroutine.
func (m chatModel) startRun(text string) (tea.Model, tea.Cmd) {
	confirm := false
	question := text
	if m.pending && isAffirmative(text) {
		confirm = true
		question = m.lastQuestion
		m.appendLine(chatUserStyle.Render("You: подтверждаю"))
	} else {
		m.lastQuestion = question
		m.appendLine(chatUserStyle.Render("You: " + question))
	}
	m.pending = false
	m.busy = true
	m.textinput.Blur()

	dryRun := !m.execute
	payload := askPayload{Question: question, AccountID: accountID, DryRun: &dryRun, Confirm: confirm}

	events := m.events
	client := m.client
	go func() {
		res, err := client.askStream(context.Background(), payload, func(stage string, ms float64) {
			events <- stageEventMsg{stage: stage, ms: ms}
		})
		events <- runDoneMsg{res: res, err: err}
	}()

	return m, tea.Batch(waitEvent(m.events), m.spinner.Tick)
}

func isAffirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "да", "yes", "y", "подтверждаю", "confirm":
		return true
	}
	return false
}

func (m chatModel) View() string {
	if m.quitting {
		return ""
	}

	status := " finamchat"
	if m.busy {
		status += " | выполняется..."
	}
	bar := chatStatusStyle.Width(m.width).Render(status)

	var input string
	if m.busy {
		input = m.spinner.View() + " ждём ответа"
	} else {
		input = m.textinput.View()
	}
	return m.viewport.View() + "\n" + bar + "\n" + input
}

func (m *chatModel) renderContent() string {
	base := strings.Join(m.content, "\n")
	if m.busy {
		return base + "\n" + m.spinner.View()
	}
	return base
}

func (m *chatModel) appendLine(text string) {
	m.content = append(m.content, text)
}
