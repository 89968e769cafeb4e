// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"fmt"
	"strings"

	"spectrogram/internal/capture"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SourceLister enumerates capture sources.
type SourceLister interface {
	Sources(ctx context.Context) ([]capture.Source, error)
}

type sourcesMsg struct {
	sources []capture.Source
}

type errMsg struct {
	err error
}

// SourceListModel lists capture sources and lets the user pick one. Monitor
// sources are marked and the first one is preselected.
type SourceListModel struct {
	ctx           context.Context
	lister        SourceLister
	sources       []capture.Source
	selectedIndex int
	chosen        bool
	viewport      viewport.Model
	ready         bool
	err           error
}

// NewSourceListModel creates a new source list model
func NewSourceListModel(ctx context.Context, lister SourceLister) SourceListModel {
	return SourceListModel{ctx: ctx, lister: lister}
}

// Init starts fetching sources.
func (m SourceListModel) Init() tea.Cmd {
	ctx, lister := m.ctx, m.lister
	return func() tea.Msg {
		sources, err := lister.Sources(ctx)
		if err != nil {
			return errMsg{err}
		}
		return sourcesMsg{sources}
	}
}

func (m SourceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderSources())

	case sourcesMsg:
		m.sources = msg.sources
		m.selectedIndex = 0
		for i, s := range m.sources {
			if s.Monitor {
				m.selectedIndex = i
				break
			}
		}
		m.viewport.SetContent(m.renderSources())

	case errMsg:
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))):
			return m, tea.Quit

		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderSources())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if m.selectedIndex < len(m.sources)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderSources())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if len(m.sources) > 0 {
				m.chosen = true
				return m, tea.Quit
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the UI
func (m SourceListModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Capture Sources")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Capture • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderSources formats the source list
func (m SourceListModel) renderSources() string {
	if len(m.sources) == 0 {
		return "No capture sources found."
	}

	var sb strings.Builder
	for i, src := range m.sources {
		kind := "Input"
		if src.Monitor {
			kind = "Monitor"
		}

		info := fmt.Sprintf("%s (%s)\n", src, kind)
		if src.Description != "" && src.Description != src.Name {
			info += fmt.Sprintf("    %s\n", src.Description)
		}
		if src.MaxInputChannels > 0 || src.DefaultSampleRate > 0 {
			info += fmt.Sprintf("    Input channels: %d, Default sample rate: %.0f Hz\n",
				src.MaxInputChannels, src.DefaultSampleRate)
		}

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Selected returns the chosen source; ok is false when the user quit without
// choosing.
func (m SourceListModel) Selected() (capture.Source, bool) {
	if !m.chosen || m.selectedIndex >= len(m.sources) {
		return capture.Source{}, false
	}
	return m.sources[m.selectedIndex], true
}

// PickSource launches the source list and returns the user's choice.
func PickSource(ctx context.Context, lister SourceLister) (capture.Source, bool, error) {
	p := tea.NewProgram(
		NewSourceListModel(ctx, lister),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if err != nil {
		return capture.Source{}, false, err
	}
	m, ok := final.(SourceListModel)
	if !ok {
		return capture.Source{}, false, nil
	}
	if m.err != nil {
		return capture.Source{}, false, m.err
	}
	src, chosen := m.Selected()
	return src, chosen, nil
}
