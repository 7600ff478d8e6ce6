package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StoreStats aggregates the result store for display.
type StoreStats struct {
	Total    int
	Accepted int
	Failed   int
	Rounds   int

	// Reasons counts failed records by failure reason.
	Reasons map[string]int
	// Classifications counts records by validation classification.
	Classifications map[string]int
}

// StatsModel is a Bubble Tea model for the stats view.
type StatsModel struct {
	stats    *StoreStats
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(stats *StoreStats) StatsModel {
	return StatsModel{stats: stats}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Result Store Statistics"))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Total", m.stats.Total, highlightColor),
		m.renderStatBox("Accepted", m.stats.Accepted, successColor),
		m.renderStatBox("Failed", m.stats.Failed, errorColor),
		m.renderStatBox("Rounds", m.stats.Rounds, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	if len(m.stats.Classifications) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Classifications"))
		b.WriteString("\n")
		b.WriteString(m.renderCounts(m.stats.Classifications))
	}

	if len(m.stats.Reasons) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Failure Reasons"))
		b.WriteString("\n")
		b.WriteString(m.renderCounts(m.stats.Reasons))
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func (m StatsModel) renderCounts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render(name+":"),
			ValueStyle.Render(fmt.Sprintf("%d", counts[name]))))
	}
	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(stats *StoreStats) error {
	model := NewStatsModel(stats)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats without the full TUI (for fallback).
func RenderStatsStatic(stats *StoreStats) string {
	model := NewStatsModel(stats)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
