package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/colony/lode"
)

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

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	agents   table.Model
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	m := StatsModel{viewType: viewType, data: data}
	if stats, ok := data.(*lode.StoreStats); ok {
		m.agents = agentTable(stats)
	}
	return m
}

func agentTable(stats *lode.StoreStats) table.Model {
	columns := []table.Column{
		{Title: "Agent", Width: 6},
		{Title: "Chunks", Width: 8},
		{Title: "Rows", Width: 10},
		{Title: "First start (UTC)", Width: 20},
		{Title: "Last end (UTC)", Width: 20},
	}
	rows := make([]table.Row, 0, len(stats.Agents))
	for _, a := range stats.Agents {
		rows = append(rows, table.Row{
			strconv.Itoa(int(a.AgentID)),
			strconv.Itoa(a.Chunks),
			strconv.Itoa(a.Rows),
			formatEpoch(a.FirstStart),
			formatEpoch(a.LastEnd),
		})
	}
	return table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 15)),
	)
}

// formatEpoch renders absolute seconds as a UTC wall-clock time.
func formatEpoch(sec float64) string {
	if sec == 0 {
		return "-"
	}
	whole := int64(sec)
	nanos := int64((sec - float64(whole)) * 1e9)
	return time.Unix(whole, nanos).UTC().Format("2006-01-02 15:04:05")
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

	var cmd tea.Cmd
	m.agents, cmd = m.agents.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStoreStats:
		content = m.renderStoreStats()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("↑/↓ to scroll, q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStoreStats() string {
	data, ok := m.data.(*lode.StoreStats)
	if !ok {
		return "Invalid data type for stats_store"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Chunk Store (%s)", data.Backend)))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Agents", len(data.Agents), highlightColor),
		m.renderStatBox("Chunks", data.Chunks, warningColor),
		m.renderStatBox("Rows", data.Rows, successColor),
		m.renderStatBox("Merged", data.Merged, primaryColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	if len(data.Agents) == 0 {
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("No unmerged chunks."))
		return b.String()
	}

	b.WriteString("\n\n")
	b.WriteString(BoxStyle.Render(m.agents.View()))
	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(strconv.Itoa(value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
