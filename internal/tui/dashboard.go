// Package tui renders a live status dashboard over the repo's active PR
// review orchestrations, polling their on-disk state on a fixed tick; spec
// pipelines are not shown — the same bubbletea Model/Update/View shape the teacher
// uses for its task dashboard, generalized from a task list to review
// state.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autoclaude/internal/review"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusStyle = map[review.Status]lipgloss.Style{
		review.StatusReadyToMerge:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		review.StatusFailed:              lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		review.StatusCancelled:           lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		review.StatusMaxIterationsReached: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}
	defaultRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// Model is the dashboard's bubbletea state: the set of active review
// orchestrations as last read from disk, refreshed on every tick.
type Model struct {
	store    *review.Store
	reviews  []*review.State
	err      error
	interval time.Duration
	width    int
}

// New returns a Model polling store every interval (default 2s if zero).
func New(store *review.Store, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{store: store, interval: interval}
}

type tickMsg time.Time

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type refreshedMsg struct {
	reviews []*review.State
	err     error
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		states, err := m.store.LoadAllActive()
		return refreshedMsg{reviews: states, err: err}
	}
}

// Init starts the refresh/tick loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

// Update handles tick-driven refreshes and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())
	case refreshedMsg:
		m.reviews = msg.reviews
		m.err = msg.err
	}
	return m, nil
}

// View renders the current snapshot as a table of active reviews.
func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error reading review state: %v\n", m.err)
	}

	out := headerStyle.Render("autoclaude — active reviews") + "\n\n"
	if len(m.reviews) == 0 {
		out += dimStyle.Render("no active reviews") + "\n"
		return out
	}

	out += dimStyle.Render(fmt.Sprintf("%-8s %-24s %-12s %-10s %s", "PR", "REPO", "STATUS", "ITERATION", "UPDATED")) + "\n"
	for _, s := range m.reviews {
		style, ok := statusStyle[s.Status]
		if !ok {
			style = defaultRowStyle
		}
		row := fmt.Sprintf("#%-7d %-24s %-12s %-10s %s",
			s.PRNumber, s.Repo, s.Status, fmt.Sprintf("%d/%d", s.CurrentIteration, s.MaxIterations),
			s.UpdatedAt.Format(time.RFC3339))
		out += style.Render(row) + "\n"
	}
	out += "\n" + dimStyle.Render("press q to quit")
	return out
}
