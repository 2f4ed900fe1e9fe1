// Package tui provides the read-only status dashboard for the watch
// command. It polls the store on a fixed cadence and renders goals,
// the task funnel, and worker activity. Quit with 'q' or Ctrl+C.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

const pollInterval = 2 * time.Second

// snapshot is one poll's worth of dashboard state.
type snapshot struct {
	goals   []*models.Goal
	workers []*models.Worker
	counts  map[models.TaskStatus]int
	err     error
	taken   time.Time
}

type snapshotMsg snapshot

type pollTickMsg struct{}

// WatchModel is the bubbletea model behind the dashboard.
type WatchModel struct {
	store *store.DB
	org   string

	spin   spinner.Model
	snap   snapshot
	loaded bool
	width  int
}

// NewWatchModel builds the dashboard over the given store.
func NewWatchModel(db *store.DB, org string) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return WatchModel{store: db, org: org, spin: sp, width: 100}
}

// Run starts the dashboard and blocks until quit.
func Run(db *store.DB, org string) error {
	_, err := tea.NewProgram(NewWatchModel(db, org), tea.WithAltScreen()).Run()
	return err
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll)
}

func (m WatchModel) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
	defer cancel()

	snap := snapshot{taken: time.Now()}
	snap.goals, snap.err = m.store.ListGoals(ctx, m.org)
	if snap.err == nil {
		snap.workers, snap.err = m.store.ListWorkers(ctx, m.org)
	}
	if snap.err == nil {
		snap.counts, snap.err = m.store.CountTasksByStatus(ctx, m.org)
	}
	return snapshotMsg(snap)
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = snapshot(msg)
		m.loaded = true
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollTickMsg{} })

	case pollTickMsg:
		return m, m.poll

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("foreman") + "  " +
		subtitleStyle.Render(fmt.Sprintf("organization: %s", m.org)) + "\n\n")

	if !m.loaded {
		b.WriteString(m.spin.View() + " loading...\n")
		return b.String()
	}
	if m.snap.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("store error: %v", m.snap.err)) + "\n")
		return b.String()
	}

	b.WriteString(m.renderFunnel() + "\n")
	b.WriteString(m.renderGoals() + "\n")
	b.WriteString(m.renderWorkers() + "\n")
	b.WriteString(footerStyle.Render(fmt.Sprintf("updated %s  |  q to quit",
		m.snap.taken.Format("15:04:05"))))
	return b.String()
}

// funnelOrder fixes the display order of the task lifecycle.
var funnelOrder = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusReady,
	models.TaskStatusInProgress,
	models.TaskStatusReadyForReview,
	models.TaskStatusInReview,
	models.TaskStatusCompleted,
	models.TaskStatusFailed,
	models.TaskStatusBlocked,
}

func (m WatchModel) renderFunnel() string {
	var cells []string
	for _, status := range funnelOrder {
		n := m.snap.counts[status]
		label := fmt.Sprintf("%s %d", status, n)
		cells = append(cells, statusStyle(status, n > 0).Render(label))
	}
	return sectionStyle.Render("Tasks") + "\n  " + strings.Join(cells, "  ")
}

func (m WatchModel) renderGoals() string {
	out := sectionStyle.Render("Goals")
	if len(m.snap.goals) == 0 {
		return out + "\n  " + dimStyle.Render("none")
	}

	goals := make([]*models.Goal, len(m.snap.goals))
	copy(goals, m.snap.goals)
	sort.SliceStable(goals, func(i, j int) bool {
		return goals[i].Priority < goals[j].Priority
	})

	for _, g := range goals {
		if g.Status == models.GoalStatusArchived {
			continue
		}
		marker := dimStyle.Render("·")
		if g.Status == models.GoalStatusCompleted {
			marker = doneStyle.Render("✓")
		} else if !g.AutoDecomposed {
			marker = m.spin.View()
		}
		out += fmt.Sprintf("\n  %s %s %s %s", marker,
			priorityStyle.Render(g.Priority.String()),
			truncate(g.Title, m.width-30),
			dimStyle.Render(fmt.Sprintf("%d%%", g.ProgressPercent)))
	}
	return out
}

func (m WatchModel) renderWorkers() string {
	out := sectionStyle.Render("Workers")
	if len(m.snap.workers) == 0 {
		return out + "\n  " + dimStyle.Render("none")
	}
	for _, w := range m.snap.workers {
		out += fmt.Sprintf("\n  %s %s", workerStatusStyle(w.Status).Render(string(w.Status)),
			truncate(w.Name, m.width-20))
	}
	return out
}

func truncate(s string, max int) string {
	if max < 8 {
		max = 8
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
