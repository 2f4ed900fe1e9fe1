package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/seanmigrate/foreman/pkg/models"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFC857"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
	priorityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))
	spinnerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8E53"))
)

var taskStatusColors = map[models.TaskStatus]string{
	models.TaskStatusPending:        "243",
	models.TaskStatusReady:          "#45B7D1",
	models.TaskStatusInProgress:     "#FFC857",
	models.TaskStatusReadyForReview: "#FF8E53",
	models.TaskStatusInReview:       "#FF8E53",
	models.TaskStatusCompleted:      "#96E6A1",
	models.TaskStatusFailed:         "#FF6B6B",
	models.TaskStatusBlocked:        "#FF6B6B",
}

func statusStyle(s models.TaskStatus, active bool) lipgloss.Style {
	color, ok := taskStatusColors[s]
	if !ok {
		color = "243"
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	if !active {
		style = dimStyle
	}
	return style
}

func workerStatusStyle(s models.WorkerStatus) lipgloss.Style {
	switch s {
	case models.WorkerStatusBusy:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
	case models.WorkerStatusError:
		return errorStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	}
}
