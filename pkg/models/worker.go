package models

import "time"

// WorkerStatus represents the availability of a worker.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates the worker can pull a task.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusBusy indicates the worker holds exactly one task.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusError indicates the worker needs attention before pulling again.
	WorkerStatusError WorkerStatus = "error"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusIdle, WorkerStatusBusy, WorkerStatusError:
		return true
	default:
		return false
	}
}

// Worker is an autonomous execution agent. A worker is busy for the
// duration of exactly one task pull-through-completion cycle.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable worker name.
	Name string `json:"name" yaml:"name"`
	// Status is the current availability state.
	Status WorkerStatus `json:"status" yaml:"status,omitempty"`
	// RoleID identifies the worker's role profile.
	RoleID string `json:"role_id,omitempty" yaml:"role,omitempty"`
	// TeamID is the team this worker belongs to.
	TeamID string `json:"team_id,omitempty" yaml:"team,omitempty"`
	// MaxConcurrentTasks bounds simultaneous assignments. Practically 1.
	MaxConcurrentTasks int `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks,omitempty"`
	// OrganizationID scopes the worker to one tenant.
	OrganizationID string `json:"organization_id" yaml:"-"`
	// CreatedAt is when the worker was registered.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Team groups workers under one manager. The manager owns reviewer
// spawning for the team's tasks, and the team description feeds the
// affinity scorer during decomposition.
type Team struct {
	// ID is the unique identifier for this team.
	ID string `json:"id" yaml:"id"`
	// Name is the team name.
	Name string `json:"name" yaml:"name"`
	// Description is free text matched against skill keyword families.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// ManagerWorkerID is the worker responsible for hierarchical review.
	ManagerWorkerID string `json:"manager_worker_id,omitempty" yaml:"manager,omitempty"`
	// SkillTags lists the team's declared skills.
	SkillTags []string `json:"skill_tags,omitempty" yaml:"skills,omitempty"`
	// OrganizationID scopes the team to one tenant.
	OrganizationID string `json:"organization_id" yaml:"-"`
	// CreatedAt is when the team was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}
