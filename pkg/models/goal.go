package models

import "time"

// GoalStatus represents the current state of a goal.
type GoalStatus string

const (
	// GoalStatusActive indicates the goal is open and eligible for decomposition.
	GoalStatusActive GoalStatus = "active"
	// GoalStatusCompleted indicates the goal reached 100% progress.
	GoalStatusCompleted GoalStatus = "completed"
	// GoalStatusArchived indicates the goal was retired without completion.
	GoalStatusArchived GoalStatus = "archived"
)

// Valid returns true if the status is a known value.
func (s GoalStatus) Valid() bool {
	switch s {
	case GoalStatusActive, GoalStatusCompleted, GoalStatusArchived:
		return true
	default:
		return false
	}
}

// Goal is a top-level or nested objective stated by a human.
type Goal struct {
	// ID is the unique identifier for this goal.
	ID string `json:"id"`
	// Title is the short statement of the objective.
	Title string `json:"title"`
	// Description provides detail and constraints for the objective.
	Description string `json:"description,omitempty"`
	// GoalType is a free-form classification (e.g. "feature", "quality").
	GoalType string `json:"goal_type,omitempty"`
	// Priority orders goals for decomposition.
	Priority Priority `json:"priority"`
	// Status is the current state of the goal.
	Status GoalStatus `json:"status"`
	// TargetDate is the desired completion date, if any.
	TargetDate *time.Time `json:"target_date,omitempty"`
	// ProgressPercent is the recorded progress, 0-100.
	ProgressPercent int `json:"progress_percent"`
	// CurrentValue is a free-form measure accompanying progress.
	CurrentValue string `json:"current_value,omitempty"`
	// AutoDecomposed flips to true exactly once, after the first successful
	// decomposition, so the sweep never decomposes the same goal twice.
	AutoDecomposed bool `json:"auto_decomposed"`
	// DecompositionStrategy records which strategy produced the breakdown.
	DecompositionStrategy string `json:"decomposition_strategy,omitempty"`
	// ParentGoalID enables goal trees.
	ParentGoalID string `json:"parent_goal_id,omitempty"`
	// OrganizationID scopes the goal to one tenant.
	OrganizationID string `json:"organization_id"`
	// TeamID optionally pins the goal to a single team.
	TeamID string `json:"team_id,omitempty"`
	// OwnerWorkerID is the worker accountable for the goal, if any.
	OwnerWorkerID string `json:"owner_worker_id,omitempty"`
	// CreatedAt is when the goal was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the goal reached 100%, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GoalProgressRecord is an append-only audit entry for goal progress.
// Records are never mutated or deleted.
type GoalProgressRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// GoalID is the goal this record belongs to.
	GoalID string `json:"goal_id"`
	// ProgressPercent is the recorded progress, 0-100.
	ProgressPercent int `json:"progress_percent"`
	// CurrentValue is a free-form measure accompanying progress.
	CurrentValue string `json:"current_value,omitempty"`
	// Note is an optional human annotation.
	Note string `json:"note,omitempty"`
	// RecordedBy identifies who or what recorded the progress.
	RecordedBy string `json:"recorded_by,omitempty"`
	// RecordedAt is when the progress was recorded.
	RecordedAt time.Time `json:"recorded_at"`
}

// ProjectStatus represents the current state of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusArchived  ProjectStatus = "archived"
)

// Project groups the tasks produced by decomposing one goal entry.
// A project is exclusively owned by its goal.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id"`
	// Name is the project name.
	Name string `json:"name"`
	// Description provides detail about the project.
	Description string `json:"description,omitempty"`
	// Status is the current state of the project.
	Status ProjectStatus `json:"status"`
	// GoalID is the owning goal.
	GoalID string `json:"goal_id"`
	// WorkingDirectory is where workers check out and edit files.
	// Inherited from the organization or a sibling project if unset.
	WorkingDirectory string `json:"working_directory,omitempty"`
	// RepositoryURL is the source repository for the project.
	RepositoryURL string `json:"repository_url,omitempty"`
	// OrganizationID scopes the project to one tenant.
	OrganizationID string `json:"organization_id"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
}
