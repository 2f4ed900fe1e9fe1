package models

import (
	"fmt"
	"time"
)

// Limits enforced at task creation time.
const (
	// MaxDepth is the deepest nesting level allowed for a task.
	// Depth 0 is a team epic; each planning pass adds one level.
	MaxDepth = 3
	// MaxSubtasksPerTask is the maximum number of direct children per parent.
	MaxSubtasksPerTask = 10
	// MaxRetries is the number of failed attempts tolerated before a task
	// is blocked and handed to a human. Raised from 3 to absorb transient
	// tool failures.
	MaxRetries = 5
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task was created but its dependencies may be unmet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates the task is eligible for pickup.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusInProgress indicates a worker is executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReadyForReview indicates execution output exists and awaits review.
	TaskStatusReadyForReview TaskStatus = "ready_for_review"
	// TaskStatusInReview indicates a reviewer is actively evaluating the task.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusCompleted indicates the task finished successfully. Terminal.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates execution errored or a quality gate failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the retry budget is exhausted. Terminal
	// until manual intervention.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusReadyForReview, TaskStatusInReview,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal reports whether no automated transition leaves this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusBlocked
}

// CanTransition reports whether moving from s to next is a legal edge of
// the task state machine.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// taskTransitions encodes the state machine. Blocked -> Ready exists only
// for manual operator resets.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:        {TaskStatusReady, TaskStatusInProgress},
	TaskStatusReady:          {TaskStatusInProgress},
	TaskStatusInProgress:     {TaskStatusReadyForReview, TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked},
	TaskStatusReadyForReview: {TaskStatusInReview, TaskStatusCompleted},
	TaskStatusInReview:       {TaskStatusCompleted, TaskStatusInProgress, TaskStatusPending, TaskStatusReady},
	TaskStatusFailed:         {TaskStatusReady, TaskStatusBlocked},
	TaskStatusBlocked:        {TaskStatusReady},
}

// TaskType classifies the kind of work a task represents.
type TaskType string

const (
	// TaskTypeTeamEpic is a depth-0 aggregation of work items routed to one
	// team. Epics are never pulled by workers; they require a further
	// planning pass first.
	TaskTypeTeamEpic TaskType = "team_epic"
	// TaskTypeImplementation is feature or code-change work.
	TaskTypeImplementation TaskType = "implementation"
	// TaskTypeTesting covers test authoring and verification work.
	TaskTypeTesting TaskType = "testing"
	// TaskTypeDocumentation covers docs work.
	TaskTypeDocumentation TaskType = "documentation"
	// TaskTypeBugFix is corrective work against existing behavior.
	TaskTypeBugFix TaskType = "bug_fix"
)

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeTeamEpic, TaskTypeImplementation, TaskTypeTesting, TaskTypeDocumentation, TaskTypeBugFix:
		return true
	default:
		return false
	}
}

// Priority orders tasks in the pool. P1 is pulled first.
type Priority int

const (
	PriorityP1 Priority = 1
	PriorityP2 Priority = 2
	PriorityP3 Priority = 3
	PriorityP4 Priority = 4
)

// Valid returns true if the priority is in range.
func (p Priority) Valid() bool {
	return p >= PriorityP1 && p <= PriorityP4
}

// String returns the display form, e.g. "P2".
func (p Priority) String() string {
	return fmt.Sprintf("P%d", int(p))
}

// Task represents the unit of schedulable work.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type classifies the task.
	Type TaskType `json:"type"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders the task in the pool (P1 highest).
	Priority Priority `json:"priority"`
	// Depth is the nesting level; 0 is a team epic. Capped at MaxDepth.
	Depth int `json:"depth"`
	// ParentTaskID is the ID of the parent task, if any.
	ParentTaskID string `json:"parent_task_id,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	// References must resolve within the same project.
	DependsOn []string `json:"depends_on,omitempty"`
	// AffectedFiles is the set of paths this task will touch. This is the
	// conflict-detection key between concurrent workers.
	AffectedFiles []string `json:"affected_files,omitempty"`
	// AssignedWorkerID is the worker executing (or designated for) this task.
	AssignedWorkerID string `json:"assigned_worker_id,omitempty"`
	// AssignedTeamID is the team the task was routed to during decomposition.
	AssignedTeamID string `json:"assigned_team_id,omitempty"`
	// ReviewerWorkerID is the manager responsible for reviewing this task.
	ReviewerWorkerID string `json:"reviewer_worker_id,omitempty"`
	// RetryCount is the number of failed attempts so far. Only increases;
	// reset requires manual operator action.
	RetryCount int `json:"retry_count,omitempty"`
	// NeedsPlanning is true for freshly created team epics awaiting breakdown.
	NeedsPlanning bool `json:"needs_planning,omitempty"`
	// AcceptanceCriteria defines the ordered criteria for task completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// OrganizationID scopes the task to one tenant.
	OrganizationID string `json:"organization_id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// LastError contains the most recent failure message, if any.
	LastError string `json:"last_error,omitempty"`
	// LastOutput holds the output of the most recent execution attempt.
	LastOutput string `json:"last_output,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task was completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ValidateNew checks the creation-time invariants for a task.
func (t *Task) ValidateNew() error {
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("unknown task type %q", t.Type)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("priority %d out of range", t.Priority)
	}
	if t.Depth < 0 || t.Depth > MaxDepth {
		return fmt.Errorf("task depth %d exceeds maximum %d", t.Depth, MaxDepth)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	if t.ProjectID == "" {
		return fmt.Errorf("task project is required")
	}
	return nil
}
