package pool

import "github.com/seanmigrate/foreman/pkg/models"

// ConflictChecker detects file-level conflicts between a candidate task
// and work already in flight. Concurrent workers apply patches in
// isolated working copies; without this check two workers could produce
// unmergeable concurrent edits to the same files.
type ConflictChecker struct{}

// NewConflictChecker creates a ConflictChecker.
func NewConflictChecker() *ConflictChecker {
	return &ConflictChecker{}
}

// CanSchedule reports whether the task's affected files are disjoint from
// the given in-flight file set. A task with no affected files never
// conflicts.
func (c *ConflictChecker) CanSchedule(task *models.Task, inFlight map[string]bool) bool {
	for _, f := range task.AffectedFiles {
		if inFlight[f] {
			return false
		}
	}
	return true
}

// ConflictingFiles returns the task's files that overlap the in-flight
// set, for logging.
func (c *ConflictChecker) ConflictingFiles(task *models.Task, inFlight map[string]bool) []string {
	var overlap []string
	for _, f := range task.AffectedFiles {
		if inFlight[f] {
			overlap = append(overlap, f)
		}
	}
	return overlap
}
