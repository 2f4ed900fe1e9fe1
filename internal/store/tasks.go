package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanmigrate/foreman/pkg/models"
)

const taskColumns = `id, title, description, type, status, priority, depth, parent_task_id,
	depends_on, affected_files, assigned_worker_id, assigned_team_id, reviewer_worker_id,
	retry_count, needs_planning, acceptance_criteria, organization_id, project_id,
	last_error, last_output, created_at, completed_at`

// CreateTask inserts a new task after checking creation invariants:
// depth within MaxDepth, parent child count within MaxSubtasksPerTask,
// and dependency references resolving inside the same project.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if err := t.ValidateNew(); err != nil {
		return err
	}

	if t.ParentTaskID != "" {
		parent, err := db.GetTask(ctx, t.ParentTaskID)
		if err != nil {
			return fmt.Errorf("parent task %s: %w", t.ParentTaskID, err)
		}
		if t.Depth <= parent.Depth {
			t.Depth = parent.Depth + 1
		}
		if t.Depth > models.MaxDepth {
			return fmt.Errorf("task depth %d exceeds maximum %d", t.Depth, models.MaxDepth)
		}
		n, err := db.CountChildren(ctx, t.ParentTaskID)
		if err != nil {
			return err
		}
		if n >= models.MaxSubtasksPerTask {
			return fmt.Errorf("parent task %s already has %d subtasks (max %d)",
				t.ParentTaskID, n, models.MaxSubtasksPerTask)
		}
	}

	for _, depID := range t.DependsOn {
		dep, err := db.GetTask(ctx, depID)
		if err != nil {
			return fmt.Errorf("dependency %s: %w", depID, err)
		}
		if dep.ProjectID != t.ProjectID {
			return fmt.Errorf("dependency %s belongs to project %s, not %s", depID, dep.ProjectID, t.ProjectID)
		}
	}

	dependsOn, err := encodeList(t.DependsOn)
	if err != nil {
		return err
	}
	affected, err := encodeList(t.AffectedFiles)
	if err != nil {
		return err
	}
	criteria, err := encodeList(t.AcceptanceCriteria)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, type, status, priority, depth, parent_task_id,
			depends_on, affected_files, assigned_worker_id, assigned_team_id, reviewer_worker_id,
			retry_count, needs_planning, acceptance_criteria, organization_id, project_id,
			last_error, last_output, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullable(t.Description), string(t.Type), string(t.Status),
		int(t.Priority), t.Depth, nullable(t.ParentTaskID), dependsOn, affected,
		nullable(t.AssignedWorkerID), nullable(t.AssignedTeamID), nullable(t.ReviewerWorkerID),
		t.RetryCount, boolToInt(t.NeedsPlanning), criteria, t.OrganizationID, t.ProjectID,
		nullable(t.LastError), nullable(t.LastOutput), formatTime(t.CreatedAt), nullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var desc, parentID, assignedWorker, assignedTeam, reviewer, lastErr, lastOutput sql.NullString
	var dependsOn, affected, criteria sql.NullString
	var completedAt sql.NullString
	var priority, needsPlanning int
	var createdAt string

	err := row.Scan(&t.ID, &t.Title, &desc, &t.Type, &t.Status, &priority, &t.Depth, &parentID,
		&dependsOn, &affected, &assignedWorker, &assignedTeam, &reviewer,
		&t.RetryCount, &needsPlanning, &criteria, &t.OrganizationID, &t.ProjectID,
		&lastErr, &lastOutput, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Description = desc.String
	t.Priority = models.Priority(priority)
	t.ParentTaskID = parentID.String
	t.DependsOn = decodeList(dependsOn)
	t.AffectedFiles = decodeList(affected)
	t.AssignedWorkerID = assignedWorker.String
	t.AssignedTeamID = assignedTeam.String
	t.ReviewerWorkerID = reviewer.String
	t.NeedsPlanning = needsPlanning != 0
	t.AcceptanceCriteria = decodeList(criteria)
	t.LastError = lastErr.String
	t.LastOutput = lastOutput.String
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// GetTask returns the task with the given ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TasksForProject returns all tasks in a project, oldest first.
func (db *DB) TasksForProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	return db.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at ASC`, projectID)
}

// TasksForOrg returns all tasks in an organization, oldest first.
func (db *DB) TasksForOrg(ctx context.Context, orgID string) ([]*models.Task, error) {
	return db.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE organization_id = ? ORDER BY created_at ASC`, orgID)
}

// CountTasksByStatus returns task counts per status for an organization.
func (db *DB) CountTasksByStatus(ctx context.Context, orgID string) (map[models.TaskStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks WHERE organization_id = ? GROUP BY status`, orgID)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountChildren returns the number of direct children of a task.
func (db *DB) CountChildren(ctx context.Context, parentID string) (int, error) {
	var n int
	row := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_task_id = ?`, parentID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return n, nil
}

// PoolCandidates returns tasks eligible for worker pickup in an org:
// status READY or PENDING, not team epics, ordered by priority then
// creation time. Dependency readiness is checked by the caller.
func (db *DB) PoolCandidates(ctx context.Context, orgID string) ([]*models.Task, error) {
	return db.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND status IN (?, ?) AND type != ?
		ORDER BY priority ASC, created_at ASC`,
		orgID, string(models.TaskStatusReady), string(models.TaskStatusPending),
		string(models.TaskTypeTeamEpic))
}

// TasksAwaitingExecution is the execution sweep's selection: READY or
// PENDING tasks with a worker already designated, excluding team epics.
func (db *DB) TasksAwaitingExecution(ctx context.Context, orgID string, limit int) ([]*models.Task, error) {
	return db.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND status IN (?, ?) AND assigned_worker_id IS NOT NULL AND type != ?
		ORDER BY priority ASC, created_at ASC
		LIMIT ?`,
		orgID, string(models.TaskStatusReady), string(models.TaskStatusPending),
		string(models.TaskTypeTeamEpic), limit)
}

// TasksAwaitingManagerReview is the manager-review sweep's selection:
// READY_FOR_REVIEW tasks with a reviewer set.
func (db *DB) TasksAwaitingManagerReview(ctx context.Context, orgID string, limit int) ([]*models.Task, error) {
	return db.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND status = ? AND reviewer_worker_id IS NOT NULL
		ORDER BY created_at ASC
		LIMIT ?`,
		orgID, string(models.TaskStatusReadyForReview), limit)
}

// TasksAwaitingSelfReview is the task-review sweep's selection:
// IN_REVIEW tasks with an assigned worker.
func (db *DB) TasksAwaitingSelfReview(ctx context.Context, orgID string, limit int) ([]*models.Task, error) {
	return db.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND status = ? AND assigned_worker_id IS NOT NULL
		ORDER BY created_at ASC
		LIMIT ?`,
		orgID, string(models.TaskStatusInReview), limit)
}

// EpicsAwaitingPlanning is the decomposition sweep's second selection:
// pending team epics whose planning pass has not run yet.
func (db *DB) EpicsAwaitingPlanning(ctx context.Context, orgID string, limit int) ([]*models.Task, error) {
	return db.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND type = ? AND status = ? AND needs_planning = 1
		ORDER BY priority ASC, created_at ASC
		LIMIT ?`,
		orgID, string(models.TaskTypeTeamEpic), string(models.TaskStatusPending), limit)
}

// MarkEpicPlanned clears a team epic's planning flag, winning at most
// once. A false return without error means another sweep planned it
// first.
func (db *DB) MarkEpicPlanned(ctx context.Context, taskID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET needs_planning = 0 WHERE id = ? AND needs_planning = 1`, taskID)
	if err != nil {
		return false, fmt.Errorf("mark epic planned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DependenciesSatisfied reports whether every dependency of the task has
// completed.
func (db *DB) DependenciesSatisfied(ctx context.Context, t *models.Task) (bool, error) {
	for _, depID := range t.DependsOn {
		dep, err := db.GetTask(ctx, depID)
		if err != nil {
			return false, fmt.Errorf("dependency %s: %w", depID, err)
		}
		if dep.Status != models.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// FilesInProgress returns the union of affected files across all
// IN_PROGRESS tasks in a project. This is the conflict set a candidate
// task must not intersect.
func (db *DB) FilesInProgress(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT affected_files FROM tasks
		WHERE project_id = ? AND status = ?`,
		projectID, string(models.TaskStatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("files in progress: %w", err)
	}
	defer rows.Close()

	files := make(map[string]bool)
	for rows.Next() {
		var col sql.NullString
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan affected files: %w", err)
		}
		for _, f := range decodeList(col) {
			files[f] = true
		}
	}
	return files, rows.Err()
}

// ClaimTask atomically transitions a task from READY or PENDING to
// IN_PROGRESS and assigns the worker. Returns false when another worker
// or sweep already claimed the task.
func (db *DB) ClaimTask(ctx context.Context, taskID, workerID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, assigned_worker_id = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.TaskStatusInProgress), workerID, taskID,
		string(models.TaskStatusReady), string(models.TaskStatusPending))
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return oneRow(res)
}

// TransitionTask atomically moves a task from one status to another.
// Returns false when the task was not in the expected status, which
// callers treat as a normal skip. Completion stamps completed_at.
func (db *DB) TransitionTask(ctx context.Context, taskID string, from, to models.TaskStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	var res sql.Result
	var err error
	if to == models.TaskStatusCompleted {
		res, err = db.conn.ExecContext(ctx, `
			UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(to), formatTime(time.Now()), taskID, string(from))
	} else {
		res, err = db.conn.ExecContext(ctx, `
			UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
			string(to), taskID, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}
	return oneRow(res)
}

// FailTask records an execution failure for an IN_PROGRESS task.
// Retryable failures consume one retry and requeue to READY while budget
// remains; a failure arriving with the budget exhausted, or a fatal
// failure, blocks the task. Returns the resulting status, or false when
// the task was no longer in progress.
func (db *DB) FailTask(ctx context.Context, taskID, errMsg string, fatal bool) (models.TaskStatus, bool, error) {
	if fatal {
		// Fatal failures bypass the retry counter entirely.
		res, err := db.conn.ExecContext(ctx, `
			UPDATE tasks SET status = ?, last_error = ? WHERE id = ? AND status = ?`,
			string(models.TaskStatusBlocked), errMsg, taskID, string(models.TaskStatusInProgress))
		if err != nil {
			return "", false, fmt.Errorf("block task: %w", err)
		}
		ok, err := oneRow(res)
		return models.TaskStatusBlocked, ok, err
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, last_error = ? WHERE id = ? AND status = ?`,
		string(models.TaskStatusFailed), errMsg, taskID, string(models.TaskStatusInProgress))
	if err != nil {
		return "", false, fmt.Errorf("fail task: %w", err)
	}
	claimed, err := oneRow(res)
	if err != nil || !claimed {
		return "", false, err
	}

	// Requeue while budget remains; the failure that arrives with
	// retry_count already at the cap is the one that blocks.
	res, err = db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, retry_count = retry_count + 1
		WHERE id = ? AND status = ? AND retry_count < ?`,
		string(models.TaskStatusReady), taskID, string(models.TaskStatusFailed), models.MaxRetries)
	if err != nil {
		return "", false, fmt.Errorf("requeue task: %w", err)
	}
	requeued, err := oneRow(res)
	if err != nil {
		return "", false, err
	}
	if requeued {
		return models.TaskStatusReady, true, nil
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
		string(models.TaskStatusBlocked), taskID, string(models.TaskStatusFailed))
	if err != nil {
		return "", false, fmt.Errorf("block exhausted task: %w", err)
	}
	return models.TaskStatusBlocked, true, nil
}

// RedirectTask moves an IN_REVIEW task back to READY for a different
// worker, clearing the current assignment.
func (db *DB) RedirectTask(ctx context.Context, taskID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, assigned_worker_id = NULL
		WHERE id = ? AND status = ?`,
		string(models.TaskStatusReady), taskID, string(models.TaskStatusInReview))
	if err != nil {
		return false, fmt.Errorf("redirect task: %w", err)
	}
	return oneRow(res)
}

// ReworkTask requeues an IN_REVIEW task for the same worker with the
// reviewer's feedback attached. The task returns to READY so the next
// execution sweep re-runs it.
func (db *DB) ReworkTask(ctx context.Context, taskID, feedback string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, last_error = ?
		WHERE id = ? AND status = ?`,
		string(models.TaskStatusReady), feedback, taskID, string(models.TaskStatusInReview))
	if err != nil {
		return false, fmt.Errorf("rework task: %w", err)
	}
	return oneRow(res)
}

// SetTaskAssignment designates a worker for a task without transitioning
// its status. Used by the resource planner for initial assignment.
func (db *DB) SetTaskAssignment(ctx context.Context, taskID, workerID string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET assigned_worker_id = ? WHERE id = ?`, workerID, taskID)
	if err != nil {
		return fmt.Errorf("set task assignment: %w", err)
	}
	return requireRow(res, taskID)
}

// SetTaskReviewer designates a reviewer (team manager) for a task.
func (db *DB) SetTaskReviewer(ctx context.Context, taskID, reviewerID string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET reviewer_worker_id = ? WHERE id = ?`, reviewerID, taskID)
	if err != nil {
		return fmt.Errorf("set task reviewer: %w", err)
	}
	return requireRow(res, taskID)
}

// AddTaskDependencies appends dependency IDs to a task, skipping any it
// already has. Review-spawned follow-up work is wired in this way so the
// parent cannot be picked up again before its children complete.
func (db *DB) AddTaskDependencies(ctx context.Context, taskID string, depIDs []string) error {
	t, err := db.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(t.DependsOn))
	for _, id := range t.DependsOn {
		have[id] = true
	}
	merged := t.DependsOn
	for _, id := range depIDs {
		if !have[id] {
			merged = append(merged, id)
			have[id] = true
		}
	}
	encoded, err := encodeList(merged)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET depends_on = ? WHERE id = ?`, encoded, taskID)
	if err != nil {
		return fmt.Errorf("add task dependencies: %w", err)
	}
	return requireRow(res, taskID)
}

// SetTaskOutput records the output of the most recent execution attempt
// so the review cycle can inspect it later.
func (db *DB) SetTaskOutput(ctx context.Context, taskID, output string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET last_output = ? WHERE id = ?`, output, taskID)
	if err != nil {
		return fmt.Errorf("set task output: %w", err)
	}
	return requireRow(res, taskID)
}

// ResetTaskRetries is the manual operator override: clears the retry
// counter and requeues a BLOCKED task.
func (db *DB) ResetTaskRetries(ctx context.Context, taskID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, retry_count = 0, last_error = NULL
		WHERE id = ? AND status = ?`,
		string(models.TaskStatusReady), taskID, string(models.TaskStatusBlocked))
	if err != nil {
		return false, fmt.Errorf("reset task retries: %w", err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
