package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanmigrate/foreman/pkg/models"
)

const goalColumns = `id, title, description, goal_type, priority, status, target_date,
	progress_percent, current_value, auto_decomposed, decomposition_strategy,
	parent_goal_id, organization_id, team_id, owner_worker_id, created_at, completed_at`

// CreateGoal inserts a new goal. A zero ID is assigned a UUID and a zero
// creation time is set to now.
func (db *DB) CreateGoal(ctx context.Context, g *models.Goal) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	if g.Status == "" {
		g.Status = models.GoalStatusActive
	}
	if !g.Status.Valid() {
		return fmt.Errorf("unknown goal status %q", g.Status)
	}
	if !g.Priority.Valid() {
		g.Priority = models.PriorityP2
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO goals (id, title, description, goal_type, priority, status, target_date,
			progress_percent, current_value, auto_decomposed, decomposition_strategy,
			parent_goal_id, organization_id, team_id, owner_worker_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Title, nullable(g.Description), nullable(g.GoalType), int(g.Priority), string(g.Status),
		nullableTime(g.TargetDate), g.ProgressPercent, nullable(g.CurrentValue),
		boolToInt(g.AutoDecomposed), nullable(g.DecompositionStrategy), nullable(g.ParentGoalID),
		g.OrganizationID, nullable(g.TeamID), nullable(g.OwnerWorkerID),
		formatTime(g.CreatedAt), nullableTime(g.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func scanGoal(row interface{ Scan(...any) error }) (*models.Goal, error) {
	var g models.Goal
	var desc, goalType, currentValue, strategy, parentID, teamID, ownerID sql.NullString
	var targetDate, completedAt sql.NullString
	var priority, autoDecomposed int
	var createdAt string

	err := row.Scan(&g.ID, &g.Title, &desc, &goalType, &priority, &g.Status, &targetDate,
		&g.ProgressPercent, &currentValue, &autoDecomposed, &strategy,
		&parentID, &g.OrganizationID, &teamID, &ownerID, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan goal: %w", err)
	}

	g.Description = desc.String
	g.GoalType = goalType.String
	g.Priority = models.Priority(priority)
	g.TargetDate = parseNullableTime(targetDate)
	g.CurrentValue = currentValue.String
	g.AutoDecomposed = autoDecomposed != 0
	g.DecompositionStrategy = strategy.String
	g.ParentGoalID = parentID.String
	g.TeamID = teamID.String
	g.OwnerWorkerID = ownerID.String
	g.CreatedAt, _ = parseTime(createdAt)
	g.CompletedAt = parseNullableTime(completedAt)
	return &g, nil
}

// GetGoal returns the goal with the given ID.
func (db *DB) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	return scanGoal(row)
}

// ListGoals returns all goals in an organization, most recent first.
func (db *DB) ListGoals(ctx context.Context, orgID string) ([]*models.Goal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE organization_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

// GoalsAwaitingDecomposition returns active goals that have not yet been
// auto-decomposed, oldest first, up to limit. This is the decomposition
// sweep's selection query.
func (db *DB) GoalsAwaitingDecomposition(ctx context.Context, orgID string, limit int) ([]*models.Goal, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+goalColumns+` FROM goals
		WHERE organization_id = ? AND status = ? AND auto_decomposed = 0
		ORDER BY priority ASC, created_at ASC
		LIMIT ?`, orgID, string(models.GoalStatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("goals awaiting decomposition: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

func collectGoals(rows *sql.Rows) ([]*models.Goal, error) {
	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// MarkDecomposed flips auto_decomposed exactly once and records the
// strategy used. Returns false when another sweep already claimed the
// goal, which the caller treats as a normal skip.
func (db *DB) MarkDecomposed(ctx context.Context, goalID, strategy string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE goals SET auto_decomposed = 1, decomposition_strategy = ?
		WHERE id = ? AND auto_decomposed = 0`, strategy, goalID)
	if err != nil {
		return false, fmt.Errorf("mark decomposed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordProgress appends a progress record and updates the goal's fields.
// Reaching 100 percent completes the goal and stamps completed_at; any
// smaller value leaves the status untouched.
func (db *DB) RecordProgress(ctx context.Context, rec *models.GoalProgressRecord) error {
	if rec.ProgressPercent < 0 || rec.ProgressPercent > 100 {
		return fmt.Errorf("progress percent %d out of range", rec.ProgressPercent)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO goal_progress (id, goal_id, progress_percent, current_value, note, recorded_by, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.GoalID, rec.ProgressPercent, nullable(rec.CurrentValue),
			nullable(rec.Note), nullable(rec.RecordedBy), formatTime(rec.RecordedAt))
		if err != nil {
			return fmt.Errorf("insert progress record: %w", err)
		}

		if rec.ProgressPercent >= 100 {
			res, err := tx.ExecContext(ctx, `
				UPDATE goals SET progress_percent = ?, current_value = COALESCE(?, current_value),
					status = ?, completed_at = ?
				WHERE id = ?`,
				rec.ProgressPercent, nullable(rec.CurrentValue),
				string(models.GoalStatusCompleted), formatTime(rec.RecordedAt), rec.GoalID)
			if err != nil {
				return fmt.Errorf("complete goal: %w", err)
			}
			return requireRow(res, rec.GoalID)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE goals SET progress_percent = ?, current_value = COALESCE(?, current_value)
			WHERE id = ?`,
			rec.ProgressPercent, nullable(rec.CurrentValue), rec.GoalID)
		if err != nil {
			return fmt.Errorf("update goal progress: %w", err)
		}
		return requireRow(res, rec.GoalID)
	})
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return nil
}

// ProgressHistory returns all progress records for a goal, oldest first.
func (db *DB) ProgressHistory(ctx context.Context, goalID string) ([]*models.GoalProgressRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, goal_id, progress_percent, current_value, note, recorded_by, recorded_at
		FROM goal_progress WHERE goal_id = ? ORDER BY recorded_at ASC`, goalID)
	if err != nil {
		return nil, fmt.Errorf("progress history: %w", err)
	}
	defer rows.Close()

	var records []*models.GoalProgressRecord
	for rows.Next() {
		var r models.GoalProgressRecord
		var currentValue, note, recordedBy sql.NullString
		var recordedAt string
		if err := rows.Scan(&r.ID, &r.GoalID, &r.ProgressPercent, &currentValue, &note, &recordedBy, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan progress record: %w", err)
		}
		r.CurrentValue = currentValue.String
		r.Note = note.String
		r.RecordedBy = recordedBy.String
		r.RecordedAt, _ = parseTime(recordedAt)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// ChildGoals returns the direct children of a goal.
func (db *DB) ChildGoals(ctx context.Context, goalID string) ([]*models.Goal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE parent_goal_id = ? ORDER BY created_at ASC`, goalID)
	if err != nil {
		return nil, fmt.Errorf("child goals: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

// AggregatedProgress computes a goal's effective progress: the unweighted
// average of its direct children's progress, or the goal's own value when
// it has no children.
func (db *DB) AggregatedProgress(ctx context.Context, goalID string) (int, error) {
	children, err := db.ChildGoals(ctx, goalID)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		g, err := db.GetGoal(ctx, goalID)
		if err != nil {
			return 0, err
		}
		return g.ProgressPercent, nil
	}

	total := 0
	for _, c := range children {
		total += c.ProgressPercent
	}
	return total / len(children), nil
}

// DeleteGoal removes a goal. Owned projects, tasks, and progress records
// cascade with it.
func (db *DB) DeleteGoal(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return requireRow(res, id)
}
