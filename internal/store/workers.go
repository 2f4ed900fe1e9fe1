package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanmigrate/foreman/pkg/models"
)

// CreateWorker inserts a new worker.
func (db *DB) CreateWorker(ctx context.Context, w *models.Worker) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	if w.Status == "" {
		w.Status = models.WorkerStatusIdle
	}
	if w.MaxConcurrentTasks <= 0 {
		w.MaxConcurrentTasks = 1
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO workers (id, name, status, role_id, team_id, max_concurrent_tasks, organization_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, string(w.Status), nullable(w.RoleID), nullable(w.TeamID),
		w.MaxConcurrentTasks, w.OrganizationID, formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

func scanWorker(row interface{ Scan(...any) error }) (*models.Worker, error) {
	var w models.Worker
	var roleID, teamID sql.NullString
	var createdAt string

	err := row.Scan(&w.ID, &w.Name, &w.Status, &roleID, &teamID, &w.MaxConcurrentTasks,
		&w.OrganizationID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}

	w.RoleID = roleID.String
	w.TeamID = teamID.String
	w.CreatedAt, _ = parseTime(createdAt)
	return &w, nil
}

const workerColumns = `id, name, status, role_id, team_id, max_concurrent_tasks, organization_id, created_at`

// GetWorker returns the worker with the given ID.
func (db *DB) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	return scanWorker(row)
}

// ListWorkers returns all workers in an organization.
func (db *DB) ListWorkers(ctx context.Context, orgID string) ([]*models.Worker, error) {
	return db.queryWorkers(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE organization_id = ? ORDER BY created_at ASC`, orgID)
}

// IdleWorkersForTeam returns the idle workers in a team.
func (db *DB) IdleWorkersForTeam(ctx context.Context, teamID string) ([]*models.Worker, error) {
	return db.queryWorkers(ctx, `
		SELECT `+workerColumns+` FROM workers
		WHERE team_id = ? AND status = ? ORDER BY created_at ASC`,
		teamID, string(models.WorkerStatusIdle))
}

func (db *DB) queryWorkers(ctx context.Context, query string, args ...any) ([]*models.Worker, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// ClaimWorker atomically transitions a worker from IDLE to BUSY.
// Returns false when the worker was not idle.
func (db *DB) ClaimWorker(ctx context.Context, workerID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE workers SET status = ? WHERE id = ? AND status = ?`,
		string(models.WorkerStatusBusy), workerID, string(models.WorkerStatusIdle))
	if err != nil {
		return false, fmt.Errorf("claim worker: %w", err)
	}
	return oneRow(res)
}

// ReleaseWorker returns a worker to IDLE after its task cycle ends.
func (db *DB) ReleaseWorker(ctx context.Context, workerID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE workers SET status = ? WHERE id = ?`,
		string(models.WorkerStatusIdle), workerID)
	if err != nil {
		return fmt.Errorf("release worker: %w", err)
	}
	return nil
}

// SetWorkerStatus sets a worker's status unconditionally.
func (db *DB) SetWorkerStatus(ctx context.Context, workerID string, status models.WorkerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown worker status %q", status)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE workers SET status = ? WHERE id = ?`, string(status), workerID)
	if err != nil {
		return fmt.Errorf("set worker status: %w", err)
	}
	return requireRow(res, workerID)
}

// DeleteWorker removes a worker. Used to clean up temporary reviewer
// workers once a review sweep ends.
func (db *DB) DeleteWorker(ctx context.Context, workerID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	return nil
}

// CreateTeam inserts a new team.
func (db *DB) CreateTeam(ctx context.Context, t *models.Team) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	skills, err := encodeList(t.SkillTags)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO teams (id, name, description, manager_worker_id, skill_tags, organization_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullable(t.Description), nullable(t.ManagerWorkerID), skills,
		t.OrganizationID, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

// SetTeamManager designates the worker responsible for the team's
// hierarchical review.
func (db *DB) SetTeamManager(ctx context.Context, teamID, workerID string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE teams SET manager_worker_id = ? WHERE id = ?`, workerID, teamID)
	if err != nil {
		return fmt.Errorf("set team manager: %w", err)
	}
	return requireRow(res, teamID)
}

func scanTeam(row interface{ Scan(...any) error }) (*models.Team, error) {
	var t models.Team
	var desc, managerID, skills sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.Name, &desc, &managerID, &skills, &t.OrganizationID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan team: %w", err)
	}

	t.Description = desc.String
	t.ManagerWorkerID = managerID.String
	t.SkillTags = decodeList(skills)
	t.CreatedAt, _ = parseTime(createdAt)
	return &t, nil
}

const teamColumns = `id, name, description, manager_worker_id, skill_tags, organization_id, created_at`

// GetTeam returns the team with the given ID.
func (db *DB) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id)
	return scanTeam(row)
}

// ListTeams returns all teams in an organization, oldest first. Ordering
// matters: affinity ties route to the first team.
func (db *DB) ListTeams(ctx context.Context, orgID string) ([]*models.Team, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE organization_id = ? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// CountWorkers returns the worker headcount for an organization.
func (db *DB) CountWorkers(ctx context.Context, orgID string) (int, error) {
	var n int
	row := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers WHERE organization_id = ?`, orgID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count workers: %w", err)
	}
	return n, nil
}
