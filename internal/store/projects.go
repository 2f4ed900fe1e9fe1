package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanmigrate/foreman/pkg/models"
)

const projectColumns = `id, name, description, status, goal_id, working_directory,
	repository_url, organization_id, created_at`

// CreateProject inserts a new project. An unset working directory or
// repository URL is inherited from the most recent sibling project in the
// organization, if one exists.
func (db *DB) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusActive
	}

	if p.WorkingDirectory == "" || p.RepositoryURL == "" {
		if sibling, err := db.latestProject(ctx, p.OrganizationID); err == nil {
			if p.WorkingDirectory == "" {
				p.WorkingDirectory = sibling.WorkingDirectory
			}
			if p.RepositoryURL == "" {
				p.RepositoryURL = sibling.RepositoryURL
			}
		}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, goal_id, working_directory,
			repository_url, organization_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullable(p.Description), string(p.Status), p.GoalID,
		nullable(p.WorkingDirectory), nullable(p.RepositoryURL), p.OrganizationID,
		formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	var p models.Project
	var desc, workDir, repoURL sql.NullString
	var createdAt string

	err := row.Scan(&p.ID, &p.Name, &desc, &p.Status, &p.GoalID, &workDir, &repoURL,
		&p.OrganizationID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	p.Description = desc.String
	p.WorkingDirectory = workDir.String
	p.RepositoryURL = repoURL.String
	p.CreatedAt, _ = parseTime(createdAt)
	return &p, nil
}

// GetProject returns the project with the given ID.
func (db *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns projects in an organization, most recent first,
// up to limit. A limit of 0 means no cap.
func (db *DB) ListProjects(ctx context.Context, orgID string, limit int) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE organization_id = ? ORDER BY created_at DESC`
	args := []any{orgID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectsForGoal returns the projects owned by a goal.
func (db *DB) ProjectsForGoal(ctx context.Context, goalID string) ([]*models.Project, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE goal_id = ? ORDER BY created_at ASC`, goalID)
	if err != nil {
		return nil, fmt.Errorf("projects for goal: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// latestProject returns the most recently created project in an org.
func (db *DB) latestProject(ctx context.Context, orgID string) (*models.Project, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE organization_id = ? ORDER BY created_at DESC LIMIT 1`, orgID)
	return scanProject(row)
}

// DeleteProject removes a project. Owned tasks cascade with it.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res, id)
}
