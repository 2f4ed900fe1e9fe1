package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/seanmigrate/foreman/pkg/models"
)

const testOrg = "org-test"

// setupTestDB opens a migrated database in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateGoal(t *testing.T, db *DB, title string) *models.Goal {
	t.Helper()
	g := &models.Goal{Title: title, OrganizationID: testOrg}
	if err := db.CreateGoal(context.Background(), g); err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return g
}

func mustCreateProject(t *testing.T, db *DB, goalID, name string) *models.Project {
	t.Helper()
	p := &models.Project{Name: name, GoalID: goalID, OrganizationID: testOrg}
	if err := db.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func mustCreateTask(t *testing.T, db *DB, projectID string, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		Title:          "work item",
		Type:           models.TaskTypeImplementation,
		Status:         models.TaskStatusReady,
		Priority:       models.PriorityP2,
		Depth:          1,
		OrganizationID: testOrg,
		ProjectID:      projectID,
	}
	if mutate != nil {
		mutate(task)
	}
	if err := db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func mustCreateWorker(t *testing.T, db *DB, name, teamID string) *models.Worker {
	t.Helper()
	w := &models.Worker{Name: name, TeamID: teamID, OrganizationID: testOrg}
	if err := db.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

// taskFixture creates a goal, project, and one ready task in one call.
func taskFixture(t *testing.T, db *DB, mutate func(*models.Task)) (*models.Project, *models.Task) {
	t.Helper()
	g := mustCreateGoal(t, db, "fixture goal")
	p := mustCreateProject(t, db, g.ID, "fixture project")
	return p, mustCreateTask(t, db, p.ID, mutate)
}
