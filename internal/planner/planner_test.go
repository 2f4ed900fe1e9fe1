package planner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

const testOrg = "org-test"

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fixtureProject(t *testing.T, db *store.DB) *models.Project {
	t.Helper()
	ctx := context.Background()
	g := &models.Goal{Title: "goal", OrganizationID: testOrg}
	if err := db.CreateGoal(ctx, g); err != nil {
		t.Fatalf("create goal: %v", err)
	}
	p := &models.Project{Name: "project", GoalID: g.ID, OrganizationID: testOrg}
	if err := db.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func addTask(t *testing.T, db *store.DB, projectID string, mutate func(*models.Task)) *models.Task {
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

func addWorker(t *testing.T, db *store.DB, name, teamID string) *models.Worker {
	t.Helper()
	w := &models.Worker{Name: name, TeamID: teamID, OrganizationID: testOrg}
	if err := db.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func TestAssignProjectRoundRobins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	addWorker(t, db, "alice", "")
	addWorker(t, db, "bob", "")
	for i := 0; i < 4; i++ {
		addTask(t, db, proj.ID, nil)
	}

	p := New(db)
	assigned, total, err := p.AssignProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("AssignProject: %v", err)
	}
	if assigned != 4 || total != 4 {
		t.Fatalf("assigned %d/%d, want 4/4", assigned, total)
	}

	perWorker := make(map[string]int)
	tasks, _ := db.TasksForProject(ctx, proj.ID)
	for _, task := range tasks {
		if task.AssignedWorkerID == "" {
			t.Errorf("task %s left unassigned", task.ID)
			continue
		}
		perWorker[task.AssignedWorkerID]++
	}
	for id, n := range perWorker {
		if n != 2 {
			t.Errorf("worker %s got %d tasks, want an even 2", id, n)
		}
	}
}

func TestAssignProjectPrefersTaskTeam(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)

	if err := db.CreateTeam(ctx, &models.Team{ID: "team-be", Name: "Backend", OrganizationID: testOrg}); err != nil {
		t.Fatalf("create team: %v", err)
	}
	teamWorker := addWorker(t, db, "backend-dev", "team-be")
	addWorker(t, db, "floater", "")

	task := addTask(t, db, proj.ID, func(task *models.Task) {
		task.AssignedTeamID = "team-be"
	})

	p := New(db)
	if _, _, err := p.AssignProject(ctx, proj.ID); err != nil {
		t.Fatalf("AssignProject: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.AssignedWorkerID != teamWorker.ID {
		t.Errorf("assigned to %q, want the team's worker %q", got.AssignedWorkerID, teamWorker.ID)
	}
}

func TestAssignProjectSkipsEpicsAndAssigned(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	w := addWorker(t, db, "alice", "")

	epic := addTask(t, db, proj.ID, func(task *models.Task) {
		task.Type = models.TaskTypeTeamEpic
		task.Depth = 0
	})
	taken := addTask(t, db, proj.ID, func(task *models.Task) {
		task.AssignedWorkerID = w.ID
	})
	open := addTask(t, db, proj.ID, nil)

	p := New(db)
	assigned, total, err := p.AssignProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("AssignProject: %v", err)
	}
	if assigned != 1 || total != 1 {
		t.Errorf("assigned %d/%d, want only the open task considered", assigned, total)
	}

	gotEpic, _ := db.GetTask(ctx, epic.ID)
	if gotEpic.AssignedWorkerID != "" {
		t.Error("epic must stay unassigned")
	}
	gotTaken, _ := db.GetTask(ctx, taken.ID)
	if gotTaken.AssignedWorkerID != w.ID {
		t.Error("already assigned task must keep its worker")
	}
	gotOpen, _ := db.GetTask(ctx, open.ID)
	if gotOpen.AssignedWorkerID != w.ID {
		t.Errorf("open task assigned to %q, want %q", gotOpen.AssignedWorkerID, w.ID)
	}
}

func TestAssignProjectNoIdleWorkers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	addTask(t, db, proj.ID, nil)

	p := New(db)
	assigned, total, err := p.AssignProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("AssignProject: %v", err)
	}
	if assigned != 0 || total != 1 {
		t.Errorf("assigned %d/%d, want 0/1 with no workers", assigned, total)
	}
}
