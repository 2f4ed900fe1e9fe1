package pool

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
		Title:          "task",
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

func addWorker(t *testing.T, db *store.DB, name string) *models.Worker {
	t.Helper()
	w := &models.Worker{Name: name, OrganizationID: testOrg}
	if err := db.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func TestPullNextTaskQueueOrder(t *testing.T) {
	db := setupTestDB(t)
	p := fixtureProject(t, db)
	addTask(t, db, p.ID, func(task *models.Task) { task.Priority = models.PriorityP3 })
	high := addTask(t, db, p.ID, func(task *models.Task) { task.Priority = models.PriorityP1 })
	w := addWorker(t, db, "alice")

	pool := New(db)
	got, reason, err := pool.PullNextTask(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got == nil || got.ID != high.ID {
		t.Fatalf("pulled %v, want the P1 task", got)
	}
	if reason != ReasonQueueOrder {
		t.Errorf("reason = %q, want %q", reason, ReasonQueueOrder)
	}
	if got.Status != models.TaskStatusInProgress || got.AssignedWorkerID != w.ID {
		t.Errorf("claimed task not updated: status=%s worker=%q", got.Status, got.AssignedWorkerID)
	}

	worker, _ := db.GetWorker(context.Background(), w.ID)
	if worker.Status != models.WorkerStatusBusy {
		t.Errorf("worker status = %q, want busy", worker.Status)
	}
}

func TestPullNextTaskPrefersDirectAssignment(t *testing.T) {
	db := setupTestDB(t)
	p := fixtureProject(t, db)
	w := addWorker(t, db, "alice")

	addTask(t, db, p.ID, func(task *models.Task) { task.Priority = models.PriorityP1 })
	mine := addTask(t, db, p.ID, func(task *models.Task) {
		task.Priority = models.PriorityP4
		task.AssignedWorkerID = w.ID
	})

	pool := New(db)
	got, reason, err := pool.PullNextTask(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got == nil || got.ID != mine.ID {
		t.Fatalf("pulled %v, want the directly assigned task despite lower priority", got)
	}
	if reason != ReasonDirectlyAssigned {
		t.Errorf("reason = %q, want %q", reason, ReasonDirectlyAssigned)
	}
}

func TestPullNextTaskSkipsFileConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)

	running := addTask(t, db, p.ID, func(task *models.Task) {
		task.AffectedFiles = []string{"internal/auth/session.go"}
	})
	if won, _ := db.ClaimTask(ctx, running.ID, "other"); !won {
		t.Fatal("claim failed")
	}

	addTask(t, db, p.ID, func(task *models.Task) {
		task.Priority = models.PriorityP1
		task.AffectedFiles = []string{"internal/auth/session.go", "internal/auth/token.go"}
	})
	safe := addTask(t, db, p.ID, func(task *models.Task) {
		task.Priority = models.PriorityP3
		task.AffectedFiles = []string{"docs/auth.md"}
	})

	w := addWorker(t, db, "alice")
	pool := New(db)
	got, _, err := pool.PullNextTask(ctx, w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got == nil || got.ID != safe.ID {
		t.Fatalf("pulled %v, want the non-conflicting task", got)
	}
}

func TestPullNextTaskAssignedTasksRespectConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)

	running := addTask(t, db, p.ID, func(task *models.Task) {
		task.AffectedFiles = []string{"internal/core/engine.go"}
	})
	if won, _ := db.ClaimTask(ctx, running.ID, "other"); !won {
		t.Fatal("claim failed")
	}

	w := addWorker(t, db, "alice")
	conflicting := addTask(t, db, p.ID, func(task *models.Task) {
		task.AffectedFiles = []string{"internal/core/engine.go"}
		task.AssignedWorkerID = w.ID
	})

	pool := New(db)
	got, reason, err := pool.PullNextTask(ctx, w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got != nil {
		t.Fatalf("pulled %v (reason %q); an assigned task must not override the file-conflict filter", got, reason)
	}
	if reason != ReasonNoTasks {
		t.Errorf("reason = %q, want %q", reason, ReasonNoTasks)
	}

	still, _ := db.GetTask(ctx, conflicting.ID)
	if still.Status != models.TaskStatusReady {
		t.Errorf("conflicting task status = %q, want ready until the file frees up", still.Status)
	}

	// The same pull succeeds once the in-progress work is done.
	if ok, err := db.TransitionTask(ctx, running.ID, models.TaskStatusInProgress, models.TaskStatusReadyForReview); err != nil || !ok {
		t.Fatalf("finish running task: ok=%v err=%v", ok, err)
	}
	got, reason, err = pool.PullNextTask(ctx, w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got == nil || got.ID != conflicting.ID || reason != ReasonDirectlyAssigned {
		t.Errorf("got %v reason %q, want the assigned task once the conflict clears", got, reason)
	}
}

func TestPullNextTaskBackpressure(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)

	running := addTask(t, db, p.ID, func(task *models.Task) {
		task.AffectedFiles = []string{"main.go"}
	})
	if won, _ := db.ClaimTask(ctx, running.ID, "other"); !won {
		t.Fatal("claim failed")
	}
	addTask(t, db, p.ID, func(task *models.Task) {
		task.AffectedFiles = []string{"main.go"}
	})

	w := addWorker(t, db, "alice")
	pool := New(db)
	got, reason, err := pool.PullNextTask(ctx, w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got != nil {
		t.Fatalf("pulled %v, want nil under total conflict", got)
	}
	if reason != ReasonNoTasks {
		t.Errorf("reason = %q, want %q", reason, ReasonNoTasks)
	}

	// The worker must return to the idle pool when nothing was pulled.
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusIdle {
		t.Errorf("worker status = %q, want idle again", worker.Status)
	}
}

func TestPullNextTaskBusyWorker(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	addTask(t, db, p.ID, nil)
	w := addWorker(t, db, "alice")
	if won, _ := db.ClaimWorker(ctx, w.ID); !won {
		t.Fatal("claim worker failed")
	}

	pool := New(db)
	got, reason, err := pool.PullNextTask(ctx, w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got != nil || reason != ReasonWorkerBusy {
		t.Errorf("got task=%v reason=%q, want no pull for a busy worker", got, reason)
	}
}

func TestPullNextTaskSkipsUnmetDependencies(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	dep := addTask(t, db, p.ID, nil)
	addTask(t, db, p.ID, func(task *models.Task) {
		task.Priority = models.PriorityP1
		task.DependsOn = []string{dep.ID}
		task.Status = models.TaskStatusPending
	})

	other := addWorker(t, db, "other")
	w := addWorker(t, db, "alice")
	pool := New(db)

	// dep gets pulled first (the P1 task's dependency is unmet).
	first, _, err := pool.PullNextTask(ctx, other.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if first == nil || first.ID != dep.ID {
		t.Fatalf("pulled %v, want the dependency while the P1 task is gated", first)
	}

	got, reason, err := pool.PullNextTask(ctx, w.ID)
	if err != nil {
		t.Fatalf("PullNextTask: %v", err)
	}
	if got != nil {
		t.Fatalf("pulled %v, want nothing while dependencies are unmet", got)
	}
	if reason != ReasonNoTasks {
		t.Errorf("reason = %q, want %q", reason, ReasonNoTasks)
	}
}

func TestConflictChecker(t *testing.T) {
	c := NewConflictChecker()
	inFlight := map[string]bool{"a.go": true, "b.go": true}

	tests := []struct {
		name  string
		files []string
		want  bool
	}{
		{"disjoint", []string{"c.go"}, true},
		{"overlap", []string{"b.go", "c.go"}, false},
		{"no files declared", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &models.Task{AffectedFiles: tt.files}
			if got := c.CanSchedule(task, inFlight); got != tt.want {
				t.Errorf("CanSchedule(%v) = %v, want %v", tt.files, got, tt.want)
			}
		})
	}
}
