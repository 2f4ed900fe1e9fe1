package review

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

const testOrg = "org-test"

type fakeRunner struct {
	output string
	err    error
	calls  int
}

func (f *fakeRunner) Execute(ctx context.Context, prompt, systemPrompt string) (*brain.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &brain.Result{Output: f.output}, nil
}

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

func fixtureWorker(t *testing.T, db *store.DB, name string) *models.Worker {
	t.Helper()
	w := &models.Worker{Name: name, OrganizationID: testOrg}
	if err := db.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

// taskInReview drives a fresh task through claim, execution, and
// promotion so it sits IN_REVIEW with the given worker attached.
func taskInReview(t *testing.T, db *store.DB, projectID string, w *models.Worker, mutate func(*models.Task)) *models.Task {
	t.Helper()
	ctx := context.Background()
	task := taskReadyForReview(t, db, projectID, w, mutate)
	if ok, err := db.TransitionTask(ctx, task.ID, models.TaskStatusReadyForReview, models.TaskStatusInReview); err != nil || !ok {
		t.Fatalf("promote to in_review: ok=%v err=%v", ok, err)
	}
	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return got
}

func taskReadyForReview(t *testing.T, db *store.DB, projectID string, w *models.Worker, mutate func(*models.Task)) *models.Task {
	t.Helper()
	ctx := context.Background()
	task := &models.Task{
		Title:          "implement parser",
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
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if ok, err := db.ClaimWorker(ctx, w.ID); err != nil || !ok {
		t.Fatalf("claim worker: ok=%v err=%v", ok, err)
	}
	if ok, err := db.ClaimTask(ctx, task.ID, w.ID); err != nil || !ok {
		t.Fatalf("claim task: ok=%v err=%v", ok, err)
	}
	if ok, err := db.TransitionTask(ctx, task.ID, models.TaskStatusInProgress, models.TaskStatusReadyForReview); err != nil || !ok {
		t.Fatalf("promote to ready_for_review: ok=%v err=%v", ok, err)
	}
	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return got
}

func TestSelfReviewComplete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	w := fixtureWorker(t, db, "alice")
	task := taskInReview(t, db, p.ID, w, nil)

	runner := &fakeRunner{output: `{"action": "complete", "reason": "all criteria met"}`}
	c := New(db, runner)

	n, err := c.SelfReviewSweep(ctx, testOrg, 10)
	if err != nil {
		t.Fatalf("SelfReviewSweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("reviewed = %d, want 1", n)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusIdle {
		t.Errorf("worker status = %q, want idle after completion", worker.Status)
	}
}

func TestSelfReviewRework(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	w := fixtureWorker(t, db, "alice")
	task := taskInReview(t, db, p.ID, w, nil)

	runner := &fakeRunner{output: `{"action": "rework", "reason": "missing error handling"}`}
	c := New(db, runner)

	if _, err := c.SelfReviewSweep(ctx, testOrg, 10); err != nil {
		t.Fatalf("SelfReviewSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusReady {
		t.Errorf("status = %q, want ready for re-execution", got.Status)
	}
	if got.AssignedWorkerID != w.ID {
		t.Errorf("worker = %q, rework keeps the original worker", got.AssignedWorkerID)
	}
	if got.LastError != "review: missing error handling" {
		t.Errorf("LastError = %q, want reviewer feedback attached", got.LastError)
	}
}

func TestSelfReviewRedirect(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	w := fixtureWorker(t, db, "alice")
	task := taskInReview(t, db, p.ID, w, nil)

	runner := &fakeRunner{output: `{"action": "redirect", "reason": "wrong specialty"}`}
	c := New(db, runner)

	if _, err := c.SelfReviewSweep(ctx, testOrg, 10); err != nil {
		t.Fatalf("SelfReviewSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
	if got.AssignedWorkerID != "" {
		t.Errorf("worker = %q, redirect must clear the assignment", got.AssignedWorkerID)
	}
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusIdle {
		t.Errorf("worker status = %q, want idle", worker.Status)
	}
}

func TestSelfReviewUnparseableDegradesToRework(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	w := fixtureWorker(t, db, "alice")
	task := taskInReview(t, db, p.ID, w, nil)

	runner := &fakeRunner{output: "LGTM, ship it!"}
	c := New(db, runner)

	n, err := c.SelfReviewSweep(ctx, testOrg, 10)
	if err != nil {
		t.Fatalf("SelfReviewSweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("reviewed = %d, want 1; degraded decisions still count", n)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusReady {
		t.Errorf("status = %q, want ready via rework fallback", got.Status)
	}
	if !strings.Contains(got.LastError, "could not be interpreted") {
		t.Errorf("LastError = %q, want fallback feedback", got.LastError)
	}
}

func TestSelfReviewAddTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	mgr := fixtureWorker(t, db, "manager")
	w := fixtureWorker(t, db, "alice")
	task := taskInReview(t, db, p.ID, w, func(task *models.Task) {
		task.ReviewerWorkerID = mgr.ID
	})

	runner := &fakeRunner{output: `{"action": "add_tasks", "reason": "gaps found", "tasks": [
		{"title": "Cover nil input", "priority": "P1"},
		{"title": "Add integration test", "priority": "P3"}
	]}`}
	c := New(db, runner)

	if _, err := c.SelfReviewSweep(ctx, testOrg, 10); err != nil {
		t.Fatalf("SelfReviewSweep: %v", err)
	}

	parent, _ := db.GetTask(ctx, task.ID)
	if parent.Status != models.TaskStatusPending {
		t.Errorf("parent status = %q, want pending while children run", parent.Status)
	}
	if len(parent.DependsOn) != 2 {
		t.Fatalf("parent DependsOn = %v, want the 2 spawned children", parent.DependsOn)
	}
	for _, childID := range parent.DependsOn {
		child, err := db.GetTask(ctx, childID)
		if err != nil {
			t.Fatalf("load child: %v", err)
		}
		if child.ParentTaskID != task.ID {
			t.Errorf("child parent = %q, want %q", child.ParentTaskID, task.ID)
		}
		if child.Depth != task.Depth+1 {
			t.Errorf("child depth = %d, want %d", child.Depth, task.Depth+1)
		}
		if child.ReviewerWorkerID != mgr.ID {
			t.Errorf("child reviewer = %q, want inherited %q", child.ReviewerWorkerID, mgr.ID)
		}
		if child.Status != models.TaskStatusPending {
			t.Errorf("child status = %q, want pending", child.Status)
		}
	}
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusIdle {
		t.Errorf("worker status = %q, want idle while children run", worker.Status)
	}
}

func TestManagerReviewSweep(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	mgr := fixtureWorker(t, db, "manager")
	w1 := fixtureWorker(t, db, "alice")
	w2 := fixtureWorker(t, db, "bob")

	t1 := taskReadyForReview(t, db, p.ID, w1, func(task *models.Task) {
		task.ReviewerWorkerID = mgr.ID
	})
	t2 := taskReadyForReview(t, db, p.ID, w2, func(task *models.Task) {
		task.ReviewerWorkerID = mgr.ID
	})

	before, err := db.CountWorkers(ctx, testOrg)
	if err != nil {
		t.Fatalf("count workers: %v", err)
	}

	runner := &fakeRunner{output: `{"action": "complete", "reason": "solid"}`}
	c := New(db, runner)

	n, err := c.ManagerReviewSweep(ctx, testOrg, 10)
	if err != nil {
		t.Fatalf("ManagerReviewSweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("reviewed = %d, want 2", n)
	}
	if runner.calls != 2 {
		t.Errorf("runner calls = %d, want 2", runner.calls)
	}

	for _, id := range []string{t1.ID, t2.ID} {
		got, _ := db.GetTask(ctx, id)
		if got.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %q, want completed", id, got.Status)
		}
	}

	// The temporary reviewer spawned for the group must be gone.
	after, err := db.CountWorkers(ctx, testOrg)
	if err != nil {
		t.Fatalf("count workers: %v", err)
	}
	if after != before {
		t.Errorf("worker count = %d, want %d; temporary reviewer leaked", after, before)
	}
}

func TestManagerReviewSkipsTasksWithoutReviewer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := fixtureProject(t, db)
	w := fixtureWorker(t, db, "alice")
	taskReadyForReview(t, db, p.ID, w, nil)

	runner := &fakeRunner{output: `{"action": "complete"}`}
	c := New(db, runner)

	n, err := c.ManagerReviewSweep(ctx, testOrg, 10)
	if err != nil {
		t.Fatalf("ManagerReviewSweep: %v", err)
	}
	if n != 0 || runner.calls != 0 {
		t.Errorf("reviewed=%d calls=%d, want no manager review without a designated reviewer", n, runner.calls)
	}
}
