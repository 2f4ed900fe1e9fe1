package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/config"
	"github.com/seanmigrate/foreman/internal/decompose"
	"github.com/seanmigrate/foreman/internal/gate"
	"github.com/seanmigrate/foreman/internal/pool"
	"github.com/seanmigrate/foreman/internal/review"
	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

const testOrg = "org-test"

const okOutput = "Implemented the change.\n```go\nfunc Do() error { return nil }\n```"

type fakeRunner struct {
	output string
	calls  int
}

func (f *fakeRunner) Execute(ctx context.Context, prompt, systemPrompt string) (*brain.Result, error) {
	f.calls++
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

func testPipeline(db *store.DB, runner brain.Runner, precedence string) *Pipeline {
	return &Pipeline{
		store:      db,
		runner:     runner,
		decomposer: decompose.New(db, runner, nil),
		pool:       pool.New(db),
		gate:       gate.New(gate.Config{}, nil),
		review:     review.New(db, runner),
		org:        testOrg,
		precedence: precedence,
		sweeps: config.SweepsConfig{
			Execution:     config.SweepConfig{Batch: 10},
			ManagerReview: config.SweepConfig{Batch: 10},
			TaskReview:    config.SweepConfig{Batch: 10},
			Decomposition: config.SweepConfig{Batch: 10},
		},
	}
}

func fixtureProject(t *testing.T, db *store.DB) *models.Project {
	t.Helper()
	ctx := context.Background()
	g := &models.Goal{Title: "goal", OrganizationID: testOrg}
	if err := db.CreateGoal(ctx, g); err != nil {
		t.Fatalf("create goal: %v", err)
	}
	p := &models.Project{Name: "project", GoalID: g.ID, OrganizationID: testOrg, WorkingDirectory: "/repo"}
	if err := db.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func fixtureTask(t *testing.T, db *store.DB, projectID string, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		Title:          "implement endpoint",
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

func fixtureWorker(t *testing.T, db *store.DB, name string) *models.Worker {
	t.Helper()
	w := &models.Worker{Name: name, OrganizationID: testOrg}
	if err := db.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func TestExecutionSweepSelfReviewWithoutReviewer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	task := fixtureTask(t, db, proj.ID, nil)
	w := fixtureWorker(t, db, "alice")

	runner := &fakeRunner{output: okOutput}
	p := testPipeline(db, runner, review.PrecedenceManagerFirst)

	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.calls)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusInReview {
		t.Errorf("status = %q, want in_review (no designated reviewer)", got.Status)
	}
	if got.LastOutput != okOutput {
		t.Errorf("LastOutput = %q, want execution output recorded", got.LastOutput)
	}
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusIdle {
		t.Errorf("worker status = %q, want idle after handing off to review", worker.Status)
	}
}

func TestExecutionSweepManagerFirstWaitsForManager(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	mgr := fixtureWorker(t, db, "manager")
	task := fixtureTask(t, db, proj.ID, func(task *models.Task) {
		task.ReviewerWorkerID = mgr.ID
	})
	fixtureWorker(t, db, "alice")

	runner := &fakeRunner{output: okOutput}
	p := testPipeline(db, runner, review.PrecedenceManagerFirst)

	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusReadyForReview {
		t.Errorf("status = %q, want ready_for_review for the manager sweep", got.Status)
	}
}

func TestExecutionSweepWorkerFirstSelfReviews(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	mgr := fixtureWorker(t, db, "manager")
	task := fixtureTask(t, db, proj.ID, func(task *models.Task) {
		task.ReviewerWorkerID = mgr.ID
	})
	fixtureWorker(t, db, "alice")

	runner := &fakeRunner{output: okOutput}
	p := testPipeline(db, runner, review.PrecedenceWorkerFirst)

	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusInReview {
		t.Errorf("status = %q, want in_review under worker_first precedence", got.Status)
	}
}

func TestExecutionSweepGateFailureRequeues(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	task := fixtureTask(t, db, proj.ID, nil)
	w := fixtureWorker(t, db, "alice")

	runner := &fakeRunner{output: "no"}
	p := testPipeline(db, runner, review.PrecedenceManagerFirst)

	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusReady {
		t.Errorf("status = %q, want ready for retry", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if !strings.Contains(got.LastError, "short") {
		t.Errorf("LastError = %q, want gate reason", got.LastError)
	}
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusIdle {
		t.Errorf("worker status = %q, want idle after failure", worker.Status)
	}
}

func TestExecutionSweepHonorsBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	fixtureTask(t, db, proj.ID, nil)
	fixtureTask(t, db, proj.ID, nil)
	fixtureWorker(t, db, "alice")
	fixtureWorker(t, db, "bob")

	runner := &fakeRunner{output: okOutput}
	p := testPipeline(db, runner, review.PrecedenceManagerFirst)
	p.sweeps.Execution.Batch = 1

	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want batch limit of 1", runner.calls)
	}
}

type panickyRunner struct{}

func (panickyRunner) Execute(ctx context.Context, prompt, systemPrompt string) (*brain.Result, error) {
	panic("runner blew up")
}

func TestExecutionSweepPanicQuarantinesWorker(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	task := fixtureTask(t, db, proj.ID, nil)
	w := fixtureWorker(t, db, "alice")

	p := testPipeline(db, panickyRunner{}, review.PrecedenceManagerFirst)
	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusReady {
		t.Errorf("task status = %q, want ready for retry", got.Status)
	}
	if !strings.Contains(got.LastError, "internal panic") {
		t.Errorf("LastError = %q, want the panic recorded", got.LastError)
	}
	worker, _ := db.GetWorker(ctx, w.ID)
	if worker.Status != models.WorkerStatusError {
		t.Errorf("worker status = %q, want error until an operator resets it", worker.Status)
	}
}

func TestTeamDistributedGoalReachesExecution(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	goal := &models.Goal{Title: "Ship billing", Status: models.GoalStatusActive, OrganizationID: testOrg}
	if err := db.CreateGoal(ctx, goal); err != nil {
		t.Fatalf("create goal: %v", err)
	}
	mgr := fixtureWorker(t, db, "manager")
	team := &models.Team{Name: "Backend", SkillTags: []string{"go"},
		ManagerWorkerID: mgr.ID, OrganizationID: testOrg}
	if err := db.CreateTeam(ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}
	fixtureWorker(t, db, "alice")

	runner := &fakeRunner{output: `{"projects": [{"name": "Billing", "tasks": [
		{"title": "Build invoicing API", "required_skills": ["go"]}]}]}`}
	p := testPipeline(db, runner, review.PrecedenceManagerFirst)

	// First sweep decomposes the goal into a pending team epic. The
	// epic planning retries on the next sweep once the provider
	// returns a task breakdown.
	if err := p.decompositionSweep(ctx); err != nil {
		t.Fatalf("decompositionSweep: %v", err)
	}
	epics, err := db.EpicsAwaitingPlanning(ctx, testOrg, 10)
	if err != nil {
		t.Fatalf("EpicsAwaitingPlanning: %v", err)
	}
	if len(epics) != 1 {
		t.Fatalf("got %d epics awaiting planning, want 1", len(epics))
	}

	runner.output = `{"tasks": [
		{"title": "Invoice endpoint", "priority": "P1",
		 "affected_files": ["internal/billing/api.go"]}]}`
	if err := p.decompositionSweep(ctx); err != nil {
		t.Fatalf("decompositionSweep: %v", err)
	}
	epics, err = db.EpicsAwaitingPlanning(ctx, testOrg, 10)
	if err != nil {
		t.Fatalf("EpicsAwaitingPlanning: %v", err)
	}
	if len(epics) != 0 {
		t.Fatalf("%d epics still awaiting planning after the sweep", len(epics))
	}

	calls := runner.calls
	runner.output = okOutput
	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}
	if runner.calls != calls+1 {
		t.Fatalf("execution calls = %d, want one work item executed", runner.calls-calls)
	}

	var workItem *models.Task
	for _, task := range mustTasksForOrg(t, db) {
		if task.Type != models.TaskTypeTeamEpic && task.Title == "Invoice endpoint" {
			workItem = task
		}
	}
	if workItem == nil {
		t.Fatal("planned work item not found")
	}
	if workItem.Status != models.TaskStatusReadyForReview {
		t.Errorf("work item status = %q, want ready_for_review for the team manager", workItem.Status)
	}
	if workItem.ReviewerWorkerID != mgr.ID {
		t.Errorf("work item reviewer = %q, want the team manager", workItem.ReviewerWorkerID)
	}
}

func mustTasksForOrg(t *testing.T, db *store.DB) []*models.Task {
	t.Helper()
	ctx := context.Background()
	projects, err := db.ListProjects(ctx, testOrg, 100)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	var all []*models.Task
	for _, p := range projects {
		tasks, err := db.TasksForProject(ctx, p.ID)
		if err != nil {
			t.Fatalf("TasksForProject: %v", err)
		}
		all = append(all, tasks...)
	}
	return all
}

func TestExecutionThenSelfReviewCompletes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	proj := fixtureProject(t, db)
	task := fixtureTask(t, db, proj.ID, nil)
	fixtureWorker(t, db, "alice")

	runner := &fakeRunner{output: okOutput}
	p := testPipeline(db, runner, review.PrecedenceManagerFirst)

	if err := p.executionSweep(ctx); err != nil {
		t.Fatalf("executionSweep: %v", err)
	}

	// Swap in a reviewer verdict for the review sweep.
	runner.output = `{"action": "complete", "reason": "done"}`
	if err := p.taskReviewSweep(ctx); err != nil {
		t.Fatalf("taskReviewSweep: %v", err)
	}

	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status = %q, want completed after self-review", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
}
