package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/review"
	"github.com/seanmigrate/foreman/pkg/models"
)

const executionSystemPrompt = `You are a software engineer on an autonomous delivery team. Complete
the task described below. Work only within the listed affected files
when given. Produce the concrete work product (code, test, document, or
fix description), not a plan. Report succinctly what you changed and
how it satisfies the acceptance criteria.`

// executionSweep hands tasks to idle workers through the pool and runs
// each claimed task end to end: generate, record output, gate, and
// route to review or retry. Directly designated tasks are served before
// the general queue fills remaining batch capacity.
func (p *Pipeline) executionSweep(ctx context.Context) error {
	batch := p.sweepConfig().Execution.Batch
	executed := 0

	designated, err := p.store.TasksAwaitingExecution(ctx, p.org, batch)
	if err != nil {
		return fmt.Errorf("select designated tasks: %w", err)
	}
	served := make(map[string]bool)
	for _, t := range designated {
		if executed >= batch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if served[t.AssignedWorkerID] {
			continue
		}
		served[t.AssignedWorkerID] = true
		if p.pullAndExecute(ctx, t.AssignedWorkerID) {
			executed++
		}
	}

	workers, err := p.store.ListWorkers(ctx, p.org)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	for _, w := range workers {
		if executed >= batch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.Status != models.WorkerStatusIdle || served[w.ID] {
			continue
		}
		served[w.ID] = true
		if p.pullAndExecute(ctx, w.ID) {
			executed++
		}
	}
	return nil
}

// pullAndExecute pulls the worker's next task and runs it. Reports
// whether a task was actually executed. Panics inside one task are
// contained here so the rest of the batch still runs.
func (p *Pipeline) pullAndExecute(ctx context.Context, workerID string) (ran bool) {
	task, reason, err := p.pool.PullNextTask(ctx, workerID)
	if err != nil {
		log.Warn().Err(err).Str("worker", workerID).Msg("task pull failed")
		return false
	}
	if task == nil {
		log.Debug().Str("worker", workerID).Str("reason", reason).Msg("nothing to execute")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("task", task.ID).
				Bytes("stack", debug.Stack()).Msg("task execution panicked")
			p.failTask(ctx, task, fmt.Sprintf("internal panic: %v", r), false)
			p.quarantineWorker(ctx, workerID)
			ran = true
		}
	}()

	p.executeTask(ctx, task)
	return true
}

func (p *Pipeline) executeTask(ctx context.Context, task *models.Task) {
	project, err := p.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("load project: %v", err), false)
		return
	}

	res, err := p.runner.Execute(ctx, buildTaskPrompt(task, project.WorkingDirectory), executionSystemPrompt)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("execution call: %v", err), false)
		return
	}
	if err := p.store.SetTaskOutput(ctx, task.ID, res.Output); err != nil {
		log.Warn().Err(err).Str("task", task.ID).Msg("task output not recorded")
	}

	verdict, err := p.gate.Validate(ctx, task, project.WorkingDirectory, res)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("quality gate: %v", err), false)
		return
	}
	if !verdict.Passed {
		p.failTask(ctx, task, verdict.Reason, !verdict.ShouldRetry)
		return
	}
	for _, w := range verdict.Warnings {
		log.Warn().Str("task", task.ID).Str("warning", w).Msg("quality gate warning")
	}

	p.promoteToReview(ctx, task)
}

// promoteToReview moves a gated task into the review cycle. Tasks with
// a designated reviewer wait in READY_FOR_REVIEW for the manager sweep
// (unless review precedence gives the worker the first pass); the rest
// go straight to IN_REVIEW for self-review.
func (p *Pipeline) promoteToReview(ctx context.Context, task *models.Task) {
	applied, err := p.store.TransitionTask(ctx, task.ID,
		models.TaskStatusInProgress, models.TaskStatusReadyForReview)
	if err != nil || !applied {
		log.Warn().Err(err).Str("task", task.ID).Msg("review promotion lost")
		p.releaseWorker(ctx, task)
		return
	}

	selfFirst := task.ReviewerWorkerID == "" || p.precedence == review.PrecedenceWorkerFirst
	if selfFirst {
		if _, err := p.store.TransitionTask(ctx, task.ID,
			models.TaskStatusReadyForReview, models.TaskStatusInReview); err != nil {
			log.Warn().Err(err).Str("task", task.ID).Msg("self-review promotion failed")
		}
	}
	log.Info().Str("task", task.ID).Bool("self_review", selfFirst).Msg("task awaiting review")
	p.releaseWorker(ctx, task)
}

func (p *Pipeline) failTask(ctx context.Context, task *models.Task, reason string, fatal bool) {
	status, applied, err := p.store.FailTask(ctx, task.ID, reason, fatal)
	if err != nil {
		log.Error().Err(err).Str("task", task.ID).Msg("failure not recorded")
	} else if applied {
		log.Warn().Str("task", task.ID).Str("status", string(status)).
			Str("reason", reason).Bool("fatal", fatal).Msg("task failed")
	}
	p.releaseWorker(ctx, task)
}

// quarantineWorker parks a worker in ERROR after a panic so the
// scheduler stops handing it tasks. An operator clears it with
// `foreman worker reset` once the cause is understood.
func (p *Pipeline) quarantineWorker(ctx context.Context, workerID string) {
	if err := p.store.SetWorkerStatus(ctx, workerID, models.WorkerStatusError); err != nil {
		log.Warn().Err(err).Str("worker", workerID).Msg("worker quarantine failed")
		return
	}
	log.Warn().Str("worker", workerID).Msg("worker quarantined after panic")
}

func (p *Pipeline) releaseWorker(ctx context.Context, task *models.Task) {
	if task.AssignedWorkerID == "" {
		return
	}
	if err := p.store.ReleaseWorker(ctx, task.AssignedWorkerID); err != nil {
		log.Warn().Err(err).Str("worker", task.AssignedWorkerID).Msg("worker release failed")
	}
}

func buildTaskPrompt(t *models.Task, workDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}
	fmt.Fprintf(&b, "Type: %s  Priority: %s\n", t.Type, t.Priority)
	if workDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", workDir)
	}
	if len(t.AffectedFiles) > 0 {
		fmt.Fprintf(&b, "Affected files: %s\n", strings.Join(t.AffectedFiles, ", "))
	}
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	if t.RetryCount > 0 && t.LastError != "" {
		fmt.Fprintf(&b, "\nPrevious attempt feedback: %s\n", t.LastError)
	}
	return b.String()
}
