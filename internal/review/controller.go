// Package review drives the two review layers of the task lifecycle:
// worker self-review of IN_REVIEW tasks and hierarchical manager review
// of READY_FOR_REVIEW tasks. Both layers share one decision model with
// four actions (complete, rework, add_tasks, redirect) mapped onto the
// task state machine.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

// Precedence settings for tasks that qualify for both review layers.
const (
	PrecedenceManagerFirst = "manager_first"
	PrecedenceWorkerFirst  = "worker_first"
)

// Controller runs review sweeps against the store.
type Controller struct {
	store  *store.DB
	runner brain.Runner
}

// New builds a review controller.
func New(db *store.DB, runner brain.Runner) *Controller {
	return &Controller{store: db, runner: runner}
}

// SelfReviewSweep reviews up to limit IN_REVIEW tasks in the given
// organization, each judged by the worker that produced the output.
// Tasks that fail to produce a decision stay IN_REVIEW and are retried
// on the next sweep.
func (c *Controller) SelfReviewSweep(ctx context.Context, orgID string, limit int) (int, error) {
	tasks, err := c.store.TasksAwaitingSelfReview(ctx, orgID, limit)
	if err != nil {
		return 0, fmt.Errorf("select self-review tasks: %w", err)
	}

	reviewed := 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return reviewed, err
		}
		if err := c.reviewOne(ctx, t, selfReviewSystemPrompt); err != nil {
			log.Warn().Err(err).Str("task", t.ID).Msg("self-review failed")
			continue
		}
		reviewed++
	}
	return reviewed, nil
}

// ManagerReviewSweep reviews up to limit READY_FOR_REVIEW tasks in the
// given organization, grouped by their designated reviewer. A temporary
// reviewer worker is spawned per manager for the duration of the group
// and removed afterwards, so the managers themselves stay available for
// their own tasks.
func (c *Controller) ManagerReviewSweep(ctx context.Context, orgID string, limit int) (int, error) {
	tasks, err := c.store.TasksAwaitingManagerReview(ctx, orgID, limit)
	if err != nil {
		return 0, fmt.Errorf("select manager-review tasks: %w", err)
	}

	byReviewer := make(map[string][]*models.Task)
	var order []string
	for _, t := range tasks {
		if _, seen := byReviewer[t.ReviewerWorkerID]; !seen {
			order = append(order, t.ReviewerWorkerID)
		}
		byReviewer[t.ReviewerWorkerID] = append(byReviewer[t.ReviewerWorkerID], t)
	}

	reviewed := 0
	for _, reviewerID := range order {
		n, err := c.reviewGroup(ctx, reviewerID, byReviewer[reviewerID])
		reviewed += n
		if err != nil {
			if ctx.Err() != nil {
				return reviewed, err
			}
			log.Warn().Err(err).Str("reviewer", reviewerID).Msg("manager review group failed")
		}
	}
	return reviewed, nil
}

func (c *Controller) reviewGroup(ctx context.Context, reviewerID string, tasks []*models.Task) (int, error) {
	manager, err := c.store.GetWorker(ctx, reviewerID)
	if err != nil {
		return 0, fmt.Errorf("load reviewer %s: %w", reviewerID, err)
	}

	temp := &models.Worker{
		Name:           fmt.Sprintf("reviewer-%s", shortID()),
		Status:         models.WorkerStatusBusy,
		RoleID:         "reviewer",
		TeamID:         manager.TeamID,
		OrganizationID: manager.OrganizationID,
	}
	if err := c.store.CreateWorker(ctx, temp); err != nil {
		return 0, fmt.Errorf("spawn temporary reviewer: %w", err)
	}
	defer func() {
		if err := c.store.DeleteWorker(context.WithoutCancel(ctx), temp.ID); err != nil {
			log.Warn().Err(err).Str("worker", temp.ID).Msg("temporary reviewer not cleaned up")
		}
	}()

	reviewed := 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return reviewed, err
		}
		// Claim before reviewing. A lost claim means another sweep
		// already has this task.
		claimed, err := c.store.TransitionTask(ctx, t.ID,
			models.TaskStatusReadyForReview, models.TaskStatusInReview)
		if err != nil {
			log.Warn().Err(err).Str("task", t.ID).Msg("manager review claim failed")
			continue
		}
		if !claimed {
			continue
		}
		if err := c.reviewOne(ctx, t, managerReviewSystemPrompt); err != nil {
			log.Warn().Err(err).Str("task", t.ID).Str("manager", manager.Name).
				Msg("manager review failed")
			continue
		}
		reviewed++
	}
	return reviewed, nil
}

// reviewOne runs a single review call for an IN_REVIEW task and applies
// the decision. Unparseable responses degrade to rework: the work is
// sent back rather than accepted or discarded on bad output.
func (c *Controller) reviewOne(ctx context.Context, t *models.Task, systemPrompt string) error {
	res, err := c.runner.Execute(ctx, buildReviewPrompt(t), systemPrompt)
	if err != nil {
		return fmt.Errorf("review call: %w", err)
	}

	decision, err := parseDecision(res.Output)
	if err != nil {
		log.Warn().Err(err).Str("task", t.ID).Msg("review decision unparseable, degrading to rework")
		decision = &Decision{Action: ActionRework, Reason: "reviewer response could not be interpreted"}
	}

	log.Info().Str("task", t.ID).Str("action", decision.Action).
		Str("reason", decision.Reason).Msg("review decision")
	return c.apply(ctx, t, decision)
}

func (c *Controller) apply(ctx context.Context, t *models.Task, d *Decision) error {
	switch d.Action {
	case ActionComplete:
		applied, err := c.store.TransitionTask(ctx, t.ID,
			models.TaskStatusInReview, models.TaskStatusCompleted)
		if err != nil {
			return err
		}
		if applied {
			c.releaseWorker(ctx, t)
		}
		return nil

	case ActionRework:
		feedback := d.Reason
		if feedback == "" {
			feedback = "sent back for rework"
		}
		// The task keeps its worker and returns to READY; the next
		// execution sweep re-runs it with the feedback attached.
		_, err := c.store.ReworkTask(ctx, t.ID, "review: "+feedback)
		return err

	case ActionAddTasks:
		return c.addFollowups(ctx, t, d)

	case ActionRedirect:
		applied, err := c.store.RedirectTask(ctx, t.ID)
		if err != nil {
			return err
		}
		if applied {
			c.releaseWorker(ctx, t)
		}
		return nil
	}
	return fmt.Errorf("unhandled review action %q", d.Action)
}

// addFollowups spawns the decision's child tasks under the reviewed
// task, gates the parent on them, and parks the parent back in PENDING.
// Depth and subtask caps are enforced by task creation; a child that
// violates them is dropped with a warning rather than failing the whole
// decision.
func (c *Controller) addFollowups(ctx context.Context, t *models.Task, d *Decision) error {
	var childIDs []string
	for _, def := range d.Tasks {
		if strings.TrimSpace(def.Title) == "" {
			continue
		}
		child := &models.Task{
			Title:              def.Title,
			Description:        def.Description,
			Type:               models.TaskTypeImplementation,
			Status:             models.TaskStatusPending,
			Priority:           priorityFromLabel(def.Priority, t.Priority),
			ParentTaskID:       t.ID,
			AffectedFiles:      def.AffectedFiles,
			AcceptanceCriteria: def.AcceptanceCriteria,
			AssignedTeamID:     t.AssignedTeamID,
			ReviewerWorkerID:   t.ReviewerWorkerID,
			OrganizationID:     t.OrganizationID,
			ProjectID:          t.ProjectID,
		}
		if err := c.store.CreateTask(ctx, child); err != nil {
			log.Warn().Err(err).Str("parent", t.ID).Str("title", def.Title).
				Msg("follow-up task dropped")
			continue
		}
		childIDs = append(childIDs, child.ID)
	}

	if len(childIDs) == 0 {
		// Every child was rejected; treat as rework so the task does
		// not stall in review.
		_, err := c.store.ReworkTask(ctx, t.ID, "review: follow-up tasks could not be created")
		return err
	}

	if err := c.store.AddTaskDependencies(ctx, t.ID, childIDs); err != nil {
		return err
	}
	applied, err := c.store.TransitionTask(ctx, t.ID,
		models.TaskStatusInReview, models.TaskStatusPending)
	if err != nil {
		return err
	}
	if applied {
		c.releaseWorker(ctx, t)
	}
	return nil
}

func (c *Controller) releaseWorker(ctx context.Context, t *models.Task) {
	if t.AssignedWorkerID == "" {
		return
	}
	if err := c.store.ReleaseWorker(ctx, t.AssignedWorkerID); err != nil {
		log.Warn().Err(err).Str("worker", t.AssignedWorkerID).Msg("worker release failed")
	}
}

func priorityFromLabel(label string, fallback models.Priority) models.Priority {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "P1":
		return models.PriorityP1
	case "P2":
		return models.PriorityP2
	case "P3":
		return models.PriorityP3
	case "P4":
		return models.PriorityP4
	}
	if fallback.Valid() {
		return fallback
	}
	return models.PriorityP3
}

func shortID() string {
	return uuid.New().String()[:8]
}
