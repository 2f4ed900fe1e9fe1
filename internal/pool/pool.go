// Package pool implements the worker task-pool assignment algorithm:
// given an idle worker, select the single best next task respecting
// priority, dependency readiness, and file-level conflict avoidance.
package pool

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

// Pull reasons reported alongside the selection outcome.
const (
	ReasonDirectlyAssigned = "Directly assigned"
	ReasonQueueOrder       = "Next in queue"
	ReasonNoTasks          = "No available tasks"
	ReasonWorkerBusy       = "Worker is not idle"
)

// Pool selects and claims tasks for workers.
type Pool struct {
	store    *store.DB
	conflict *ConflictChecker
}

// New creates a Pool over the given store.
func New(db *store.DB) *Pool {
	return &Pool{store: db, conflict: NewConflictChecker()}
}

// PullNextTask returns the best next task for the worker, transitioning
// it to IN_PROGRESS and the worker to BUSY, or nil with a reason when
// nothing is available. A nil task is expected backpressure, not an
// error; the worker simply waits for the next poll.
//
// Selection order: a task directly assigned to this worker takes
// absolute priority over the general queue; otherwise the queue is
// scanned by priority then creation time, and the first candidate whose
// affected files do not intersect any IN_PROGRESS task's files in the
// same project wins. Claims are conditional updates, so losing a race
// just moves the scan to the next candidate.
func (p *Pool) PullNextTask(ctx context.Context, workerID string) (*models.Task, string, error) {
	worker, err := p.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, "", fmt.Errorf("load worker: %w", err)
	}

	claimed, err := p.store.ClaimWorker(ctx, workerID)
	if err != nil {
		return nil, "", err
	}
	if !claimed {
		return nil, ReasonWorkerBusy, nil
	}

	task, reason, err := p.selectAndClaim(ctx, worker)
	if err != nil || task == nil {
		// Nothing pulled; the worker goes back to the idle pool.
		if relErr := p.store.ReleaseWorker(ctx, workerID); relErr != nil {
			log.Warn().Err(relErr).Str("worker", workerID).Msg("release worker failed")
		}
		if err != nil {
			return nil, "", err
		}
		return nil, reason, nil
	}

	log.Info().Str("worker", workerID).Str("task", task.ID).Str("reason", reason).
		Msg("task pulled")
	return task, reason, nil
}

func (p *Pool) selectAndClaim(ctx context.Context, worker *models.Worker) (*models.Task, string, error) {
	candidates, err := p.store.PoolCandidates(ctx, worker.OrganizationID)
	if err != nil {
		return nil, "", fmt.Errorf("pool candidates: %w", err)
	}

	inFlightByProject := make(map[string]map[string]bool)
	inFlight := func(projectID string) (map[string]bool, error) {
		files, ok := inFlightByProject[projectID]
		if !ok {
			files, err = p.store.FilesInProgress(ctx, projectID)
			if err != nil {
				return nil, err
			}
			inFlightByProject[projectID] = files
		}
		return files, nil
	}

	// Directly assigned tasks bypass the queue order. They do not
	// bypass the conflict filter: exclusivity of in-progress files
	// holds for every claim.
	for _, t := range candidates {
		if t.AssignedWorkerID != worker.ID {
			continue
		}
		files, err := inFlight(t.ProjectID)
		if err != nil {
			return nil, "", err
		}
		if !p.conflict.CanSchedule(t, files) {
			log.Debug().Str("task", t.ID).Strs("files", p.conflict.ConflictingFiles(t, files)).
				Msg("skipping assigned task, file conflict with in-progress work")
			continue
		}
		ok, err := p.tryClaim(ctx, t, worker.ID)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return t, ReasonDirectlyAssigned, nil
		}
		delete(inFlightByProject, t.ProjectID)
	}

	for _, t := range candidates {
		if t.AssignedWorkerID != "" {
			// Designated tasks were handled above.
			continue
		}

		files, err := inFlight(t.ProjectID)
		if err != nil {
			return nil, "", err
		}
		if !p.conflict.CanSchedule(t, files) {
			log.Debug().Str("task", t.ID).Strs("files", p.conflict.ConflictingFiles(t, files)).
				Msg("skipping task, file conflict with in-progress work")
			continue
		}

		claimed, err := p.tryClaim(ctx, t, worker.ID)
		if err != nil {
			return nil, "", err
		}
		if claimed {
			return t, ReasonQueueOrder, nil
		}
		// Someone else claimed it between the scan and the update; the
		// conflict set may have changed, so refresh on next touch.
		delete(inFlightByProject, t.ProjectID)
	}

	return nil, ReasonNoTasks, nil
}

// tryClaim verifies dependency readiness and attempts the conditional
// READY/PENDING -> IN_PROGRESS transition.
func (p *Pool) tryClaim(ctx context.Context, t *models.Task, workerID string) (bool, error) {
	satisfied, err := p.store.DependenciesSatisfied(ctx, t)
	if err != nil {
		return false, err
	}
	if !satisfied {
		return false, nil
	}
	claimed, err := p.store.ClaimTask(ctx, t.ID, workerID)
	if claimed {
		t.Status = models.TaskStatusInProgress
		t.AssignedWorkerID = workerID
	}
	return claimed, err
}
