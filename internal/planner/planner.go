// Package planner assigns freshly decomposed tasks to workers.
package planner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

// Planner is the resource-planner contract consumed during decomposition.
type Planner interface {
	// AssignProject designates workers for a project's unassigned tasks.
	// Returns how many tasks were assigned out of the total considered.
	AssignProject(ctx context.Context, projectID string) (assigned, total int, err error)
}

// StorePlanner round-robins a project's unassigned, non-epic tasks over
// the idle workers of the tasks' teams (or the whole organization when a
// task has no team).
type StorePlanner struct {
	store *store.DB
}

// New creates a StorePlanner over the given store.
func New(db *store.DB) *StorePlanner {
	return &StorePlanner{store: db}
}

// AssignProject implements Planner.
func (p *StorePlanner) AssignProject(ctx context.Context, projectID string) (int, int, error) {
	tasks, err := p.store.TasksForProject(ctx, projectID)
	if err != nil {
		return 0, 0, fmt.Errorf("load project tasks: %w", err)
	}

	var pending []*models.Task
	orgID := ""
	for _, t := range tasks {
		orgID = t.OrganizationID
		if t.Type == models.TaskTypeTeamEpic || t.AssignedWorkerID != "" || t.Status.Terminal() {
			continue
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return 0, len(tasks), nil
	}

	// Idle workers keyed by team; "" holds the org-wide pool.
	idleByTeam := make(map[string][]*models.Worker)
	workers, err := p.store.ListWorkers(ctx, orgID)
	if err != nil {
		return 0, len(tasks), fmt.Errorf("list workers: %w", err)
	}
	for _, w := range workers {
		if w.Status != models.WorkerStatusIdle {
			continue
		}
		if w.TeamID != "" {
			idleByTeam[w.TeamID] = append(idleByTeam[w.TeamID], w)
		}
		idleByTeam[""] = append(idleByTeam[""], w)
	}

	next := make(map[string]int)
	assigned := 0
	for _, t := range pending {
		pool := idleByTeam[t.AssignedTeamID]
		key := t.AssignedTeamID
		if len(pool) == 0 {
			pool = idleByTeam[""]
			key = ""
		}
		if len(pool) == 0 {
			continue
		}
		w := pool[next[key]%len(pool)]
		next[key]++
		if err := p.store.SetTaskAssignment(ctx, t.ID, w.ID); err != nil {
			log.Warn().Err(err).Str("task", t.ID).Msg("planner assignment failed")
			continue
		}
		assigned++
	}

	return assigned, len(pending), nil
}
