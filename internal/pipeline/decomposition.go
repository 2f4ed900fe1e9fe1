package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/decompose"
)

// decompositionSweep finds goals not yet auto-decomposed and breaks
// each one down, then plans any team epics still awaiting their own
// breakdown. Failures are logged and retried on a later sweep; the
// auto_decomposed and needs_planning flags only flip once a breakdown
// lands, so retries are safe.
func (p *Pipeline) decompositionSweep(ctx context.Context) error {
	batch := p.sweepConfig().Decomposition.Batch
	goals, err := p.store.GoalsAwaitingDecomposition(ctx, p.org, batch)
	if err != nil {
		return fmt.Errorf("select goals: %w", err)
	}

	for _, g := range goals {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := p.decomposer.Decompose(ctx, g.ID, decompose.Options{AutoAssign: true})
		if err != nil {
			log.Warn().Err(err).Str("goal", g.ID).Str("title", g.Title).
				Msg("decomposition failed, will retry next sweep")
			continue
		}
		log.Info().Str("goal", g.ID).Str("strategy", res.StrategyUsed).
			Int("projects", res.ProjectCount).Int("tasks", res.TaskCount).
			Msg("goal decomposed")
	}

	return p.planEpics(ctx, batch)
}

// planEpics breaks pending team epics into executable work items so
// team-distributed goals reach the worker pool.
func (p *Pipeline) planEpics(ctx context.Context, batch int) error {
	epics, err := p.store.EpicsAwaitingPlanning(ctx, p.org, batch)
	if err != nil {
		return fmt.Errorf("select epics: %w", err)
	}

	for _, e := range epics {
		if err := ctx.Err(); err != nil {
			return err
		}
		created, err := p.decomposer.PlanEpic(ctx, e.ID)
		if err != nil {
			log.Warn().Err(err).Str("epic", e.ID).Str("title", e.Title).
				Msg("epic planning failed, will retry next sweep")
			continue
		}
		log.Info().Str("epic", e.ID).Int("tasks", len(created)).Msg("epic planned")
	}
	return nil
}
