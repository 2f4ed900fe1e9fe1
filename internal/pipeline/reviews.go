package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
)

// managerReviewSweep hands READY_FOR_REVIEW tasks to their designated
// managers for hierarchical review.
func (p *Pipeline) managerReviewSweep(ctx context.Context) error {
	batch := p.sweepConfig().ManagerReview.Batch
	reviewed, err := p.review.ManagerReviewSweep(ctx, p.org, batch)
	if reviewed > 0 {
		log.Info().Int("reviewed", reviewed).Msg("manager review sweep done")
	}
	return err
}

// taskReviewSweep runs worker self-review over IN_REVIEW tasks.
func (p *Pipeline) taskReviewSweep(ctx context.Context) error {
	batch := p.sweepConfig().TaskReview.Batch
	reviewed, err := p.review.SelfReviewSweep(ctx, p.org, batch)
	if reviewed > 0 {
		log.Info().Int("reviewed", reviewed).Msg("task review sweep done")
	}
	return err
}
