// Package pipeline runs the automation loop: four independently
// scheduled polling sweeps (goal decomposition, task execution, manager
// review, task self-review) over a shared store. Sweeps never overlap
// with themselves, survive per-item panics, and pick up cadence changes
// from configuration reloads between ticks.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/config"
	"github.com/seanmigrate/foreman/internal/decompose"
	"github.com/seanmigrate/foreman/internal/gate"
	"github.com/seanmigrate/foreman/internal/pool"
	"github.com/seanmigrate/foreman/internal/review"
	"github.com/seanmigrate/foreman/internal/store"
)

// Pipeline wires the components into the polling loop.
type Pipeline struct {
	store      *store.DB
	runner     brain.Runner
	decomposer *decompose.Decomposer
	pool       *pool.Pool
	gate       *gate.Gate
	review     *review.Controller

	org        string
	precedence string

	mu     sync.RWMutex
	sweeps config.SweepsConfig
}

// Options bundles the pipeline's collaborators.
type Options struct {
	Store      *store.DB
	Runner     brain.Runner
	Decomposer *decompose.Decomposer
	Pool       *pool.Pool
	Gate       *gate.Gate
	Review     *review.Controller
}

// New builds a pipeline from the given components and configuration.
func New(cfg *config.Config, opts Options) *Pipeline {
	return &Pipeline{
		store:      opts.Store,
		runner:     opts.Runner,
		decomposer: opts.Decomposer,
		pool:       opts.Pool,
		gate:       opts.Gate,
		review:     opts.Review,
		org:        cfg.Organization,
		precedence: cfg.Review.Precedence,
		sweeps:     cfg.Sweeps,
	}
}

// UpdateSweeps swaps in new sweep cadences. Each loop reads the current
// cadence when scheduling its next tick, so changes apply without a
// restart.
func (p *Pipeline) UpdateSweeps(s config.SweepsConfig) {
	p.mu.Lock()
	p.sweeps = s
	p.mu.Unlock()
	log.Info().Msg("sweep cadences updated")
}

func (p *Pipeline) sweepConfig() config.SweepsConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sweeps
}

// Run starts the four sweep loops and blocks until the context is
// cancelled and in-flight sweeps have drained.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval func() time.Duration
		sweep    func(context.Context) error
	}{
		{"decomposition", func() time.Duration { return p.sweepConfig().Decomposition.Interval }, p.decompositionSweep},
		{"execution", func() time.Duration { return p.sweepConfig().Execution.Interval }, p.executionSweep},
		{"manager_review", func() time.Duration { return p.sweepConfig().ManagerReview.Interval }, p.managerReviewSweep},
		{"task_review", func() time.Duration { return p.sweepConfig().TaskReview.Interval }, p.taskReviewSweep},
	}

	log.Info().Str("organization", p.org).Msg("automation pipeline starting")
	for _, l := range loops {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runLoop(ctx, l.name, l.interval, l.sweep)
		}()
	}
	wg.Wait()
	log.Info().Msg("automation pipeline stopped")
	return ctx.Err()
}

// runLoop ticks one sweep on its own cadence. A timer rather than a
// ticker, so an interval change from a config reload takes effect on
// the very next scheduling decision.
func (p *Pipeline) runLoop(ctx context.Context, name string, interval func() time.Duration, sweep func(context.Context) error) {
	timer := time.NewTimer(interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := p.guarded(ctx, name, sweep); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("sweep", name).Msg("sweep failed")
		}
		log.Debug().Str("sweep", name).Dur("took", time.Since(start)).Msg("sweep finished")

		timer.Reset(interval())
	}
}

// guarded runs a sweep with panic recovery so one bad item or bug
// cannot take the whole loop down.
func (p *Pipeline) guarded(ctx context.Context, name string, sweep func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("sweep", name).
				Bytes("stack", debug.Stack()).Msg("sweep panicked")
			err = fmt.Errorf("sweep %s panicked: %v", name, r)
		}
	}()
	return sweep(ctx)
}
