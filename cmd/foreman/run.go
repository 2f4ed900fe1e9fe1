package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/config"
	"github.com/seanmigrate/foreman/internal/decompose"
	"github.com/seanmigrate/foreman/internal/gate"
	"github.com/seanmigrate/foreman/internal/pipeline"
	"github.com/seanmigrate/foreman/internal/planner"
	"github.com/seanmigrate/foreman/internal/pool"
	"github.com/seanmigrate/foreman/internal/review"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation pipeline",
	Long: `Run the automation pipeline: four polling sweeps that decompose
goals, execute tasks through workers, and drive the review cycle.

The process runs until interrupted. Sweep cadences are reloaded from
the config file on change; other settings require a restart.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := brain.NewClient(brain.ClientConfig{
		Model:         anthropic.Model(cfg.Brain.Model),
		APIKey:        cfg.Brain.APIKey,
		UseAWSBedrock: cfg.Brain.UseAWSBedrock,
		AWSRegion:     cfg.Brain.AWSRegion,
		AWSProfile:    cfg.Brain.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create generation client: %w", err)
	}
	log.Info().Str("model", string(client.Model())).Bool("bedrock", client.IsBedrock()).
		Msg("generation client ready")
	runner := brain.NewRunner(client, cfg.Brain.Timeout)

	pl := planner.New(db)
	dec := decompose.New(db, runner, pl)
	tools := gate.NewProcessTools(cfg.Gates.ToolTimeout)
	qg := gate.New(gate.Config{
		LintEnabled:         cfg.Gates.Lint,
		TypecheckEnabled:    cfg.Gates.Typecheck,
		DailyCostLimitCents: cfg.Brain.DailyCostLimitCents,
	}, tools)
	rc := review.New(db, runner)

	pipe := pipeline.New(cfg, pipeline.Options{
		Store:      db,
		Runner:     runner,
		Decomposer: dec,
		Pool:       pool.New(db),
		Gate:       qg,
		Review:     rc,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The tracker's counters cover one day at a time so the spend they
	// report lines up with the daily cost limit the gate enforces.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				input, output := client.Tracker().Total()
				log.Info().Int64("input_tokens", input).Int64("output_tokens", output).
					Int64("cost_cents", client.Tracker().TotalCostCents()).
					Msg("daily spend, resetting counters")
				client.Tracker().Reset()
			}
		}
	}()

	watchPath := flagConfig
	if watchPath == "" {
		watchPath = config.GetUserConfigPath()
	}
	if _, err := os.Stat(watchPath); err == nil {
		go func() {
			err := config.Watch(ctx, watchPath, func(next *config.Config) {
				pipe.UpdateSweeps(next.Sweeps)
			})
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	if err := pipe.Run(ctx); err != nil && err != context.Canceled {
		return err
	}

	input, output := client.Tracker().Total()
	log.Info().Int("calls", client.Tracker().Calls()).
		Int64("input_tokens", input).Int64("output_tokens", output).
		Int64("cost_cents", client.Tracker().TotalCostCents()).
		Msg("session spend")
	return nil
}
