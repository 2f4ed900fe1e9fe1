package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/decompose"
	"github.com/seanmigrate/foreman/internal/planner"
)

var decomposeAssign bool

var decomposeCmd = &cobra.Command{
	Use:   "decompose <goal-id>",
	Short: "Decompose one goal immediately",
	Long: `Decompose a goal into projects and tasks without waiting for the
decomposition sweep. With teams registered, depth-0 team epics are
created, routed by skill affinity, and planned into work items in the
same invocation; otherwise work items are created directly with
dependencies resolved between them.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecompose,
}

func init() {
	decomposeCmd.Flags().BoolVar(&decomposeAssign, "assign", true, "Assign created tasks to idle workers")
}

func runDecompose(cmd *cobra.Command, args []string) error {
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
	runner := brain.NewRunner(client, cfg.Brain.Timeout)

	dec := decompose.New(db, runner, planner.New(db))
	res, err := dec.Decompose(cmd.Context(), args[0], decompose.Options{AutoAssign: decomposeAssign})
	if err != nil {
		return err
	}

	fmt.Printf("strategy: %s\n", res.StrategyUsed)
	fmt.Printf("created %d projects, %d tasks\n", res.ProjectCount, res.TaskCount)
	for _, p := range res.Projects {
		fmt.Printf("  project %s: %s\n", shortenID(p.ID), p.Name)
	}

	if res.StrategyUsed == decompose.StrategyTeamDistribution {
		for _, epic := range res.Tasks {
			items, err := dec.PlanEpic(cmd.Context(), epic.ID)
			if err != nil {
				fmt.Printf("  epic %s left unplanned: %v\n", shortenID(epic.ID), err)
				continue
			}
			fmt.Printf("  epic %s planned into %d work items\n", shortenID(epic.ID), len(items))
		}
	}
	return nil
}
