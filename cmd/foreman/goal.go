package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/seanmigrate/foreman/pkg/models"
)

var (
	goalDescription string
	goalPriority    string
	goalType        string
	goalParent      string
	goalTeam        string
	progressNote    string
	progressValue   string
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Create and inspect goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a goal",
	Long: `Create a goal. The decomposition sweep picks it up on its next tick
and breaks it into projects and tasks.

Examples:
  foreman goal add "Ship billing v2" -p P1
  foreman goal add "Reduce cold start" -d "Target under 300ms" --parent <goal-id>`,
	Args: cobra.ExactArgs(1),
	RunE: runGoalAdd,
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals with aggregated progress",
	Args:  cobra.NoArgs,
	RunE:  runGoalList,
}

var goalProgressCmd = &cobra.Command{
	Use:   "progress <goal-id> <percent>",
	Short: "Record goal progress (100 completes the goal)",
	Args:  cobra.ExactArgs(2),
	RunE:  runGoalProgress,
}

var goalHistoryCmd = &cobra.Command{
	Use:   "history <goal-id>",
	Short: "Show the append-only progress history of a goal",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalHistory,
}

var goalDeleteCmd = &cobra.Command{
	Use:   "delete <goal-id>",
	Short: "Delete a goal that was created by mistake",
	Long: `Delete a goal. Refused once decomposition has produced projects for
it; archive those goals instead so their work history survives.`,
	Args: cobra.ExactArgs(1),
	RunE: runGoalDelete,
}

func init() {
	goalAddCmd.Flags().StringVarP(&goalDescription, "description", "d", "", "Goal description and constraints")
	goalAddCmd.Flags().StringVarP(&goalPriority, "priority", "p", "P2", "Priority P1-P4")
	goalAddCmd.Flags().StringVar(&goalType, "type", "", "Free-form goal type (e.g. feature, quality)")
	goalAddCmd.Flags().StringVar(&goalParent, "parent", "", "Parent goal ID for goal trees")
	goalAddCmd.Flags().StringVar(&goalTeam, "team", "", "Pin the goal to one team ID")

	goalProgressCmd.Flags().StringVar(&progressNote, "note", "", "Annotation for the progress record")
	goalProgressCmd.Flags().StringVar(&progressValue, "value", "", "Free-form measure accompanying progress")

	goalCmd.AddCommand(goalAddCmd)
	goalCmd.AddCommand(goalListCmd)
	goalCmd.AddCommand(goalProgressCmd)
	goalCmd.AddCommand(goalHistoryCmd)
	goalCmd.AddCommand(goalDeleteCmd)
}

func runGoalAdd(cmd *cobra.Command, args []string) error {
	priority, err := parsePriorityFlag(goalPriority)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	goal := &models.Goal{
		Title:          args[0],
		Description:    goalDescription,
		GoalType:       goalType,
		Priority:       priority,
		ParentGoalID:   goalParent,
		TeamID:         goalTeam,
		OrganizationID: cfg.Organization,
	}
	if err := db.CreateGoal(cmd.Context(), goal); err != nil {
		return err
	}
	fmt.Printf("goal %s created (%s)\n", goal.ID, goal.Priority)
	return nil
}

func runGoalList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	goals, err := db.ListGoals(cmd.Context(), cfg.Organization)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Pri", "Status", "Decomposed", "Progress", "Title"})
	for _, g := range goals {
		progress, err := db.AggregatedProgress(cmd.Context(), g.ID)
		if err != nil {
			progress = g.ProgressPercent
		}
		t.AppendRow(table.Row{
			shortenID(g.ID), g.Priority.String(), g.Status,
			g.AutoDecomposed, fmt.Sprintf("%d%%", progress), g.Title,
		})
	}
	t.Render()
	return nil
}

func runGoalProgress(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[1])
	if err != nil || percent < 0 || percent > 100 {
		return fmt.Errorf("percent must be an integer 0-100, got %q", args[1])
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rec := &models.GoalProgressRecord{
		GoalID:          args[0],
		ProgressPercent: percent,
		CurrentValue:    progressValue,
		Note:            progressNote,
		RecordedBy:      "operator",
	}
	if err := db.RecordProgress(cmd.Context(), rec); err != nil {
		return err
	}
	if percent >= 100 {
		fmt.Printf("goal %s completed\n", args[0])
	} else {
		fmt.Printf("goal %s at %d%%\n", args[0], percent)
	}
	return nil
}

func runGoalHistory(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.ProgressHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no progress recorded")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Recorded", "Progress", "By", "Note"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.RecordedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d%%", r.ProgressPercent), r.RecordedBy, r.Note,
		})
	}
	t.Render()
	return nil
}

func runGoalDelete(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	projects, err := db.ProjectsForGoal(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(projects) > 0 {
		return fmt.Errorf("goal %s has %d project(s); archive it instead", args[0], len(projects))
	}
	if err := db.DeleteGoal(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("goal %s deleted\n", args[0])
	return nil
}

func parsePriorityFlag(s string) (models.Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P1", "1":
		return models.PriorityP1, nil
	case "P2", "2":
		return models.PriorityP2, nil
	case "P3", "3":
		return models.PriorityP3, nil
	case "P4", "4":
		return models.PriorityP4, nil
	}
	return 0, fmt.Errorf("invalid priority %q (use P1-P4)", s)
}

func shortenID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
