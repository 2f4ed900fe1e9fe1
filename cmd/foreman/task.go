package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/seanmigrate/foreman/internal/graph"
	"github.com/seanmigrate/foreman/pkg/models"
)

var (
	taskListProject string
	taskListStatus  string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and steer tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Requeue a blocked task with a fresh retry budget",
	Long: `Requeue a BLOCKED task: resets the retry counter, clears the recorded
error, and returns the task to READY. This is the manual override for
tasks that exhausted their retries or were blocked by a fatal failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskRetry,
}

var taskAssignReviewerCmd = &cobra.Command{
	Use:   "assign-reviewer <task-id> <worker-id>",
	Short: "Designate a reviewer for a task",
	Long: `Designate a reviewer for a task. Once set, the task routes through
manager review after execution instead of relying on self-review alone.`,
	Args: cobra.ExactArgs(2),
	RunE: runTaskAssignReviewer,
}

func init() {
	taskListCmd.Flags().StringVar(&taskListProject, "project", "", "Only tasks in this project ID")
	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Only tasks with this status")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskRetryCmd)
	taskCmd.AddCommand(taskAssignReviewerCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var tasks []*models.Task
	if taskListProject != "" {
		tasks, err = db.TasksForProject(cmd.Context(), taskListProject)
	} else {
		tasks, err = db.TasksForOrg(cmd.Context(), cfg.Organization)
	}
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Pri", "Status", "Type", "Retries", "Title"})
	for _, task := range tasks {
		if taskListStatus != "" && string(task.Status) != taskListStatus {
			continue
		}
		t.AppendRow(table.Row{
			shortenID(task.ID), task.Priority.String(), colorStatus(task.Status),
			task.Type, task.RetryCount, task.Title,
		})
	}
	t.Render()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", colorStatus(task.Status), task.Title)
	fmt.Printf("  id:        %s\n", task.ID)
	fmt.Printf("  type:      %s   priority: %s   depth: %d\n", task.Type, task.Priority, task.Depth)
	fmt.Printf("  project:   %s\n", task.ProjectID)
	if task.Description != "" {
		fmt.Printf("  desc:      %s\n", task.Description)
	}
	if task.AssignedWorkerID != "" {
		fmt.Printf("  worker:    %s\n", task.AssignedWorkerID)
	}
	if task.AssignedTeamID != "" {
		fmt.Printf("  team:      %s\n", task.AssignedTeamID)
	}
	if task.ReviewerWorkerID != "" {
		fmt.Printf("  reviewer:  %s\n", task.ReviewerWorkerID)
	}
	if len(task.DependsOn) > 0 {
		fmt.Printf("  depends:   %s\n", strings.Join(task.DependsOn, ", "))
	}
	if len(task.AffectedFiles) > 0 {
		fmt.Printf("  files:     %s\n", strings.Join(task.AffectedFiles, ", "))
	}
	if len(task.AcceptanceCriteria) > 0 {
		fmt.Println("  acceptance criteria:")
		for _, c := range task.AcceptanceCriteria {
			fmt.Printf("    - %s\n", c)
		}
	}
	fmt.Printf("  retries:   %d/%d\n", task.RetryCount, models.MaxRetries)
	if task.LastError != "" {
		fmt.Printf("  last err:  %s\n", task.LastError)
	}

	siblings, err := db.TasksForProject(cmd.Context(), task.ProjectID)
	if err != nil {
		return err
	}
	if g, err := graph.New(siblings); err == nil {
		if deps := g.Dependents(task.ID); len(deps) > 0 {
			fmt.Printf("  blocks:    %s\n", strings.Join(deps, ", "))
		}
	}
	return nil
}

func runTaskAssignReviewer(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.GetWorker(cmd.Context(), args[1]); err != nil {
		return fmt.Errorf("reviewer %s: %w", args[1], err)
	}
	if err := db.SetTaskReviewer(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	color.Green("task %s will be reviewed by %s", args[0], args[1])
	return nil
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	requeued, err := db.ResetTaskRetries(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !requeued {
		return fmt.Errorf("task %s is not blocked", args[0])
	}
	color.Green("task %s requeued", args[0])
	return nil
}

func colorStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed, models.TaskStatusBlocked:
		return color.RedString(string(s))
	case models.TaskStatusInProgress:
		return color.YellowString(string(s))
	case models.TaskStatusReadyForReview, models.TaskStatusInReview:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}
