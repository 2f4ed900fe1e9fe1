package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/seanmigrate/foreman/pkg/models"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect the worker fleet",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers and teams",
	Args:  cobra.NoArgs,
	RunE:  runWorkerList,
}

var workerResetCmd = &cobra.Command{
	Use:   "reset <worker-id>",
	Short: "Return a quarantined worker to the pool",
	Long: `Return a worker to IDLE. The pipeline parks a worker in ERROR when a
task panics inside it; after investigating, reset puts it back in the
scheduling rotation.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkerReset,
}

func init() {
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerResetCmd)
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	teams, err := db.ListTeams(cmd.Context(), cfg.Organization)
	if err != nil {
		return err
	}
	teamNames := make(map[string]string, len(teams))
	managers := make(map[string]bool)
	for _, t := range teams {
		teamNames[t.ID] = t.Name
		if t.ManagerWorkerID != "" {
			managers[t.ManagerWorkerID] = true
		}
	}

	workers, err := db.ListWorkers(cmd.Context(), cfg.Organization)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Status", "Role", "Team", "Manager"})
	for _, w := range workers {
		role := w.RoleID
		if role == "" {
			role = "-"
		}
		t.AppendRow(table.Row{
			shortenID(w.ID), w.Name, workerStatus(w.Status), role,
			teamNames[w.TeamID], managers[w.ID],
		})
	}
	t.Render()
	return nil
}

func runWorkerReset(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetWorkerStatus(cmd.Context(), args[0], models.WorkerStatusIdle); err != nil {
		return err
	}
	color.Green("worker %s returned to the pool", args[0])
	return nil
}

func workerStatus(s models.WorkerStatus) string {
	switch s {
	case models.WorkerStatusBusy:
		return color.YellowString(string(s))
	case models.WorkerStatusError:
		return color.RedString(string(s))
	default:
		return color.GreenString(string(s))
	}
}
