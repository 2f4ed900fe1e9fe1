package main

import (
	"github.com/spf13/cobra"

	"github.com/seanmigrate/foreman/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of goals, tasks, and workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		return tui.Run(db, cfg.Organization)
	},
}
