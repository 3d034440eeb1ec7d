package main

import (
	"errors"

	"guard_server/adapter/in/worker"
	"guard_server/internal/bootstrap"

	"github.com/spf13/cobra"
)

func newSweepCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete decision records older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, cleanup, err := bootstrap.NewDependencies(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if deps.Decisions == nil {
				return errors.New("DATABASE_URL is required for sweep")
			}

			n, err := worker.NewRetentionScheduler(deps.Decisions, deps.Settings).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"deleted":        n,
				"retention_days": deps.Settings.Snapshot().RetentionDays,
			})
		},
	}
}
