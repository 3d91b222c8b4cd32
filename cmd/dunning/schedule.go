package main

import (
	"github.com/smallbiznis/dunning/internal/migration"
	"github.com/smallbiznis/dunning/internal/scheduler"
	"github.com/smallbiznis/dunning/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the reminder jobs on DUNNING_RUN_INTERVAL and serve ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				schedulerModules(),
				migration.Module,
				server.Module,
				scheduler.DaemonModule,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}
