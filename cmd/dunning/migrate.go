package main

import (
	"fmt"

	"github.com/smallbiznis/dunning/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			shutdown, err := startOneShot(cmd.Context(), infraModules(), fx.Populate(&conn))
			if err != nil {
				return err
			}
			defer shutdown()

			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}
