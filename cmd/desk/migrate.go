package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"desk_server/server/common/infra/db"
	commonlog "desk_server/server/common/log"
	"desk_server/server/desk/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := app.LoadConfig()
		if err := db.MigrateUp(cmd.Context(), cfg.PostgresDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		commonlog.Infof("event=desk_migrate action=up status=ok")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := app.LoadConfig()
		return db.MigrateStatus(cmd.Context(), cfg.PostgresDSN)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
