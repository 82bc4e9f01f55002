package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tse-report-engine/internal/database"
)

var migrateFlags struct {
	down bool
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the postgres schema migrations",
	Long:  "Migrate applies the migrations found in database.migrations_path.\nThe sqlite store creates its schema on open and needs no migration.",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateFlags.down, "down", false, "roll every migration back")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	manager, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := manager.GetConfig()
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	runner, err := database.NewMigrationRunnerForConfig(database.ConfigFrom(cfg.Database), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	if migrateFlags.down {
		return runner.Down(cmd.Context())
	}
	if err := runner.Up(cmd.Context()); err != nil {
		return err
	}
	v, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %v)\n", v, dirty)
	return nil
}
