// cmd/server/migrate.go
package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"comlink-service/internal/config"
	"comlink-service/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the event history schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error { return m.Up() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error { return m.Down() })
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Set the schema version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withMigrator(func(m *database.Migrator) error { return m.Force(version) })
	},
}

var migrateCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete events older than events.retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigratorConfig(func(cfg *config.Config, m *database.Migrator) error {
			deleted, err := m.Cleanup(cfg.Events.Retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d event(s) older than %s\n", deleted, cfg.Events.Retention)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd, migrateCleanupCmd)
}

func withMigrator(fn func(m *database.Migrator) error) error {
	return withMigratorConfig(func(_ *config.Config, m *database.Migrator) error { return fn(m) })
}

func withMigratorConfig(fn func(cfg *config.Config, m *database.Migrator) error) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.NewConnection(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cfg, database.NewMigrator(db, logger))
}
