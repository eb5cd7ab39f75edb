package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/usbroles/internal/infrastructure/config"
	"github.com/nerrad567/usbroles/internal/infrastructure/database"
	"github.com/nerrad567/usbroles/migrations"
)

// errDatabaseDisabled is returned by migrate when database.enabled is false.
var errDatabaseDisabled = errors.New("sighting database is disabled (database.enabled: false)")

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the sighting database schema",
		Long: `Manage the schema of the sighting history database.

The daemon applies pending migrations on startup; these commands are for
inspecting the schema and rolling back before a downgrade.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, opts, func(db *database.DB) error {
					applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
					if err != nil {
						return err
					}

					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
					for _, rec := range applied {
						fmt.Fprintf(tw, "%s\t\t%s\n", rec.Version, rec.AppliedAt.Format(time.RFC3339))
					}
					for _, m := range pending {
						fmt.Fprintf(tw, "%s\t%s\tpending\n", m.Version, m.Name)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, opts, func(db *database.DB) error {
					if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
						return fmt.Errorf("running migrations: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recently applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, opts, func(db *database.DB) error {
					if err := db.MigrateDown(cmd.Context(), migrations.FS); err != nil {
						return fmt.Errorf("rolling back migration: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "latest migration rolled back")
					return nil
				})
			},
		},
	)
	return cmd
}

// withDatabase opens the configured database, runs fn and closes it.
func withDatabase(cmd *cobra.Command, opts *rootOptions, fn func(db *database.DB) error) error {
	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return errDatabaseDisabled
	}

	db, err := connectDatabase(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db)
}
