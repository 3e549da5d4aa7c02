package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// oneShotTimeout bounds maintenance commands that touch the database.
const oneShotTimeout = 30 * time.Second

func migrateCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), load, func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx, migrations.FS); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprint("✓"), "schema up to date")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), load, func(ctx context.Context, db *database.DB) error {
				if err := db.MigrateDown(ctx, migrations.FS); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgYellow).Sprint("↓"), "rolled back one migration")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), load, func(ctx context.Context, db *database.DB) error {
				applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}

				out := cmd.OutOrStdout()
				applyMark := color.New(color.FgGreen).Sprint("applied")
				pendingMark := color.New(color.FgYellow).Sprint("pending")
				for _, m := range applied {
					fmt.Fprintf(out, "%-8s %s  %s\n", applyMark, m.Version, m.AppliedAt.Format(time.RFC3339))
				}
				for _, m := range pending {
					fmt.Fprintf(out, "%-8s %s  %s\n", pendingMark, m.Version, m.Name)
				}
				fmt.Fprintf(out, "\n%d applied, %d pending\n", len(applied), len(pending))
				return nil
			})
		},
	})

	return cmd
}

// withDatabase loads the configuration, opens the database and runs fn
// under oneShotTimeout.
func withDatabase(parent context.Context, load configLoader, fn func(ctx context.Context, db *database.DB) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-mostly one-shot command

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, oneShotTimeout)
	defer cancel()
	return fn(ctx, db)
}
