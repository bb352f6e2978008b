package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
	"github.com/nerrad567/mqttlink/migrations"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the message journal schema",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), load, func(ctx context.Context, db *database.DB) error {
					return migrateUp(ctx, db, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), load, func(ctx context.Context, db *database.DB) error {
					return migrateDown(ctx, db, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), load, func(ctx context.Context, db *database.DB) error {
					return migrationStatus(ctx, db, cmd.OutOrStdout())
				})
			},
		},
	)

	return cmd
}

// withDatabase loads config, opens the journal database and runs fn.
func withDatabase(ctx context.Context, load configLoader, fn func(context.Context, *database.DB) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	db, err := openJournalDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Short-lived command

	return fn(ctx, db)
}

// openJournalDatabase opens the configured database without migrating it.
func openJournalDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Enabled {
		return nil, errJournalDisabled
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func migrateUp(ctx context.Context, db *database.DB, out io.Writer) error {
	_, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Fprintf(out, "applied %d migration(s)\n", len(pending))
	return nil
}

func migrateDown(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, _, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "nothing to roll back")
		return nil
	}
	if err := db.Rollback(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	fmt.Fprintf(out, "rolled back %s\n", applied[len(applied)-1].Version)
	return nil
}

func migrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tAPPLIED")
	for _, m := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Local().Format(time.DateTime))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t-\n", m.Version)
	}
	return tw.Flush()
}
