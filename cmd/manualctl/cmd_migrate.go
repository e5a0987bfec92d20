package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexus/manuals/internal/store"
)

var (
	rollbackSteps int

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply, revert or list schema migrations",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	}
	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert the latest applied migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateDown,
	}
	migrateStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE:  runMigrateStatus,
	}
)

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to revert")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	if rollbackSteps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	reverted, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, rollbackSteps)
	for _, id := range reverted {
		fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", id)
	}
	return err
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	migrations, err := store.MigrationStatus(cmd.Context(), db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		state := "pending"
		if migration.Applied {
			state = "applied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", state, migration.ID())
	}
	return nil
}
