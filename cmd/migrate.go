package cmd

import (
	"fmt"

	"github.com/atviriduomenys/spinta-sync/pkg/engine"
	"github.com/atviriduomenys/spinta-sync/pkg/migrate"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	migrateRenames  string
	migrateDryRun   bool
	migrateDatasets []string
)

// migrateCmd represents the migrate command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the target schema in line with the manifest",
	Long: `Migrate compares the target database with the tables the manifest
describes and applies the difference in one transaction. Removed tables and
columns are soft-deleted, never dropped outright. Renames are only applied
when listed in a rename map.

Examples:
  # Show the SQL without running it
  spinta-sync migrate --dry-run

  # Apply, renaming columns listed in renames.json
  spinta-sync migrate -r renames.json`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVarP(&migrateRenames, "rename", "r", "", "json file mapping old table and column names to new ones")
	migrateCmd.Flags().BoolVarP(&migrateDryRun, "dry-run", "p", false, "print the SQL instead of running it")
	migrateCmd.Flags().StringSliceVarP(&migrateDatasets, "dataset", "d", nil, "only migrate tables of these datasets")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	var renames migrate.Renames

	if migrateRenames != "" {
		if renames, err = migrate.LoadRenames(migrateRenames); err != nil {
			return err
		}
	}

	runner, current, desired, planner, err := openMigration(cmd, e, migrateDatasets)
	if err != nil {
		return err
	}

	plan, err := planner.Plan(current, desired, renames)
	if err != nil {
		return err
	}

	if migrateDryRun {
		plan.Suggestions = planner.SuggestRenames(current, desired)
		_, _ = fmt.Fprint(cmd.OutOrStdout(), plan.SQL())

		return nil
	}

	return runner.Apply(cmd.Context(), plan)
}

// openMigration connects to the target and reads both the current and the desired schema
func openMigration(cmd *cobra.Command, e *engine.Engine, datasets []string) (*migrate.Runner, *migrate.Snapshot, *migrate.Snapshot, *migrate.Planner, error) {
	ctx := cmd.Context()

	models, err := e.Models(datasets...)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	db, err := e.Target(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	locker, err := e.Locker()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cfg := &e.Config().Target
	runner := migrate.NewRunner(logger, db, cfg, locker)

	current, err := runner.Inspect(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	planner := migrate.NewPlanner(logger, cfg.IdentifierLimit)

	desired, err := planner.Desired(models)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return runner, current, desired, planner, nil
}
