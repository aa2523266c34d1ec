package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	bootstrapDatasets []string
	bootstrapDryRun   bool
	bootstrapKeymap   bool
)

// bootstrapCmd represents the bootstrap command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the keymap and the target tables from scratch",
	Long: `Bootstrap creates a keymap with every migration applied and, when a
target is configured, creates the manifest's tables in an empty target. A
target that already holds any of the tables is left alone; use migrate instead.

Examples:
  # Create the keymap and the target tables
  spinta-sync bootstrap

  # Only create the keymap
  spinta-sync bootstrap --keymap-only`,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	bootstrapCmd.Flags().StringSliceVarP(&bootstrapDatasets, "dataset", "d", nil, "only create tables of these datasets")
	bootstrapCmd.Flags().BoolVarP(&bootstrapDryRun, "dry-run", "p", false, "print the SQL instead of running it")
	bootstrapCmd.Flags().BoolVar(&bootstrapKeymap, "keymap-only", false, "only create the keymap")
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	km, err := e.Keymap(ctx)
	if err != nil {
		return err
	}

	if pending := km.Pending(); len(pending) > 0 {
		logger.WithField("pending", pending).Warn("Keymap exists with pending migrations, run upgrade")
	} else {
		logger.WithField("path", e.Config().Keymap.Path).Info("Keymap is ready")
	}

	if bootstrapKeymap || e.Config().Target.DSN == "" {
		return nil
	}

	runner, current, desired, planner, err := openMigration(cmd, e, bootstrapDatasets)
	if err != nil {
		return err
	}

	for _, t := range desired.Tables() {
		if _, exists := current.Table(t.Name); exists {
			logger.WithField("table", t.Name).Info("Target already has tables, skipping; run migrate to update it")
			return nil
		}
	}

	plan, err := planner.Plan(current, desired, nil)
	if err != nil {
		return err
	}

	if bootstrapDryRun {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), plan.SQL())
		return nil
	}

	return runner.Apply(ctx, plan)
}
