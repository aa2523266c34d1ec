package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var upgradeDryRun bool

// upgradeCmd represents the upgrade command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Apply pending keymap migrations",
	Long: `Upgrade brings an existing keymap to the current layout. Pushes refuse
to run against a keymap with pending migrations.

Examples:
  # List pending migrations
  spinta-sync upgrade --dry-run

  # Apply them
  spinta-sync upgrade`,
	RunE: runUpgrade,
}

func init() {
	rootCmd.AddCommand(upgradeCmd)

	upgradeCmd.Flags().BoolVarP(&upgradeDryRun, "dry-run", "p", false, "list pending migrations without applying them")
}

func runUpgrade(cmd *cobra.Command, _ []string) error {
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

	if upgradeDryRun {
		for _, name := range km.Pending() {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
		}

		return nil
	}

	applied, err := km.Upgrade(ctx)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		logger.Info("Keymap is up to date")
		return nil
	}

	for _, name := range applied {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}

	return nil
}
