package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	keymapInput    string
	keymapDatasets []string
)

// keymapCmd groups keymap maintenance commands
//
//nolint:gochecknoglobals // Cobra commands are typically global
var keymapCmd = &cobra.Command{
	Use:   "keymap",
	Short: "Maintain the local keymap",
}

// keymapSyncCmd represents the keymap sync command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var keymapSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull identifier changes from a remote into the keymap",
	Long: `Sync reads the changelog of every model from the remote, starting after
the last change seen, and applies inserts, redirects and deletes to the keymap.

Examples:
  # Sync all models from the remote named prod
  spinta-sync keymap sync -i prod --credentials credentials.yaml

  # Sync one dataset
  spinta-sync keymap sync -i prod -d datasets/gov/example`,
	RunE: runKeymapSync,
}

func init() {
	rootCmd.AddCommand(keymapCmd)
	keymapCmd.AddCommand(keymapSyncCmd)

	keymapSyncCmd.Flags().StringVarP(&keymapInput, "input", "i", "", "remote to sync from: a URL or a credentials section name (default from config)")
	keymapSyncCmd.Flags().StringSliceVarP(&keymapDatasets, "dataset", "d", nil, "only sync models of these datasets")
}

func runKeymapSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	models, err := e.Models(keymapDatasets...)
	if err != nil {
		return err
	}

	syncer, err := e.Syncer(ctx, keymapInput)
	if err != nil {
		return err
	}

	results, err := syncer.Sync(ctx, models)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tAPPLIED\tSKIPPED\tREDIRECTS\tDELETED\tWATERMARK")

	for _, res := range results {
		watermark := "-"

		switch {
		case res.Unauthorized:
			watermark = "unauthorized"
		case !res.Watermark.IsZero():
			watermark = res.Watermark.UTC().Format("2006-01-02T15:04:05Z")
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			res.Model, res.Applied, res.Skipped, res.Redirects, res.Deleted, watermark)
	}

	return w.Flush()
}
