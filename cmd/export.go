package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	exportDatasets []string
	exportFile     string
)

// exportCmd represents the export command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write source rows as insert payloads without contacting a remote",
	Long: `Export builds the same payloads a push would send and writes them as
newline-delimited JSON. Known identifiers come from the keymap; rows without
one get an identifier that lasts for this export only. Neither the keymap nor
push state is written.

Examples:
  # Export every model to stdout
  spinta-sync export

  # Export one dataset to a file
  spinta-sync export -d datasets/gov/example -f rows.jsonl`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringSliceVarP(&exportDatasets, "dataset", "d", nil, "only export models of these datasets")
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "write to this file instead of stdout")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	models, err := e.Models(exportDatasets...)
	if err != nil {
		return err
	}

	exporter, err := e.Exporter(ctx)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()

	if exportFile != "" {
		f, err := os.Create(exportFile) //nolint:gosec // Operator-provided output path
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportFile, err)
		}
		defer f.Close()

		w = f
	}

	summary, err := exporter.Export(ctx, models, w)
	if err != nil {
		return err
	}

	total := 0
	for _, m := range summary.Models {
		total += m.Sent
	}

	logger.WithField("rows", total).Info("Export complete")

	return nil
}
