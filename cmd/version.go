package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/atviriduomenys/spinta-sync/cmd.Release=..."
//
//nolint:gochecknoglobals // Build-time variables
var (
	Release   = "dev"
	GitCommit = "none"
)

//nolint:gochecknoglobals // Cobra flags
var versionShort bool

//nolint:gochecknoglobals // Cobra commands are typically global
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the spinta-sync release and build",
	Long: `Print the spinta-sync release, the commit it was built from and the Go
toolchain and platform of the binary. Include this output when reporting a
push or keymap problem, keymap and push state layouts change between
releases.

With --short only the release is printed.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString(versionShort))
	},
}

func versionString(short bool) string {
	if short {
		return Release
	}

	return fmt.Sprintf("spinta-sync %s (commit %s, %s, %s/%s)",
		Release, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the release")
	rootCmd.AddCommand(versionCmd)
}
