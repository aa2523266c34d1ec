package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/engine"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/tasks"
	"github.com/spf13/cobra"
)

// ErrRedisRequired is returned when a command needs redis but none is configured
var ErrRedisRequired = errors.New("redis is required; set redis.address in the config")

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	pushOutput      string
	pushDatasets    []string
	pushIncremental bool
	pushSync        bool
	pushDryRun      bool
	pushNoProgress  bool
	pushEnqueue     bool
)

// pushCmd represents the push command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push source rows to a remote",
	Long: `Push reads every sourced model of the manifest in dependency order and
sends its rows to the remote. Identifiers come from the keymap, so pushing the
same source twice leaves the remote unchanged.

Examples:
  # Push every model to the remote named in the credentials file
  spinta-sync push -o prod --credentials credentials.yaml

  # Resume from stored cursors, one dataset only
  spinta-sync push -o prod -d datasets/gov/example --incremental

  # Print the payloads instead of sending them
  spinta-sync push -o prod --dry-run

  # Hand the push to workers, one task per model
  spinta-sync push -o prod --enqueue`,
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().StringVarP(&pushOutput, "output", "o", "", "remote to push to: a URL or a credentials section name (default from config)")
	pushCmd.Flags().StringSliceVarP(&pushDatasets, "dataset", "d", nil, "only push models of these datasets")
	pushCmd.Flags().BoolVar(&pushIncremental, "incremental", false, "resume from stored cursors instead of rescanning")
	pushCmd.Flags().BoolVar(&pushSync, "sync", false, "sync the keymap from the remote before pushing")
	pushCmd.Flags().BoolVarP(&pushDryRun, "dry-run", "p", false, "print payloads instead of sending them")
	pushCmd.Flags().BoolVar(&pushNoProgress, "no-progress-bar", false, "accepted for compatibility; progress is logged")
	pushCmd.Flags().BoolVar(&pushEnqueue, "enqueue", false, "enqueue one task per model for workers instead of pushing")
}

func runPush(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	models, err := e.Models(pushDatasets...)
	if err != nil {
		return err
	}

	if pushEnqueue {
		return enqueuePush(cmd, e, models)
	}

	rep, err := e.Replicator(ctx, pushOutput)
	if err != nil {
		return err
	}

	summary, err := rep.Push(ctx, replicator.Options{
		Models:      models,
		Incremental: pushIncremental,
		Sync:        pushSync,
		DryRun:      pushDryRun,
		Output:      os.Stdout,
	})
	if summary != nil && !pushDryRun {
		printSummary(cmd, summary)
	}

	return err
}

func enqueuePush(cmd *cobra.Command, e *engine.Engine, models []*manifest.Model) error {
	cfg := e.Config()

	queue, err := newQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	names := make([]string, 0, len(models))
	for _, m := range models {
		if m.Sourced() {
			names = append(names, m.Name)
		}
	}

	target := pushOutput
	if target == "" {
		target = cfg.Remote.URL
	}

	added, err := queue.EnqueueAll(cmd.Context(), target, names, pushIncremental, tasks.TriggerManual)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d of %d models\n", added, len(names))

	return nil
}

// newQueue opens the push queue workers read from
func newQueue(cfg *engine.Config) (*tasks.Queue, error) {
	if !cfg.Redis.Enabled() {
		return nil, ErrRedisRequired
	}

	opt, name, err := cfg.Redis.AsynqOptions(cfg.Worker.Queue)
	if err != nil {
		return nil, err
	}

	return tasks.NewQueue(logger, opt, name, cfg.Worker.TaskTimeout), nil
}

func printSummary(cmd *cobra.Command, summary *replicator.Summary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tREAD\tSENT\tSKIPPED\tFAILED\tRETRIED\tDELETED\tCONFLICTS\tDURATION")

	for _, m := range summary.Models {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			m.Model, m.Read, m.Sent, m.Skipped, m.Failed, m.Retried, m.Deleted, m.Conflicts, m.Duration.Round(time.Millisecond))
	}

	_ = w.Flush()
}
