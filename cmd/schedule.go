package cmd

import (
	"context"

	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/scheduler"
	"github.com/atviriduomenys/spinta-sync/pkg/server"
	"github.com/atviriduomenys/spinta-sync/pkg/tasks"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	scheduleOutput   string
	scheduleDatasets []string
	scheduleSync     bool
)

// scheduleCmd represents the schedule command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Push incrementally on a schedule",
	Long: `Schedule runs an incremental push every time the configured schedule
fires. With schedule.enqueue set, each run enqueues one task per model for
workers instead. Instances sharing a redis elect one leader, and only the
leader fires.

Examples:
  # Push every five minutes
  spinta-sync schedule -o prod --credentials credentials.yaml

  # Sync the keymap before each run
  spinta-sync schedule -o prod --sync`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVarP(&scheduleOutput, "output", "o", "", "remote to push to: a URL or a credentials section name (default from config)")
	scheduleCmd.Flags().StringSliceVarP(&scheduleDatasets, "dataset", "d", nil, "only push models of these datasets")
	scheduleCmd.Flags().BoolVar(&scheduleSync, "sync", false, "sync the keymap from the remote before each run")
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	cfg := e.Config()

	models, err := e.Models(scheduleDatasets...)
	if err != nil {
		return err
	}

	client, err := e.Remote(ctx, scheduleOutput)
	if err != nil {
		return err
	}

	var trigger scheduler.Trigger

	if cfg.Schedule.Enqueue {
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

		trigger = func(ctx context.Context) error {
			_, err := queue.EnqueueAll(ctx, client.URL(), names, true, tasks.TriggerSchedule)
			return err
		}
	} else {
		rep, err := e.Replicator(ctx, scheduleOutput)
		if err != nil {
			return err
		}

		trigger = func(ctx context.Context) error {
			_, err := rep.Push(ctx, replicator.Options{
				Models:      models,
				Incremental: true,
				Sync:        scheduleSync,
			})
			return err
		}
	}

	redisClient, err := e.Redis()
	if err != nil {
		return err
	}

	prefix := ""
	if cfg.Redis.Enabled() {
		prefix = cfg.Redis.PrefixKey("push")
	}

	svc, err := scheduler.NewService(logger, &cfg.Schedule, trigger, redisClient, prefix)
	if err != nil {
		return err
	}

	services := []server.Named{{Name: "scheduler", Service: svc}}

	if cfg.API.Enabled {
		status, err := statusAPI(ctx, e, client.URL())
		if err != nil {
			return err
		}

		services = append(services, status)
	}

	return runServices(ctx, e, services...)
}
