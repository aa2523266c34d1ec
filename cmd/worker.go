package cmd

import (
	"github.com/atviriduomenys/spinta-sync/pkg/server"
	"github.com/atviriduomenys/spinta-sync/pkg/worker"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run push tasks from the queue",
	Long: `Worker takes push tasks enqueued by push --enqueue or by the scheduler
and pushes one model per task. Tasks name their remote, so one worker can
serve several remotes. Requires redis.

Examples:
  spinta-sync worker --config config.yaml --credentials credentials.yaml`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	cfg := e.Config()

	opts, err := e.RedisOptions()
	if err != nil {
		return err
	}

	if opts == nil {
		return ErrRedisRequired
	}

	m, err := e.Manifest()
	if err != nil {
		return err
	}

	pusher := worker.NewModelPusher(logger, m, e.Replicator)

	cfg.Worker.Queue = cfg.Redis.PrefixQueue(cfg.Worker.Queue)

	svc, err := worker.NewService(logger, &cfg.Worker, pusher, opts)
	if err != nil {
		return err
	}

	services := []server.Named{{Name: "worker", Service: svc}}

	if cfg.API.Enabled {
		status, err := statusAPI(ctx, e, cfg.Remote.URL)
		if err != nil {
			return err
		}

		services = append(services, status)
	}

	return runServices(ctx, e, services...)
}
