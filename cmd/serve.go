package cmd

import (
	"context"

	"github.com/atviriduomenys/spinta-sync/pkg/api"
	"github.com/atviriduomenys/spinta-sync/pkg/api/handlers"
	"github.com/atviriduomenys/spinta-sync/pkg/engine"
	"github.com/atviriduomenys/spinta-sync/pkg/server"
)

// statusAPI creates the status API service for a remote
func statusAPI(ctx context.Context, e *engine.Engine, remoteURL string) (server.Named, error) {
	m, err := e.Manifest()
	if err != nil {
		return server.Named{}, err
	}

	km, err := e.Keymap(ctx)
	if err != nil {
		return server.Named{}, err
	}

	state, err := e.PushState(ctx)
	if err != nil {
		return server.Named{}, err
	}

	cfg := e.Config()
	h := handlers.NewServer(remoteURL, m, state, km, logger)

	return server.Named{Name: "api", Service: api.NewService(&cfg.API, h, logger)}, nil
}

// runServices runs services until the command's context ends
func runServices(ctx context.Context, e *engine.Engine, services ...server.Named) error {
	cfg := e.Config()

	srv, err := server.NewServer(logger, &server.Config{
		MetricsAddr:     cfg.MetricsAddr,
		PProfAddr:       cfg.PProfAddr,
		ShutdownTimeout: cfg.Schedule.ShutdownTimeout,
	}, services...)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
