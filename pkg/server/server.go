package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service is a component started and stopped with the server
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// Named pairs a service with the name used in logs
type Named struct {
	Name    string
	Service Service
}

// Server runs services until its context ends or the process gets SIGINT or SIGTERM
type Server struct {
	log      logrus.FieldLogger
	config   *Config
	services []Named

	pprofServer *http.Server
}

// NewServer creates a new server instance. Services start in order and stop in reverse.
func NewServer(log logrus.FieldLogger, config *Config, services ...Named) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Server{
		log:      log.WithField("component", "server"),
		config:   config,
		services: services,
	}, nil
}

// Run starts every service and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.StartMetricsServer(s.log, s.config.MetricsAddr)

	started := make([]Named, 0, len(s.services))

	for _, svc := range s.services {
		if err := svc.Service.Start(ctx); err != nil {
			s.stop(started)
			return fmt.Errorf("failed to start %s: %w", svc.Name, err)
		}

		started = append(started, svc)
		s.log.WithField("service", svc.Name).Debug("Service started")
	}

	g, ctx := errgroup.WithContext(ctx)

	if s.config.PProfAddr != "" {
		s.pprofServer = &http.Server{
			Addr:              s.config.PProfAddr,
			ReadHeaderTimeout: 120 * time.Second,
		}

		g.Go(func() error {
			s.log.WithField("addr", s.config.PProfAddr).Info("Starting pprof server")

			if err := s.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()

		s.stop(started)

		return nil
	})

	return g.Wait()
}

// stop stops services in reverse start order within the shutdown timeout
func (s *Server) stop(started []Named) {
	s.log.Info("Starting graceful shutdown...")

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Service.Stop(); err != nil {
				s.log.WithError(err).WithField("service", started[i].Name).Error("Failed to stop service")
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		s.log.WithField("timeout", s.config.ShutdownTimeout).Warn("Shutdown timed out")
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if err := observability.StopMetricsServer(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	s.log.Info("Stopped gracefully")
}
