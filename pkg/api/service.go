package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/atviriduomenys/spinta-sync/pkg/api/handlers"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app      *fiber.App
	server   *http.Server
	config   *Config
	handlers *handlers.Server
	log      logrus.FieldLogger
}

// NewService creates a new API service
func NewService(cfg *Config, h *handlers.Server, log logrus.FieldLogger) Service {
	return &service{
		config:   cfg,
		handlers: h,
		log:      log.WithField("service", "api"),
	}
}

// NewApp builds the Fiber app with every route registered
func NewApp(h *handlers.Server) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "spinta-sync",
	})

	setupMiddleware(app)

	app.Get("/healthz", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	apiV1 := app.Group("/api/v1")
	apiV1.Get("/models", h.ListModels)
	apiV1.Get("/push-state", h.ListPushState)
	apiV1.Get("/keymap/*", h.GetKeymap)

	return app
}

// Start starts the API server in the background
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	s.app = NewApp(s.handlers)

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: s.config.readHeaderTimeout(),
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.shutdownTimeout())
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
