package worker

import (
	"context"
	"fmt"

	r "github.com/atviriduomenys/spinta-sync/pkg/redis"
	"github.com/atviriduomenys/spinta-sync/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start starts processing push tasks
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

type service struct {
	config   *Config
	log      logrus.FieldLogger
	pusher   tasks.Pusher
	redisOpt *redis.Options

	server *asynq.Server
}

// NewService creates a worker over the pusher
func NewService(log logrus.FieldLogger, cfg *Config, pusher tasks.Pusher, redisOpt *redis.Options) (Service, error) {
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:      log.WithField("service", "worker"),
		config:   cfg,
		pusher:   pusher,
		redisOpt: redisOpt,
	}, nil
}

// Start starts the asynq server in the background
func (s *service) Start(_ context.Context) error {
	handler := tasks.NewTaskHandler(s.log, s.pusher)

	srv := asynq.NewServer(r.NewAsynqRedisOptions(s.redisOpt), asynq.Config{
		Concurrency:     s.config.Concurrency,
		Queues:          map[string]int{s.config.Queue: 10},
		ShutdownTimeout: s.config.ShutdownTimeout,
		Logger:          &asynqLogger{log: s.log},
	})

	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range handler.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	s.server = srv

	s.log.WithFields(logrus.Fields{
		"queue":       s.config.Queue,
		"concurrency": s.config.Concurrency,
	}).Info("Worker service started successfully")

	return nil
}

// Stop waits for running tasks up to the shutdown timeout
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.log.Info("Worker service stopped successfully")

	return nil
}

// asynqLogger routes asynq's own logs through logrus
type asynqLogger struct {
	log logrus.FieldLogger
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(args...) }

func (l *asynqLogger) Info(args ...any) { l.log.Info(args...) }

func (l *asynqLogger) Warn(args ...any) { l.log.Warn(args...) }

func (l *asynqLogger) Error(args ...any) { l.log.Error(args...) }

func (l *asynqLogger) Fatal(args ...any) { l.log.Fatal(args...) }

// Ensure service implements the interface
var _ Service = (*service)(nil)
