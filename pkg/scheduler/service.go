package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	jobID = "push"
	// slack tolerates clock and storage rounding between instances
	slack = time.Second
)

// Trigger runs one scheduled push
type Trigger func(ctx context.Context) error

// Service defines the public interface for the scheduler service
type Service interface {
	// Start registers the schedule and returns; runs happen in the background
	Start(ctx context.Context) error
	// Stop waits for a running trigger up to the shutdown timeout
	Stop() error
	// LastRun returns when the schedule last fired
	LastRun(ctx context.Context) (time.Time, error)
}

type service struct {
	log      logrus.FieldLogger
	cfg      *Config
	trigger  Trigger
	tracker  scheduleTracker
	elector  LeaderElector
	schedule cron.Schedule

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a scheduler. With a redis client, instances sharing
// prefix elect one leader and only the leader fires.
func NewService(log logrus.FieldLogger, cfg *Config, trigger Trigger, client *redis.Client, prefix string) (Service, error) {
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	s := &service{
		log:      log.WithField("service", "scheduler"),
		cfg:      cfg,
		trigger:  trigger,
		tracker:  newMemoryTracker(),
		schedule: schedule,
	}

	if client != nil {
		s.tracker = newScheduleTracker(s.log, client, prefix)
		s.elector = NewLeaderElector(s.log, client, prefix)
	}

	return s, nil
}

func (s *service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.elector != nil {
		if err := s.elector.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start leader election: %w", err)
		}
	}

	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)

	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		s.wg.Add(1)
		defer s.wg.Done()

		s.tick(runCtx, time.Now().UTC())
	}))

	s.cron.Start()

	s.log.WithField("schedule", s.cfg.Schedule).Info("Scheduler started")

	return nil
}

func (s *service) Stop() error {
	if s.cron != nil {
		stopped := s.cron.Stop()

		select {
		case <-stopped.Done():
		case <-time.After(s.cfg.ShutdownTimeout):
			s.log.Warn("Scheduled push did not finish before shutdown timeout, cancelling")
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	if s.elector != nil {
		if err := s.elector.Stop(); err != nil {
			return err
		}
	}

	s.log.Info("Scheduler stopped")

	return nil
}

func (s *service) LastRun(ctx context.Context) (time.Time, error) {
	return s.tracker.GetLastRun(ctx, jobID)
}

// tick fires the trigger unless another instance leads or the previous
// run is more recent than one schedule period
func (s *service) tick(ctx context.Context, now time.Time) {
	if s.elector != nil && !s.elector.IsLeader() {
		s.log.Debug("Not the leader, skipping scheduled push")
		return
	}

	last, err := s.tracker.GetLastRun(ctx, jobID)
	if err != nil {
		s.log.WithError(err).Warn("Failed to get last run, will retry next tick")
		return
	}

	if !last.IsZero() && now.Add(slack).Before(s.schedule.Next(last)) {
		s.log.WithField("last_run", last).Debug("Schedule already fired, skipping")
		return
	}

	if err := s.tracker.SetLastRun(ctx, jobID, now); err != nil {
		s.log.WithError(err).Warn("Failed to record run, skipping")
		return
	}

	start := time.Now()

	if err := s.trigger(ctx); err != nil {
		observability.RecordError("scheduler", "trigger_failed")
		s.log.WithError(err).Error("Scheduled push failed")

		return
	}

	s.log.WithField("duration", time.Since(start)).Info("Scheduled push completed")
}

var _ Service = (*service)(nil)
