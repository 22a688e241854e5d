package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/usecase"
)

const (
	defaultInterval = time.Minute
	defaultLockName = "settlement:cron"
)

var errNotDue = errors.New("job not due")

// JobMetrics records job runs.
type JobMetrics interface {
	ObserveJob(job string, duration time.Duration, err error)
}

// ServiceParams configure the job service.
type ServiceParams struct {
	Logger   zerolog.Logger
	Registry *Registry
	Locker   usecase.Locker
	Metrics  JobMetrics
	Interval time.Duration
	// LockTTL bounds how long a crashed instance keeps others from running.
	LockTTL time.Duration
}

// Service executes registered jobs on a fixed cadence. Only the instance
// holding the lock runs a cycle.
type Service struct {
	logger   zerolog.Logger
	registry *Registry
	locker   usecase.Locker
	metrics  JobMetrics
	interval time.Duration
	lockTTL  time.Duration
}

// NewService builds a job service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * interval
	}
	return &Service{
		logger:   params.Logger.With().Str("component", "cron").Logger(),
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		interval: interval,
		lockTTL:  lockTTL,
	}, nil
}

// Run starts the loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runCycle(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled run failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduled run failed")
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	lock, ok, err := s.locker.Acquire(ctx, defaultLockName, s.lockTTL)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !ok {
		s.logger.Debug().Msg("another instance is running jobs; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			s.logger.Error().Err(relErr).Msg("failed to release cron lock")
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}

	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	logger := s.logger.With().Str("job", job.Name()).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	err := job.Run(ctx)
	if errors.Is(err, errNotDue) {
		return
	}
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveJob(job.Name(), duration, err)
	}

	if err != nil {
		logger.Error().Err(err).Int64("duration_ms", duration.Milliseconds()).Msg("job failed")
		return
	}

	logger.Debug().Int64("duration_ms", duration.Milliseconds()).Msg("job completed")
}
