package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// PostgreSQL error codes for retryable errors. Ledger transactions run at
// SERIALIZABLE, so serialization failures are expected under contention.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrLockNotAvailable     = "55P03"
)

// RetrierConfig bounds how long a transaction keeps being retried.
type RetrierConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetrierConfig suits short ledger transactions.
func DefaultRetrierConfig() RetrierConfig {
	return RetrierConfig{
		MaxRetries:      5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
}

// Retrier implements usecase.Retrier with exponential backoff.
type Retrier struct {
	cfg    RetrierConfig
	logger zerolog.Logger
}

// NewRetrier creates a new PostgreSQL retrier with default settings.
func NewRetrier(logger zerolog.Logger) *Retrier {
	return NewRetrierWithConfig(DefaultRetrierConfig(), logger)
}

// NewRetrierWithConfig creates a retrier with explicit bounds.
func NewRetrierWithConfig(cfg RetrierConfig, logger zerolog.Logger) *Retrier {
	return &Retrier{
		cfg:    cfg,
		logger: logger.With().Str("component", "pg_retrier").Logger(),
	}
}

// Retry runs operation again while it fails with a conflict PostgreSQL
// resolves by aborting one side. Every other error is returned at once.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime

	attempt := 0

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		code, retryable := retryableCode(err)
		if !retryable {
			return backoff.Permanent(err)
		}

		attempt++
		if attempt > r.cfg.MaxRetries {
			r.logger.Error().Err(err).Str("sqlstate", code).Int("attempts", attempt).Msg("giving up on conflicting transaction")
			return backoff.Permanent(err)
		}

		r.logger.Debug().
			Err(err).
			Str("sqlstate", code).
			Int("retry", attempt).
			Msg("transaction conflict, retrying")

		return err
	}, backoff.WithContext(b, ctx))
}

func retryableCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}

	switch pgErr.Code {
	case pgErrDeadlock, pgErrSerializationFailure, pgErrLockNotAvailable:
		return pgErr.Code, true
	}

	return pgErr.Code, false
}
