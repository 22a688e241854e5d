package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/settlement/internal/adapter/http"
	"github.com/iho/settlement/internal/adapter/http/handler"
	"github.com/iho/settlement/internal/adapter/http/middleware"
	"github.com/iho/settlement/internal/adapter/processor"
	"github.com/iho/settlement/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/settlement/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/settlement/internal/adapter/repository/redis"
	"github.com/iho/settlement/internal/app"
	"github.com/iho/settlement/internal/cron"
	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/infrastructure/config"
	"github.com/iho/settlement/internal/infrastructure/eventpublisher"
	"github.com/iho/settlement/internal/infrastructure/logger"
	"github.com/iho/settlement/internal/infrastructure/metrics"
	"github.com/iho/settlement/internal/infrastructure/postgres"
	"github.com/iho/settlement/internal/infrastructure/redis"
	"github.com/iho/settlement/internal/usecase"
)

const limiterIdleTimeout = 10 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = appLogger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Fatal().Err(err).Msg("server failed")
	}

	appLogger.Info().Msg("server stopped")
}

// infra holds the stateful adapters selected by configuration.
type infra struct {
	repos       usecase.Repositories
	retrier     usecase.Retrier
	cache       usecase.BalanceCache
	guard       usecase.NotificationGuard
	locker      usecase.Locker
	idempotency usecase.IdempotencyStore
	publisher   usecase.EventPublisher
	checks      map[string]handler.Pinger
	closers     []func()
}

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func run(ctx context.Context, cfg *config.Config, appLogger zerolog.Logger) error {
	clock := usecase.SystemClock{}
	idGen := postgresRepo.NewULIDGenerator()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	in, err := buildInfra(ctx, cfg, clock, appLogger)
	if err != nil {
		return err
	}
	defer in.close()

	// The sandbox delivers its webhooks straight to the use case, which only
	// exists once the services are built.
	var services *app.Services
	notify := func(ctx context.Context, n *domain.ProcessorNotification) error {
		return services.Webhooks.HandleNotification(ctx, n)
	}

	services = app.NewServices(app.Deps{
		Repos:     in.repos,
		Cache:     in.cache,
		Guard:     in.guard,
		Locker:    in.locker,
		Processor: newProcessor(cfg, idGen, clock, notify, appLogger),
		IDGen:     idGen,
		Clock:     clock,
		Settings:  cfg.Settings(),
		Metrics:   m,
		Retrier:   in.retrier,
		Logger:    appLogger,
	})

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).WithHitCounter(m.RateLimitHits)

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		Services:         services,
		HealthHandler:    handler.NewHealthHandler(in.checks),
		Logger:           appLogger,
		IdempotencyStore: in.idempotency,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		RateLimiter:      rateLimiter,
		Metrics:          m,
		Gatherer:         registry,
		WebhookSecret:    cfg.WebhookSecret,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.Storage).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	relay := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: in.repos.Outbox,
		Publisher:  in.publisher,
		Clock:      clock,
		Backlog:    m.OutboxLag,
		Logger:     appLogger,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxPollPeriod,
	})
	g.Go(func() error { return ignoreCanceled(relay.Start(gctx)) })

	g.Go(func() error {
		ticker := time.NewTicker(limiterIdleTimeout)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rateLimiter.CleanupLimiters(limiterIdleTimeout)
			}
		}
	})

	if cfg.JobsEnabled {
		jobs, err := buildJobs(cfg, services, in.repos.Outbox, clock)
		if err != nil {
			return err
		}

		svc, err := cron.NewService(cron.ServiceParams{
			Logger:   appLogger,
			Registry: jobs,
			Locker:   in.locker,
			Metrics:  m,
			Interval: cfg.JobTick,
		})
		if err != nil {
			return err
		}

		g.Go(func() error { return ignoreCanceled(svc.Run(gctx)) })
	}

	return g.Wait()
}

// buildInfra connects the storage backend and, when configured, Redis.
func buildInfra(ctx context.Context, cfg *config.Config, clock usecase.Clock, appLogger zerolog.Logger) (*infra, error) {
	in := &infra{checks: map[string]handler.Pinger{}}

	switch cfg.Storage {
	case config.StoragePostgres:
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, appLogger); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
		pool, err := postgres.NewPool(connectCtx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		appLogger.Info().Msg("connected to postgres")

		in.closers = append(in.closers, pool.Close)
		in.repos = postgresRepo.Repositories(pool)
		in.retrier = postgresRepo.NewRetrier(appLogger)
		in.checks["postgres"] = pool.Ping
	default:
		appLogger.Warn().Msg("using in-memory storage; data is lost on restart")
		in.repos = memory.New().Repositories()
	}

	if cfg.RedisURL == "" {
		in.cache = memory.NewBalanceCache()
		in.guard = memory.NewNotificationGuard()
		in.locker = memory.NewLocker(clock)
		in.idempotency = memory.NewIdempotencyStore(clock)
		in.publisher = eventpublisher.NewLogPublisher(appLogger)

		return in, nil
	}

	client, err := redis.NewClient(ctx, redis.Options{
		URL:        cfg.RedisURL,
		PoolSize:   cfg.RedisPoolSize,
		ClientName: "settlement",
	})
	if err != nil {
		in.close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	appLogger.Info().Msg("connected to redis")

	in.closers = append(in.closers, func() { _ = client.Close() })
	in.cache = redisRepo.NewBalanceCache(client)
	in.guard = redisRepo.NewNotificationGuard(client, cfg.WebhookDedupeTTL)
	in.locker = redisRepo.NewLocker(client)
	in.idempotency = redisRepo.NewIdempotencyStore(client)
	in.publisher = redisRepo.NewStreamPublisher(client, cfg.EventStream, cfg.EventStreamMaxLen)
	in.checks["redis"] = redisPinger(client)

	return in, nil
}

func redisPinger(client *goredis.Client) handler.Pinger {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// newProcessor returns the HTTP processor client, or the sandbox when no
// processor URL is configured.
func newProcessor(cfg *config.Config, idGen usecase.IDGenerator, clock usecase.Clock, notify processor.NotifyFunc, appLogger zerolog.Logger) usecase.PaymentProcessor {
	if cfg.ProcessorURL == "" {
		appLogger.Warn().Msg("PROCESSOR_URL not set, using sandbox processor")
		return processor.NewSandbox(idGen, clock, notify, cfg.SandboxDelay, appLogger)
	}

	return processor.NewClient(processor.Config{
		BaseURL:       cfg.ProcessorURL,
		APIKey:        cfg.ProcessorAPIKey,
		Timeout:       cfg.ProcessorTimeout,
		ChargeRetries: cfg.ProcessorChargeRetries,
		Logger:        appLogger,
	})
}

// buildJobs registers the background jobs. Cheap sweeps run every tick; the
// payout batch and the conservation check run on their own intervals.
func buildJobs(cfg *config.Config, services *app.Services, outbox usecase.OutboxRepository, clock usecase.Clock) (*cron.Registry, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Repository: outbox,
		Clock:      clock,
		Retention:  cfg.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(
		cron.NewOrderTTLJob(services.Orders),
		cron.NewDisputeDeadlineJob(services.Disputes),
		cron.NewStalePayoutLineJob(services.Payouts),
		cron.Every(cron.NewPayoutBatchJob(services.Payouts), cfg.PayoutInterval, clock.Now),
		cron.Every(cron.NewConsistencyJob(services.Ledger), cfg.ConsistencyInterval, clock.Now),
		cron.Every(retention, time.Hour, clock.Now),
	), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
