// Package server builds the application graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pagehive/hopper/internal/api"
	"github.com/pagehive/hopper/internal/clock/system"
	"github.com/pagehive/hopper/internal/config"
	"github.com/pagehive/hopper/internal/dispatcher"
	"github.com/pagehive/hopper/internal/logging"
	"github.com/pagehive/hopper/internal/metrics"
	amqpqueue "github.com/pagehive/hopper/internal/queue/amqp"
	memoryqueue "github.com/pagehive/hopper/internal/queue/memory"
	pgqueue "github.com/pagehive/hopper/internal/queue/postgres"
	psqueue "github.com/pagehive/hopper/internal/queue/pubsub"
	redisqueue "github.com/pagehive/hopper/internal/queue/redis"
	"github.com/pagehive/hopper/internal/queueset"
	"github.com/pagehive/hopper/internal/ratelimit"
	"github.com/pagehive/hopper/internal/telemetry"
	"github.com/pagehive/hopper/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	settings *config.Settings
	queues   *queueset.QueueSet
	dispatch *dispatcher.Dispatcher
	api      *api.Server

	redisClient    *goredis.Client
	amqpConn       *amqp.Connection
	closers        []func(context.Context) error
	tracerShutdown func(context.Context) error
	meterShutdown  func(context.Context) error
}

// Build creates the application's dependencies. The processor is injected:
// fetching and content handling live outside this service.
func Build(ctx context.Context, cfg *config.Config, proc worker.Processor) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("queues", len(cfg.Queues)),
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)

	tp, mp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.meterShutdown = mp.Shutdown

	app.settings, err = config.NewSettings(cfg.Weights, config.NewBus())
	if err != nil {
		return nil, fmt.Errorf("settings init failed: %w", err)
	}

	backends, err := app.buildBackends(ctx)
	if err != nil {
		return nil, err
	}

	app.queues, err = queueset.New(backends, app.settings, logger.Named("queueset"))
	if err != nil {
		return nil, fmt.Errorf("queue set init failed: %w", err)
	}

	retry := worker.NewRetryPolicy(
		cfg.Worker.MaxAttempts,
		time.Duration(cfg.Worker.BackoffBaseMs)*time.Millisecond,
		time.Duration(cfg.Worker.BackoffMaxMs)*time.Millisecond,
	)
	workerCfg := worker.Config{
		IdleSleep: time.Duration(cfg.Worker.IdleSleepMs) * time.Millisecond,
	}
	clock := system.New()

	var limiter worker.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		logger.Info("dispatch rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queues,
			proc,
			retry,
			limiter,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}

	app.dispatch = dispatcher.New(app.queues, workers)
	app.api = api.NewServer(app.dispatch, *cfg, logger.Named("api"))

	return app, nil
}

// Settings exposes the runtime-tunable settings for config watchers.
func (a *App) Settings() *config.Settings {
	return a.settings
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan error, 1)
	go func() {
		a.logger.Info("dispatcher started")
		dispatchDone <- a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-dispatchDone; err != nil {
		a.logger.Error("dispatcher stopped with error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully releases backend connections.
func (a *App) Close(ctx context.Context) error {
	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			a.logger.Warn("backend close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.amqpConn != nil && !a.amqpConn.IsClosed() {
		if err := a.amqpConn.Close(); err != nil {
			a.logger.Warn("amqp connection close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.meterShutdown != nil {
		if err := a.meterShutdown(ctx); err != nil {
			a.logger.Warn("meter shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// buildBackends instantiates one queue per config entry. Redis queues share
// one client and AMQP queues share one connection.
func (a *App) buildBackends(ctx context.Context) ([]queueset.Queue, error) {
	backends := make([]queueset.Queue, 0, len(a.cfg.Queues))
	for _, qc := range a.cfg.Queues {
		backend, err := a.buildBackend(ctx, qc)
		if err != nil {
			return nil, fmt.Errorf("build queue %q: %w", qc.Name, err)
		}
		a.logger.Info("queue backend ready",
			zap.String("queue", qc.Name),
			zap.String("kind", qc.Kind),
		)
		backends = append(backends, backend)
	}
	return backends, nil
}

func (a *App) buildBackend(ctx context.Context, qc config.QueueConfig) (queueset.Queue, error) {
	switch qc.Kind {
	case config.KindMemory:
		capacity := qc.Capacity
		if capacity <= 0 {
			capacity = 1024
		}
		q := memoryqueue.New(qc.Name, capacity)
		a.closers = append(a.closers, func(context.Context) error {
			q.Close()
			return nil
		})
		return q, nil

	case config.KindRedis:
		if a.redisClient == nil {
			a.redisClient = goredis.NewClient(&goredis.Options{
				Addr:     a.cfg.Redis.Addr,
				Password: a.cfg.Redis.Password,
				DB:       a.cfg.Redis.DB,
			})
		}
		return redisqueue.New(qc.Name, a.redisClient), nil

	case config.KindPostgres:
		q, err := pgqueue.New(ctx, qc.Name, pgqueue.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			q.Close()
			return nil
		})
		return q, nil

	case config.KindPubSub:
		q, err := psqueue.New(ctx, qc.Name, psqueue.Config{
			ProjectID:    a.cfg.PubSub.ProjectID,
			Topic:        qc.Topic,
			Subscription: qc.Subscription,
		}, a.logger.Named("pubsub").With(zap.String("queue", qc.Name)))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			return q.Close()
		})
		return q, nil

	case config.KindAMQP:
		if a.amqpConn == nil {
			conn, err := amqp.Dial(a.cfg.AMQP.URL)
			if err != nil {
				return nil, fmt.Errorf("amqp dial: %w", err)
			}
			a.amqpConn = conn
		}
		q, err := amqpqueue.New(qc.Name, a.amqpConn, qc.Queue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			return q.Close()
		})
		return q, nil

	default:
		return nil, fmt.Errorf("unknown queue kind %q", qc.Kind)
	}
}
