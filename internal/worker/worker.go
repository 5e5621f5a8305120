// Package worker implements the request consumption loop.
package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pagehive/hopper/internal/metrics"
	"github.com/pagehive/hopper/internal/queueset"
)

// Source is the slice of QueueSet the worker needs.
type Source interface {
	Pop(ctx context.Context) (*queueset.Request, error)
	Repush(ctx context.Context, old *queueset.Request, req *queueset.Request) error
	Done(ctx context.Context, req *queueset.Request) error
	Abandon(ctx context.Context, req *queueset.Request) error
}

// Limiter paces dispatch per request URL. A nil Limiter means no pacing.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	// IdleSleep is how long the worker waits after an empty sweep of all
	// queues before polling again.
	IdleSleep time.Duration
}

// Worker consumes requests and runs them through the injected Processor.
type Worker struct {
	source    Source
	processor Processor
	retry     RetryPolicy
	limiter   Limiter
	clock     Clock
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Worker. limiter may be nil.
func New(
	source Source,
	processor Processor,
	retry RetryPolicy,
	limiter Limiter,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 500 * time.Millisecond
	}
	metrics.Init()
	return &Worker{
		source:    source,
		processor: processor,
		retry:     retry,
		limiter:   limiter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("hopper/worker"),
	}
}

// Run blocks, consuming requests until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		req, err := w.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("pop failed", zap.Error(err))
			w.idle(ctx)
			continue
		}
		if req == nil {
			metrics.ObserveEmptyPop()
			w.idle(ctx)
			continue
		}

		w.processRequest(ctx, req)
	}
}

func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) processRequest(ctx context.Context, req *queueset.Request) {
	queue := ""
	if origin := req.Origin(); origin != nil {
		queue = origin.Name()
	}
	metrics.ObservePop(queue)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, req.URL); err != nil {
			// The wait typically fails because the run context ended
			// at shutdown; detach the finalization so the backend
			// still gets the nack instead of waiting out its
			// visibility timeout.
			if aerr := w.source.Abandon(context.WithoutCancel(ctx), req); aerr != nil {
				w.logger.Error("abandon after rate limit wait failed",
					zap.String("request_id", req.ID),
					zap.Error(aerr),
				)
			}
			return
		}
	}

	ctx, span := w.tracer.Start(ctx, "worker.process",
		trace.WithAttributes(
			attribute.String("hopper.queue", queue),
			attribute.String("hopper.request_id", req.ID),
			attribute.String("url.full", req.URL),
			attribute.Int("hopper.attempt", req.Attempt),
		),
	)
	defer span.End()

	w.logger.Debug("processing request",
		zap.String("request_id", req.ID),
		zap.String("queue", queue),
		zap.String("url", req.URL),
		zap.Int("attempt", req.Attempt),
	)

	start := w.clock.Now()
	outcome, err := w.processor.Process(ctx, req)
	elapsed := w.clock.Now().Sub(start)
	if err != nil {
		span.RecordError(err)
	}

	w.finalize(ctx, req, queue, outcome, err, elapsed)
}

func (w *Worker) finalize(
	ctx context.Context,
	req *queueset.Request,
	queue string,
	outcome Outcome,
	procErr error,
	elapsed time.Duration,
) {
	switch outcome {
	case OutcomeDone:
		if err := w.source.Done(ctx, req); err != nil {
			w.logger.Error("done failed",
				zap.String("request_id", req.ID),
				zap.String("queue", queue),
				zap.Error(err),
			)
			return
		}
		metrics.ObserveAck(queue, "done")
		metrics.ObserveProcessDuration(queue, "done", elapsed)
		w.logger.Debug("request done",
			zap.String("request_id", req.ID),
			zap.String("queue", queue),
		)

	case OutcomeRetry:
		w.handleRetry(ctx, req, queue, procErr, elapsed)

	default:
		if err := w.source.Abandon(ctx, req); err != nil {
			w.logger.Error("abandon failed",
				zap.String("request_id", req.ID),
				zap.String("queue", queue),
				zap.Error(err),
			)
			return
		}
		metrics.ObserveAck(queue, "abandon")
		metrics.ObserveProcessDuration(queue, "abandon", elapsed)
		w.logger.Warn("request abandoned",
			zap.String("request_id", req.ID),
			zap.String("queue", queue),
			zap.Error(procErr),
		)
	}
}

// handleRetry requeues a replacement with an incremented attempt count.
// When the policy refuses another attempt the request is abandoned so the
// backend keeps custody of it.
func (w *Worker) handleRetry(
	ctx context.Context,
	req *queueset.Request,
	queue string,
	procErr error,
	elapsed time.Duration,
) {
	if w.retry == nil || !w.retry.ShouldRetry(procErr, req.Attempt) {
		w.logger.Warn("retries exhausted",
			zap.String("request_id", req.ID),
			zap.String("queue", queue),
			zap.Int("attempt", req.Attempt),
			zap.Error(procErr),
		)
		if err := w.source.Abandon(ctx, req); err != nil {
			w.logger.Error("abandon failed",
				zap.String("request_id", req.ID),
				zap.String("queue", queue),
				zap.Error(err),
			)
			return
		}
		metrics.ObserveAck(queue, "abandon")
		metrics.ObserveProcessDuration(queue, "abandon", elapsed)
		return
	}

	next := queueset.NewRequest(req.Type, req.URL)
	next.Attempt = req.Attempt + 1

	backoff := w.retry.Backoff(req.Attempt)
	if backoff > 0 {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err := w.source.Abandon(ctx, req); err != nil {
				w.logger.Error("abandon failed",
					zap.String("request_id", req.ID),
					zap.Error(err),
				)
			}
			return
		case <-timer.C:
		}
	}

	if err := w.source.Repush(ctx, req, next); err != nil {
		w.logger.Error("repush failed",
			zap.String("request_id", req.ID),
			zap.String("queue", queue),
			zap.Error(err),
		)
		if aerr := w.source.Abandon(ctx, req); aerr != nil {
			w.logger.Error("abandon after failed repush",
				zap.String("request_id", req.ID),
				zap.Error(aerr),
			)
		}
		return
	}
	if err := w.source.Done(ctx, req); err != nil {
		w.logger.Error("done after repush failed",
			zap.String("request_id", req.ID),
			zap.String("queue", queue),
			zap.Error(err),
		)
		return
	}

	metrics.ObserveRetry(queue)
	metrics.ObserveProcessDuration(queue, "retry", elapsed)
	w.logger.Info("request requeued",
		zap.String("request_id", req.ID),
		zap.String("queue", queue),
		zap.Int("next_attempt", next.Attempt),
	)
}
