package queueset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrNilConfig is returned when the QueueSet is constructed without a
	// configuration object carrying the change-notification capability.
	ErrNilConfig = errors.New("queueset: config with change notification is required")

	// ErrQueueNotFound is returned by Push for queue names not registered
	// at construction.
	ErrQueueNotFound = errors.New("queueset: queue not found")

	// ErrNoOrigin is returned when a request without a recorded origin
	// backend is finalized or repushed.
	ErrNoOrigin = errors.New("queueset: request has no origin queue")
)

// QueueSet multiplexes an ordered list of backends behind the Queue
// contract used by worker loops. It is safe for concurrent use.
type QueueSet struct {
	queues []Queue
	byName map[string]Queue
	cfg    Config
	logger *zap.Logger

	table atomic.Pointer[dispatchTable]

	cursorMu sync.Mutex
	cursor   int
}

// New constructs a QueueSet over the given backends. Construction fails on
// duplicate backend names, on a nil config, and on non-positive weights;
// these are deployment errors, not runtime conditions. The returned set
// rebuilds its dispatch table whenever cfg fires EventWeightsChanged.
func New(queues []Queue, cfg Config, logger *zap.Logger) (*QueueSet, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[string]Queue, len(queues))
	for _, q := range queues {
		if _, dup := byName[q.Name()]; dup {
			return nil, fmt.Errorf("queueset: duplicate queue name %q", q.Name())
		}
		byName[q.Name()] = q
	}

	qs := &QueueSet{
		queues: queues,
		byName: byName,
		cfg:    cfg,
		logger: logger,
	}

	table, err := buildDispatchTable(qs.names(), cfg.Weights())
	if err != nil {
		return nil, fmt.Errorf("queueset: build dispatch table: %w", err)
	}
	qs.table.Store(table)

	cfg.OnChange(EventWeightsChanged, qs.rebuildTable)

	return qs, nil
}

func (qs *QueueSet) names() []string {
	names := make([]string, len(qs.queues))
	for i, q := range qs.queues {
		names[i] = q.Name()
	}
	return names
}

// rebuildTable recomputes the dispatch table from the current weights and
// swaps it in atomically. In-flight pops keep the table they loaded; a bad
// weight update keeps the previous table in place.
func (qs *QueueSet) rebuildTable() {
	table, err := buildDispatchTable(qs.names(), qs.cfg.Weights())
	if err != nil {
		qs.logger.Error("dispatch table rebuild failed, keeping previous table", zap.Error(err))
		return
	}
	qs.table.Store(table)
	qs.logger.Info("dispatch table rebuilt", zap.Int("slots", table.len()))
}

// claimSlot hands each caller a distinct starting slot, advancing the
// shared cursor by one. Serialized so concurrent pops do not probe from the
// identical slot.
func (qs *QueueSet) claimSlot(tableLen int) int {
	qs.cursorMu.Lock()
	defer qs.cursorMu.Unlock()
	slot := qs.cursor % tableLen
	qs.cursor = (slot + 1) % tableLen
	return slot
}

func (qs *QueueSet) setCursor(slot int) {
	qs.cursorMu.Lock()
	qs.cursor = slot
	qs.cursorMu.Unlock()
}

// Pop returns a request from whichever backend yields one first, honoring
// weighted fairness, or (nil, nil) when every backend is currently empty.
// Starting at the claimed cursor slot it probes backends in table order for
// at most one full cycle; the first hit tags the request with its origin
// and advances the cursor past the winning slot. A backend whose Pop fails
// is logged and treated as empty for this cycle, so one flaky backend never
// stalls the others. After a fully empty cycle the cursor stays where the
// claim left it, so the next call resumes progress instead of re-favoring
// the same starting queue.
func (qs *QueueSet) Pop(ctx context.Context) (*Request, error) {
	table := qs.table.Load()
	n := table.len()
	if n == 0 {
		return nil, nil
	}

	start := qs.claimSlot(n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pop canceled: %w", err)
		}

		slot := (start + i) % n
		q := qs.queues[table.queueIndex(slot)]

		req, err := q.Pop(ctx)
		if err != nil {
			qs.logger.Warn("backend pop failed, probing next slot",
				zap.String("queue", q.Name()),
				zap.Error(err),
			)
			continue
		}
		if req == nil {
			continue
		}

		req.setOrigin(q)
		qs.setCursor((slot + 1) % n)
		return req, nil
	}
	return nil, nil
}

// Push places req onto the named backend. Unknown names fail synchronously
// with ErrQueueNotFound before any backend I/O. The request's origin is set
// to the target backend so a later Done or Abandon routes correctly.
func (qs *QueueSet) Push(ctx context.Context, req *Request, queueName string) error {
	q, ok := qs.byName[queueName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}
	req.setOrigin(q)
	if err := q.Push(ctx, req); err != nil {
		return fmt.Errorf("push to %q: %w", queueName, err)
	}
	return nil
}

// Repush enqueues next into the backend old originated from, for workers
// replacing a request with a mutated retry while keeping it on the same
// backend. The target is derived entirely from old's recorded origin, never
// from a name lookup.
func (qs *QueueSet) Repush(ctx context.Context, old, next *Request) error {
	q := old.Origin()
	if q == nil {
		return ErrNoOrigin
	}
	next.setOrigin(q)
	if err := q.Push(ctx, next); err != nil {
		return fmt.Errorf("repush to %q: %w", q.Name(), err)
	}
	return nil
}

// Done finalizes req as successfully processed. Only the first finalization
// of a request reaches its backend; if req was already finalized by either
// Done or Abandon this is a silent no-op. A backend failure propagates, and
// the request stays acked: this layer does not retry acknowledgments.
func (qs *QueueSet) Done(ctx context.Context, req *Request) error {
	return qs.finalize(ctx, req, "done", Queue.Done)
}

// Abandon finalizes req as needing redelivery. Same first-call-wins guard
// and failure semantics as Done.
func (qs *QueueSet) Abandon(ctx context.Context, req *Request) error {
	return qs.finalize(ctx, req, "abandon", Queue.Abandon)
}

func (qs *QueueSet) finalize(
	ctx context.Context,
	req *Request,
	op string,
	call func(Queue, context.Context, *Request) error,
) error {
	if !req.ack() {
		return nil
	}
	q := req.Origin()
	if q == nil {
		return ErrNoOrigin
	}
	if err := call(q, ctx, req); err != nil {
		return fmt.Errorf("%s on %q: %w", op, q.Name(), err)
	}
	return nil
}

// Subscribe invokes Subscribe on every registered backend. All backends are
// attempted; failures are joined so no backend's subscription failure is
// silently swallowed.
func (qs *QueueSet) Subscribe(ctx context.Context) error {
	return qs.fanOut(ctx, "subscribe", Queue.Subscribe)
}

// Unsubscribe invokes Unsubscribe on every registered backend, with the
// same aggregation as Subscribe.
func (qs *QueueSet) Unsubscribe(ctx context.Context) error {
	return qs.fanOut(ctx, "unsubscribe", Queue.Unsubscribe)
}

func (qs *QueueSet) fanOut(
	ctx context.Context,
	op string,
	call func(Queue, context.Context) error,
) error {
	var errs []error
	for _, q := range qs.queues {
		if err := call(q, ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", op, q.Name(), err))
		}
	}
	return errors.Join(errs...)
}
