// Package dispatcher manages worker fan-out over the queue set.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/pagehive/hopper/internal/metrics"
	"github.com/pagehive/hopper/internal/queueset"
	"github.com/pagehive/hopper/internal/worker"
)

// Dispatcher fans out popped requests to a pool of workers. It owns the
// subscription lifecycle: backends are subscribed before the first worker
// starts and unsubscribed once the last one returns.
type Dispatcher struct {
	queues  *queueset.QueueSet
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queues *queueset.QueueSet, workers []*worker.Worker) *Dispatcher {
	metrics.Init()
	return &Dispatcher{
		queues:  queues,
		workers: workers,
	}
}

// Run subscribes the backends, starts all workers, and blocks until the
// context finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.queues.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe queues: %w", err)
	}

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()

	// Unsubscribe with a fresh context: the run context is already done.
	if err := d.queues.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("unsubscribe queues: %w", err)
	}
	return nil
}

// Enqueue proxies to the queue set and records the push.
func (d *Dispatcher) Enqueue(ctx context.Context, req *queueset.Request, name string) error {
	if err := d.queues.Push(ctx, req, name); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	metrics.ObservePush(name)
	return nil
}
