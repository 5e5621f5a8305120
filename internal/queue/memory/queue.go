// Package memory provides a channel-backed queue for local development
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pagehive/hopper/internal/queueset"
)

// Queue is a bounded in-memory queue. Abandoned requests are re-enqueued at
// the back, so redelivery order is approximate.
type Queue struct {
	name    string
	ch      chan *queueset.Request
	closeMu sync.Mutex
	closed  bool
}

// New constructs a named queue with the provided capacity.
func New(name string, capacity int) *Queue {
	return &Queue{
		name: name,
		ch:   make(chan *queueset.Request, capacity),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Pop returns the next request, or (nil, nil) when the queue is empty.
func (q *Queue) Pop(_ context.Context) (*queueset.Request, error) {
	select {
	case req, ok := <-q.ch:
		if !ok {
			return nil, errors.New("queue closed")
		}
		return req, nil
	default:
		return nil, nil
	}
}

// Push enqueues a request, blocking until capacity frees up or the context
// ends.
func (q *Queue) Push(ctx context.Context, req *queueset.Request) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("push canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Done acknowledges a request. The channel already removed it on Pop, so
// there is nothing to clean up.
func (q *Queue) Done(context.Context, *queueset.Request) error {
	return nil
}

// Abandon re-enqueues a reset copy of the request for redelivery. The
// copy is pending with no origin, the same state a brokered backend
// produces by decoding a fresh envelope, so the redelivered request can
// be finalized again.
func (q *Queue) Abandon(ctx context.Context, req *queueset.Request) error {
	return q.Push(ctx, &queueset.Request{
		ID:      req.ID,
		Type:    req.Type,
		URL:     req.URL,
		Attempt: req.Attempt,
	})
}

// Subscribe is a no-op; the channel needs no connection setup.
func (q *Queue) Subscribe(context.Context) error {
	return nil
}

// Unsubscribe is a no-op.
func (q *Queue) Unsubscribe(context.Context) error {
	return nil
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
