package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagehive/hopper/internal/clock/system"
	"github.com/pagehive/hopper/internal/queue/memory"
	"github.com/pagehive/hopper/internal/queueset"
	"github.com/pagehive/hopper/internal/worker"
)

type staticConfig struct {
	weights map[string]int
}

func (c *staticConfig) Weights() map[string]int { return c.weights }
func (c *staticConfig) OnChange(string, func()) {}

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	notify    chan struct{}
}

func (p *recordingProcessor) Process(_ context.Context, req *queueset.Request) (worker.Outcome, error) {
	p.mu.Lock()
	p.processed = append(p.processed, req.URL)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return worker.OutcomeDone, nil
}

func newQueueSet(t *testing.T, queues ...queueset.Queue) *queueset.QueueSet {
	t.Helper()
	qs, err := queueset.New(queues, &staticConfig{}, nil)
	require.NoError(t, err)
	return qs
}

func TestDispatcherRunProcessesRequests(t *testing.T) {
	t.Parallel()

	q := memory.New("normal", 8)
	qs := newQueueSet(t, q)
	require.NoError(t, q.Push(context.Background(), queueset.NewRequest("normal", "https://example.com/a")))

	proc := &recordingProcessor{notify: make(chan struct{}, 1)}
	w := worker.New(qs, proc, worker.NewExponentialRetryPolicy(), nil, system.New(), worker.Config{IdleSleep: time.Millisecond}, nil)
	dispatch := New(qs, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dispatch.Run(ctx)
	}()

	select {
	case <-proc.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process the request")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Equal(t, []string{"https://example.com/a"}, proc.processed)
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	qs := newQueueSet(t, memory.New("normal", 1))
	dispatch := New(qs, nil)

	err := dispatch.Enqueue(context.Background(), queueset.NewRequest("normal", "https://example.com/a"), "missing")
	require.Error(t, err)
	require.ErrorIs(t, err, queueset.ErrQueueNotFound)
}

func TestDispatcherEnqueuePushes(t *testing.T) {
	t.Parallel()

	q := memory.New("normal", 1)
	qs := newQueueSet(t, q)
	dispatch := New(qs, nil)

	req := queueset.NewRequest("normal", "https://example.com/a")
	require.NoError(t, dispatch.Enqueue(context.Background(), req, "normal"))

	got, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Same(t, req, got)
}

func TestDispatcherRunFailsWhenSubscribeFails(t *testing.T) {
	t.Parallel()

	qs := newQueueSet(t, &failingQueue{name: "broken"})
	dispatch := New(qs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := dispatch.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "subscribe queues")
}

type failingQueue struct {
	name string
}

func (q *failingQueue) Name() string { return q.name }

func (q *failingQueue) Pop(context.Context) (*queueset.Request, error) { return nil, nil }

func (q *failingQueue) Push(context.Context, *queueset.Request) error { return nil }

func (q *failingQueue) Done(context.Context, *queueset.Request) error { return nil }

func (q *failingQueue) Abandon(context.Context, *queueset.Request) error { return nil }

func (q *failingQueue) Subscribe(context.Context) error {
	return errors.New("broker unavailable")
}

func (q *failingQueue) Unsubscribe(context.Context) error { return nil }
