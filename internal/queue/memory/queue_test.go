package memory

import (
	"context"
	"testing"

	"github.com/pagehive/hopper/internal/queueset"
)

func TestQueuePushPop(t *testing.T) {
	t.Parallel()

	q := New("test", 2)
	req := queueset.NewRequest("page", "https://example.com")
	if err := q.Push(context.Background(), req); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	got, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got != req {
		t.Fatalf("expected the pushed request back, got %+v", got)
	}
}

func TestPopEmptyReturnsNil(t *testing.T) {
	t.Parallel()

	q := New("test", 1)
	got, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on empty queue, got %+v", got)
	}
}

func TestAbandonRedelivers(t *testing.T) {
	t.Parallel()

	q := New("test", 1)
	req := queueset.NewRequest("page", "https://example.com")
	if err := q.Push(context.Background(), req); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	got, err := q.Pop(context.Background())
	if err != nil || got == nil {
		t.Fatalf("Pop() = %v, %v", got, err)
	}

	if err := q.Abandon(context.Background(), got); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	redelivered, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop() after abandon error = %v", err)
	}
	if redelivered == nil || redelivered.ID != req.ID {
		t.Fatalf("expected abandoned request to be redelivered, got %+v", redelivered)
	}
	if redelivered == req {
		t.Fatal("redelivery must not recycle the popped request object")
	}
	if redelivered.Acked() || redelivered.Origin() != nil {
		t.Fatal("redelivered request must carry fresh ack and origin state")
	}
	if redelivered.Attempt != req.Attempt {
		t.Fatalf("redelivery changed attempt count: got %d, want %d", redelivered.Attempt, req.Attempt)
	}
}

// staticConfig satisfies the dispatcher's configuration contract for
// lifecycle tests that need the real ack guard in front of the queue.
type staticConfig struct{}

func (staticConfig) Weights() map[string]int { return nil }
func (staticConfig) OnChange(string, func()) {}

func TestAbandonedRequestIsPendingOnRedelivery(t *testing.T) {
	t.Parallel()

	q := New("test", 2)
	qs, err := queueset.New([]queueset.Queue{q}, staticConfig{}, nil)
	if err != nil {
		t.Fatalf("queueset.New() error = %v", err)
	}

	req := queueset.NewRequest("page", "https://example.com")
	if err := qs.Push(context.Background(), req, "test"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	first, err := qs.Pop(context.Background())
	if err != nil || first == nil {
		t.Fatalf("Pop() = %v, %v", first, err)
	}
	if err := qs.Abandon(context.Background(), first); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}

	second, err := qs.Pop(context.Background())
	if err != nil || second == nil {
		t.Fatalf("Pop() after abandon = %v, %v", second, err)
	}
	if second.Acked() {
		t.Fatal("redelivered request must be pending")
	}
	if second.ID != req.ID {
		t.Fatalf("redelivered request ID = %q, want %q", second.ID, req.ID)
	}

	// The fresh guard must let the redelivered request be finalized and
	// redelivered again rather than silently dropped.
	if err := qs.Abandon(context.Background(), second); err != nil {
		t.Fatalf("second Abandon() error = %v", err)
	}
	third, err := qs.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop() after second abandon error = %v", err)
	}
	if third == nil {
		t.Fatal("request lost after a second abandon")
	}
	if third.Acked() {
		t.Fatal("redelivered request must be pending")
	}
}

func TestPushCancelationErrors(t *testing.T) {
	t.Parallel()

	q := New("test", 1)
	if err := q.Push(context.Background(), queueset.NewRequest("page", "primed")); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Push(ctx, queueset.NewRequest("page", "overflow")); err == nil ||
		err.Error() != "push canceled: context canceled" {
		t.Fatalf("expected push cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := New("test", 1)
	q.Close()
	if _, err := q.Pop(context.Background()); err == nil || err.Error() != "queue closed" {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
