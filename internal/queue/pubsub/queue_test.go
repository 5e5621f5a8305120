package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagehive/hopper/internal/queueset"
)

// Receive-path behavior needs an emulator; these tests cover the local
// bookkeeping around it.

func TestNewRequiresResourceNames(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "normal", Config{ProjectID: "p"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "needs project, topic, and subscription")
}

func TestName(t *testing.T) {
	t.Parallel()

	q := NewWithClient("normal", nil, Config{}, nil)
	require.Equal(t, "normal", q.Name())
}

func TestPopBeforeSubscribeIsEmpty(t *testing.T) {
	t.Parallel()

	q := NewWithClient("normal", nil, Config{}, nil)
	req, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestUnsubscribeWithoutSubscribe(t *testing.T) {
	t.Parallel()

	q := NewWithClient("normal", nil, Config{}, nil)
	require.NoError(t, q.Unsubscribe(context.Background()))
}

func TestDoneWithoutInflightFails(t *testing.T) {
	t.Parallel()

	q := NewWithClient("normal", nil, Config{}, nil)
	err := q.Done(context.Background(), queueset.NewRequest("listing", "https://example.com/a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no in-flight pubsub message")
}

func TestAbandonWithoutInflightFails(t *testing.T) {
	t.Parallel()

	q := NewWithClient("normal", nil, Config{}, nil)
	err := q.Abandon(context.Background(), queueset.NewRequest("listing", "https://example.com/a"))
	require.Error(t, err)
}
