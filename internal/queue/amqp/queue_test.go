package amqp

import (
	"context"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/pagehive/hopper/internal/queue/codec"
	"github.com/pagehive/hopper/internal/queueset"
)

type ackCall struct {
	tag     uint64
	requeue bool
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []ackCall
	reject []ackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, ackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = append(f.reject, ackCall{tag: tag, requeue: requeue})
	return nil
}

func newTestQueue(deliveries <-chan amqp.Delivery) *Queue {
	return &Queue{
		name:       "normal",
		queueName:  "hopper.normal",
		deliveries: deliveries,
		inflight:   make(map[string]amqp.Delivery),
	}
}

func encode(t *testing.T, req *queueset.Request) []byte {
	t.Helper()
	data, err := codec.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestPopBeforeSubscribeIsEmpty(t *testing.T) {
	t.Parallel()

	q := newTestQueue(nil)
	req, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestPopDecodesDelivery(t *testing.T) {
	t.Parallel()

	src := queueset.NewRequest("listing", "https://example.com/a")
	ack := &fakeAcknowledger{}
	ch := make(chan amqp.Delivery, 1)
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: encode(t, src)}

	q := newTestQueue(ch)
	req, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, src.ID, req.ID)
	require.Equal(t, "listing", req.Type)
	require.Equal(t, "https://example.com/a", req.URL)
}

func TestPopEmptyChannel(t *testing.T) {
	t.Parallel()

	q := newTestQueue(make(chan amqp.Delivery))
	req, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestPopClosedChannelFails(t *testing.T) {
	t.Parallel()

	ch := make(chan amqp.Delivery)
	close(ch)

	q := newTestQueue(ch)
	_, err := q.Pop(context.Background())
	require.Error(t, err)
}

func TestPopDropsUndecodableDelivery(t *testing.T) {
	t.Parallel()

	ack := &fakeAcknowledger{}
	ch := make(chan amqp.Delivery, 1)
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("not json")}

	q := newTestQueue(ch)
	_, err := q.Pop(context.Background())
	require.Error(t, err)

	require.Len(t, ack.nacks, 1)
	require.Equal(t, uint64(3), ack.nacks[0].tag)
	require.False(t, ack.nacks[0].requeue, "poison payloads must not requeue")
}

func TestDoneAcksDelivery(t *testing.T) {
	t.Parallel()

	src := queueset.NewRequest("listing", "https://example.com/a")
	ack := &fakeAcknowledger{}
	ch := make(chan amqp.Delivery, 1)
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 9, Body: encode(t, src)}

	q := newTestQueue(ch)
	req, err := q.Pop(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Done(context.Background(), req))
	require.Equal(t, []uint64{9}, ack.acks)

	// Second finalization has nothing in flight.
	require.Error(t, q.Done(context.Background(), req))
}

func TestAbandonNacksWithRequeue(t *testing.T) {
	t.Parallel()

	src := queueset.NewRequest("listing", "https://example.com/a")
	ack := &fakeAcknowledger{}
	ch := make(chan amqp.Delivery, 1)
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 4, Body: encode(t, src)}

	q := newTestQueue(ch)
	req, err := q.Pop(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Abandon(context.Background(), req))
	require.Len(t, ack.nacks, 1)
	require.Equal(t, uint64(4), ack.nacks[0].tag)
	require.True(t, ack.nacks[0].requeue)
}

func TestDoneUnknownRequest(t *testing.T) {
	t.Parallel()

	q := newTestQueue(nil)
	err := q.Done(context.Background(), queueset.NewRequest("listing", "https://example.com/a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no in-flight delivery")
}
