// Package amqp provides a RabbitMQ-backed queue using a durable queue and
// a manual-ack consumer.
package amqp

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pagehive/hopper/internal/queue/codec"
	"github.com/pagehive/hopper/internal/queueset"
)

// Queue implements the backend contract over one AMQP queue. The
// connection is shared and owned by the caller; each Queue opens its own
// channel.
type Queue struct {
	name      string
	queueName string

	mu          sync.Mutex
	ch          *amqp.Channel
	deliveries  <-chan amqp.Delivery
	consumerTag string
	inflight    map[string]amqp.Delivery
}

// New opens a channel on conn and declares the durable AMQP queue.
func New(name string, conn *amqp.Connection, queueName string) (*Queue, error) {
	if queueName == "" {
		queueName = name
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare amqp queue %q: %w", queueName, err)
	}
	return &Queue{
		name:      name,
		queueName: queueName,
		ch:        ch,
		inflight:  make(map[string]amqp.Delivery),
	}, nil
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Subscribe starts a manual-ack consumer on the queue.
func (q *Queue) Subscribe(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return nil
	}
	tag := "hopper-" + q.name
	deliveries, err := q.ch.Consume(q.queueName, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", q.queueName, err)
	}
	q.consumerTag = tag
	q.deliveries = deliveries
	return nil
}

// Unsubscribe cancels the consumer. Unacked deliveries return to the
// broker when the channel closes.
func (q *Queue) Unsubscribe(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries == nil {
		return nil
	}
	if err := q.ch.Cancel(q.consumerTag, false); err != nil {
		return fmt.Errorf("cancel consumer %q: %w", q.consumerTag, err)
	}
	q.deliveries = nil
	q.consumerTag = ""
	return nil
}

// Pop returns the next delivered request, or (nil, nil) when nothing has
// arrived.
func (q *Queue) Pop(context.Context) (*queueset.Request, error) {
	q.mu.Lock()
	deliveries := q.deliveries
	q.mu.Unlock()
	if deliveries == nil {
		return nil, nil
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("amqp consumer channel closed")
		}
		req, err := codec.Unmarshal(d.Body)
		if err != nil {
			// Undecodable payloads would redeliver forever; drop them.
			if nerr := d.Nack(false, false); nerr != nil {
				return nil, fmt.Errorf("nack undecodable delivery: %w", nerr)
			}
			return nil, err
		}
		q.mu.Lock()
		q.inflight[req.ID] = d
		q.mu.Unlock()
		return req, nil
	default:
		return nil, nil
	}
}

// Push publishes the request to the queue.
func (q *Queue) Push(ctx context.Context, req *queueset.Request) error {
	data, err := codec.Marshal(req)
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", q.queueName, err)
	}
	return nil
}

// Done acks the underlying delivery.
func (q *Queue) Done(_ context.Context, req *queueset.Request) error {
	d, err := q.takeInflight(req.ID)
	if err != nil {
		return err
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack delivery: %w", err)
	}
	return nil
}

// Abandon nacks the underlying delivery with requeue so the broker
// redelivers it.
func (q *Queue) Abandon(_ context.Context, req *queueset.Request) error {
	d, err := q.takeInflight(req.ID)
	if err != nil {
		return err
	}
	if err := d.Nack(false, true); err != nil {
		return fmt.Errorf("nack delivery: %w", err)
	}
	return nil
}

func (q *Queue) takeInflight(id string) (amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inflight[id]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("no in-flight delivery for request %q", id)
	}
	delete(q.inflight, id)
	return d, nil
}

// Close shuts the channel down.
func (q *Queue) Close() error {
	if err := q.ch.Close(); err != nil {
		return fmt.Errorf("close amqp channel: %w", err)
	}
	return nil
}
