// Package pubsub provides a Google Cloud Pub/Sub backed queue. Subscribe
// starts a streaming pull into a local delivery buffer; Done and Abandon
// map onto message Ack and Nack, so redelivery of unacked requests is
// handled by the subscription's own deadline.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/pagehive/hopper/internal/queue/codec"
	"github.com/pagehive/hopper/internal/queueset"
)

// Config names the Pub/Sub resources for one queue.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
}

type delivery struct {
	req *queueset.Request
	msg *pubsub.Message
}

// Queue implements the backend contract over one topic/subscription pair.
type Queue struct {
	name   string
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	deliveries chan delivery
	inflight   map[string]*pubsub.Message
	receiveErr chan error
}

// New creates a Pub/Sub client for the configured project and binds a
// queue to its topic and subscription.
func New(ctx context.Context, name string, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("pubsub queue %q needs project, topic, and subscription", name)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(name, client, cfg, logger), nil
}

// NewWithClient binds a queue to an existing client (primarily for
// emulator/test setups).
func NewWithClient(name string, client *pubsub.Client, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		name:     name,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]*pubsub.Message),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Subscribe starts the streaming pull. Requests arriving from the
// subscription buffer locally until popped.
func (q *Queue) Subscribe(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return nil
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.deliveries = make(chan delivery, 64)
	q.receiveErr = make(chan error, 1)

	sub := q.client.Subscriber(q.cfg.Subscription)
	go func() {
		err := sub.Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			req, derr := codec.Unmarshal(msg.Data)
			if derr != nil {
				q.logger.Warn("dropping undecodable pubsub message",
					zap.String("queue", q.name),
					zap.Error(derr),
				)
				msg.Ack()
				return
			}
			select {
			case q.deliveries <- delivery{req: req, msg: msg}:
			case <-rctx.Done():
				msg.Nack()
			}
		})
		if err != nil && rctx.Err() == nil {
			q.logger.Error("pubsub receive stopped",
				zap.String("queue", q.name),
				zap.Error(err),
			)
			q.receiveErr <- err
		}
	}()
	return nil
}

// Unsubscribe stops the streaming pull. Buffered, unpopped messages are
// nacked by the subscription deadline.
func (q *Queue) Unsubscribe(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	q.cancel = nil
	return nil
}

// Pop returns the next buffered request, or (nil, nil) when none is
// waiting. A dead receive stream surfaces here as an error.
func (q *Queue) Pop(context.Context) (*queueset.Request, error) {
	q.mu.Lock()
	deliveries := q.deliveries
	receiveErr := q.receiveErr
	q.mu.Unlock()
	if deliveries == nil {
		return nil, nil
	}

	select {
	case err := <-receiveErr:
		return nil, fmt.Errorf("pubsub receive: %w", err)
	case d := <-deliveries:
		q.mu.Lock()
		q.inflight[d.req.ID] = d.msg
		q.mu.Unlock()
		return d.req, nil
	default:
		return nil, nil
	}
}

// Push publishes the request to the queue's topic and waits for the server
// acknowledgment so failures surface to the caller.
func (q *Queue) Push(ctx context.Context, req *queueset.Request) error {
	data, err := codec.Marshal(req)
	if err != nil {
		return err
	}
	publisher := q.client.Publisher(q.cfg.Topic)
	result := publisher.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %q: %w", q.cfg.Topic, err)
	}
	return nil
}

// Done acks the underlying message.
func (q *Queue) Done(_ context.Context, req *queueset.Request) error {
	msg, err := q.takeInflight(req.ID)
	if err != nil {
		return err
	}
	msg.Ack()
	return nil
}

// Abandon nacks the underlying message so the subscription redelivers it.
func (q *Queue) Abandon(_ context.Context, req *queueset.Request) error {
	msg, err := q.takeInflight(req.ID)
	if err != nil {
		return err
	}
	msg.Nack()
	return nil
}

func (q *Queue) takeInflight(id string) (*pubsub.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[id]
	if !ok {
		return nil, fmt.Errorf("no in-flight pubsub message for request %q", id)
	}
	delete(q.inflight, id)
	return msg, nil
}

// Close releases the Pub/Sub client.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
