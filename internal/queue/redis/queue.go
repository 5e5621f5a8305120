// Package redis provides a Redis-backed queue using a pending list and an
// in-flight hash per queue.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pagehive/hopper/internal/queue/codec"
	"github.com/pagehive/hopper/internal/queueset"
)

// Keys holds the Redis keys used by one queue.
type Keys struct {
	Pending  string // list of encoded requests awaiting delivery
	Inflight string // hash of request ID -> encoded request, popped but unacked
}

// KeysForQueue derives the key layout for a queue name.
func KeysForQueue(name string) Keys {
	return Keys{
		Pending:  "hopper:" + name + ":pending",
		Inflight: "hopper:" + name + ":inflight",
	}
}

// Queue implements the backend contract on top of a Redis client. The
// client is shared and owned by the caller.
type Queue struct {
	name   string
	client goredis.UniversalClient
	keys   Keys
}

// New constructs a Queue over an existing client.
func New(name string, client goredis.UniversalClient) *Queue {
	return &Queue{
		name:   name,
		client: client,
		keys:   KeysForQueue(name),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Pop moves the oldest pending request into the in-flight hash and returns
// it, or (nil, nil) when the pending list is empty.
func (q *Queue) Pop(ctx context.Context) (*queueset.Request, error) {
	raw, err := q.client.LPop(ctx, q.keys.Pending).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis lpop %q: %w", q.keys.Pending, err)
	}

	req, err := codec.Unmarshal([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("pending entry in %q: %w", q.keys.Pending, err)
	}

	if err := q.client.HSet(ctx, q.keys.Inflight, req.ID, raw).Err(); err != nil {
		return nil, fmt.Errorf("redis hset inflight: %w", err)
	}
	return req, nil
}

// Push appends the request to the pending list.
func (q *Queue) Push(ctx context.Context, req *queueset.Request) error {
	raw, err := codec.Marshal(req)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.keys.Pending, raw).Err(); err != nil {
		return fmt.Errorf("redis rpush %q: %w", q.keys.Pending, err)
	}
	return nil
}

// Done removes the request from the in-flight hash.
func (q *Queue) Done(ctx context.Context, req *queueset.Request) error {
	if err := q.client.HDel(ctx, q.keys.Inflight, req.ID).Err(); err != nil {
		return fmt.Errorf("redis hdel inflight: %w", err)
	}
	return nil
}

// Abandon moves the request from the in-flight hash back to the front of
// the pending list so it is redelivered promptly.
func (q *Queue) Abandon(ctx context.Context, req *queueset.Request) error {
	raw, err := codec.Marshal(req)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.keys.Inflight, req.ID)
	pipe.LPush(ctx, q.keys.Pending, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis abandon pipeline: %w", err)
	}
	return nil
}

// Subscribe verifies the connection is usable.
func (q *Queue) Subscribe(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Unsubscribe is a no-op; the shared client is closed by its owner.
func (q *Queue) Unsubscribe(context.Context) error {
	return nil
}
