// Package queueset multiplexes several named queue backends behind one
// logical queue. A QueueSet owns an ordered list of backends, a weighted
// dispatch table derived from configuration, and a rotation cursor that
// spreads pops across backends in weighted round-robin order. Worker loops
// use it as their only queue: pop a request, process it, then finalize with
// Done or Abandon, which route back to the backend the request came from.
package queueset

import (
	"context"
)

// Queue is the capability set the dispatcher requires from every backend.
// Implementations live in internal/queue; the dispatcher never depends on
// a concrete backend.
type Queue interface {
	// Name identifies the backend. Names must be unique within a QueueSet.
	Name() string

	// Pop returns the next available request, or (nil, nil) when the
	// backend is currently empty.
	Pop(ctx context.Context) (*Request, error)

	// Push places a request onto the backend.
	Push(ctx context.Context, req *Request) error

	// Done acknowledges a popped request as successfully processed.
	Done(ctx context.Context, req *Request) error

	// Abandon returns a popped request to the backend for redelivery.
	Abandon(ctx context.Context, req *Request) error

	// Subscribe establishes whatever persistent connection or polling the
	// backend needs before requests can flow.
	Subscribe(ctx context.Context) error

	// Unsubscribe tears down the state established by Subscribe.
	Unsubscribe(ctx context.Context) error
}

// EventWeightsChanged is the notification event that triggers a dispatch
// table rebuild.
const EventWeightsChanged = "weights_changed"

// Config is the configuration capability the QueueSet requires at
// construction. Weights may return nil (uniform weighting); the change
// subscription is mandatory so the dispatch table stays rebuildable when
// weights change at runtime.
type Config interface {
	// Weights returns the current queue name to positive integer weight
	// mapping. Queues absent from the map get weight 1.
	Weights() map[string]int

	// OnChange registers fn to run whenever the named event fires.
	OnChange(event string, fn func())
}
