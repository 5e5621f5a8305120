package queueset

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Request is a unit of crawl work. It carries a type tag, a target URL, and
// an attempt counter for retry bookkeeping. A request remembers the backend
// it was last popped from or pushed into, so that Done and Abandon can route
// back without a name lookup.
//
// A request is acknowledged at most once: whichever of Done or Abandon runs
// first wins, and every later finalization call is a silent no-op. The guard
// is a compare-and-set, so racing finalizers (a timeout path and a completion
// path, say) are safe.
type Request struct {
	ID      string
	Type    string
	URL     string
	Attempt int

	acked atomic.Bool

	originMu sync.Mutex
	origin   Queue
}

// NewRequest creates a pending request with a fresh ID.
func NewRequest(requestType, url string) *Request {
	return &Request{
		ID:   uuid.NewString(),
		Type: requestType,
		URL:  url,
	}
}

// Acked reports whether the request has been finalized.
func (r *Request) Acked() bool {
	return r.acked.Load()
}

// ack transitions the request from pending to acked. It returns true for
// exactly one caller.
func (r *Request) ack() bool {
	return r.acked.CompareAndSwap(false, true)
}

// Origin returns the backend this request last passed through, or nil if it
// has not been popped or pushed yet.
func (r *Request) Origin() Queue {
	r.originMu.Lock()
	defer r.originMu.Unlock()
	return r.origin
}

func (r *Request) setOrigin(q Queue) {
	r.originMu.Lock()
	r.origin = q
	r.originMu.Unlock()
}
