// Package router demultiplexes inbound DFX websocket messages.
//
// One socket carries three logical response streams: subscribe-status,
// add-data-status, and result chunks. The router classifies each
// received message by length (the protocol's only discriminator) and
// appends it to the matching FIFO queue. Flow code drains the queues;
// the router never transforms or validates message bodies.
package router

import (
	"sync"

	"github.com/deepaffex/dfx/pkg/protocol"
)

// DefaultUnknownCapacity bounds the unrecognized-sender map. Oldest
// entries are evicted once the bound is hit; without a bound a
// long-lived connection receiving foreign traffic would leak.
const DefaultUnknownCapacity = 64

// Router owns the three per-class FIFO queues plus a bounded diagnostic
// record of messages from unrecognized senders. It is safe for use from
// a receive goroutine and flow goroutines concurrently.
type Router struct {
	selfID string

	mu              sync.Mutex
	subscribeStatus [][]byte
	addDataStatus   [][]byte
	resultChunks    [][]byte

	unknown      map[string][]byte
	unknownOrder []string
	unknownCap   int

	unknownObserver func()
}

// Option configures a Router.
type Option func(*Router)

// WithUnknownCapacity bounds the unrecognized-sender record.
func WithUnknownCapacity(n int) Option {
	return func(r *Router) {
		r.unknownCap = n
	}
}

// WithUnknownObserver registers a callback invoked once per message
// recorded from an unrecognized sender, typically an instrumentation
// counter. The callback runs with the router lock held and must not
// call back into the Router.
func WithUnknownObserver(fn func()) Option {
	return func(r *Router) {
		r.unknownObserver = fn
	}
}

// New creates a Router. selfID is the ten-character connection ID this
// client stamps on its outbound requests; messages whose sender prefix
// differs are additionally recorded as unrecognized.
func New(selfID string, opts ...Option) *Router {
	r := &Router{
		selfID:     selfID,
		unknown:    make(map[string][]byte),
		unknownCap: DefaultUnknownCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest classifies one inbound message and appends it to the matching
// queue. Every message lands in exactly one queue; unrecognized senders
// are recorded as a diagnostic side channel and never block routing.
func (r *Router) Ingest(msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender := protocol.SenderID(msg); sender != r.selfID {
		r.recordUnknown(sender, msg)
		if r.unknownObserver != nil {
			r.unknownObserver()
		}
	}

	switch protocol.Classify(msg) {
	case protocol.ClassSubscribeStatus:
		r.subscribeStatus = append(r.subscribeStatus, msg)
	case protocol.ClassAddDataStatus:
		r.addDataStatus = append(r.addDataStatus, msg)
	case protocol.ClassResultChunk:
		r.resultChunks = append(r.resultChunks, msg)
	}
}

// recordUnknown stores the last message per unknown sender, evicting the
// oldest sender at capacity. Caller holds r.mu.
func (r *Router) recordUnknown(sender string, msg []byte) {
	if _, seen := r.unknown[sender]; !seen {
		if len(r.unknownOrder) >= r.unknownCap {
			oldest := r.unknownOrder[0]
			r.unknownOrder = r.unknownOrder[1:]
			delete(r.unknown, oldest)
		}
		r.unknownOrder = append(r.unknownOrder, sender)
	}
	r.unknown[sender] = msg
}

// PopSubscribeStatus removes and returns the oldest subscribe-status
// message. ok is false when the queue is empty.
func (r *Router) PopSubscribeStatus() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(&r.subscribeStatus)
}

// PopAddDataStatus removes and returns the oldest add-data status
// message. ok is false when the queue is empty.
func (r *Router) PopAddDataStatus() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(&r.addDataStatus)
}

// PopResultChunk removes and returns the oldest result-chunk message.
// ok is false when the queue is empty.
func (r *Router) PopResultChunk() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(&r.resultChunks)
}

func pop(q *[][]byte) ([]byte, bool) {
	if len(*q) == 0 {
		return nil, false
	}
	msg := (*q)[0]
	*q = (*q)[1:]
	return msg, true
}

// Depth reports the current queue length for a class. Diagnostic only.
func (r *Router) Depth(class protocol.Class) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch class {
	case protocol.ClassSubscribeStatus:
		return len(r.subscribeStatus)
	case protocol.ClassAddDataStatus:
		return len(r.addDataStatus)
	case protocol.ClassResultChunk:
		return len(r.resultChunks)
	default:
		return 0
	}
}

// Unknown returns the last message recorded for an unrecognized sender.
func (r *Router) Unknown(sender string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.unknown[sender]
	return msg, ok
}

// UnknownCount reports how many unrecognized senders are currently
// recorded.
func (r *Router) UnknownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unknown)
}
