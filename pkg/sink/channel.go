package sink

import (
	"context"
	"errors"
	"sync"
)

// DefaultChannelCapacity matches the result queue depth of the reference
// client.
const DefaultChannelCapacity = 30

// ErrClosed reports a push to a closed channel sink.
var ErrClosed = errors.New("sink: closed")

// ChannelSink buffers result payloads on a channel for interactive
// consumers. Push and Close may run on different goroutines.
type ChannelSink struct {
	ch   chan []byte
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewChannelSink creates a ChannelSink. capacity <= 0 selects the
// default.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &ChannelSink{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Push implements Sink. It blocks while the buffer is full, respecting
// context cancellation. A Close while a Push is blocked unblocks it
// with ErrClosed.
func (s *ChannelSink) Push(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending.Add(1)
	s.mu.Unlock()
	defer s.pending.Done()

	select {
	case s.ch <- payload:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results is the receive side of the sink. The channel is closed by
// Close.
func (s *ChannelSink) Results() <-chan []byte {
	return s.ch
}

// Close closes the results channel. Push after Close returns ErrClosed.
// In-flight pushes are unblocked and drained first, so the channel is
// never closed under a pending send.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.pending.Wait()
	close(s.ch)
}
