// Package sink collects result-chunk payloads delivered by a
// subscription. Implementations decide where payloads go: an in-memory
// channel for interactive consumers, or S3 for archival.
package sink

import "context"

// Sink receives one decoded result payload per delivered chunk.
type Sink interface {
	Push(ctx context.Context, payload []byte) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, payload []byte) error

// Push implements Sink.
func (f Func) Push(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}
