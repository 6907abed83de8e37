package measurement

import "errors"

// ErrInvalidQuota reports a negative remaining-chunk count. This is a
// caller bug and fails fast rather than clamping.
var ErrInvalidQuota = errors.New("measurement: negative remaining chunk count")

// Cursor tracks how many result chunks remain to be collected across
// the consecutive measurements of one recording, and how many a single
// measurement may carry (the server-imposed measurement duration limit
// divided by the chunk duration).
type Cursor struct {
	// ChunksRemaining counts the chunks not yet allocated to a
	// subscribe call. Never negative.
	ChunksRemaining int

	// MaxChunks is the per-measurement ceiling.
	MaxChunks int
}

// NewCursor creates a cursor for a recording of numChunks total chunks
// with the given per-measurement ceiling.
func NewCursor(numChunks, maxChunks int) *Cursor {
	return &Cursor{ChunksRemaining: numChunks, MaxChunks: maxChunks}
}

// Allocate reserves the quota for one subscribe call:
// min(remaining, ceiling). It decrements the remaining count by the
// allocation and fails with ErrInvalidQuota if the count was already
// negative.
func (c *Cursor) Allocate() (int, error) {
	if c.ChunksRemaining < 0 {
		return 0, ErrInvalidQuota
	}
	n := c.ChunksRemaining
	if n > c.MaxChunks {
		n = c.MaxChunks
	}
	c.ChunksRemaining -= n
	return n, nil
}

// Done reports whether every chunk has been allocated.
func (c *Cursor) Done() bool {
	return c.ChunksRemaining == 0
}
