package conn

import "time"

// Backoff computes the reconnect delay sequence: 300ms, 600ms, 1.2s, ...
// doubling up to a 10s ceiling, reset to the initial delay on a
// successful connection.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff starting at 300ms, doubling up to 10s.
func NewBackoff() *Backoff {
	return &Backoff{initial: 300 * time.Millisecond, max: 10 * time.Second}
}

// Next returns the delay before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

// Reset returns the sequence to its initial delay, called after a
// connection is successfully established.
func (b *Backoff) Reset() {
	b.current = 0
}
