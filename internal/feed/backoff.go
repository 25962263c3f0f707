package feed

import "time"

const (
	// DefaultBaseDelay is the reconnect base delay.
	DefaultBaseDelay = 500 * time.Millisecond
	// DefaultMaxDelay caps the reconnect delay.
	DefaultMaxDelay = 30 * time.Second
)

// Backoff tracks consecutive failed connection cycles. It is not safe for
// concurrent use; the connection loop owns it.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// NewBackoff returns a Backoff, substituting defaults for non-positive values.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max}
}

// Next records a failed cycle and returns how long to wait before retrying.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return Delay(b.Base, b.Max, b.attempt)
}

// Reset is called after a successful open.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt returns the number of consecutive failed cycles.
func (b *Backoff) Attempt() int { return b.attempt }

// Delay computes min(max, base * 2^attempt).
func Delay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max || d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
