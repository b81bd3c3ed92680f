package consumer

import (
	"math/rand"
	"time"
)

const backoffMultiplier = 2.0

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	maxWait time.Duration
	current time.Duration
	jitter  func() float64 // returns a value in [0, 1)
}

func newBackoff(initial, maxWait time.Duration) *backoff {
	return &backoff{
		initial: initial,
		maxWait: maxWait,
		current: initial,
		jitter:  rand.Float64, //nolint:gosec // not crypto
	}
}

// next returns the current wait with ±25% jitter and doubles the base for
// the following call, capped at maxWait.
func (b *backoff) next() time.Duration {
	d := b.current + time.Duration(float64(b.current)*0.25*(b.jitter()*2-1))
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.maxWait {
		b.current = b.maxWait
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

// setLimits swaps the bounds after a config reload and restarts from initial.
func (b *backoff) setLimits(initial, maxWait time.Duration) {
	b.initial = initial
	b.maxWait = maxWait
	b.current = initial
}
