package session

import "time"

// backoff produces the delay sequence between failed connection attempts:
// initial, doubling each failure, clamped at max. Not safe for concurrent
// use; the run loop owns it.
type backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &backoff{initial: initial, max: max, next: initial}
}

// Next returns the delay before the next attempt and whether the sequence
// had already reached its cap. The atCap signal drives the exhaustion
// counter: doubling failures are expected churn, repeated capped failures
// mean the broker is not coming back.
func (b *backoff) Next() (delay time.Duration, atCap bool) {
	delay = b.next
	atCap = delay >= b.max

	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return delay, atCap
}

// Reset restarts the sequence after a successful connection.
func (b *backoff) Reset() {
	b.next = b.initial
}
