// Package budget decides whether an invocation may start another unit of work
// before it has to persist state and stop.
package budget

import "time"

// DefaultBuffer leaves room for the final state write and the response.
const DefaultBuffer = 5 * time.Second

// HasBudget reports whether now-startedAt is still below maxDuration-buffer.
func HasBudget(startedAt time.Time, maxDuration, buffer time.Duration, now time.Time) bool {
	return now.Sub(startedAt) < maxDuration-buffer
}

// Guard binds HasBudget to one invocation.
type Guard struct {
	startedAt   time.Time
	maxDuration time.Duration
	buffer      time.Duration
	now         func() time.Time
}

// New starts a guard at the current time of clock. A nil clock uses time.Now.
func New(clock func() time.Time, maxDuration, buffer time.Duration) Guard {
	if clock == nil {
		clock = time.Now
	}
	return Guard{startedAt: clock(), maxDuration: maxDuration, buffer: buffer, now: clock}
}

// HasBudget reports whether another unit of work may start.
func (g Guard) HasBudget() bool {
	return HasBudget(g.startedAt, g.maxDuration, g.buffer, g.clock())
}

// Allows reports whether a unit of work that may take up to d fits in the
// remaining budget on top of the buffer. A unit that ends exactly at the
// buffer still fits.
func (g Guard) Allows(d time.Duration) bool {
	return g.clock().Sub(g.startedAt)+d+g.buffer <= g.maxDuration
}

// WithBuffer returns a copy of the guard using a different buffer.
func (g Guard) WithBuffer(buffer time.Duration) Guard {
	g.buffer = buffer
	return g
}

// Remaining is the time left before maxDuration, ignoring the buffer.
func (g Guard) Remaining() time.Duration {
	left := g.maxDuration - g.clock().Sub(g.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// StartedAt returns when the invocation began.
func (g Guard) StartedAt() time.Time {
	return g.startedAt
}

func (g Guard) clock() time.Time {
	if g.now == nil {
		return time.Now()
	}
	return g.now()
}
