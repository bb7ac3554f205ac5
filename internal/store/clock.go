package store

import (
	"sync"
	"time"
)

// Clock supplies timestamps for entities.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return Normalize(time.Now()) }

// Normalize converts t to UTC with millisecond precision, the form every
// stored timestamp takes.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Touch returns now, or prev when the clock went backwards, so that update
// timestamps never decrease.
func Touch(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

// ManualClock is a settable clock for tests and replay.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: Normalize(t)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = Normalize(t)
	c.mu.Unlock()
}

// Advance moves the clock by d, which may be negative.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Normalize(c.now.Add(d))
	return c.now
}
