package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock supplies "now" for countdown math and due-time checks. Within a single
// session the returned time never decreases, even if the wall clock steps
// backwards (NTP correction). Cross-client skew is not corrected here; the
// store's conditional update is the only correctness-bearing comparison.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	mu   sync.Mutex
	last time.Time
}

func NewSystem() Clock {
	return &systemClock{}
}

func (c *systemClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// Remaining returns the time left until start, floored at zero.
func Remaining(c Clock, start time.Time) time.Duration {
	d := start.Sub(c.Now())
	if d < 0 {
		return 0
	}
	return d
}

// FormatCountdown renders a duration as MM:SS, floor-rounded to the second.
// Negative durations render as 00:00; durations over 99 minutes widen the
// minutes field.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.now) {
		m.now = t
	}
}
