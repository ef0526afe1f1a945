package clock

import (
	"strconv"
	"sync"
	"time"
)

// Timestamp is a monotonic time in milliseconds since an arbitrary epoch.
type Timestamp uint64

// Add returns t advanced by d. Negative durations move t backwards but never
// below zero.
func (t Timestamp) Add(d time.Duration) Timestamp {
	ms := d.Milliseconds()
	if ms < 0 {
		if uint64(-ms) > uint64(t) {
			return 0
		}
		return t - Timestamp(-ms)
	}
	return t + Timestamp(ms)
}

// Sub returns the duration t-u. Returns 0 if u is after t.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	if u >= t {
		return 0
	}
	return time.Duration(t-u) * time.Millisecond
}

// Before reports whether t is strictly before u.
func (t Timestamp) Before(u Timestamp) bool {
	return t < u
}

// Duration returns t as a duration since the epoch.
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// String returns t formatted as milliseconds, e.g. "1500ms".
func (t Timestamp) String() string {
	return strconv.FormatUint(uint64(t), 10) + "ms"
}

// Clock produces monotonic timestamps.
type Clock interface {
	Now() Timestamp
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() Timestamp

// Now calls f.
func (f ClockFunc) Now() Timestamp {
	return f()
}

// Monotonic reads Go's monotonic clock relative to its creation time.
type Monotonic struct {
	start time.Time
}

// NewMonotonic creates a monotonic clock whose epoch is now.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now returns the milliseconds elapsed since the clock was created.
func (m *Monotonic) Now() Timestamp {
	return Timestamp(time.Since(m.start).Milliseconds())
}

// Manual is a clock that only moves when told to.
// It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now Timestamp
}

// NewManual creates a manual clock starting at t.
func NewManual(t Timestamp) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Setting an earlier time is allowed so tests can
// simulate a regressing source.
func (m *Manual) Set(t Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Compile-time interface satisfaction checks.
var (
	_ Clock = ClockFunc(nil)
	_ Clock = (*Monotonic)(nil)
	_ Clock = (*Manual)(nil)
)
