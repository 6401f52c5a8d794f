package clock

import (
	"sync"
	"time"
)

// DateLayout is the calendar date format used for usage records.
const DateLayout = "2006-01-02"

// Clock provides time information for usage accounting.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides a settable time for testing.
type TestClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// Set moves the test clock to the given time.
func (t *TestClock) Set(now time.Time) {
	t.mu.Lock()
	t.CurrentTime = now
	t.mu.Unlock()
}

// Advance moves the test clock forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	t.CurrentTime = t.CurrentTime.Add(d)
	t.mu.Unlock()
}

// Today returns the calendar date of now in the local time zone of now.
func Today(c Clock) string {
	return c.Now().Format(DateLayout)
}
