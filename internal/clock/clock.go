// Package clock abstracts wall-clock reads so TTL and expiry decisions
// are testable. Production code injects Real(); tests inject a Fake.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time. Every cache-freshness and token-expiry
// check reads a Clock instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set jumps the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
