package virtclock

import (
	"fmt"
	"sync"
	"time"
)

// Clock yields elapsed scenario time in milliseconds.
type Clock interface {
	NowMS() int64
}

// VirtualClock maps elapsed wall time to scenario time using a fixed
// acceleration factor. Scenario time is monotonic even if the wall clock
// source misbehaves.
type VirtualClock struct {
	mu           sync.Mutex
	start        time.Time
	acceleration float64
	now          func() time.Time
	lastMS       int64
}

// New starts a virtual clock anchored at the current wall time.
func New(acceleration float64) (*VirtualClock, error) {
	return NewWithNow(acceleration, time.Now)
}

// NewWithNow starts a virtual clock with an injectable wall-time source.
func NewWithNow(acceleration float64, now func() time.Time) (*VirtualClock, error) {
	if acceleration <= 0 {
		return nil, fmt.Errorf("acceleration must be > 0, got %v", acceleration)
	}
	if now == nil {
		now = time.Now
	}
	return &VirtualClock{
		start:        now(),
		acceleration: acceleration,
		now:          now,
	}, nil
}

// NowMS returns elapsed scenario milliseconds since the clock was started.
func (c *VirtualClock) NowMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.now().Sub(c.start)
	ms := int64(float64(elapsed) * c.acceleration / float64(time.Millisecond))
	if ms < c.lastMS {
		return c.lastMS
	}
	c.lastMS = ms
	return ms
}

// UntilMS returns the wall-clock duration to sleep before scenario time
// reaches offsetMS. Zero when the offset is already in the past.
func (c *VirtualClock) UntilMS(offsetMS int64) time.Duration {
	remaining := offsetMS - c.NowMS()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / c.acceleration * float64(time.Millisecond))
}

// Acceleration returns the fixed acceleration factor.
func (c *VirtualClock) Acceleration() float64 {
	return c.acceleration
}

// Fake is a manually advanced scenario clock for tests.
type Fake struct {
	mu sync.Mutex
	ms int64
}

// NewFake returns a fake clock at scenario time zero.
func NewFake() *Fake {
	return &Fake{}
}

// NowMS returns the current fake scenario time.
func (f *Fake) NowMS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ms
}

// Advance moves the fake scenario clock forward.
func (f *Fake) Advance(deltaMS int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if deltaMS > 0 {
		f.ms += deltaMS
	}
}

// UntilMS jumps the fake clock straight to offsetMS and reports no wait, so
// schedulers driven by a fake clock run without sleeping.
func (f *Fake) UntilMS(offsetMS int64) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offsetMS > f.ms {
		f.ms = offsetMS
	}
	return 0
}
