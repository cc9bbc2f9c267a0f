// Package clock supplies the millisecond timestamps used as the
// last-write-wins conflict key. Timestamps handed out by a single
// process never go backwards, even if the wall clock does.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	// NowMillis returns milliseconds since the Unix epoch.
	// Successive calls return non-decreasing values.
	NowMillis() int64
}

type SystemClock struct {
	last atomic.Int64
}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) NowMillis() int64 {
	for {
		last := c.last.Load()
		now := time.Now().UnixMilli()
		if now < last {
			now = last
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// ManualClock is a hand-advanced clock for tests.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(now int64) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(millis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += millis
}

func (c *ManualClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
