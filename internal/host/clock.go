// Package host provides the in-process platform the ledger runs on: a
// clock that never goes backwards and a treasury holding received value.
package host

import (
	"sync"
	"time"

	"timelock.mini/tlm/internal/types"
)

// SystemClock reads wall-clock milliseconds. A reading earlier than the
// previous one is clamped so timestamps are non-decreasing.
type SystemClock struct {
	mu   sync.Mutex
	last types.Timestamp
	now  func() time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

// Floor makes every later reading at least ts. Used after a restore.
func (c *SystemClock) Floor(ts types.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}

func (c *SystemClock) Now() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := types.TimestampFromTime(c.now())
	if ts < c.last {
		return c.last
	}
	c.last = ts
	return ts
}

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu sync.Mutex
	ts types.Timestamp
}

func NewManualClock(start types.Timestamp) *ManualClock {
	return &ManualClock{ts: start}
}

func (c *ManualClock) Now() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

func (c *ManualClock) Set(ts types.Timestamp) {
	c.mu.Lock()
	c.ts = ts
	c.mu.Unlock()
}

// Advance moves the clock forward by d, returning the new reading.
func (c *ManualClock) Advance(d time.Duration) types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts += types.Timestamp(d.Milliseconds())
	return c.ts
}
