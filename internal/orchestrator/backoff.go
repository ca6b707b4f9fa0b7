package orchestrator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// ExponentialBackoff returns base doubled attempt times, capped at limit.
func ExponentialBackoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt <= 0 {
		return min(base, limit)
	}

	delay := base
	for range attempt {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}

	return delay
}

// fullJitter picks a delay uniformly in [0, d].
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cooldowns tracks engines that reported exhausted quota.
type cooldowns struct {
	until map[string]time.Time
	mu    sync.Mutex
}

func newCooldowns() *cooldowns {
	return &cooldowns{until: make(map[string]time.Time)}
}

func (c *cooldowns) start(engineID string, until time.Time) {
	c.mu.Lock()
	c.until[engineID] = until
	c.mu.Unlock()
}

func (c *cooldowns) active(engineID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.until[engineID]
	if !ok {
		return false
	}

	if !now.Before(until) {
		delete(c.until, engineID)

		return false
	}

	return true
}
