package pipeline

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so tests can run cool-downs instantly.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// cooldown is the gate every worker passes before starting an item.
// Once tripped, all workers wait until it reopens.
type cooldown struct {
	clock Clock

	mu     sync.Mutex
	until  time.Time
	pauses int
}

func newCooldown(clock Clock) *cooldown {
	return &cooldown{clock: clock}
}

// trip closes the gate for d. It reports false when the gate is already closed,
// so concurrent rate limits count as one pause.
func (c *cooldown) trip(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if now.Before(c.until) {
		return false
	}
	c.until = now.Add(d)
	c.pauses++
	return true
}

func (c *cooldown) wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		remaining := c.until.Sub(c.clock.Now())
		c.mu.Unlock()
		if remaining <= 0 {
			return ctx.Err()
		}
		if err := c.clock.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

func (c *cooldown) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses
}
