package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// Cooldown serializes alert workers and enforces a quiet period between the end of
// one run and the start of the next, across all workers.
type Cooldown struct {
	mu      sync.Mutex
	slot    chan struct{}
	period  time.Duration
	lastRun time.Time
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCooldown creates a gate. A zero period only serializes.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{
		slot:   make(chan struct{}, 1),
		period: period,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Acquire blocks until no other worker holds the gate and the cooldown since the
// last release has elapsed. Every successful Acquire must be paired with Release.
func (c *Cooldown) Acquire(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if wait := c.Remaining(); wait > 0 {
		observ.IncCounter("scheduler_cooldown_waits_total", nil)
		if err := c.sleep(ctx, wait); err != nil {
			<-c.slot
			return err
		}
	}
	return nil
}

// Release marks the end of a run and frees the gate
func (c *Cooldown) Release() {
	c.mu.Lock()
	c.lastRun = c.now()
	c.mu.Unlock()
	<-c.slot
}

// Remaining is how long the next worker would wait
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun.IsZero() {
		return 0
	}
	if left := c.period - c.now().Sub(c.lastRun); left > 0 {
		return left
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
