// Package throttle spaces out calls to a single external source.
package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Throttler enforces a minimum interval between permitted calls. Concurrent
// callers share one limiter and queue behind each other.
type Throttler struct {
	limiter *rate.Limiter
	observe func(time.Duration)
}

// New returns a throttler admitting one call per interval. A non-positive
// interval disables throttling.
func New(interval time.Duration) *Throttler {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttler{limiter: rate.NewLimiter(limit, 1)}
}

// OnWait registers a callback receiving the time each call spent blocked.
func (t *Throttler) OnWait(fn func(time.Duration)) {
	t.observe = fn
}

// Throttle blocks until the next call is permitted or ctx is done.
func (t *Throttler) Throttle(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	waited := time.Since(start)
	if waited > time.Millisecond {
		slog.Debug("throttled outbound call", slog.Duration("waited", waited))
	}
	if t.observe != nil {
		t.observe(waited)
	}
	return nil
}
