// Package ratelimit provides per-source admission control for outbound API calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Window is a sliding-window log limiter: at most max calls are admitted in
// any trailing interval of length window. Unlike a token bucket it never
// admits a burst across a window boundary.
type Window struct {
	name   string
	max    int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time // admitted call times, oldest first

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	waitLog rate.Sometimes
}

// Option configures a Window.
type Option func(*Window)

// WithName labels log output from the limiter.
func WithName(name string) Option {
	return func(w *Window) {
		w.name = name
	}
}

// WithClock replaces the wall clock and the sleep function, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) {
		w.now = now
		w.sleep = sleep
	}
}

// New creates a limiter admitting maxRequests per window. A non-positive
// maxRequests or window disables limiting.
func New(maxRequests int, window time.Duration, opts ...Option) *Window {
	w := &Window{
		max:     maxRequests,
		window:  window,
		now:     time.Now,
		sleep:   sleepCtx,
		waitLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Acquire blocks until one more call fits in the trailing window, records it
// and returns. Callers are served one at a time; the only error is context
// cancellation while waiting.
func (w *Window) Acquire(ctx context.Context) error {
	if w.max <= 0 || w.window <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		now := w.now()
		w.evict(now)
		if len(w.stamps) < w.max {
			w.stamps = append(w.stamps, now)
			return nil
		}

		wait := w.stamps[0].Add(w.window).Sub(now)
		w.waitLog.Do(func() {
			zap.L().Debug("ratelimit: window full, waiting",
				zap.String("limiter", w.name),
				zap.Int("max_requests", w.max),
				zap.Duration("window", w.window),
				zap.Duration("wait", wait),
			)
		})
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of calls admitted in the trailing window.
func (w *Window) InWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return len(w.stamps)
}

// evict drops timestamps that have left the trailing window (now-window, now].
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
