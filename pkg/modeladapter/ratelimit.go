package modeladapter

import (
	"context"
	"sync"
	"time"
)

var _ Backend = (*RateLimitedBackend)(nil)

// RateLimitedBackend wraps a Backend with proactive requests-per-minute
// throttling over a sliding one-minute window. Retrying on upstream errors is
// left to the caller.
type RateLimitedBackend struct {
	inner  Backend
	mu     sync.Mutex
	window []time.Time
	rpm    int // requests-per-minute limit (0 = no limit)

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// RateLimitOpts configures the RateLimitedBackend.
type RateLimitOpts struct {
	RPM int // Requests per minute (0 = no limit).
}

// NewRateLimitedBackend wraps a Backend with rate limiting.
func NewRateLimitedBackend(inner Backend, opts RateLimitOpts) *RateLimitedBackend {
	return &RateLimitedBackend{
		inner:     inner,
		rpm:       opts.RPM,
		nowFunc:   time.Now,
		sleepFunc: ContextSleep,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *RateLimitedBackend) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *RateLimitedBackend) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// ContextSleep sleeps for d or until ctx is cancelled.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pruneWindow removes entries older than 1 minute. Must be called with mu held.
func (r *RateLimitedBackend) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.window = append(r.window[:0:0], r.window[i:]...)
	}
}

// acquire blocks until the window has room and then records a request.
func (r *RateLimitedBackend) acquire(ctx context.Context) error {
	if r.rpm <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		now := r.nowFunc()
		r.pruneWindow(now)

		if len(r.window) < r.rpm {
			r.window = append(r.window, now)
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry leaves the window.
		waitDur := max(r.window[0].Add(time.Minute).Sub(now), 0)
		r.mu.Unlock()

		const minWait = 10 * time.Millisecond
		if waitDur < minWait {
			waitDur = minWait
		}

		if err := r.sleepFunc(ctx, waitDur); err != nil {
			return err
		}
	}
}

// Complete implements Completer with RPM throttling.
func (r *RateLimitedBackend) Complete(ctx context.Context, req Request) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	return r.inner.Complete(ctx, req)
}

// Stream implements Streamer with RPM throttling.
func (r *RateLimitedBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	return r.inner.Stream(ctx, req)
}
