// Package ratelimit enforces per-client, per-endpoint request quotas over
// fixed time windows kept in an injected counter store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Counter is the store the limiter counts in. domain.Cache satisfies it.
type Counter interface {
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Sweeper drops expired counters.
type Sweeper interface {
	Cleanup(ctx context.Context) (int, error)
}

// Window is one quota: at most Limit requests per Length.
type Window struct {
	Name   string
	Length time.Duration
	Limit  int64
}

// Result is the outcome of a check against every window.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	Window     string
}

// Limiter checks requests against its windows.
type Limiter struct {
	store   Counter
	windows []Window
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a limiter with minute and hour windows from cfg.
func New(store Counter, cfg domain.RateLimitConfig, m *metrics.Metrics) *Limiter {
	return NewWithWindows(store, []Window{
		{Name: "minute", Length: time.Minute, Limit: cfg.PerMinute},
		{Name: "hour", Length: time.Hour, Limit: cfg.PerHour},
	}, m)
}

// NewWithWindows creates a limiter with explicit windows.
func NewWithWindows(store Counter, windows []Window, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:   store,
		windows: windows,
		metrics: m,
		now:     time.Now,
	}
}

// Check counts one request for client on endpoint. Every window is counted;
// the request is allowed only if all of them are within their limit.
// The reported limit and remaining come from the tightest window.
func (l *Limiter) Check(ctx context.Context, client, endpoint string) (Result, error) {
	now := l.now()
	res := Result{Allowed: true, Remaining: -1}

	for _, w := range l.windows {
		if w.Limit <= 0 || w.Length <= 0 {
			continue
		}
		start := now.Truncate(w.Length)
		key := fmt.Sprintf("rl:%s:%s:%s:%d", client, endpoint, w.Name, start.Unix())

		n, err := l.store.IncrementCounter(ctx, key, w.Length)
		if err != nil {
			return Result{Allowed: true}, fmt.Errorf("increment %s window: %w", w.Name, err)
		}

		remaining := w.Limit - n
		if remaining < 0 {
			remaining = 0
		}
		resetAt := start.Add(w.Length)

		if n > w.Limit {
			if res.Allowed || resetAt.After(res.ResetAt) {
				res.RetryAfter = resetAt.Sub(now)
				res.ResetAt = resetAt
				res.Window = w.Name
				res.Limit = w.Limit
			}
			res.Allowed = false
			res.Remaining = 0
			continue
		}
		if res.Allowed && (res.Remaining < 0 || remaining < res.Remaining) {
			res.Limit = w.Limit
			res.Remaining = remaining
			res.ResetAt = resetAt
			res.Window = w.Name
		}
	}

	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res, nil
}

// RunJanitor calls s.Cleanup every interval until ctx is done.
func RunJanitor(ctx context.Context, s Sweeper, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Cleanup(ctx)
			if err != nil {
				slog.Warn("rate limit cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("rate limit counters swept", "removed", removed)
			}
		}
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
