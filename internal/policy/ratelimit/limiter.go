// Package ratelimit spaces fetches so the crawler never hammers a site.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webscraper/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the pause between consecutive fetches. Zero or negative disables waiting.
	Delay time.Duration
	// Label tags the observed delays in metrics, usually the seed host.
	Label string
}

// Limiter enforces a minimum delay between fetches.
type Limiter struct {
	delay   time.Duration
	label   string
	limiter *rate.Limiter
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	label := cfg.Label
	if label == "" {
		label = "unknown"
	}
	return &Limiter{
		delay:   cfg.Delay,
		label:   label,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Delay returns the configured delay.
func (l *Limiter) Delay() time.Duration {
	return l.delay
}

// WaitBeforeNext blocks for the configured delay when another fetch is pending.
// It returns early with the context error if ctx ends first.
func (l *Limiter) WaitBeforeNext(ctx context.Context, pending bool) error {
	if !pending || l.delay <= 0 {
		return nil
	}
	start := time.Now()
	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
	}
	metrics.ObserveRateLimitDelay(l.label, time.Since(start))
	return nil
}

// WaitStart blocks until another request may start. Starts are spaced at least
// Delay apart across all callers.
func (l *Limiter) WaitStart(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.label, waited)
	}
	return nil
}
