package iolimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config holds limiter settings.
type Config struct {
	// BytesPerSec is the sustained write throughput. 0 means unlimited.
	BytesPerSec int64

	// Burst is the largest single acquisition allowed without waiting.
	// Defaults to BytesPerSec.
	Burst int
}

// Limiter paces I/O by bytes.
type Limiter struct {
	cfg Config
	rl  *rate.Limiter // nil if unlimited
}

var unlimited = &Limiter{}

// Unlimited returns a Limiter that never waits.
func Unlimited() *Limiter { return unlimited }

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.BytesPerSec <= 0 {
		return &Limiter{cfg: cfg}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BytesPerSec)
	}
	return &Limiter{
		cfg: cfg,
		rl:  rate.NewLimiter(rate.Limit(cfg.BytesPerSec), cfg.Burst),
	}
}

// IsUnlimited reports whether the limiter never waits.
func (l *Limiter) IsUnlimited() bool {
	return l == nil || l.rl == nil
}

// BytesPerSec returns the configured rate, 0 if unlimited.
func (l *Limiter) BytesPerSec() int64 {
	if l == nil {
		return 0
	}
	return l.cfg.BytesPerSec
}

// AcquireIO waits until the limiter allows n bytes.
// Requests larger than the burst are split.
func (l *Limiter) AcquireIO(ctx context.Context, n int) error {
	if l.IsUnlimited() || n <= 0 {
		return nil
	}
	burst := l.rl.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := l.rl.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
