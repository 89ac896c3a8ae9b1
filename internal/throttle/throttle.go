// Package throttle paces outbound deliveries against a rate-limited channel.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one delivery slot per interval. The first slot is free so a
// run starts immediately; later calls to Wait block until the interval has passed.
type Limiter struct {
	interval time.Duration
	lim      *rate.Limiter
}

// New returns a limiter with burst 1. A non-positive interval disables pacing.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{interval: interval, lim: rate.NewLimiter(rate.Every(interval), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}

func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Pacer is what a delivery loop needs from a limiter.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Sequence returns a fresh limiter per run so an idle period between runs
// never carries a banked token into the next one.
func Sequence(interval time.Duration) func() Pacer {
	return func() Pacer { return New(interval) }
}
