package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"parcelharvest/internal/config"
)

// ErrAcquireTimeout is returned when no token became available within the
// caller's timeout. Workers treat it as a transient failure.
var ErrAcquireTimeout = errors.New("rate limiter: acquire timed out")

// Limiter is the admission gate for outbound remote calls: a token bucket
// with a burst capacity and continuous refill.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter from config. Capacity is the burst size,
// refillPerSecond the steady-state request rate.
func New(cfg config.RateLimitConfig) *Limiter {
	log.Info().
		Int("capacity", cfg.Capacity).
		Float64("refill_per_second", cfg.RefillPerSecond).
		Msg("Initializing rate limiter")

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
	}
}

// Acquire consumes one token, blocking up to timeout for the bucket to
// refill. A timeout of 0 is a non-blocking try-acquire. Context
// cancellation is reported as-is so shutdown is not mistaken for a
// rate-limit timeout.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		if l.limiter.Allow() {
			return nil
		}
		return ErrAcquireTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := l.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().
			Dur("waited", time.Since(start)).
			Dur("timeout", timeout).
			Msg("Rate limiter acquire timed out")
		return ErrAcquireTimeout
	}

	if waited := time.Since(start); waited > 50*time.Millisecond {
		log.Debug().Dur("waited", waited).Msg("Acquired rate limit token after wait")
	}
	return nil
}

// TryAcquire consumes a token only if one is immediately available.
func (l *Limiter) TryAcquire() bool {
	return l.limiter.Allow()
}

// Tokens reports the currently available token count, for diagnostics.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}
