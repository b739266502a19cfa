package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	errs "tokscraper/pkg/errors"
)

// Strategy returns the wait after a failed attempt. attempt starts at 1.
type Strategy interface {
	NextDelay(attempt int) time.Duration
}

// Exponential grows the delay by Factor per attempt from Base up to Max and
// spreads it by +/- Jitter (a fraction of the delay)
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// NextDelay implements Strategy
func (e Exponential) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := e.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(e.Base) * math.Pow(factor, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter > 0 {
		spread := d * e.Jitter
		d += rand.Float64()*2*spread - spread
	}
	return time.Duration(math.Max(d, 0))
}

// Constant waits the same time after every attempt
type Constant time.Duration

// NextDelay implements Strategy
func (c Constant) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(c)
}

// ByReason picks a strategy from the failure's reason code
type ByReason struct {
	Default Strategy
	Reasons map[errs.ErrorType]Strategy
}

// ForError returns the strategy for err, falling back to Default
func (b ByReason) ForError(err error) Strategy {
	if s, ok := b.Reasons[errs.TypeOf(err)]; ok {
		return s
	}
	return b.Default
}

// ForFetch is the fetch policy: exponential from base to max, except that
// rate limits and blocks wait ten times longer and grow more slowly.
func ForFetch(base, max time.Duration) ByReason {
	throttled := Exponential{Base: base * 10, Max: max * 10, Factor: 1.5, Jitter: 0.3}
	return ByReason{
		Default: Exponential{Base: base, Max: max, Factor: 2, Jitter: 0.2},
		Reasons: map[errs.ErrorType]Strategy{
			errs.ErrorTypeRateLimit: throttled,
			errs.ErrorTypeBlocked:   throttled,
		},
	}
}

// Wait blocks for delay or until ctx is done
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
