package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request may proceed right now and records it if so
	Allow() bool
	// Wait blocks until the limiter allows another request or ctx is done
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// Escalator is implemented by limiters that react to platform rate-limit signals
type Escalator interface {
	// Escalate lengthens the enforced delay after a rate-limit signal
	Escalate() time.Duration
	// Relax moves the enforced delay back toward its base after a success
	Relax()
}

// MinDelay enforces a minimum delay between consecutive requests. The delay
// doubles on each Escalate up to max and halves on each Relax down to base.
type MinDelay struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	last    time.Time
	mu      sync.Mutex
	now     func() time.Time
}

// NewMinDelay creates a minimum-delay limiter
func NewMinDelay(base, max time.Duration) *MinDelay {
	if max < base {
		max = base
	}
	return &MinDelay{
		base:    base,
		max:     max,
		current: base,
		now:     time.Now,
	}
}

// Allow reports whether the delay since the previous request has elapsed
func (md *MinDelay) Allow() bool {
	md.mu.Lock()
	defer md.mu.Unlock()

	now := md.now()
	if md.last.IsZero() || now.Sub(md.last) >= md.current {
		md.last = now
		return true
	}
	return false
}

// Wait blocks until the delay has elapsed, then reserves the slot
func (md *MinDelay) Wait(ctx context.Context) error {
	for {
		md.mu.Lock()
		now := md.now()
		var remaining time.Duration
		if !md.last.IsZero() {
			remaining = md.current - now.Sub(md.last)
		}
		if remaining <= 0 {
			md.last = now
			md.mu.Unlock()
			return nil
		}
		md.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset restores the base delay and forgets the previous request
func (md *MinDelay) Reset() {
	md.mu.Lock()
	defer md.mu.Unlock()

	md.current = md.base
	md.last = time.Time{}
}

// Escalate doubles the enforced delay
func (md *MinDelay) Escalate() time.Duration {
	md.mu.Lock()
	defer md.mu.Unlock()

	next := md.current * 2
	if next == 0 {
		next = time.Second
	}
	if next > md.max {
		next = md.max
	}
	md.current = next
	return next
}

// Relax halves the enforced delay, never going below the base
func (md *MinDelay) Relax() {
	md.mu.Lock()
	defer md.mu.Unlock()

	next := md.current / 2
	if next < md.base {
		next = md.base
	}
	md.current = next
}

// Current returns the delay currently enforced
func (md *MinDelay) Current() time.Duration {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.current
}

// SlidingWindow implements a sliding window rate limiter
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}

	return false
}

// Wait blocks until a request is allowed or ctx is done
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for !sw.Allow() {
		sw.mu.Lock()
		wait := 50 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > 0 {
				wait = d
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// cleanOldRequests removes requests outside the sliding window
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && sw.requests[i].Before(cutoff) {
		i++
	}

	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// Chain waits on every limiter in order. Escalation is forwarded to members
// that support it.
type Chain []Limiter

// Allow reports whether every member allows the request. Members earlier in
// the chain may record the request even if a later member refuses.
func (c Chain) Allow() bool {
	for _, l := range c {
		if !l.Allow() {
			return false
		}
	}
	return true
}

// Wait waits on each member in turn
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets every member
func (c Chain) Reset() {
	for _, l := range c {
		l.Reset()
	}
}

// Escalate escalates every member that supports it and returns the largest delay
func (c Chain) Escalate() time.Duration {
	var longest time.Duration
	for _, l := range c {
		if e, ok := l.(Escalator); ok {
			if d := e.Escalate(); d > longest {
				longest = d
			}
		}
	}
	return longest
}

// Relax relaxes every member that supports it
func (c Chain) Relax() {
	for _, l := range c {
		if e, ok := l.(Escalator); ok {
			e.Relax()
		}
	}
}
