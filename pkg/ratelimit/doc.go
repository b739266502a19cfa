// Package ratelimit spaces out requests sent to the platform.
//
// MinDelay is the primary limiter: it enforces a minimum delay before every
// direct request and every browser navigation. When the platform signals a
// rate limit the orchestrator calls Escalate, which doubles the delay up to a
// ceiling; successful fetches call Relax to bring it back down.
//
// SlidingWindow caps the number of requests inside a moving window and can be
// combined with MinDelay through Chain.
//
//	limiter := ratelimit.Chain{
//	    ratelimit.NewMinDelay(2*time.Second, time.Minute),
//	    ratelimit.NewSlidingWindow(100, 15*time.Minute),
//	}
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
