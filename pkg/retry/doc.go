// Package retry runs an operation repeatedly with backoff.
//
// Do stops on success, on a failure that DefaultRetryIf (or a custom RetryIf)
// rejects, when ctx is cancelled, or when MaxAttempts is exhausted. Exhaustion
// is reported as an errors.ErrorTypeUnreachable error wrapping the last
// failure so callers can branch on the reason code.
//
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return browserAttempt(ctx)
//	}, &retry.Config{
//	    MaxAttempts: 3,
//	    BackoffFor:  retry.ForFetch(2*time.Second, 30*time.Second).ForError,
//	})
package retry
