package browser

import (
	"context"

	errs "tokscraper/pkg/errors"
)

// Guard serializes driving steps on a shared session. Acquisition is
// cancellable, unlike sync.Mutex.
type Guard struct {
	sem chan struct{}
}

// NewGuard creates an unlocked guard
func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Lock acquires the guard or fails with a cancelled error
func (g *Guard) Lock(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errs.FromContext(ctx)
	}
}

// Unlock releases the guard
func (g *Guard) Unlock() {
	select {
	case <-g.sem:
	default:
		panic("browser: unlock of unlocked guard")
	}
}

// Do runs fn while holding the guard
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Lock(ctx); err != nil {
		return err
	}
	defer g.Unlock()
	return fn(ctx)
}
