package cancel

import (
	"context"
)

// Canceller is a single-writer cancellation token. The zero value is not
// usable; construct with New.
type Canceller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a fresh Canceller.
func New() *Canceller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Canceller{ctx: ctx, cancel: cancel}
}

// Cancel marks the token as cancelled. Safe to call more than once and from
// signal handlers.
func (c *Canceller) Cancel() {
	c.cancel()
}

// Err returns nil while the token is live and context.Canceled afterwards.
func (c *Canceller) Err() error {
	return c.ctx.Err()
}

// Done returns a channel closed upon cancellation.
func (c *Canceller) Done() <-chan struct{} {
	return c.ctx.Done()
}
