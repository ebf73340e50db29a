package ros

import (
	"context"
	"sync"
)

// ShutdownToken cooperatively broadcasts a one-way "terminate" event. It
// wraps a context.Context: Done() is the awaitable/pollable signal,
// Shutdown() is idempotent, and every holder of the *ShutdownToken
// pointer observes the same state — Go's reference semantics make it
// shareable for free.
type ShutdownToken struct {
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// NewShutdownToken creates a token in the not-shut-down state.
func NewShutdownToken() *ShutdownToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownToken{ctx: ctx, cancel: cancel}
}

// Shutdown trips the token. Safe to call more than once, concurrently,
// and from a signal handler goroutine; only the first call has effect.
func (t *ShutdownToken) Shutdown() {
	t.once.Do(t.cancel)
}

// Done returns a channel that closes once Shutdown has been called.
// Registering a select on Done() and then checking IsShutdown() avoids
// any wake/register race: context.Context already guarantees Done() is
// closed no later than the cancel that produced it.
func (t *ShutdownToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// IsShutdown reports whether Shutdown has already been called.
func (t *ShutdownToken) IsShutdown() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Context returns the underlying context, for call sites that want to
// thread cancellation through a context-taking API (net.Dialer, etc).
func (t *ShutdownToken) Context() context.Context {
	return t.ctx
}

// Wait blocks until Shutdown has been called.
func (t *ShutdownToken) Wait() {
	<-t.ctx.Done()
}
