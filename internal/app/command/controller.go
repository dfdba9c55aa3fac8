// Package command provides the controller that serializes cancellable
// playback commands. At most one command owns the audio engine at a time;
// a newer command cancels and supersedes the previous one.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrTimeout is returned by WithTimeout when the deadline fires first.
var ErrTimeout = errors.New("operation timed out")

// Factory builds the command body. The passed context carries the command's
// cancellation signal; cancellation is cooperative and the body must observe
// ctx to stop early. A body that ignores ctx keeps running in the background
// after being superseded, but its result is discarded either way.
type Factory func(ctx context.Context) error

// Controller tracks the single running command and its cancellation.
type Controller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64 // identity of the tracked command
	active bool
}

// New creates a command controller.
func New() *Controller {
	return &Controller{}
}

// Interrupt cancels any running command, then runs factory with a fresh
// cancellation context and returns once it settles. A failure caused by
// cancellation is benign and reported as nil; any other failure is returned.
func (c *Controller) Interrupt(ctx context.Context, factory Factory) error {
	c.mu.Lock()
	return c.startLocked(ctx, factory)
}

// IfIdle runs factory like Interrupt, but only when no command is active.
// When a command is running it returns immediately and factory is never
// invoked.
func (c *Controller) IfIdle(ctx context.Context, factory Factory) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	return c.startLocked(ctx, factory)
}

// IsActive reports whether a command is currently tracked as running.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// startLocked runs factory as the tracked command. Must be called with the
// lock held; the lock is released before the command body runs.
func (c *Controller) startLocked(ctx context.Context, factory Factory) error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.seq++
	id := c.seq
	c.cancel = cancel
	c.active = true
	c.mu.Unlock()

	err := factory(runCtx)
	cancel()

	c.mu.Lock()
	// Only clear bookkeeping if no newer command has replaced this one.
	if c.seq == id {
		c.cancel = nil
		c.active = false
	}
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			zlog.Debug().Msgf("command: superseded command settled cancelled: seq=%d", id)
			return nil
		}
		return err
	}
	return nil
}

// WithTimeout races op against a deadline and returns ErrTimeout when the
// deadline fires first. The racing operation is not cancelled: it keeps
// running to completion in the background and its result is dropped, so
// callers must not assume its resources are freed when ErrTimeout surfaces.
func WithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errors.Wrapf(ErrTimeout, "after %v", timeout)
	}
}
