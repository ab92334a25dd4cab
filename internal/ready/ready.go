// Package ready provides a one-shot readiness gate for dependencies that
// initialize after startup, such as the hosted backend.
package ready

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/model"
)

// Gate is resolved exactly once. Waiters block until then.
type Gate struct {
	name string
	once sync.Once
	done chan struct{}
	err  error
}

// NewGate creates an unresolved gate for the named component.
func NewGate(name string) *Gate {
	return &Gate{name: name, done: make(chan struct{})}
}

// Resolved returns a gate that is already open.
func Resolved(name string) *Gate {
	g := NewGate(name)
	g.Resolve(nil)
	return g
}

// Resolve opens the gate. A non-nil err marks the component as failed.
// Only the first call has an effect.
func (g *Gate) Resolve(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Ready reports whether the gate was resolved without error.
func (g *Gate) Ready() bool {
	select {
	case <-g.done:
		return g.err == nil
	default:
		return false
	}
}

// Wait blocks until the gate resolves or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await waits at most limit and maps every failure to a not-ready API error,
// so callers can abort the operation and let the client retry.
func (g *Gate) Await(ctx context.Context, limit time.Duration) error {
	if g.Ready() {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	if err := g.Wait(wctx); err != nil {
		apiErr := model.NewNotReadyError(g.name)
		apiErr.Err = fmt.Errorf("%w: %v", model.ErrNotReady, err)
		return apiErr
	}
	return nil
}

// ErrProbeExhausted is returned when every probe attempt failed.
var ErrProbeExhausted = errors.New("readiness probe attempts exhausted")

// Probe runs check until it succeeds, at most attempts times, pausing
// interval between attempts.
func Probe(ctx context.Context, check func(context.Context) error, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if last = check(ctx); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %v", ErrProbeExhausted, last)
}

// Start probes in the background and resolves the gate with the outcome.
func (g *Gate) Start(ctx context.Context, logger *slog.Logger, check func(context.Context) error, attempts int, interval time.Duration) {
	go func() {
		err := Probe(ctx, check, attempts, interval)
		if err != nil {
			logger.Error("dependency not ready", "component", g.name, "error", err)
		} else {
			logger.Info("dependency ready", "component", g.name)
		}
		g.Resolve(err)
	}()
}
