package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/cart"
)

// Registry holds one Controller per client session, each bound to that
// session's cart.
type Registry struct {
	deps  Deps
	carts *cart.Registry

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, carts *cart.Registry) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{deps: deps, carts: carts, controllers: make(map[string]*Controller)}
}

// Get returns the controller for session, creating an idle one on first use.
func (r *Registry) Get(session string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.carts.Get(session)
	c, ok := r.controllers[session]
	if !ok || c.cart != cs {
		c = New(session, cs, r.deps)
		r.controllers[session] = c
	}
	return c
}

// Sweep drops controllers idle for at least idle.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.deps.Now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.controllers {
		if !c.LastUsed().After(cutoff) {
			delete(r.controllers, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.deps.Logger.Info("swept idle checkouts", "count", n)
			}
		}
	}
}
