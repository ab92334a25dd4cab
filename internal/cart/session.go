// Package cart keeps the per-client cart and its synchronization with the
// signed-in user's remote cart.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/ready"
	"storefront/internal/reconcile"
)

// Remote is the remote cart copy. Satisfied by gateway.Store.
type Remote interface {
	GetCart(ctx context.Context) ([]model.StoredCartRow, error)
	SaveCart(ctx context.Context, rows []model.StoredCartRow) error
}

// Products resolves stored rows back to catalog entries. Satisfied by *catalog.Cache.
type Products interface {
	LoadProducts(ctx context.Context) ([]model.Product, error)
	GetProductByID(id model.ID) (model.Product, bool)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Remote   Remote
	Products Products
	Pricing  Pricing
	// Ready gates the first remote call of an attach.
	Ready     *ready.Gate
	ReadyWait time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// AddResult reports what AddItem added, for client feedback.
type AddResult struct {
	Product  model.Product `json:"product"`
	Variant  model.Variant `json:"variant"`
	Quantity int           `json:"quantity"`
}

// Session is the cart of one client session. Safe for concurrent use.
//
// Every mutation bumps a version. Pushes to the remote cart are serialized
// and always send the latest local state; a push whose version was already
// written is skipped, so the remote copy never regresses to an older state.
type Session struct {
	id   string
	deps Deps

	mu       sync.Mutex
	entries  []model.CartEntry
	version  uint64
	user     *gateway.Identity
	subs     map[int]chan struct{}
	nextSub  int

	// lastUsed holds unix nanoseconds; Sweep reads it without s.mu.
	lastUsed atomic.Int64

	pushMu sync.Mutex
	pushed uint64
}

// NewSession creates an empty guest cart.
func NewSession(id string, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ready == nil {
		deps.Ready = ready.Resolved("backend")
	}
	if deps.ReadyWait <= 0 {
		deps.ReadyWait = 2 * time.Second
	}
	s := &Session{
		id:   id,
		deps: deps,
		subs: make(map[int]chan struct{}),
	}
	s.touch()
	return s
}

// ID returns the client session id.
func (s *Session) ID() string { return s.id }

// AddItem adds qty (at least 1) of variant. A line for the same product and
// variant label is incremented instead of duplicated.
func (s *Session) AddItem(ctx context.Context, product model.Product, variant model.Variant, qty int) (AddResult, error) {
	if qty < 1 {
		qty = 1
	}
	index := -1
	if _, i, ok := product.VariantByID(variant.ID); ok && variant.ID != "" {
		index = i
	} else if _, i, ok := product.VariantByLabel(variant.Label); ok {
		index = i
	}
	if index < 0 {
		return AddResult{}, model.NewValidationError("variant", "not offered for "+product.Name)
	}

	s.mutate(ctx, func() bool {
		s.addLocked(product, variant, index, qty)
		return true
	})
	return AddResult{Product: product, Variant: variant, Quantity: qty}, nil
}

func (s *Session) addLocked(product model.Product, variant model.Variant, index, qty int) {
	key := model.EntryKey{ProductID: product.ID, Variant: variant.Label}
	for i := range s.entries {
		if s.entries[i].Key().Matches(key) {
			s.entries[i].Quantity += qty
			return
		}
	}
	s.entries = append(s.entries, model.CartEntry{
		ProductID:    product.ID,
		Name:         product.Name,
		Image:        product.Image,
		Variant:      variant,
		VariantIndex: index,
		Quantity:     qty,
	})
}

// Commit adds every line of sel in one mutation.
func (s *Session) Commit(ctx context.Context, sel *Selection) ([]AddResult, error) {
	if sel == nil || sel.IsEmpty() {
		return nil, model.NewValidationError("selection", "choose at least one variant")
	}
	lines := sel.Lines()
	product := sel.Product()
	results := make([]AddResult, 0, len(lines))
	s.mutate(ctx, func() bool {
		for _, l := range lines {
			s.addLocked(product, l.Variant, l.Index, l.Quantity)
			results = append(results, AddResult{Product: product, Variant: l.Variant, Quantity: l.Quantity})
		}
		return true
	})
	return results, nil
}

// UpdateQuantity applies delta to the line at index. A resulting quantity
// ≤ 0 removes the line. Out-of-range indexes are ignored.
func (s *Session) UpdateQuantity(ctx context.Context, index, delta int) {
	s.mutate(ctx, func() bool {
		if index < 0 || index >= len(s.entries) {
			return false
		}
		s.entries[index].Quantity += delta
		if s.entries[index].Quantity <= 0 {
			s.entries = append(s.entries[:index], s.entries[index+1:]...)
		}
		return true
	})
}

// RemoveItem drops the line at index. Out-of-range indexes are ignored.
func (s *Session) RemoveItem(ctx context.Context, index int) {
	s.mutate(ctx, func() bool {
		if index < 0 || index >= len(s.entries) {
			return false
		}
		s.entries = append(s.entries[:index], s.entries[index+1:]...)
		return true
	})
}

// Clear empties the cart.
func (s *Session) Clear(ctx context.Context) {
	s.mutate(ctx, func() bool {
		s.entries = nil
		return true
	})
}

// mutate runs fn under the lock. When fn reports a change the version is
// bumped, subscribers are notified and, for a signed-in user, the remote
// cart is brought up to date before returning.
func (s *Session) mutate(ctx context.Context, fn func() bool) {
	s.mu.Lock()
	s.touch()
	changed := fn()
	if changed {
		s.version++
		s.notifyLocked()
	}
	attached := s.user != nil
	s.mu.Unlock()

	if changed && attached {
		if err := s.push(context.WithoutCancel(ctx)); err != nil {
			s.deps.Logger.Warn("cart sync failed", "session", s.id, "error", err)
		}
	}
}

// push writes the latest local state if it has not been written yet.
func (s *Session) push(ctx context.Context) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.Lock()
	version, user := s.version, s.user
	rows := toRows(s.entries)
	s.mu.Unlock()

	if user == nil || version <= s.pushed {
		return nil
	}
	if err := s.deps.Remote.SaveCart(gateway.WithUser(ctx, *user), rows); err != nil {
		return fmt.Errorf("save cart v%d: %w", version, err)
	}
	s.pushed = version
	return nil
}

// Sync pushes the local cart now and returns the outcome.
func (s *Session) Sync(ctx context.Context) error {
	return s.push(ctx)
}

// Attach binds the cart to a signed-in user and merges the remote cart:
// remote-only lines are added, remote quantities win on conflict and
// local-only lines are pushed. Attaching the already attached user is a no-op.
// When another user is attached, their lines are dropped first so they never
// reach the new user's remote cart.
func (s *Session) Attach(ctx context.Context, id gateway.Identity) error {
	s.mu.Lock()
	if s.user != nil && s.user.User.ID == id.User.ID {
		s.user.AccessToken = id.AccessToken
		s.mu.Unlock()
		return nil
	}
	if s.user != nil {
		s.deps.Logger.Info("cart user switched", "session", s.id, "from", s.user.User.ID, "to", id.User.ID)
		s.detachLocked()
	}
	s.mu.Unlock()

	if err := s.deps.Ready.Await(ctx, s.deps.ReadyWait); err != nil {
		return err
	}
	if _, err := s.deps.Products.LoadProducts(ctx); err != nil {
		return fmt.Errorf("load catalog for cart: %w", err)
	}
	rows, err := s.deps.Remote.GetCart(gateway.WithUser(ctx, id))
	if err != nil {
		return fmt.Errorf("fetch remote cart: %w", err)
	}
	remote := s.resolve(rows)

	s.mu.Lock()
	merged := reconcile.MergeCart(s.entries, remote)
	s.entries = merged.Entries
	s.user = &id
	s.version++
	version := s.version
	s.touch()
	s.notifyLocked()
	s.mu.Unlock()

	if !merged.NeedsPush() {
		// The remote copy already matches the merged cart.
		s.pushMu.Lock()
		if s.pushed < version {
			s.pushed = version
		}
		s.pushMu.Unlock()
	}

	s.deps.Logger.Info("cart attached",
		"session", s.id,
		"user", id.User.ID,
		"lines", len(merged.Entries),
		"pushed", merged.Pushed,
		"overridden", merged.Overridden,
	)

	if merged.NeedsPush() {
		if err := s.push(ctx); err != nil {
			s.deps.Logger.Warn("cart sync after attach failed", "session", s.id, "error", err)
		}
	}
	return nil
}

// Detach unbinds the user on sign-out and empties the local cart; the
// user's lines stay in their remote cart.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return
	}
	s.detachLocked()
}

func (s *Session) detachLocked() {
	s.user = nil
	s.entries = nil
	s.version++
	s.notifyLocked()
}

// resolve maps stored rows to cart lines, skipping rows whose product is
// no longer in the catalog.
func (s *Session) resolve(rows []model.StoredCartRow) []model.CartEntry {
	out := make([]model.CartEntry, 0, len(rows))
	for _, r := range rows {
		p, ok := s.deps.Products.GetProductByID(r.ProductID)
		if !ok {
			s.deps.Logger.Warn("dropping cart row for unknown product", "session", s.id, "product_id", r.ProductID)
			continue
		}
		v, idx, ok := p.ResolveVariant(r.VariantID, r.VariantIndex)
		if !ok || r.Quantity <= 0 {
			continue
		}
		e := model.CartEntry{
			ProductID:    p.ID,
			Name:         p.Name,
			Image:        p.Image,
			Variant:      v,
			VariantIndex: idx,
			Quantity:     r.Quantity,
		}
		merged := false
		for i := range out {
			if out[i].Key().Matches(e.Key()) {
				out[i].Quantity += e.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, e)
		}
	}
	return out
}

func toRows(entries []model.CartEntry) []model.StoredCartRow {
	rows := make([]model.StoredCartRow, len(entries))
	for i, e := range entries {
		rows[i] = model.StoredCartRow{
			ProductID:    e.ProductID,
			VariantID:    e.Variant.ID,
			VariantIndex: e.VariantIndex,
			Quantity:     e.Quantity,
		}
	}
	return rows
}

// Items returns a copy of the cart lines.
func (s *Session) Items() []model.CartEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CartEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Item returns the line at index.
func (s *Session) Item(index int) (model.CartEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return model.CartEntry{}, false
	}
	return s.entries[index], true
}

// Totals derives totals from the current lines.
func (s *Session) Totals() model.Totals {
	return s.deps.Pricing.Totals(s.Items())
}

// IsEmpty reports whether the cart has no lines.
func (s *Session) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) == 0
}

// Version is the mutation counter.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// User returns the attached identity, if any.
func (s *Session) User() (gateway.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return gateway.Identity{}, false
	}
	return *s.user, true
}

// LastUsed is the time of the last mutation or attach.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Touch marks the session as in use.
func (s *Session) Touch() { s.touch() }

func (s *Session) touch() { s.lastUsed.Store(s.deps.Now().UnixNano()) }

// Subscribe returns a channel that receives a signal after every change.
// Signals carry no payload and coalesce; re-read Items and Totals on receipt.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
