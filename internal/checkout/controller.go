// Package checkout runs the checkout flow of one client session: shipping,
// review, the three payment paths, confirmation, failure and resumption.
package checkout

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/cart"
	"storefront/internal/durable"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/ready"
)

// Config is the store profile the flow needs.
type Config struct {
	StoreName string
	UPIID     string
	Currency  string
	// ProofMaxBytes caps payment-proof uploads.
	ProofMaxBytes int64
	// DraftTTL is how long saved checkout progress stays resumable.
	DraftTTL time.Duration
	// ReturnURL is where the payment gateway sends the shopper back.
	ReturnURL string
	ReadyWait time.Duration
}

// Deps are the collaborators shared by every controller.
type Deps struct {
	Store    gateway.Store
	Files    gateway.Files
	Payments gateway.Payments
	Durable  durable.Store
	Pricing  cart.Pricing
	Ready    *ready.Gate
	Config   Config
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller is the checkout state machine of one client session.
// Methods are safe for concurrent use; operations run one at a time.
type Controller struct {
	session string
	cart    *cart.Session
	deps    Deps

	mu            sync.Mutex
	state         State
	phase         Phase
	shipping      *model.Address
	billing       *model.Address
	termsAccepted bool
	promo         *model.PromoCode
	orderID       model.ID
	method        Method
	frozen        *model.Quote
	redirectURL   string
	message       string

	// lastUsed holds unix nanoseconds so Registry.Sweep never waits on mu.
	lastUsed atomic.Int64
}

// New creates an idle controller over the session's cart.
func New(session string, c *cart.Session, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ready == nil {
		deps.Ready = ready.Resolved("backend")
	}
	if deps.Config.ReadyWait <= 0 {
		deps.Config.ReadyWait = 2 * time.Second
	}
	if deps.Config.DraftTTL <= 0 {
		deps.Config.DraftTTL = 24 * time.Hour
	}
	if deps.Config.ProofMaxBytes <= 0 {
		deps.Config.ProofMaxBytes = 5 << 20
	}
	ctrl := &Controller{session: session, cart: c, deps: deps, state: StateIdle}
	ctrl.touch()
	return ctrl
}

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		State:                 c.state,
		Phase:                 c.phase,
		Shipping:              copyAddr(c.shipping),
		BillingSameAsShipping: c.billing == nil,
		Billing:               copyAddr(c.billing),
		TermsAccepted:         c.termsAccepted,
		OrderID:               c.orderID,
		Method:                c.method,
		RedirectURL:           c.redirectURL,
		Message:               c.message,
	}
	if c.frozen != nil {
		v.Quote = *c.frozen
	} else {
		v.Quote = c.deps.Pricing.Quote(c.cart.Totals(), c.promo)
	}
	if c.state == StatePaymentPending && (c.method == MethodUPIIntent || c.method == MethodUPIManual) {
		v.UPIID = c.deps.Config.UPIID
		v.PaymentURI = UPIPaymentURI(c.deps.Config.UPIID, c.deps.Config.StoreName, c.deps.Config.Currency,
			model.FormatAmount(v.Quote.GrandTotal), c.orderID)
	}
	return v
}

// LastUsed is the time of the last operation.
func (c *Controller) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

func (c *Controller) touch() { c.lastUsed.Store(c.deps.Now().UnixNano()) }

// begin locks the controller for one operation and checks it is allowed
// in the current state.
func (c *Controller) begin(op string, allowed ...State) error {
	c.mu.Lock()
	c.touch()
	for _, s := range allowed {
		if c.state == s {
			c.message = ""
			return nil
		}
	}
	err := model.NewStateError(op, string(c.state))
	c.mu.Unlock()
	return err
}

func (c *Controller) requirePhase(op string, allowed ...Phase) error {
	for _, p := range allowed {
		if c.phase == p {
			return nil
		}
	}
	return model.NewStateError(op, string(c.state)+"/"+string(c.phase))
}

func (c *Controller) backend(ctx context.Context) error {
	return c.deps.Ready.Await(ctx, c.deps.Config.ReadyWait)
}

// Begin opens checkout at the shipping step. The cart must not be empty and
// the shopper must be signed in. Promo and terms are reset; a saved draft
// younger than the draft TTL pre-fills the shipping address.
func (c *Controller) Begin(ctx context.Context) (View, error) {
	if err := c.begin("start checkout", StateIdle, StateShipping, StateReview, StateConfirmed); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if c.cart.IsEmpty() {
		return View{}, model.NewEmptyCartError()
	}
	if _, err := gateway.RequireUser(ctx, "checkout"); err != nil {
		return View{}, err
	}

	if c.state == StateConfirmed {
		c.resetLocked()
	}
	c.promo = nil
	c.termsAccepted = false
	if c.shipping == nil {
		if d, ok := c.loadDraft(ctx); ok {
			c.shipping = &d.Shipping
		}
	}
	c.state, c.phase = StateShipping, PhaseNone
	return c.viewLocked(), nil
}

// SubmitShipping completes the shipping step. A saved address takes its
// email from the form or the account; an ad hoc address must be complete and
// is saved to the account, as default when it is the first one.
func (c *Controller) SubmitShipping(ctx context.Context, in ShippingInput) (View, error) {
	if err := c.begin("submit shipping", StateShipping, StateReview); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	id, err := gateway.RequireUser(ctx, "checkout")
	if err != nil {
		return View{}, err
	}

	var addr model.Address
	switch {
	case in.AddressID != "":
		if err := c.backend(ctx); err != nil {
			return View{}, err
		}
		saved, err := c.deps.Store.ListAddresses(ctx)
		if err != nil {
			return View{}, err
		}
		found := false
		for _, a := range saved {
			if model.SameID(a.ID, in.AddressID) {
				addr, found = a, true
				break
			}
		}
		if !found {
			return View{}, model.NewValidationError("address", "please select an address")
		}
		addr.Email = strings.TrimSpace(in.Email)
		if addr.Email == "" {
			addr.Email = id.User.Email
		}
		if addr.Email == "" {
			return View{}, model.NewValidationError("email", "is required")
		}

	case in.Address != nil:
		addr = *in.Address
		if missing := addr.MissingFields(); len(missing) > 0 {
			return View{}, model.NewValidationError("shipping address", "missing "+strings.Join(missing, ", "))
		}
		if err := c.backend(ctx); err != nil {
			return View{}, err
		}
		c.saveAdhocAddress(ctx, addr)

	case c.shipping != nil:
		// Restored from a draft.
		addr = *c.shipping

	default:
		return View{}, model.NewValidationError("address", "please select an address")
	}

	addr.ID = ""
	addr.IsDefault = false
	c.shipping = &addr
	c.termsAccepted = false
	c.state, c.phase = StateReview, PhaseNone
	c.saveDraft(ctx, addr)
	return c.viewLocked(), nil
}

// saveAdhocAddress persists a new address as a side effect. Failures are
// logged and never block checkout.
func (c *Controller) saveAdhocAddress(ctx context.Context, addr model.Address) {
	saved, err := c.deps.Store.ListAddresses(ctx)
	if err != nil {
		c.deps.Logger.Warn("list addresses before auto-save failed", "session", c.session, "error", err)
	}
	addr.ID = ""
	addr.Email = ""
	addr.IsDefault = err == nil && len(saved) == 0
	if _, err := c.deps.Store.SaveAddress(ctx, addr); err != nil {
		c.deps.Logger.Warn("address auto-save failed", "session", c.session, "error", err)
	}
}

// SetBilling chooses the billing address. same uses the shipping address.
// Any change withdraws terms acceptance.
func (c *Controller) SetBilling(ctx context.Context, same bool, addr *model.Address) (View, error) {
	if err := c.begin("set billing", StateReview); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	c.termsAccepted = false
	if same {
		c.billing = nil
	} else {
		b := model.Address{}
		if addr != nil {
			b = *addr
		}
		if b.Email == "" && c.shipping != nil {
			b.Email = c.shipping.Email
		}
		c.billing = &b
	}
	return c.viewLocked(), nil
}

// AcceptTerms checks or unchecks the terms box. Checking it requires a
// complete billing address when billing differs from shipping.
func (c *Controller) AcceptTerms(ctx context.Context, accepted bool) (View, error) {
	if err := c.begin("accept terms", StateReview); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if accepted && c.billing != nil {
		if missing := c.billing.MissingBillingFields(); len(missing) > 0 {
			return View{}, model.NewValidationError("billing address", "please complete "+strings.Join(missing, ", "))
		}
	}
	c.termsAccepted = accepted
	return c.viewLocked(), nil
}

// ApplyPromo validates code with the backend and applies its discount.
// A rejected code clears any applied promo.
func (c *Controller) ApplyPromo(ctx context.Context, code string) (View, error) {
	if err := c.begin("apply promo code", StateReview); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	code = model.NormalizePromoCode(code)
	if code == "" {
		return View{}, model.NewValidationError("promo code", "please enter a promo code")
	}
	if err := c.backend(ctx); err != nil {
		return View{}, err
	}
	promo, err := c.deps.Store.ValidatePromoCode(ctx, code)
	if err != nil {
		c.promo = nil
		return View{}, err
	}
	c.promo = promo
	return c.viewLocked(), nil
}

// RemovePromo drops the applied promo code.
func (c *Controller) RemovePromo(ctx context.Context) (View, error) {
	if err := c.begin("remove promo code", StateReview); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()
	c.promo = nil
	return c.viewLocked(), nil
}

// Quote is the live cart quote with the applied promo.
func (c *Controller) Quote() model.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deps.Pricing.Quote(c.cart.Totals(), c.promo)
}

// Close dismisses checkout. A pending order stays durable so Resume can
// pick it up again.
func (c *Controller) Close(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	c.resetLocked()
	return c.viewLocked()
}

// Abandon discards the checkout when another user takes over the client
// session. ctx carries the previous user: their unpaid pending order is
// withdrawn and every durable checkout key cleared, shipping included.
func (c *Controller) Abandon(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	c.resetLocked()
	c.shipping = nil
	if err := c.releaseStoredOrder(ctx); err != nil {
		c.deps.Logger.Warn("withdraw pending order of previous user failed", "session", c.session, "error", err)
	}
	c.deleteKeys(ctx, durable.CheckoutKeys(c.session)...)
	return c.viewLocked()
}

func (c *Controller) resetLocked() {
	c.state, c.phase = StateIdle, PhaseNone
	c.billing = nil
	c.termsAccepted = false
	c.promo = nil
	c.orderID = ""
	c.method = ""
	c.frozen = nil
	c.redirectURL = ""
	c.message = ""
}

func (c *Controller) loadDraft(ctx context.Context) (Draft, bool) {
	var d Draft
	found, err := durable.GetJSON(ctx, c.deps.Durable, durable.CheckoutDraftKey(c.session), &d)
	if err != nil {
		c.deps.Logger.Warn("load checkout draft failed", "session", c.session, "error", err)
		return Draft{}, false
	}
	if !found {
		return Draft{}, false
	}
	age := c.deps.Now().Sub(time.UnixMilli(d.Timestamp))
	if age > c.deps.Config.DraftTTL || d.Step != 2 || d.Shipping.Name == "" {
		c.deleteKeys(ctx, durable.CheckoutDraftKey(c.session))
		return Draft{}, false
	}
	return d, true
}

func (c *Controller) saveDraft(ctx context.Context, shipping model.Address) {
	d := Draft{Step: 2, Shipping: shipping, Timestamp: c.deps.Now().UnixMilli()}
	if err := durable.SetJSON(ctx, c.deps.Durable, durable.CheckoutDraftKey(c.session), d, c.deps.Config.DraftTTL); err != nil {
		c.deps.Logger.Warn("save checkout draft failed", "session", c.session, "error", err)
	}
}

func (c *Controller) deleteKeys(ctx context.Context, keys ...string) {
	if err := c.deps.Durable.Delete(ctx, keys...); err != nil {
		c.deps.Logger.Warn("clear checkout keys failed", "session", c.session, "error", err)
	}
}

func copyAddr(a *model.Address) *model.Address {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func (c *Controller) logEvent(ctx context.Context, stage, status string, details map[string]any) {
	ev := model.PaymentEvent{OrderID: c.orderID, Stage: stage, Status: status, Details: details}
	if err := c.deps.Store.LogPaymentEvent(ctx, ev); err != nil {
		c.deps.Logger.Warn("payment event log failed",
			"session", c.session,
			"order_id", c.orderID,
			"stage", stage,
			"error", err,
		)
	}
}
