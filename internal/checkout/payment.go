package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/durable"
	"storefront/internal/gateway"
	"storefront/internal/model"
)

var decimalHundred = decimal.NewFromInt(100)

// Proof is an uploaded payment screenshot.
type Proof struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ProceedToPayment leaves review once terms are accepted. The order is
// created now, in pending_payment status, and its id stored durably so the
// flow survives a reload or an app switch.
func (c *Controller) ProceedToPayment(ctx context.Context) (View, error) {
	if err := c.begin("proceed to payment", StateReview); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if !c.termsAccepted {
		return View{}, model.NewValidationError("terms", "please accept the terms and conditions")
	}
	if err := c.ensureOrder(ctx); err != nil {
		return View{}, err
	}
	c.state, c.phase = StatePaymentPending, PhaseSelecting
	return c.viewLocked(), nil
}

// ensureOrder creates the pending order once. Later payment attempts reuse it.
func (c *Controller) ensureOrder(ctx context.Context) error {
	if c.orderID != "" {
		return nil
	}
	if c.cart.IsEmpty() {
		return model.NewEmptyCartError()
	}
	if _, err := gateway.RequireUser(ctx, "place an order"); err != nil {
		return err
	}
	if c.shipping == nil {
		return model.NewValidationError("address", "please select an address")
	}
	if err := c.backend(ctx); err != nil {
		return err
	}
	if err := c.releaseStoredOrder(ctx); err != nil {
		return err
	}

	quote := c.deps.Pricing.Quote(c.cart.Totals(), c.promo)
	draft := c.orderDraft(quote, model.OrderPendingPayment, model.MethodOnline)
	order, err := c.deps.Store.CreateOrder(ctx, draft)
	if err != nil {
		return err
	}

	c.orderID = order.ID
	c.frozen = &quote
	if err := durable.SetJSON(ctx, c.deps.Durable, durable.PendingOrderKey(c.session), order.ID, 0); err != nil {
		c.deps.Logger.Warn("store pending order id failed", "session", c.session, "order_id", order.ID, "error", err)
	}
	c.logEvent(ctx, model.StageInitiated, "PENDING", map[string]any{
		"amount": model.FormatAmount(quote.GrandTotal),
	})
	c.deps.Logger.Info("pending order created", "session", c.session, "order_id", order.ID, "total", model.FormatAmount(quote.GrandTotal))
	return nil
}

// releaseStoredOrder deletes the pending order of a dismissed checkout so
// the session never holds two. A gateway order whose payment went through
// or is still processing is kept and must be resumed instead.
func (c *Controller) releaseStoredOrder(ctx context.Context) error {
	var orderID model.ID
	found, err := durable.GetJSON(ctx, c.deps.Durable, durable.PendingOrderKey(c.session), &orderID)
	if err != nil {
		return err
	}
	if !found || orderID == "" || orderID == c.orderID {
		return nil
	}
	var method Method
	if _, err := durable.GetJSON(ctx, c.deps.Durable, durable.PaymentMethodKey(c.session), &method); err != nil {
		return err
	}
	if method == MethodGateway {
		status, err := c.deps.Payments.VerifyPayment(ctx, orderID)
		if err != nil {
			return err
		}
		if status == model.PaymentCompleted || status == model.PaymentPending {
			return model.NewStateError("place a new order", "awaiting payment for order "+orderID.String())
		}
	}
	if err := c.deps.Store.DeleteOrder(ctx, orderID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	c.deleteKeys(ctx, durable.PendingOrderKey(c.session), durable.PaymentMethodKey(c.session))
	c.deps.Logger.Info("stale pending order deleted", "session", c.session, "order_id", orderID)
	return nil
}

func (c *Controller) orderDraft(q model.Quote, status, method string) *model.OrderDraft {
	items := c.cart.Items()
	lines := make([]model.OrderItem, len(items))
	for i, e := range items {
		lines[i] = model.OrderItem{
			ProductID: e.ProductID,
			Name:      e.Name,
			Variant:   e.Variant.Label,
			Price:     e.Variant.Price,
			Quantity:  e.Quantity,
		}
	}
	draft := &model.OrderDraft{
		Items:           lines,
		Subtotal:        q.Subtotal,
		Tax:             q.Tax,
		Shipping:        q.Shipping,
		Discount:        q.Discount,
		Total:           q.GrandTotal,
		PromoCode:       q.PromoCode,
		ShippingAddress: *c.shipping,
		BillingAddress:  copyAddr(c.billing),
		PaymentMethod:   method,
		Status:          status,
		PaymentStatus:   model.PaymentPending,
	}
	return draft
}

func (c *Controller) setMethod(ctx context.Context, m Method) {
	c.method = m
	if err := durable.SetJSON(ctx, c.deps.Durable, durable.PaymentMethodKey(c.session), m, 0); err != nil {
		c.deps.Logger.Warn("store payment method failed", "session", c.session, "error", err)
	}
}

func (c *Controller) requireUPI() error {
	if c.deps.Config.UPIID == "" {
		return model.NewValidationError("payment method", "UPI payment is not configured")
	}
	return nil
}

// StartIntentPayment opens the shopper's UPI app through a upi://pay link.
// Only offered on mobile devices.
func (c *Controller) StartIntentPayment(ctx context.Context, mobile bool) (View, error) {
	if err := c.begin("start UPI app payment", StatePaymentPending); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if err := c.requirePhase("start UPI app payment", PhaseSelecting, PhaseAwaitingConfirmation, PhaseAwaitingProof); err != nil {
		return View{}, err
	}
	if !mobile {
		return View{}, model.NewValidationError("payment method", "UPI app payment is only available on mobile devices")
	}
	if err := c.requireUPI(); err != nil {
		return View{}, err
	}
	if err := c.ensureOrder(ctx); err != nil {
		return View{}, err
	}
	c.setMethod(ctx, MethodUPIIntent)
	c.phase = PhaseAwaitingConfirmation
	return c.viewLocked(), nil
}

// ConfirmIntentPayment is called when the shopper returns from the UPI app.
// A completed payment confirms the order; a pending one waits; anything
// else fails the checkout and keeps the order for a retry.
func (c *Controller) ConfirmIntentPayment(ctx context.Context) (View, error) {
	if err := c.begin("confirm UPI app payment", StatePaymentPending); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if err := c.requirePhase("confirm UPI app payment", PhaseAwaitingConfirmation); err != nil {
		return View{}, err
	}
	if err := c.backend(ctx); err != nil {
		return View{}, err
	}
	status, err := c.deps.Payments.VerifyPayment(ctx, c.orderID)
	if err != nil {
		return View{}, err
	}
	c.logEvent(ctx, model.StageVerified, verifiedStatus(status), map[string]any{"status": status})

	switch status {
	case model.PaymentCompleted:
		c.enterConfirmed(ctx)
	case model.PaymentPending:
		c.message = "Payment not received yet. You can upload a payment screenshot instead."
	default:
		c.fail("Payment was not completed.")
	}
	return c.viewLocked(), nil
}

// StartManualPayment shows the store's UPI id and QR payload; the shopper
// pays outside the app and uploads a screenshot.
func (c *Controller) StartManualPayment(ctx context.Context) (View, error) {
	if err := c.begin("start manual UPI payment", StatePaymentPending); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if err := c.requirePhase("start manual UPI payment", PhaseSelecting, PhaseAwaitingConfirmation, PhaseAwaitingProof); err != nil {
		return View{}, err
	}
	if err := c.requireUPI(); err != nil {
		return View{}, err
	}
	if err := c.ensureOrder(ctx); err != nil {
		return View{}, err
	}
	c.setMethod(ctx, MethodUPIManual)
	c.phase = PhaseAwaitingProof
	return c.viewLocked(), nil
}

// UploadProof attaches a payment screenshot to the order and confirms it
// without automated verification; the order waits for human review.
// Type and size are checked before any network call.
func (c *Controller) UploadProof(ctx context.Context, p Proof) (View, error) {
	if err := c.begin("upload payment proof", StatePaymentPending); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if err := c.requirePhase("upload payment proof", PhaseAwaitingProof, PhaseAwaitingConfirmation); err != nil {
		return View{}, err
	}
	if p.Body == nil || p.Size == 0 {
		return View{}, model.NewValidationError("file", "please upload the payment screenshot")
	}
	if !strings.HasPrefix(p.ContentType, "image/") {
		return View{}, model.NewValidationError("file", "only image files are allowed")
	}
	if p.Size > c.deps.Config.ProofMaxBytes {
		return View{}, model.NewValidationError("file", fmt.Sprintf("must be at most %d MB", c.deps.Config.ProofMaxBytes>>20))
	}
	if err := c.backend(ctx); err != nil {
		return View{}, err
	}

	key := fmt.Sprintf("%s_proof_%d.%s", c.orderID, c.deps.Now().UnixMilli(), proofExt(p))
	url, err := c.deps.Files.Upload(ctx, key, p.ContentType, p.Body, p.Size)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return View{}, err
		}
		return View{}, model.NewUpstreamError("storage", err)
	}
	if err := c.deps.Store.AttachPaymentProof(ctx, c.orderID, url); err != nil {
		return View{}, err
	}
	c.logEvent(ctx, model.StageProofUploaded, "PENDING_REVIEW", map[string]any{"url": url})
	c.enterConfirmed(ctx)
	return c.viewLocked(), nil
}

func proofExt(p Proof) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p.Filename)), "."); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(p.ContentType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return strings.TrimPrefix(p.ContentType, "image/")
}

// StartGatewayPayment asks the payment function for a hosted payment page.
// On success the client is sent to RedirectURL; on any failure the checkout
// moves to FAILED and the order is kept for a retry.
func (c *Controller) StartGatewayPayment(ctx context.Context, returnURL string) (View, error) {
	if err := c.begin("start gateway payment", StatePaymentPending); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if err := c.requirePhase("start gateway payment", PhaseSelecting, PhaseAwaitingConfirmation, PhaseAwaitingProof); err != nil {
		return View{}, err
	}
	if err := c.ensureOrder(ctx); err != nil {
		return View{}, err
	}
	c.setMethod(ctx, MethodGateway)

	if returnURL == "" {
		returnURL = c.deps.Config.ReturnURL
	}
	req := model.PaymentRequest{
		Amount:      c.frozen.GrandTotal,
		OrderID:     c.orderID,
		Phone:       c.shipping.Phone,
		RedirectURL: returnURL,
	}
	if err := c.backend(ctx); err != nil {
		return View{}, err
	}
	redirect, err := c.deps.Payments.InitiatePayment(ctx, req)
	if err != nil {
		c.deps.Logger.Warn("gateway payment initiation failed", "session", c.session, "order_id", c.orderID, "error", err)
		c.fail("Payment was not completed.")
		return c.viewLocked(), nil
	}
	c.logEvent(ctx, model.StageRedirected, "PENDING", map[string]any{"url": redirect})
	c.redirectURL = redirect
	c.phase = PhaseRedirected
	return c.viewLocked(), nil
}

// ConfirmWithoutPayment places the order for payment on confirmation:
// status pending, promo and billing included, straight to CONFIRMED.
// A pending_payment order left from this checkout is withdrawn first.
func (c *Controller) ConfirmWithoutPayment(ctx context.Context) (View, error) {
	if err := c.begin("confirm order", StateReview, StatePaymentPending); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if c.state == StateReview && !c.termsAccepted {
		return View{}, model.NewValidationError("terms", "please accept the terms and conditions")
	}
	if c.state == StatePaymentPending {
		if err := c.requirePhase("confirm order", PhaseSelecting); err != nil {
			return View{}, err
		}
	}
	if c.cart.IsEmpty() {
		return View{}, model.NewEmptyCartError()
	}
	if _, err := gateway.RequireUser(ctx, "place an order"); err != nil {
		return View{}, err
	}
	if err := c.backend(ctx); err != nil {
		return View{}, err
	}
	if err := c.releaseStoredOrder(ctx); err != nil {
		return View{}, err
	}

	quote := c.deps.Pricing.Quote(c.cart.Totals(), c.promo)
	if c.frozen != nil {
		quote = *c.frozen
	}
	order, err := c.deps.Store.CreateOrder(ctx, c.orderDraft(quote, model.OrderPending, model.MethodPayOnReview))
	if err != nil {
		return View{}, err
	}
	if c.orderID != "" {
		if err := c.deps.Store.DeleteOrder(ctx, c.orderID); err != nil {
			c.deps.Logger.Warn("withdraw pending order failed", "session", c.session, "order_id", c.orderID, "error", err)
		}
	}
	c.orderID = order.ID
	c.frozen = &quote
	c.method = ""
	c.enterConfirmed(ctx)
	return c.viewLocked(), nil
}

// Resume re-enters an interrupted checkout after a reload or an app switch.
// With a stored pending order: manual proof reopens the upload step, the UPI
// app path awaits confirmation, and the gateway path is verified. Without
// one, a fresh draft restores the review step.
func (c *Controller) Resume(ctx context.Context) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.state == StateConfirmed {
		return c.viewLocked(), nil
	}
	id, err := gateway.RequireUser(ctx, "resume checkout")
	if err != nil {
		return View{}, err
	}

	var orderID model.ID
	found, err := durable.GetJSON(ctx, c.deps.Durable, durable.PendingOrderKey(c.session), &orderID)
	if err != nil {
		return View{}, err
	}
	if found && orderID != "" {
		return c.resumePending(ctx, id, orderID)
	}

	if c.cart.IsEmpty() {
		c.deleteKeys(ctx, durable.CheckoutDraftKey(c.session))
		return c.viewLocked(), nil
	}
	if c.state != StateIdle && c.state != StateShipping {
		return c.viewLocked(), nil
	}
	if d, ok := c.loadDraft(ctx); ok {
		c.shipping = &d.Shipping
		c.billing = nil
		c.termsAccepted = false
		c.state, c.phase = StateReview, PhaseNone
	}
	return c.viewLocked(), nil
}

func (c *Controller) resumePending(ctx context.Context, id gateway.Identity, orderID model.ID) (View, error) {
	if err := c.backend(ctx); err != nil {
		return View{}, err
	}
	if c.orderID != orderID || c.frozen == nil {
		order, err := c.deps.Store.GetOrder(ctx, orderID)
		if errors.Is(err, model.ErrNotFound) {
			c.deps.Logger.Info("stored pending order is gone", "session", c.session, "order_id", orderID, "user", id.User.ID)
			c.deleteKeys(ctx, durable.PendingOrderKey(c.session), durable.PaymentMethodKey(c.session))
			c.resetLocked()
			return c.viewLocked(), nil
		}
		if err != nil {
			return View{}, err
		}
		c.adoptOrder(order)
	}

	var method Method
	if _, err := durable.GetJSON(ctx, c.deps.Durable, durable.PaymentMethodKey(c.session), &method); err != nil {
		return View{}, err
	}
	c.method = method
	c.state = StatePaymentPending

	switch method {
	case MethodUPIManual:
		c.phase = PhaseAwaitingProof
	case MethodUPIIntent:
		c.phase = PhaseAwaitingConfirmation
	case MethodGateway:
		status, err := c.deps.Payments.VerifyPayment(ctx, orderID)
		if err != nil {
			return View{}, err
		}
		c.logEvent(ctx, model.StageVerified, verifiedStatus(status), map[string]any{"status": status})
		switch status {
		case model.PaymentCompleted:
			c.enterConfirmed(ctx)
		case model.PaymentPending:
			c.phase = PhaseProcessing
			c.message = "Payment is still processing. Please check back later."
		default:
			c.deleteKeys(ctx, durable.PendingOrderKey(c.session), durable.PaymentMethodKey(c.session))
			c.fail("Payment verification failed or was cancelled.")
			c.orderID = ""
			c.frozen = nil
		}
	default:
		c.phase = PhaseSelecting
	}
	return c.viewLocked(), nil
}

// adoptOrder rebuilds in-memory state from a stored order, for a resume on
// a fresh controller.
func (c *Controller) adoptOrder(o *model.Order) {
	c.orderID = o.ID
	ship := o.ShippingAddress
	c.shipping = &ship
	c.billing = nil
	if o.BillingAddress != (model.Address{}) && o.BillingAddress != o.ShippingAddress {
		b := o.BillingAddress
		c.billing = &b
	}
	c.termsAccepted = true
	q := model.Quote{
		Totals: model.Totals{
			Subtotal: o.Subtotal,
			Tax:      o.Tax,
			Shipping: o.Shipping,
			Total:    o.Subtotal.Add(o.Tax).Add(o.Shipping),
		},
		PromoCode:  o.PromoCode,
		Discount:   o.Discount,
		GrandTotal: o.Total,
	}
	for _, it := range o.Items {
		q.TotalQty += it.Quantity
	}
	if !o.Subtotal.IsZero() {
		q.DiscountPercent = model.Round2(o.Discount.Mul(decimalHundred).Div(o.Subtotal))
	}
	c.frozen = &q
}

// Retry returns from FAILED to payment selection, keeping the pending order.
func (c *Controller) Retry(ctx context.Context) (View, error) {
	if err := c.begin("retry payment", StateFailed); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()
	c.state, c.phase = StatePaymentPending, PhaseSelecting
	c.redirectURL = ""
	return c.viewLocked(), nil
}

// Cancel deletes the pending order and clears the durable checkout state.
func (c *Controller) Cancel(ctx context.Context) (View, error) {
	if err := c.begin("cancel order", StatePaymentPending, StateFailed); err != nil {
		return View{}, err
	}
	defer c.mu.Unlock()

	if c.orderID != "" {
		if err := c.backend(ctx); err != nil {
			return View{}, err
		}
		if err := c.deps.Store.DeleteOrder(ctx, c.orderID); err != nil && !errors.Is(err, model.ErrNotFound) {
			return View{}, err
		}
		c.deps.Logger.Info("pending order cancelled", "session", c.session, "order_id", c.orderID)
	}
	c.deleteKeys(ctx, durable.CheckoutKeys(c.session)...)
	c.resetLocked()
	c.shipping = nil
	c.message = "Order cancelled."
	return c.viewLocked(), nil
}

// enterConfirmed finishes checkout: the cart is emptied and every durable
// checkout key purged so a reload does not offer payment again.
func (c *Controller) enterConfirmed(ctx context.Context) {
	c.state, c.phase = StateConfirmed, PhaseNone
	c.redirectURL = ""
	c.promo = nil
	c.termsAccepted = false
	c.cart.Clear(ctx)
	c.deleteKeys(ctx, durable.CheckoutKeys(c.session)...)
	c.shipping = nil
	c.deps.Logger.Info("order confirmed", "session", c.session, "order_id", c.orderID, "method", string(c.method))
}

func (c *Controller) fail(msg string) {
	c.state, c.phase = StateFailed, PhaseNone
	c.redirectURL = ""
	c.message = msg
}

func verifiedStatus(status string) string {
	if status == model.PaymentCompleted {
		return "SUCCESS"
	}
	if status == model.PaymentPending {
		return "PENDING"
	}
	return "FAILED"
}
