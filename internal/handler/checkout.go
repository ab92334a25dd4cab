package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/checkout"
	"storefront/internal/model"
)

func (h *Handler) registerCheckoutRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /checkout", h.handleGetCheckout)
	mux.HandleFunc("GET /checkout/quote", h.handleQuote)
	mux.HandleFunc("POST /checkout/begin", h.checkoutOp("begin checkout", (*checkout.Controller).Begin))
	mux.HandleFunc("POST /checkout/shipping", h.handleShipping)
	mux.HandleFunc("POST /checkout/billing", h.handleBilling)
	mux.HandleFunc("POST /checkout/terms", h.handleTerms)
	mux.HandleFunc("POST /checkout/promo", h.handleApplyPromo)
	mux.HandleFunc("DELETE /checkout/promo", h.checkoutOp("remove promo code", (*checkout.Controller).RemovePromo))
	mux.HandleFunc("POST /checkout/proceed", h.checkoutOp("proceed to payment", (*checkout.Controller).ProceedToPayment))
	mux.HandleFunc("POST /checkout/payment/intent", h.handleIntentPayment)
	mux.HandleFunc("POST /checkout/payment/intent/confirm", h.checkoutOp("confirm payment", (*checkout.Controller).ConfirmIntentPayment))
	mux.HandleFunc("POST /checkout/payment/manual", h.checkoutOp("start manual payment", (*checkout.Controller).StartManualPayment))
	mux.HandleFunc("POST /checkout/payment/proof", h.handleUploadProof)
	mux.HandleFunc("POST /checkout/payment/gateway", h.handleGatewayPayment)
	mux.HandleFunc("POST /checkout/confirm", h.checkoutOp("confirm order", (*checkout.Controller).ConfirmWithoutPayment))
	mux.HandleFunc("POST /checkout/resume", h.checkoutOp("resume checkout", (*checkout.Controller).Resume))
	mux.HandleFunc("POST /checkout/retry", h.checkoutOp("retry payment", (*checkout.Controller).Retry))
	mux.HandleFunc("POST /checkout/cancel", h.checkoutOp("cancel checkout", (*checkout.Controller).Cancel))
	mux.HandleFunc("POST /checkout/close", h.handleCloseCheckout)
}

// controller returns the checkout of the request's client session.
func (h *Handler) controller(r *http.Request) (*checkout.Controller, error) {
	c, err := client(r)
	if err != nil {
		return nil, err
	}
	return h.checkouts.Get(c.Session), nil
}

// checkoutOp adapts a controller operation without a request body.
func (h *Handler) checkoutOp(name string, op func(*checkout.Controller, context.Context) (checkout.View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.runCheckout(w, r, name, func(c *checkout.Controller) (checkout.View, error) {
			return op(c, r.Context())
		})
	}
}

// runCheckout invokes op on the session's controller and writes the view.
func (h *Handler) runCheckout(w http.ResponseWriter, r *http.Request, name string, op func(*checkout.Controller) (checkout.View, error)) {
	ctx := r.Context()
	c, err := h.controller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := op(c)
	if err != nil {
		h.logCheckoutError(ctx, name, err)
		h.writeError(w, err)
		return
	}
	h.logger.DebugContext(ctx, name,
		slog.String("state", string(view.State)),
		slog.String("phase", string(view.Phase)),
		slog.String("order_id", view.OrderID.String()),
	)
	h.writeJSON(w, http.StatusOK, view)
}

// logCheckoutError logs upstream and internal failures; user errors are
// only returned.
func (h *Handler) logCheckoutError(ctx context.Context, op string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return
	}
	h.logger.WarnContext(ctx, "checkout operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

// GET /checkout
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	h.runCheckout(w, r, "view checkout", func(c *checkout.Controller) (checkout.View, error) {
		return c.View(), nil
	})
}

// GET /checkout/quote
func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.Quote())
}

// POST /checkout/shipping
func (h *Handler) handleShipping(w http.ResponseWriter, r *http.Request) {
	var in checkout.ShippingInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	h.runCheckout(w, r, "submit shipping", func(c *checkout.Controller) (checkout.View, error) {
		return c.SubmitShipping(r.Context(), in)
	})
}

// BillingRequest chooses between the shipping address and a separate one.
type BillingRequest struct {
	SameAsShipping bool           `json:"same_as_shipping"`
	Address        *model.Address `json:"address,omitempty"`
}

// POST /checkout/billing
func (h *Handler) handleBilling(w http.ResponseWriter, r *http.Request) {
	var req BillingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.runCheckout(w, r, "set billing", func(c *checkout.Controller) (checkout.View, error) {
		return c.SetBilling(r.Context(), req.SameAsShipping, req.Address)
	})
}

// TermsRequest records the terms checkbox.
type TermsRequest struct {
	Accepted bool `json:"accepted"`
}

// POST /checkout/terms
func (h *Handler) handleTerms(w http.ResponseWriter, r *http.Request) {
	var req TermsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.runCheckout(w, r, "accept terms", func(c *checkout.Controller) (checkout.View, error) {
		return c.AcceptTerms(r.Context(), req.Accepted)
	})
}

// PromoRequest carries a promo code as typed.
type PromoRequest struct {
	Code string `json:"code"`
}

// POST /checkout/promo
func (h *Handler) handleApplyPromo(w http.ResponseWriter, r *http.Request) {
	var req PromoRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.runCheckout(w, r, "apply promo code", func(c *checkout.Controller) (checkout.View, error) {
		return c.ApplyPromo(r.Context(), req.Code)
	})
}

// handleIntentPayment opens the UPI app on mobile clients; desktop
// clients get the QR payload instead.
// POST /checkout/payment/intent
func (h *Handler) handleIntentPayment(w http.ResponseWriter, r *http.Request) {
	cl, err := client(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.runCheckout(w, r, "start intent payment", func(c *checkout.Controller) (checkout.View, error) {
		return c.StartIntentPayment(r.Context(), cl.Mobile)
	})
}

// formOverhead is the multipart framing allowed on top of the proof itself.
const formOverhead = 1 << 20

// POST /checkout/payment/proof (multipart, field "proof")
func (h *Handler) handleUploadProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.proofMaxBytes+formOverhead)
	file, header, err := r.FormFile("proof")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, model.NewValidationError("file", "payment screenshot is too large"))
			return
		}
		h.writeError(w, model.NewValidationError("file", "please upload the payment screenshot"))
		return
	}
	defer file.Close()

	proof := checkout.Proof{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	h.runCheckout(w, r, "upload payment proof", func(c *checkout.Controller) (checkout.View, error) {
		return c.UploadProof(r.Context(), proof)
	})
}

// GatewayRequest optionally overrides the shopper's return URL.
type GatewayRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

// POST /checkout/payment/gateway
func (h *Handler) handleGatewayPayment(w http.ResponseWriter, r *http.Request) {
	var req GatewayRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.runCheckout(w, r, "start gateway payment", func(c *checkout.Controller) (checkout.View, error) {
		return c.StartGatewayPayment(r.Context(), req.ReturnURL)
	})
}

// POST /checkout/close
func (h *Handler) handleCloseCheckout(w http.ResponseWriter, r *http.Request) {
	h.runCheckout(w, r, "close checkout", func(c *checkout.Controller) (checkout.View, error) {
		return c.Close(r.Context()), nil
	})
}
