package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/cart"
	"storefront/internal/model"
)

// cartResponse is the cart as clients render it.
type cartResponse struct {
	Items   []model.CartEntry `json:"items"`
	Totals  model.Totals      `json:"totals"`
	Version uint64            `json:"version"`
	// Synced is true when the cart belongs to a signed-in user.
	Synced bool `json:"synced"`
}

func cartView(s *cart.Session) cartResponse {
	items := s.Items()
	if items == nil {
		items = []model.CartEntry{}
	}
	_, synced := s.User()
	return cartResponse{Items: items, Totals: s.Totals(), Version: s.Version(), Synced: synced}
}

// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(s))
}

// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	s.Clear(r.Context())
	h.writeJSON(w, http.StatusOK, cartView(s))
}

// AddItemRequest adds one variant of a product.
type AddItemRequest struct {
	ProductID model.ID `json:"product_id"`
	VariantID string   `json:"variant_id,omitempty"`
	// VariantIndex is used when VariantID is empty.
	VariantIndex int `json:"variant_index,omitempty"`
	Quantity     int `json:"quantity"`
}

type addItemResponse struct {
	Added cart.AddResult `json:"added"`
	Cart  cartResponse   `json:"cart"`
}

// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	product, variant, err := h.resolveVariant(ctx, req.ProductID, req.VariantID, req.VariantIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}

	added, err := s.AddItem(ctx, product, variant, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "added to cart",
		slog.String("session", s.ID()),
		slog.String("product_id", product.ID.String()),
		slog.String("variant", variant.Label),
		slog.Int("quantity", added.Quantity),
	)
	h.writeJSON(w, http.StatusOK, addItemResponse{Added: added, Cart: cartView(s)})
}

// resolveVariant looks the product up in the catalog and picks the variant
// by id, else by index. Unlike stored cart rows, client input never falls
// back to another variant.
func (h *Handler) resolveVariant(ctx context.Context, productID model.ID, variantID string, index int) (model.Product, model.Variant, error) {
	if productID == "" {
		return model.Product{}, model.Variant{}, model.NewValidationError("product_id", "required")
	}
	if _, err := h.catalog.LoadProducts(ctx); err != nil {
		return model.Product{}, model.Variant{}, err
	}
	product, ok := h.catalog.GetProductByID(productID)
	if !ok {
		return model.Product{}, model.Variant{}, model.NewNotFoundError("product")
	}
	if variantID != "" {
		variant, _, ok := product.VariantByID(variantID)
		if !ok {
			return model.Product{}, model.Variant{}, model.NewValidationError("variant", "not offered for "+product.Name)
		}
		return product, variant, nil
	}
	if len(product.Variants) == 0 {
		return model.Product{}, model.Variant{}, model.NewValidationError("variant", product.Name+" has no variants")
	}
	if index < 0 || index >= len(product.Variants) {
		return model.Product{}, model.Variant{}, model.NewValidationError("variant",
			fmt.Sprintf("index %d out of range for %s", index, product.Name))
	}
	return product, product.Variants[index], nil
}

// UpdateItemRequest changes a line's quantity by Delta.
type UpdateItemRequest struct {
	Delta int `json:"delta"`
}

// PATCH /cart/items/{index}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req UpdateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	s.UpdateQuantity(r.Context(), index, req.Delta)
	h.writeJSON(w, http.StatusOK, cartView(s))
}

// DELETE /cart/items/{index}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	s.RemoveItem(r.Context(), index)
	h.writeJSON(w, http.StatusOK, cartView(s))
}

// SelectionRequest adds several variants of one product at once.
type SelectionRequest struct {
	ProductID model.ID        `json:"product_id"`
	Lines     []SelectionLine `json:"lines"`
}

// SelectionLine is one variant and quantity of a selection.
type SelectionLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type selectionResponse struct {
	Added []cart.AddResult `json:"added"`
	Cart  cartResponse     `json:"cart"`
}

// POST /cart/selections
func (h *Handler) handleCommitSelection(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req SelectionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.catalog.LoadProducts(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	product, ok := h.catalog.GetProductByID(req.ProductID)
	if !ok {
		h.writeError(w, model.NewNotFoundError("product"))
		return
	}

	sel := cart.NewSelection(product)
	for _, l := range req.Lines {
		if err := sel.Set(l.VariantID, l.Quantity); err != nil {
			h.writeError(w, err)
			return
		}
	}
	added, err := s.Commit(r.Context(), sel)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, selectionResponse{Added: added, Cart: cartView(s)})
}

// cartKeepAlive spaces comment lines that keep idle streams open.
const cartKeepAlive = 25 * time.Second

// handleCartEvents streams the cart as server-sent events: one "cart"
// event now and one after every change.
// GET /cart/events
func (h *Handler) handleCartEvents(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, fmt.Errorf("response writer does not support streaming"))
		return
	}

	changes, cancel := s.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		data, err := json.Marshal(cartView(s))
		if err != nil {
			h.logger.Error("encoding cart event", slog.String("error", err.Error()))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send() {
		return
	}

	keepAlive := time.NewTicker(cartKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-changes:
			if !open || !send() {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
