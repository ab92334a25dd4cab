// Package handler provides HTTP handlers for the storefront API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/dashboard"
	"storefront/internal/gateway"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/ready"
)

// Deps are the collaborators behind the routes.
type Deps struct {
	Backend   gateway.Backend
	Catalog   *catalog.Cache
	Carts     *cart.Registry
	Checkouts *checkout.Registry
	Dashboard *dashboard.Service
	Ready     *ready.Gate
	// ProofMaxBytes bounds payment-proof request bodies.
	ProofMaxBytes int64
	Logger        *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	backend       gateway.Backend
	catalog       *catalog.Cache
	carts         *cart.Registry
	checkouts     *checkout.Registry
	dashboard     *dashboard.Service
	ready         *ready.Gate
	proofMaxBytes int64
	logger        *slog.Logger
}

// New creates a new Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Ready == nil {
		d.Ready = ready.Resolved("backend")
	}
	if d.ProofMaxBytes <= 0 {
		d.ProofMaxBytes = 5 << 20
	}
	return &Handler{
		backend:       d.Backend,
		catalog:       d.Catalog,
		carts:         d.Carts,
		checkouts:     d.Checkouts,
		dashboard:     d.Dashboard,
		ready:         d.Ready,
		proofMaxBytes: d.ProofMaxBytes,
		logger:        d.Logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Catalog
	mux.HandleFunc("GET /products", h.handleListProducts)
	mux.HandleFunc("GET /products/{id}", h.handleGetProduct)
	mux.HandleFunc("GET /categories", h.handleCategories)

	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PATCH /cart/items/{index}", h.handleUpdateItem)
	mux.HandleFunc("DELETE /cart/items/{index}", h.handleRemoveItem)
	mux.HandleFunc("POST /cart/selections", h.handleCommitSelection)
	mux.HandleFunc("GET /cart/events", h.handleCartEvents)

	// Auth and account
	mux.HandleFunc("POST /auth/signup", h.handleSignUp)
	mux.HandleFunc("POST /auth/signin", h.handleSignIn)
	mux.HandleFunc("POST /auth/signout", h.handleSignOut)
	mux.HandleFunc("GET /auth/me", h.handleMe)
	mux.HandleFunc("PUT /auth/password", h.handleChangePassword)
	mux.HandleFunc("GET /account/profile", h.handleGetProfile)
	mux.HandleFunc("PUT /account/profile", h.handleUpdateProfile)
	mux.HandleFunc("GET /account/addresses", h.handleListAddresses)
	mux.HandleFunc("POST /account/addresses", h.handleCreateAddress)
	mux.HandleFunc("PUT /account/addresses/{id}", h.handleUpdateAddress)
	mux.HandleFunc("DELETE /account/addresses/{id}", h.handleDeleteAddress)
	mux.HandleFunc("GET /account/orders", h.handleListOrders)
	mux.HandleFunc("GET /account/orders/{id}", h.handleGetOrder)

	h.registerCheckoutRoutes(mux)

	// Admin
	mux.HandleFunc("GET /admin/dashboard", h.handleDashboard)
	mux.HandleFunc("GET /admin/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /admin/settings", h.handleSaveSettings)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// ObserveIdentity attaches the client's cart to a resolved user. Plug it
// into middleware.Auth.
func (h *Handler) ObserveIdentity(ctx context.Context, client middleware.Client, id gateway.Identity) {
	if err := h.attachCart(ctx, client.Session, id); err != nil {
		h.logger.WarnContext(ctx, "attaching cart failed",
			slog.String("session", client.Session),
			slog.String("user", id.User.ID),
			slog.String("error", err.Error()))
	}
}

// attachCart binds the session's cart to id. A different user already on
// the session loses their checkout first, so no address or pending order
// carries over to the new account.
func (h *Handler) attachCart(ctx context.Context, session string, id gateway.Identity) error {
	s := h.carts.Get(session)
	if prev, ok := s.User(); ok && prev.User.ID != id.User.ID {
		h.checkouts.Get(session).Abandon(gateway.WithUser(ctx, prev))
	}
	return s.Attach(ctx, id)
}

// handleHealth reports liveness and whether the backend answered yet.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", BackendReady: h.ready.Ready()})
}

type healthResponse struct {
	Status       string `json:"status"`
	BackendReady bool   `json:"backend_ready"`
}

// === Request Helpers ===

// client returns the Storefront-Client of the request.
func client(r *http.Request) (middleware.Client, error) {
	c, ok := middleware.ClientFrom(r.Context())
	if !ok || c.Session == "" {
		return middleware.Client{}, model.NewValidationError(middleware.ClientHeader, "client session required")
	}
	return c, nil
}

// session returns the request's cart session.
func (h *Handler) session(r *http.Request) (*cart.Session, error) {
	c, err := client(r)
	if err != nil {
		return nil, err
	}
	return h.carts.Get(c.Session), nil
}

func requireAdmin(ctx context.Context) (gateway.Identity, error) {
	id, err := gateway.RequireUser(ctx, "open the admin dashboard")
	if err != nil {
		return id, err
	}
	if !id.User.IsAdmin() {
		return id, model.NewForbiddenError("admin role required")
	}
	return id, nil
}

func pathIndex(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return 0, model.NewValidationError("index", "must be an integer")
	}
	return n, nil
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if errors.As(err, &apiErr) {
		// Found APIError in error chain - use it
	} else {
		// Wrap unexpected errors
		apiErr = &model.APIError{
			Code:       "INTERNAL_ERROR",
			Message:    "an internal error occurred",
			StatusCode: http.StatusInternalServerError,
		}
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
