package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// SignUpRequest registers an account. Name and phone are stored as user
// metadata.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// SignInRequest exchanges credentials for a session.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// POST /auth/signup
func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := validateCredentials(req.Email, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	attrs := map[string]any{}
	if req.Name != "" {
		attrs["name"] = req.Name
	}
	if req.Phone != "" {
		attrs["phone"] = req.Phone
	}
	user, err := h.backend.SignUp(r.Context(), strings.TrimSpace(req.Email), req.Password, attrs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// handleSignIn returns the session and attaches the client's cart to the
// account, merging it with the stored one.
// POST /auth/signin
func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SignInRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := validateCredentials(req.Email, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	sess, err := h.backend.SignIn(ctx, strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if c, err := client(r); err == nil {
		id := gateway.Identity{User: sess.User, AccessToken: sess.AccessToken}
		if err := h.attachCart(gateway.WithUser(ctx, id), c.Session, id); err != nil {
			h.logger.WarnContext(ctx, "attaching cart after sign-in failed",
				slog.String("session", c.Session),
				slog.String("error", err.Error()))
		}
	}
	h.writeJSON(w, http.StatusOK, sess)
}

// handleSignOut revokes the token and empties the local cart; the user's
// lines stay stored remotely.
// POST /auth/signout
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := gateway.RequireUser(ctx, "sign out")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.backend.SignOut(ctx, id.AccessToken); err != nil {
		h.writeError(w, err)
		return
	}
	if c, err := client(r); err == nil {
		if s, ok := h.carts.Lookup(c.Session); ok {
			s.Detach()
		}
		h.checkouts.Get(c.Session).Close(ctx)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /auth/me
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := gateway.RequireUser(r.Context(), "view your account")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, id.User)
}

// minPasswordLen matches the hosted auth server's default policy.
const minPasswordLen = 6

// ChangePasswordRequest replaces the password of the signed-in account.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword checks the current password by signing in with it,
// then sets the new one.
// PUT /auth/password
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := gateway.RequireUser(ctx, "change your password")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	switch {
	case req.CurrentPassword == "":
		err = model.NewValidationError("current_password", "required")
	case len(req.NewPassword) < minPasswordLen:
		err = model.NewValidationError("new_password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	case req.NewPassword == req.CurrentPassword:
		err = model.NewValidationError("new_password", "must differ from the current password")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.backend.SignIn(ctx, id.User.Email, req.CurrentPassword); err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			err = model.NewValidationError("current_password", "is incorrect")
		}
		h.writeError(w, err)
		return
	}
	if err := h.backend.UpdatePassword(ctx, id.AccessToken, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "password changed", slog.String("user", id.User.ID))
	w.WriteHeader(http.StatusNoContent)
}

// ProfileResponse is the account profile with its sign-in email.
type ProfileResponse struct {
	Email string `json:"email"`
	model.Profile
}

// GET /account/profile
func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := gateway.RequireUser(r.Context(), "view your profile")
	if err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.backend.GetProfile(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProfileResponse{Email: id.User.Email, Profile: *p})
}

// PUT /account/profile
func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := gateway.RequireUser(r.Context(), "update your profile")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req model.Profile
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		h.writeError(w, model.NewValidationError("name", "required"))
		return
	}
	p, err := h.backend.UpdateProfile(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProfileResponse{Email: id.User.Email, Profile: *p})
}

func validateCredentials(email, password string) error {
	if !strings.Contains(email, "@") {
		return model.NewValidationError("email", "must be an email address")
	}
	if password == "" {
		return model.NewValidationError("password", "required")
	}
	return nil
}

// GET /account/addresses
func (h *Handler) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.backend.ListAddresses(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if addrs == nil {
		addrs = []model.Address{}
	}
	h.writeJSON(w, http.StatusOK, addressesResponse{Addresses: addrs})
}

type addressesResponse struct {
	Addresses []model.Address `json:"addresses"`
}

// POST /account/addresses
func (h *Handler) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	var addr model.Address
	if err := decodeJSON(r, &addr); err != nil {
		h.writeError(w, err)
		return
	}
	addr.ID = ""
	h.saveAddress(w, r, addr, http.StatusCreated)
}

// PUT /account/addresses/{id}
func (h *Handler) handleUpdateAddress(w http.ResponseWriter, r *http.Request) {
	var addr model.Address
	if err := decodeJSON(r, &addr); err != nil {
		h.writeError(w, err)
		return
	}
	addr.ID = model.ID(r.PathValue("id"))
	h.saveAddress(w, r, addr, http.StatusOK)
}

// saveAddress checks the fields a saved address needs; saved addresses
// carry no email.
func (h *Handler) saveAddress(w http.ResponseWriter, r *http.Request, addr model.Address, status int) {
	addr.Email = ""
	for _, f := range []struct{ name, value string }{
		{"name", addr.Name},
		{"phone", addr.Phone},
		{"address", addr.Street},
		{"pincode", addr.PostalCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			h.writeError(w, model.NewValidationError(f.name, "required"))
			return
		}
	}
	saved, err := h.backend.SaveAddress(r.Context(), addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status, saved)
}

// DELETE /account/addresses/{id}
func (h *Handler) handleDeleteAddress(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteAddress(r.Context(), model.ID(r.PathValue("id"))); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /account/orders
func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.backend.ListOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	h.writeJSON(w, http.StatusOK, ordersResponse{Orders: orders})
}

type ordersResponse struct {
	Orders []model.Order `json:"orders"`
}

// GET /account/orders/{id}
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.backend.GetOrder(r.Context(), model.ID(r.PathValue("id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}
