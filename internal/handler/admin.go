package handler

import (
	"net/http"

	"storefront/internal/dashboard"
)

// GET /admin/dashboard
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := requireAdmin(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	stats, err := h.dashboard.Stats(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GET /admin/settings
func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := requireAdmin(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	prefs, err := h.dashboard.Preferences(ctx, id.User.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

// PUT /admin/settings
func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := requireAdmin(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var prefs dashboard.Preferences
	if err := decodeJSON(r, &prefs); err != nil {
		h.writeError(w, err)
		return
	}
	saved, err := h.dashboard.SavePreferences(ctx, id.User.ID, prefs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, saved)
}
