package handler

import (
	"net/http"

	"storefront/internal/model"
)

// handleListProducts returns the filtered catalog.
// GET /products?search=&category=&sort=
func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if _, err := h.catalog.LoadProducts(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	products := h.catalog.FilterProducts(q.Get("search"), q.Get("category"), q.Get("sort"))
	if products == nil {
		products = []model.Product{}
	}
	h.writeJSON(w, http.StatusOK, productsResponse{Products: products})
}

type productsResponse struct {
	Products []model.Product `json:"products"`
}

// handleGetProduct accepts numeric or string ids.
// GET /products/{id}
func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	if _, err := h.catalog.LoadProducts(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	p, ok := h.catalog.GetProductByID(model.ID(r.PathValue("id")))
	if !ok {
		h.writeError(w, model.NewNotFoundError("product"))
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// GET /categories
func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	if _, err := h.catalog.LoadProducts(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	categories := h.catalog.Categories()
	if categories == nil {
		categories = []string{}
	}
	h.writeJSON(w, http.StatusOK, categoriesResponse{Categories: categories})
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}
