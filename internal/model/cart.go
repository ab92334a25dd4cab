package model

import "github.com/shopspring/decimal"

// CartEntry is one line of a cart: a product variant and its quantity.
// Entries are unique per (product id, variant label).
type CartEntry struct {
	ProductID ID      `json:"product_id"`
	Name      string  `json:"name"`
	Image     string  `json:"image,omitempty"`
	Variant   Variant `json:"variant"`
	// VariantIndex is the variant's position when the line was resolved.
	// Kept for rows stored before variants had stable ids.
	VariantIndex int `json:"variant_index"`
	Quantity     int `json:"quantity"`
}

// Key identifies the line for de-duplication.
func (e CartEntry) Key() EntryKey {
	return EntryKey{ProductID: e.ProductID, Variant: e.Variant.Label}
}

// LineTotal is unit price × quantity.
func (e CartEntry) LineTotal() decimal.Decimal {
	return e.Variant.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// EntryKey is the identity of a cart line.
type EntryKey struct {
	ProductID ID
	Variant   string
}

// Matches compares keys with loose product id equality.
func (k EntryKey) Matches(o EntryKey) bool {
	return k.Variant == o.Variant && SameID(k.ProductID, o.ProductID)
}

// StoredCartRow is the persisted form of a cart line owned by a user.
type StoredCartRow struct {
	ProductID    ID     `json:"product_id"`
	VariantID    string `json:"variant_id,omitempty"`
	VariantIndex int    `json:"variant_index"`
	Quantity     int    `json:"quantity"`
}

// Totals are derived from cart lines. Never stored.
type Totals struct {
	TotalQty int             `json:"total_qty"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Quote is the cart totals with an optional promo discount applied.
// Tax and shipping stay computed on the undiscounted subtotal.
type Quote struct {
	Totals
	PromoCode       string          `json:"promo_code,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Discount        decimal.Decimal `json:"discount"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
}
