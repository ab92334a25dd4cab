package supabase

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

type productRow struct {
	ID          model.ID        `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"image_url"`
	Tag         *string         `json:"tag"`
	Rating      json.RawMessage `json:"rating"`
	Description *string         `json:"description"`
	Variants    json.RawMessage `json:"variants"`
	Active      bool            `json:"active"`
}

func (r productRow) toProduct() (model.Product, bool) {
	p := model.Product{
		ID:       r.ID,
		Name:     r.Name,
		Category: r.Category,
		Image:    r.ImageURL,
		Tag:      r.Category,
		Rating:   parseRating(r.Rating),
		Active:   r.Active,
	}
	if r.Tag != nil && *r.Tag != "" {
		p.Tag = *r.Tag
	}
	if r.Description != nil {
		p.Description = *r.Description
	}
	variants, ok := parseVariants(r.Variants)
	p.Variants = model.AssignVariantIDs(variants)
	return p, ok
}

// parseVariants accepts a JSON array or a JSON string holding one.
// Anything else yields no variants and ok=false.
func parseVariants(raw json.RawMessage) ([]model.Variant, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return []model.Variant{}, true
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return []model.Variant{}, false
		}
		raw = []byte(s)
	}
	var vs []model.Variant
	if err := json.Unmarshal(raw, &vs); err != nil {
		return []model.Variant{}, false
	}
	return vs, true
}

// parseRating reads a numeric or string rating; zero or invalid means the default.
func parseRating(raw json.RawMessage) decimal.Decimal {
	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsZero() {
		return model.DefaultRating
	}
	return d
}

type cartRow struct {
	UserID       string   `json:"user_id,omitempty"`
	ProductID    model.ID `json:"product_id"`
	VariantID    *string  `json:"variant_id"`
	VariantIndex *int     `json:"variant_index"`
	Quantity     int      `json:"quantity"`
}

func (r cartRow) toStored() model.StoredCartRow {
	s := model.StoredCartRow{ProductID: r.ProductID, Quantity: r.Quantity}
	if r.VariantID != nil {
		s.VariantID = *r.VariantID
	}
	if r.VariantIndex != nil {
		s.VariantIndex = *r.VariantIndex
	}
	return s
}

type addressRow struct {
	ID        model.ID `json:"id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Address   string   `json:"address"`
	City      *string  `json:"city"`
	State     *string  `json:"state"`
	Pincode   string   `json:"pincode"`
	IsDefault bool     `json:"is_default"`
}

func toAddressRow(userID string, a model.Address) addressRow {
	return addressRow{
		UserID:    userID,
		Name:      a.Name,
		Phone:     a.Phone,
		Address:   a.Street,
		City:      nullable(a.City),
		State:     nullable(a.State),
		Pincode:   a.PostalCode,
		IsDefault: a.IsDefault,
	}
}

func (r addressRow) toAddress() model.Address {
	return model.Address{
		ID:         r.ID,
		Name:       r.Name,
		Phone:      r.Phone,
		Street:     r.Address,
		City:       deref(r.City),
		State:      deref(r.State),
		PostalCode: r.Pincode,
		IsDefault:  r.IsDefault,
	}
}

type orderRow struct {
	ID              model.ID        `json:"id,omitempty"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	GST             decimal.Decimal `json:"gst"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Discount        decimal.Decimal `json:"discount"`
	PromoCode       *string         `json:"promo_code"`
	ShippingAddress model.Address   `json:"shipping_address"`
	BillingAddress  *model.Address  `json:"billing_address"`
	PaymentMethod   *string         `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentProofURL *string         `json:"payment_proof_url,omitempty"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
	Items           []orderItemRow  `json:"order_items,omitempty"`
}

type orderItemRow struct {
	OrderID      model.ID        `json:"order_id,omitempty"`
	ProductID    *model.ID       `json:"product_id"`
	ProductName  string          `json:"product_name"`
	VariantLabel string          `json:"variant_label"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
}

func toOrderRow(userID string, d *model.OrderDraft) orderRow {
	billing := d.ShippingAddress
	if d.BillingAddress != nil {
		billing = *d.BillingAddress
	}
	return orderRow{
		UserID:          userID,
		Status:          d.Status,
		TotalAmount:     d.Total,
		Subtotal:        d.Subtotal,
		GST:             d.Tax,
		ShippingCost:    d.Shipping,
		Discount:        d.Discount,
		PromoCode:       nullable(d.PromoCode),
		ShippingAddress: d.ShippingAddress,
		BillingAddress:  &billing,
		PaymentMethod:   nullable(d.PaymentMethod),
		PaymentStatus:   d.PaymentStatus,
	}
}

func toItemRows(orderID model.ID, items []model.OrderItem) []orderItemRow {
	rows := make([]orderItemRow, len(items))
	for i, it := range items {
		var pid *model.ID
		if it.ProductID != "" {
			id := it.ProductID
			pid = &id
		}
		rows[i] = orderItemRow{
			OrderID:      orderID,
			ProductID:    pid,
			ProductName:  it.Name,
			VariantLabel: it.Variant,
			Quantity:     it.Quantity,
			Price:        it.Price,
		}
	}
	return rows
}

func (r orderRow) toOrder() model.Order {
	o := model.Order{
		ID:              r.ID,
		UserID:          r.UserID,
		Subtotal:        r.Subtotal,
		Tax:             r.GST,
		Shipping:        r.ShippingCost,
		Discount:        r.Discount,
		Total:           r.TotalAmount,
		PromoCode:       deref(r.PromoCode),
		ShippingAddress: r.ShippingAddress,
		BillingAddress:  r.ShippingAddress,
		PaymentMethod:   deref(r.PaymentMethod),
		Status:          r.Status,
		PaymentStatus:   r.PaymentStatus,
		PaymentProofURL: deref(r.PaymentProofURL),
		Items:           make([]model.OrderItem, len(r.Items)),
	}
	if r.BillingAddress != nil {
		o.BillingAddress = *r.BillingAddress
	}
	if r.CreatedAt != nil {
		o.CreatedAt = *r.CreatedAt
	}
	for i, it := range r.Items {
		o.Items[i] = model.OrderItem{
			Name:     it.ProductName,
			Variant:  it.VariantLabel,
			Price:    it.Price,
			Quantity: it.Quantity,
		}
		if it.ProductID != nil {
			o.Items[i].ProductID = *it.ProductID
		}
	}
	return o
}

type promoRow struct {
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Active          bool            `json:"active"`
	ValidFrom       *time.Time      `json:"valid_from"`
	ValidThrough    *time.Time      `json:"valid_through"`
}

func (r promoRow) toPromo() *model.PromoCode {
	p := &model.PromoCode{Code: r.Code, DiscountPercent: r.DiscountPercent, Active: r.Active}
	if r.ValidFrom != nil {
		p.ValidFrom = *r.ValidFrom
	}
	if r.ValidThrough != nil {
		p.ValidThrough = *r.ValidThrough
	}
	return p
}

type paymentLogRow struct {
	OrderID model.ID       `json:"order_id"`
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
