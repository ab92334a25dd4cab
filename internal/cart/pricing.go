package cart

import (
	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

// Pricing holds the store's tax rate and flat shipping fee.
type Pricing struct {
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal
}

// DefaultPricing is 18% GST and a flat 50 shipping fee.
func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:     decimal.RequireFromString("0.18"),
		ShippingFee: decimal.NewFromInt(50),
	}
}

// Totals derives the cart totals. Shipping applies only to a non-empty cart.
func (p Pricing) Totals(entries []model.CartEntry) model.Totals {
	t := model.Totals{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
	}
	for _, e := range entries {
		t.TotalQty += e.Quantity
		t.Subtotal = t.Subtotal.Add(e.LineTotal())
	}
	t.Tax = model.Round2(t.Subtotal.Mul(p.TaxRate))
	if len(entries) > 0 {
		t.Shipping = p.ShippingFee
	}
	t.Total = t.Subtotal.Add(t.Tax).Add(t.Shipping)
	return t
}

// Quote applies promo, if any, to totals. The discount is taken from the
// subtotal and subtracted from the gross total; tax and shipping are unchanged.
func (p Pricing) Quote(t model.Totals, promo *model.PromoCode) model.Quote {
	q := model.Quote{
		Totals:          t,
		DiscountPercent: decimal.Zero,
		Discount:        decimal.Zero,
		GrandTotal:      t.Total,
	}
	if promo == nil {
		return q
	}
	q.PromoCode = promo.Code
	q.DiscountPercent = promo.DiscountPercent
	q.Discount = model.PercentOf(t.Subtotal, promo.DiscountPercent)
	q.GrandTotal = t.Total.Sub(q.Discount)
	return q
}
