package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderPendingPayment = "pending_payment"
	OrderPending        = "pending"
	OrderProcessing     = "processing"
	OrderShipped        = "shipped"
	OrderDelivered      = "delivered"
	OrderCancelled      = "cancelled"
)

// Payment statuses, as recorded on orders and reported by verification.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Payment method labels stored on orders.
const (
	MethodUPIIntent   = "UPI App"
	MethodUPIManual   = "UPI (Manual Verification)"
	MethodGateway     = "PhonePe Gateway"
	MethodPayOnReview = "Pay When Confirming Order"
	MethodOnline      = "Online Payment"
)

// Address is a shipping or billing address. Saved addresses carry an id and
// never store an email; ad hoc checkout addresses carry the email.
type Address struct {
	ID         ID     `json:"id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Street     string `json:"address"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"pincode"`
	IsDefault  bool   `json:"is_default,omitempty"`
}

// MissingFields lists the mandatory fields left blank, in form order.
// Name, phone, email, street and postal code are required.
func (a Address) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"name", a.Name},
		{"phone", a.Phone},
		{"email", a.Email},
		{"address", a.Street},
		{"pincode", a.PostalCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Complete reports whether every mandatory field is present.
func (a Address) Complete() bool { return len(a.MissingFields()) == 0 }

// MissingBillingFields lists blank billing fields. Billing needs the full
// postal address and a phone but no email.
func (a Address) MissingBillingFields() []string {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"name", a.Name},
		{"address", a.Street},
		{"city", a.City},
		{"pincode", a.PostalCode},
		{"state", a.State},
		{"phone", a.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// OrderItem is a write-once line snapshot.
type OrderItem struct {
	ProductID ID              `json:"product_id"`
	Name      string          `json:"product_name"`
	Variant   string          `json:"variant"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// OrderDraft is everything needed to create an order.
type OrderDraft struct {
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	PromoCode       string          `json:"promo_code,omitempty"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
}

// Order is a persisted order snapshot.
type Order struct {
	ID              ID              `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	PromoCode       string          `json:"promo_code,omitempty"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	PaymentMethod   string          `json:"payment_method"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentProofURL string          `json:"payment_proof_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PromoCode is a percentage discount valid within a window.
type PromoCode struct {
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Active          bool            `json:"active"`
	ValidFrom       time.Time       `json:"valid_from"`
	ValidThrough    time.Time       `json:"valid_through"`
}

// ValidAt reports whether the code is active and inside its window.
// A zero bound is open.
func (p PromoCode) ValidAt(now time.Time) bool {
	if !p.Active {
		return false
	}
	if !p.ValidFrom.IsZero() && now.Before(p.ValidFrom) {
		return false
	}
	if !p.ValidThrough.IsZero() && now.After(p.ValidThrough) {
		return false
	}
	return true
}

// NormalizePromoCode upper-cases and trims a user-entered code.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Payment event stages logged against an order.
const (
	StageInitiated     = "INITIATED"
	StageRedirected    = "REDIRECTED"
	StageVerified      = "VERIFIED"
	StageProofUploaded = "PROOF_UPLOADED"
)

// PaymentEvent is one best-effort audit record of the payment flow.
type PaymentEvent struct {
	OrderID ID             `json:"order_id"`
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// PaymentRequest is sent to the payment-initiation function.
type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	OrderID     ID              `json:"orderId"`
	Phone       string          `json:"phone"`
	RedirectURL string          `json:"redirectUrl"`
}
