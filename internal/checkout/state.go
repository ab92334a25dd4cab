package checkout

import (
	"net/url"
	"strings"

	"storefront/internal/model"
)

// State is the checkout step.
type State string

const (
	StateIdle           State = "IDLE"
	StateShipping       State = "SHIPPING"
	StateReview         State = "REVIEW"
	StatePaymentPending State = "PAYMENT_PENDING"
	StateConfirmed      State = "CONFIRMED"
	StateFailed         State = "FAILED"
)

// Phase refines StatePaymentPending.
type Phase string

const (
	PhaseNone                 Phase = ""
	PhaseSelecting            Phase = "SELECTING"
	PhaseAwaitingConfirmation Phase = "AWAITING_CONFIRMATION"
	PhaseAwaitingProof        Phase = "AWAITING_PROOF"
	PhaseRedirected           Phase = "REDIRECTED"
	PhaseProcessing           Phase = "PROCESSING"
)

// Method tags the payment path of a pending order. Stored durably so a
// reload resumes the right step.
type Method string

const (
	MethodUPIManual Method = "UPI_MANUAL"
	MethodUPIIntent Method = "UPI_INTENT"
	MethodGateway   Method = "GATEWAY"
)

// Draft is the saved checkout progress: the shipping step is done and the
// shipping address is known.
type Draft struct {
	Step      int           `json:"step"`
	Shipping  model.Address `json:"shippingData"`
	Timestamp int64         `json:"timestamp"`
}

// ShippingInput is the shipping step form: either a saved address id or a
// complete ad hoc address.
type ShippingInput struct {
	AddressID model.ID       `json:"address_id,omitempty"`
	Address   *model.Address `json:"address,omitempty"`
	Email     string         `json:"email,omitempty"`
}

// View is a snapshot of the checkout for clients.
type View struct {
	State                 State          `json:"state"`
	Phase                 Phase          `json:"phase,omitempty"`
	Shipping              *model.Address `json:"shipping,omitempty"`
	BillingSameAsShipping bool           `json:"billing_same_as_shipping"`
	Billing               *model.Address `json:"billing,omitempty"`
	TermsAccepted         bool           `json:"terms_accepted"`
	Quote                 model.Quote    `json:"quote"`
	OrderID               model.ID       `json:"order_id,omitempty"`
	Method                Method         `json:"method,omitempty"`
	UPIID                 string         `json:"upi_id,omitempty"`
	PaymentURI            string         `json:"payment_uri,omitempty"`
	RedirectURL           string         `json:"redirect_url,omitempty"`
	Message               string         `json:"message,omitempty"`
}

// UPIPaymentURI builds the upi://pay deep link for an order. The same
// string is the QR payload of the manual path.
func UPIPaymentURI(vpa, payee, currency string, amount string, orderID model.ID) string {
	if currency == "" {
		currency = "INR"
	}
	var b strings.Builder
	b.WriteString("upi://pay?pa=")
	b.WriteString(vpa)
	b.WriteString("&pn=")
	b.WriteString(escape(payee))
	b.WriteString("&am=")
	b.WriteString(amount)
	b.WriteString("&cu=")
	b.WriteString(currency)
	b.WriteString("&tn=Order_")
	b.WriteString(escape(orderID.String()))
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
