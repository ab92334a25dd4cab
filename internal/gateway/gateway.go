// Package gateway defines the ports to the remote backend the storefront
// orchestrates: authentication, relational storage, file storage and the
// payment functions. Implementations live in supabase, sqlstore and cloudinary.
package gateway

import (
	"context"
	"io"

	"storefront/internal/model"
)

// Auth is the hosted authentication provider.
type Auth interface {
	// SignUp registers a new account. attrs are stored as user metadata.
	SignUp(ctx context.Context, email, password string, attrs map[string]any) (*model.User, error)

	// SignIn exchanges credentials for a session.
	SignIn(ctx context.Context, email, password string) (*model.AuthSession, error)

	// SignOut revokes the session behind accessToken.
	SignOut(ctx context.Context, accessToken string) error

	// GetUser resolves the account behind accessToken.
	// Returns an unauthorized error for invalid or expired tokens.
	GetUser(ctx context.Context, accessToken string) (*model.User, error)

	// UpdatePassword sets a new password on the account behind accessToken.
	UpdatePassword(ctx context.Context, accessToken, password string) error
}

// Store is the relational store. Methods that act for a user read the
// caller identity from ctx (see WithUser) and fail with a login-required
// error when it is absent.
type Store interface {
	Ping(ctx context.Context) error

	// ListProducts returns active products, newest first.
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, id model.ID) (*model.Product, error)

	// GetCart returns the caller's stored cart rows.
	GetCart(ctx context.Context) ([]model.StoredCartRow, error)
	// SaveCart replaces the caller's stored cart with rows.
	SaveCart(ctx context.Context, rows []model.StoredCartRow) error

	// GetProfile and UpdateProfile read and write the caller's profile row.
	GetProfile(ctx context.Context) (*model.Profile, error)
	UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error)

	ListAddresses(ctx context.Context) ([]model.Address, error)
	// SaveAddress inserts or updates by id. Saving a default address clears
	// the flag on the caller's other addresses.
	SaveAddress(ctx context.Context, addr model.Address) (*model.Address, error)
	DeleteAddress(ctx context.Context, id model.ID) error

	// CreateOrder writes the order header and its items.
	CreateOrder(ctx context.Context, draft *model.OrderDraft) (*model.Order, error)
	GetOrder(ctx context.Context, id model.ID) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	DeleteOrder(ctx context.Context, id model.ID) error
	AttachPaymentProof(ctx context.Context, orderID model.ID, url string) error

	// ValidatePromoCode returns the active code valid now, or a rejection.
	ValidatePromoCode(ctx context.Context, code string) (*model.PromoCode, error)

	LogPaymentEvent(ctx context.Context, ev model.PaymentEvent) error

	// ListAllOrders and CountUsers back the admin dashboard.
	ListAllOrders(ctx context.Context) ([]model.Order, error)
	CountUsers(ctx context.Context) (int, error)
}

// Files is object storage for payment proofs.
type Files interface {
	// Upload stores the object under key and returns its public URL.
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// Payments is the serverless payment gateway.
type Payments interface {
	// InitiatePayment returns the URL of the hosted payment page.
	InitiatePayment(ctx context.Context, req model.PaymentRequest) (string, error)

	// VerifyPayment reports model.PaymentCompleted, PaymentPending or PaymentFailed.
	VerifyPayment(ctx context.Context, orderID model.ID) (string, error)
}

// Backend is every port together.
type Backend interface {
	Auth
	Store
	Files
	Payments
}

type composed struct {
	Auth
	Store
	Files
	Payments
}

// Compose mixes implementations, e.g. a MySQL store with hosted auth.
func Compose(auth Auth, store Store, files Files, payments Payments) Backend {
	return composed{Auth: auth, Store: store, Files: files, Payments: payments}
}
