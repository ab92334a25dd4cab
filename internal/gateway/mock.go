package gateway

import (
	"context"
	"io"

	"storefront/internal/model"
)

// Mock implements Backend for testing.
// Each method can be configured via function fields; unset fields return
// a not-found error or an empty result.
type Mock struct {
	SignUpFunc         func(ctx context.Context, email, password string, attrs map[string]any) (*model.User, error)
	SignInFunc         func(ctx context.Context, email, password string) (*model.AuthSession, error)
	SignOutFunc        func(ctx context.Context, accessToken string) error
	GetUserFunc        func(ctx context.Context, accessToken string) (*model.User, error)
	UpdatePasswordFunc func(ctx context.Context, accessToken, password string) error

	PingFunc               func(ctx context.Context) error
	ListProductsFunc       func(ctx context.Context) ([]model.Product, error)
	GetProductFunc         func(ctx context.Context, id model.ID) (*model.Product, error)
	GetCartFunc            func(ctx context.Context) ([]model.StoredCartRow, error)
	SaveCartFunc           func(ctx context.Context, rows []model.StoredCartRow) error
	GetProfileFunc         func(ctx context.Context) (*model.Profile, error)
	UpdateProfileFunc      func(ctx context.Context, p model.Profile) (*model.Profile, error)
	ListAddressesFunc      func(ctx context.Context) ([]model.Address, error)
	SaveAddressFunc        func(ctx context.Context, addr model.Address) (*model.Address, error)
	DeleteAddressFunc      func(ctx context.Context, id model.ID) error
	CreateOrderFunc        func(ctx context.Context, draft *model.OrderDraft) (*model.Order, error)
	GetOrderFunc           func(ctx context.Context, id model.ID) (*model.Order, error)
	ListOrdersFunc         func(ctx context.Context) ([]model.Order, error)
	DeleteOrderFunc        func(ctx context.Context, id model.ID) error
	AttachPaymentProofFunc func(ctx context.Context, orderID model.ID, url string) error
	ValidatePromoCodeFunc  func(ctx context.Context, code string) (*model.PromoCode, error)
	LogPaymentEventFunc    func(ctx context.Context, ev model.PaymentEvent) error
	ListAllOrdersFunc      func(ctx context.Context) ([]model.Order, error)
	CountUsersFunc         func(ctx context.Context) (int, error)

	UploadFunc func(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)

	InitiatePaymentFunc func(ctx context.Context, req model.PaymentRequest) (string, error)
	VerifyPaymentFunc   func(ctx context.Context, orderID model.ID) (string, error)
}

var _ Backend = (*Mock)(nil)

func (m *Mock) SignUp(ctx context.Context, email, password string, attrs map[string]any) (*model.User, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, email, password, attrs)
	}
	return &model.User{ID: "user-" + email, Email: email}, nil
}

func (m *Mock) SignIn(ctx context.Context, email, password string) (*model.AuthSession, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil, model.NewUnauthorizedError("invalid login credentials")
}

func (m *Mock) SignOut(ctx context.Context, accessToken string) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

func (m *Mock) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, accessToken)
	}
	return nil, model.NewUnauthorizedError("invalid token")
}

func (m *Mock) UpdatePassword(ctx context.Context, accessToken, password string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, accessToken, password)
	}
	return nil
}

func (m *Mock) GetProfile(ctx context.Context) (*model.Profile, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx)
	}
	return nil, model.NewNotFoundError("profile")
}

func (m *Mock) UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, p)
	}
	return &p, nil
}

func (m *Mock) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *Mock) ListProducts(ctx context.Context) ([]model.Product, error) {
	if m.ListProductsFunc != nil {
		return m.ListProductsFunc(ctx)
	}
	return nil, nil
}

func (m *Mock) GetProduct(ctx context.Context, id model.ID) (*model.Product, error) {
	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("product")
}

func (m *Mock) GetCart(ctx context.Context) ([]model.StoredCartRow, error) {
	if m.GetCartFunc != nil {
		return m.GetCartFunc(ctx)
	}
	return nil, nil
}

func (m *Mock) SaveCart(ctx context.Context, rows []model.StoredCartRow) error {
	if m.SaveCartFunc != nil {
		return m.SaveCartFunc(ctx, rows)
	}
	return nil
}

func (m *Mock) ListAddresses(ctx context.Context) ([]model.Address, error) {
	if m.ListAddressesFunc != nil {
		return m.ListAddressesFunc(ctx)
	}
	return nil, nil
}

func (m *Mock) SaveAddress(ctx context.Context, addr model.Address) (*model.Address, error) {
	if m.SaveAddressFunc != nil {
		return m.SaveAddressFunc(ctx, addr)
	}
	return &addr, nil
}

func (m *Mock) DeleteAddress(ctx context.Context, id model.ID) error {
	if m.DeleteAddressFunc != nil {
		return m.DeleteAddressFunc(ctx, id)
	}
	return nil
}

func (m *Mock) CreateOrder(ctx context.Context, draft *model.OrderDraft) (*model.Order, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, draft)
	}
	return nil, model.NewInternalError(nil)
}

func (m *Mock) GetOrder(ctx context.Context, id model.ID) (*model.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("order")
}

func (m *Mock) ListOrders(ctx context.Context) ([]model.Order, error) {
	if m.ListOrdersFunc != nil {
		return m.ListOrdersFunc(ctx)
	}
	return nil, nil
}

func (m *Mock) DeleteOrder(ctx context.Context, id model.ID) error {
	if m.DeleteOrderFunc != nil {
		return m.DeleteOrderFunc(ctx, id)
	}
	return nil
}

func (m *Mock) AttachPaymentProof(ctx context.Context, orderID model.ID, url string) error {
	if m.AttachPaymentProofFunc != nil {
		return m.AttachPaymentProofFunc(ctx, orderID, url)
	}
	return nil
}

func (m *Mock) ValidatePromoCode(ctx context.Context, code string) (*model.PromoCode, error) {
	if m.ValidatePromoCodeFunc != nil {
		return m.ValidatePromoCodeFunc(ctx, code)
	}
	return nil, model.NewRejectedError("Invalid or expired promo code")
}

func (m *Mock) LogPaymentEvent(ctx context.Context, ev model.PaymentEvent) error {
	if m.LogPaymentEventFunc != nil {
		return m.LogPaymentEventFunc(ctx, ev)
	}
	return nil
}

func (m *Mock) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	if m.ListAllOrdersFunc != nil {
		return m.ListAllOrdersFunc(ctx)
	}
	return nil, nil
}

func (m *Mock) CountUsers(ctx context.Context) (int, error) {
	if m.CountUsersFunc != nil {
		return m.CountUsersFunc(ctx)
	}
	return 0, nil
}

func (m *Mock) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, key, contentType, body, size)
	}
	return "https://files.test/" + key, nil
}

func (m *Mock) InitiatePayment(ctx context.Context, req model.PaymentRequest) (string, error) {
	if m.InitiatePaymentFunc != nil {
		return m.InitiatePaymentFunc(ctx, req)
	}
	return "", model.NewPaymentError("payment initiation failed")
}

func (m *Mock) VerifyPayment(ctx context.Context, orderID model.ID) (string, error) {
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, orderID)
	}
	return model.PaymentPending, nil
}
