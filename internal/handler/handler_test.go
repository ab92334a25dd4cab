package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/dashboard"
	"storefront/internal/durable"
	"storefront/internal/gateway"
	"storefront/internal/middleware"
	"storefront/internal/model"
)

var testProducts = []model.Product{
	{
		ID:       "1",
		Name:     "Mango Pickle",
		Category: "Pickles",
		Rating:   decimal.RequireFromString("4.5"),
		Variants: []model.Variant{
			{ID: "250-g", Label: "250 g", Price: decimal.NewFromInt(100)},
			{ID: "500-g", Label: "500 g", Price: decimal.NewFromInt(180)},
		},
	},
	{
		ID:       "2",
		Name:     "Lemon Pickle",
		Category: "Pickles",
		Rating:   decimal.RequireFromString("4.8"),
		Variants: []model.Variant{
			{ID: "250-g", Label: "250 g", Price: decimal.NewFromInt(90)},
		},
	},
	{
		ID:       "3",
		Name:     "Garlic Podi",
		Category: "Podis",
		Rating:   decimal.RequireFromString("4.0"),
		Variants: []model.Variant{
			{ID: "100-g", Label: "100 g", Price: decimal.NewFromInt(60)},
		},
	},
}

var asha = gateway.Identity{
	User:        model.User{ID: "u1", Email: "asha@example.in", Name: "Asha"},
	AccessToken: "tok",
}

var shippingAddr = model.Address{
	Name:       "Asha Rao",
	Phone:      "9876543210",
	Email:      "asha@example.in",
	Street:     "12 MG Road",
	City:       "Bengaluru",
	State:      "KA",
	PostalCode: "560001",
}

// testHandler wires a Handler over mock. Unset catalog calls return
// testProducts.
func testHandler(mock *gateway.Mock) (*Handler, *http.ServeMux) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if mock.ListProductsFunc == nil {
		mock.ListProductsFunc = func(context.Context) ([]model.Product, error) {
			return testProducts, nil
		}
	}
	store := durable.NewMemory()
	products := catalog.New(mock, logger)
	pricing := cart.DefaultPricing()
	carts := cart.NewRegistry(cart.Deps{
		Remote:   mock,
		Products: products,
		Pricing:  pricing,
		Logger:   logger,
	})
	checkouts := checkout.NewRegistry(checkout.Deps{
		Store:    mock,
		Files:    mock,
		Payments: mock,
		Durable:  store,
		Pricing:  pricing,
		Config: checkout.Config{
			StoreName: "Sri Pickles",
			UPIID:     "sripickles@upi",
			Currency:  "INR",
			ReturnURL: "https://shop.test/checkout",
		},
		Logger: logger,
	}, carts)

	h := New(Deps{
		Backend:   mock,
		Catalog:   products,
		Carts:     carts,
		Checkouts: checkouts,
		Dashboard: dashboard.NewService(mock, store, logger),
		Logger:    logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

// clientRequest builds a request from client session s1, signed in as id
// when given.
func clientRequest(method, path string, body any, id *gateway.Identity) *http.Request {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	ctx := middleware.WithClient(req.Context(), middleware.Client{Session: "s1"})
	if id != nil {
		ctx = gateway.WithUser(ctx, *id)
	}
	return req.WithContext(ctx)
}

func serve(mux http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error.Code
}

func decodeCart(t *testing.T, body []byte) cartResponse {
	t.Helper()
	var resp cartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	w := serve(mux, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %s, want ok", resp.Status)
	}
	if !resp.BackendReady {
		t.Error("BackendReady = false, want true")
	}
}

func TestHandleListProducts(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	tests := []struct {
		name    string
		query   string
		wantIDs []model.ID
	}{
		{"all", "", []model.ID{"1", "2", "3"}},
		{"search", "?search=lemon", []model.ID{"2"}},
		{"category", "?category=Podis", []model.ID{"3"}},
		{"price high", "?category=Pickles&sort=price-high", []model.ID{"1", "2"}},
		{"price low", "?sort=price-low", []model.ID{"3", "2", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, httptest.NewRequest("GET", "/products"+tt.query, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
			}
			var resp productsResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if len(resp.Products) != len(tt.wantIDs) {
				t.Fatalf("got %d products, want %d", len(resp.Products), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Products[i].ID != id {
					t.Errorf("Products[%d].ID = %s, want %s", i, resp.Products[i].ID, id)
				}
			}
		})
	}
}

func TestHandleListProducts_UpstreamError(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{
		ListProductsFunc: func(context.Context) ([]model.Product, error) {
			return nil, model.NewUpstreamError("supabase", fmt.Errorf("connection refused"))
		},
	})

	w := serve(mux, httptest.NewRequest("GET", "/products", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if code := errorCode(w.Body.Bytes()); code != "UPSTREAM_ERROR" {
		t.Errorf("code = %s, want UPSTREAM_ERROR", code)
	}
}

func TestHandleGetProduct(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"found", "2", http.StatusOK},
		{"not found", "99", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, httptest.NewRequest("GET", "/products/"+tt.id, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleCategories(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	w := serve(mux, httptest.NewRequest("GET", "/categories", nil))

	var resp categoriesResponse
	json.NewDecoder(w.Body).Decode(&resp)
	got := strings.Join(resp.Categories, ",")
	if !strings.Contains(got, "Pickles") || !strings.Contains(got, "Podis") {
		t.Errorf("Categories = %v, want Pickles and Podis", resp.Categories)
	}
}

func TestCartRequiresClient(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	w := serve(mux, httptest.NewRequest("GET", "/cart", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCartLifecycle(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	add := AddItemRequest{ProductID: "1", VariantID: "500-g", Quantity: 1}
	for i := 0; i < 2; i++ {
		w := serve(mux, clientRequest("POST", "/cart/items", add, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("add: Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
	}
	w := serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "3"}, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("add podi: Status = %d", w.Code)
	}

	got := decodeCart(t, serve(mux, clientRequest("GET", "/cart", nil, nil)).Body.Bytes())
	if len(got.Items) != 2 {
		t.Fatalf("got %d lines, want 2", len(got.Items))
	}
	if got.Items[0].Quantity != 2 || got.Items[0].Variant.Label != "500 g" {
		t.Errorf("line 0 = %d x %s, want 2 x 500 g", got.Items[0].Quantity, got.Items[0].Variant.Label)
	}
	if got.Items[1].Quantity != 1 {
		t.Errorf("line 1 quantity = %d, want 1 (default)", got.Items[1].Quantity)
	}
	if got.Totals.TotalQty != 3 {
		t.Errorf("TotalQty = %d, want 3", got.Totals.TotalQty)
	}
	if got.Synced {
		t.Error("guest cart reported as synced")
	}

	got = decodeCart(t, serve(mux, clientRequest("PATCH", "/cart/items/0", UpdateItemRequest{Delta: -2}, nil)).Body.Bytes())
	if len(got.Items) != 1 || got.Items[0].ProductID != "3" {
		t.Fatalf("after decrement: items = %+v, want only product 3", got.Items)
	}

	got = decodeCart(t, serve(mux, clientRequest("DELETE", "/cart/items/5", nil, nil)).Body.Bytes())
	if len(got.Items) != 1 {
		t.Errorf("out-of-range remove changed the cart: %d lines", len(got.Items))
	}

	got = decodeCart(t, serve(mux, clientRequest("DELETE", "/cart", nil, nil)).Body.Bytes())
	if len(got.Items) != 0 {
		t.Errorf("after clear: %d lines, want 0", len(got.Items))
	}
}

func TestAddItem_Errors(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	tests := []struct {
		name       string
		req        AddItemRequest
		wantStatus int
	}{
		{"missing product", AddItemRequest{}, http.StatusBadRequest},
		{"unknown product", AddItemRequest{ProductID: "99"}, http.StatusNotFound},
		{"unknown variant", AddItemRequest{ProductID: "1", VariantID: "1-kg"}, http.StatusBadRequest},
		{"variant index past end", AddItemRequest{ProductID: "1", VariantIndex: 7}, http.StatusBadRequest},
		{"negative variant index", AddItemRequest{ProductID: "1", VariantIndex: -1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, clientRequest("POST", "/cart/items", tt.req, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAddItem_VariantIndexOutOfRange(t *testing.T) {
	h, mux := testHandler(&gateway.Mock{})

	w := serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "1", VariantIndex: 7, Quantity: 1}, nil))

	if got := errorCode(w.Body.Bytes()); got != "VALIDATION_ERROR" {
		t.Errorf("error code = %q, want VALIDATION_ERROR", got)
	}
	if !h.carts.Get("s1").IsEmpty() {
		t.Error("no line should be added for an unknown variant index")
	}

	w = serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "1", VariantIndex: 1, Quantity: 1}, nil))
	c := decodeCart(t, w.Body.Bytes())
	if len(c.Items) != 1 || c.Items[0].Variant.Label != "500 g" {
		t.Errorf("items = %+v, want the 500 g variant", c.Items)
	}
}

func TestUpdateItem_BadIndex(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	w := serve(mux, clientRequest("PATCH", "/cart/items/first", UpdateItemRequest{Delta: 1}, nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommitSelection(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	req := SelectionRequest{
		ProductID: "1",
		Lines: []SelectionLine{
			{VariantID: "250-g", Quantity: 2},
			{VariantID: "500-g", Quantity: 1},
		},
	}
	w := serve(mux, clientRequest("POST", "/cart/selections", req, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp selectionResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Added) != 2 {
		t.Errorf("Added = %d, want 2", len(resp.Added))
	}
	if resp.Cart.Totals.TotalQty != 3 {
		t.Errorf("TotalQty = %d, want 3", resp.Cart.Totals.TotalQty)
	}

	w = serve(mux, clientRequest("POST", "/cart/selections", SelectionRequest{ProductID: "1"}, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty selection: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCartEvents(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})
	withClient := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithClient(r.Context(), middleware.Client{Session: "s1"})
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
	srv := httptest.NewServer(withClient)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/cart/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %s, want text/event-stream", ct)
	}

	events := make(chan cartResponse)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var c cartResponse
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c) == nil {
				events <- c
			}
		}
	}()

	next := func() cartResponse {
		t.Helper()
		select {
		case c, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			return c
		case <-ctx.Done():
			t.Fatal("timed out waiting for cart event")
		}
		return cartResponse{}
	}

	if first := next(); len(first.Items) != 0 {
		t.Errorf("initial event has %d lines, want 0", len(first.Items))
	}

	add, _ := json.Marshal(AddItemRequest{ProductID: "2"})
	post, err := http.Post(srv.URL+"/cart/items", "application/json", bytes.NewReader(add))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	post.Body.Close()

	update := next()
	if len(update.Items) != 1 || update.Items[0].ProductID != "2" {
		t.Errorf("update event items = %+v, want product 2", update.Items)
	}
	if update.Version == 0 {
		t.Error("update event version = 0")
	}
}

func TestSignInAttachesCart(t *testing.T) {
	var mu sync.Mutex
	var saved []model.StoredCartRow
	mock := &gateway.Mock{
		SignInFunc: func(_ context.Context, email, password string) (*model.AuthSession, error) {
			if password != "secret" {
				return nil, model.NewUnauthorizedError("invalid login credentials")
			}
			return &model.AuthSession{AccessToken: "tok", User: model.User{ID: "u1", Email: email}}, nil
		},
		GetCartFunc: func(ctx context.Context) ([]model.StoredCartRow, error) {
			if id, ok := gateway.UserFrom(ctx); !ok || id.User.ID != "u1" {
				t.Errorf("GetCart without the signed-in user")
			}
			return []model.StoredCartRow{{ProductID: "2", VariantID: "250-g", Quantity: 3}}, nil
		},
		SaveCartFunc: func(_ context.Context, rows []model.StoredCartRow) error {
			mu.Lock()
			defer mu.Unlock()
			saved = rows
			return nil
		},
	}
	_, mux := testHandler(mock)

	serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "1", Quantity: 1}, nil))

	w := serve(mux, clientRequest("POST", "/auth/signin", SignInRequest{Email: "asha@example.in", Password: "wrong"}, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: Status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = serve(mux, clientRequest("POST", "/auth/signin", SignInRequest{Email: "asha@example.in", Password: "secret"}, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var sess model.AuthSession
	json.NewDecoder(w.Body).Decode(&sess)
	if sess.AccessToken != "tok" {
		t.Errorf("AccessToken = %s, want tok", sess.AccessToken)
	}

	got := decodeCart(t, serve(mux, clientRequest("GET", "/cart", nil, &asha)).Body.Bytes())
	if !got.Synced {
		t.Error("cart not attached after sign-in")
	}
	if len(got.Items) != 2 {
		t.Fatalf("merged cart has %d lines, want 2", len(got.Items))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(saved) != 2 {
		t.Errorf("pushed %d rows, want 2", len(saved))
	}
}

func TestSignOutDetachesCart(t *testing.T) {
	var revoked string
	mock := &gateway.Mock{
		SignOutFunc: func(_ context.Context, token string) error {
			revoked = token
			return nil
		},
		SaveCartFunc: func(context.Context, []model.StoredCartRow) error { return nil },
	}
	h, mux := testHandler(mock)
	h.ObserveIdentity(context.Background(), middleware.Client{Session: "s1"}, asha)
	serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "1"}, &asha))

	w := serve(mux, clientRequest("POST", "/auth/signout", nil, nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous sign-out: Status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = serve(mux, clientRequest("POST", "/auth/signout", nil, &asha))
	if w.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if revoked != "tok" {
		t.Errorf("revoked token = %q, want tok", revoked)
	}
	got := decodeCart(t, serve(mux, clientRequest("GET", "/cart", nil, nil)).Body.Bytes())
	if got.Synced || len(got.Items) != 0 {
		t.Errorf("after sign-out: synced=%v lines=%d, want empty guest cart", got.Synced, len(got.Items))
	}
}

func TestSignUp(t *testing.T) {
	var gotAttrs map[string]any
	_, mux := testHandler(&gateway.Mock{
		SignUpFunc: func(_ context.Context, email, _ string, attrs map[string]any) (*model.User, error) {
			gotAttrs = attrs
			return &model.User{ID: "u2", Email: email}, nil
		},
	})

	w := serve(mux, clientRequest("POST", "/auth/signup", SignUpRequest{Email: "ravi@example.in", Password: "pw", Name: "Ravi"}, nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotAttrs["name"] != "Ravi" {
		t.Errorf("attrs = %v, want name Ravi", gotAttrs)
	}
	if _, ok := gotAttrs["phone"]; ok {
		t.Error("empty phone was sent as metadata")
	}

	w = serve(mux, clientRequest("POST", "/auth/signup", SignUpRequest{Email: "ravi", Password: "pw"}, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad email: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleMe(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})

	w := serve(mux, clientRequest("GET", "/auth/me", nil, nil))
	if code := errorCode(w.Body.Bytes()); code != "LOGIN_REQUIRED" {
		t.Errorf("anonymous: code = %s, want LOGIN_REQUIRED", code)
	}

	w = serve(mux, clientRequest("GET", "/auth/me", nil, &asha))
	var u model.User
	json.NewDecoder(w.Body).Decode(&u)
	if u.ID != "u1" {
		t.Errorf("ID = %s, want u1", u.ID)
	}
}

func TestProfile(t *testing.T) {
	var saved model.Profile
	mock := &gateway.Mock{
		GetProfileFunc: func(context.Context) (*model.Profile, error) {
			return &model.Profile{Name: "Asha", Phone: "98"}, nil
		},
		UpdateProfileFunc: func(ctx context.Context, p model.Profile) (*model.Profile, error) {
			if id, ok := gateway.UserFrom(ctx); !ok || id.User.ID != "u1" {
				t.Error("UpdateProfile without the signed-in user")
			}
			saved = p
			return &p, nil
		},
	}
	_, mux := testHandler(mock)

	w := serve(mux, clientRequest("GET", "/account/profile", nil, &asha))
	var got ProfileResponse
	json.NewDecoder(w.Body).Decode(&got)
	if got.Email != "asha@example.in" || got.Name != "Asha" || got.Phone != "98" {
		t.Errorf("profile = %+v", got)
	}

	w = serve(mux, clientRequest("PUT", "/account/profile", model.Profile{Name: "   "}, &asha))
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank name: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = serve(mux, clientRequest("PUT", "/account/profile", model.Profile{Name: " Asha Rao ", Phone: "9876543210"}, &asha))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if saved.Name != "Asha Rao" || saved.Phone != "9876543210" {
		t.Errorf("saved = %+v", saved)
	}

	w = serve(mux, clientRequest("PUT", "/account/profile", model.Profile{Name: "x"}, nil))
	if code := errorCode(w.Body.Bytes()); code != "LOGIN_REQUIRED" {
		t.Errorf("anonymous: code = %s, want LOGIN_REQUIRED", code)
	}
}

func TestChangePassword(t *testing.T) {
	var updated []string
	mock := &gateway.Mock{
		SignInFunc: func(_ context.Context, email, password string) (*model.AuthSession, error) {
			if email != "asha@example.in" || password != "old-secret" {
				return nil, model.NewUnauthorizedError("invalid email or password")
			}
			return &model.AuthSession{AccessToken: "tok", User: asha.User}, nil
		},
		UpdatePasswordFunc: func(_ context.Context, token, password string) error {
			updated = append(updated, token+":"+password)
			return nil
		},
	}
	_, mux := testHandler(mock)

	tests := []struct {
		name       string
		req        ChangePasswordRequest
		wantStatus int
	}{
		{"missing current", ChangePasswordRequest{NewPassword: "new-secret"}, http.StatusBadRequest},
		{"too short", ChangePasswordRequest{CurrentPassword: "old-secret", NewPassword: "abc"}, http.StatusBadRequest},
		{"unchanged", ChangePasswordRequest{CurrentPassword: "old-secret", NewPassword: "old-secret"}, http.StatusBadRequest},
		{"wrong current", ChangePasswordRequest{CurrentPassword: "guess", NewPassword: "new-secret"}, http.StatusBadRequest},
		{"changed", ChangePasswordRequest{CurrentPassword: "old-secret", NewPassword: "new-secret"}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, clientRequest("PUT", "/auth/password", tt.req, &asha))
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	if len(updated) != 1 || updated[0] != "tok:new-secret" {
		t.Errorf("password updates = %v, want one with the caller's token", updated)
	}
}

func TestAddresses(t *testing.T) {
	var saved model.Address
	mock := &gateway.Mock{
		SaveAddressFunc: func(_ context.Context, a model.Address) (*model.Address, error) {
			saved = a
			if a.ID == "" {
				a.ID = "addr-1"
			}
			return &a, nil
		},
		DeleteAddressFunc: func(_ context.Context, id model.ID) error {
			if id != "addr-1" {
				return model.NewNotFoundError("address")
			}
			return nil
		},
	}
	_, mux := testHandler(mock)

	w := serve(mux, clientRequest("GET", "/account/addresses", nil, &asha))
	var list addressesResponse
	json.NewDecoder(w.Body).Decode(&list)
	if list.Addresses == nil {
		t.Error("Addresses = null, want []")
	}

	w = serve(mux, clientRequest("POST", "/account/addresses", shippingAddr, &asha))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: Status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if saved.Email != "" {
		t.Errorf("saved Email = %q, want empty", saved.Email)
	}

	incomplete := shippingAddr
	incomplete.PostalCode = ""
	w = serve(mux, clientRequest("POST", "/account/addresses", incomplete, &asha))
	if w.Code != http.StatusBadRequest {
		t.Errorf("incomplete: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = serve(mux, clientRequest("PUT", "/account/addresses/addr-1", shippingAddr, &asha))
	if w.Code != http.StatusOK || saved.ID != "addr-1" {
		t.Errorf("update: Status = %d id = %s, want 200 addr-1", w.Code, saved.ID)
	}

	w = serve(mux, clientRequest("DELETE", "/account/addresses/addr-1", nil, &asha))
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: Status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = serve(mux, clientRequest("DELETE", "/account/addresses/addr-9", nil, &asha))
	if w.Code != http.StatusNotFound {
		t.Errorf("delete unknown: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestOrders(t *testing.T) {
	order := model.Order{ID: "ord-1", UserID: "u1", Status: model.OrderPending, Total: decimal.NewFromInt(286)}
	_, mux := testHandler(&gateway.Mock{
		ListOrdersFunc: func(context.Context) ([]model.Order, error) {
			return []model.Order{order}, nil
		},
		GetOrderFunc: func(_ context.Context, id model.ID) (*model.Order, error) {
			if id == order.ID {
				return &order, nil
			}
			return nil, model.NewNotFoundError("order")
		},
	})

	w := serve(mux, clientRequest("GET", "/account/orders", nil, &asha))
	var list ordersResponse
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Orders) != 1 || list.Orders[0].ID != "ord-1" {
		t.Errorf("Orders = %+v, want ord-1", list.Orders)
	}

	w = serve(mux, clientRequest("GET", "/account/orders/ord-2", nil, &asha))
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// checkoutBackend records orders and proofs for checkout tests.
type checkoutBackend struct {
	mu      sync.Mutex
	orders  map[model.ID]*model.Order
	uploads []string
}

func newCheckoutMock() (*gateway.Mock, *checkoutBackend) {
	b := &checkoutBackend{orders: make(map[model.ID]*model.Order)}
	mock := &gateway.Mock{
		SaveCartFunc: func(context.Context, []model.StoredCartRow) error { return nil },
		SaveAddressFunc: func(_ context.Context, a model.Address) (*model.Address, error) {
			return &a, nil
		},
		CreateOrderFunc: func(_ context.Context, d *model.OrderDraft) (*model.Order, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			o := &model.Order{
				ID:              model.ID(fmt.Sprintf("ord-%d", len(b.orders)+1)),
				Items:           d.Items,
				Total:           d.Total,
				ShippingAddress: d.ShippingAddress,
				PaymentMethod:   d.PaymentMethod,
				Status:          d.Status,
				PaymentStatus:   d.PaymentStatus,
			}
			b.orders[o.ID] = o
			return o, nil
		},
		DeleteOrderFunc: func(_ context.Context, id model.ID) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.orders, id)
			return nil
		},
		AttachPaymentProofFunc: func(_ context.Context, id model.ID, url string) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.orders[id].PaymentProofURL = url
			return nil
		},
		ValidatePromoCodeFunc: func(_ context.Context, code string) (*model.PromoCode, error) {
			if code == "SAVE10" {
				return &model.PromoCode{Code: code, DiscountPercent: decimal.NewFromInt(10), Active: true}, nil
			}
			return nil, model.NewRejectedError("Invalid or expired promo code")
		},
		LogPaymentEventFunc: func(context.Context, model.PaymentEvent) error { return nil },
		UploadFunc: func(_ context.Context, key, _ string, _ io.Reader, _ int64) (string, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.uploads = append(b.uploads, key)
			return "https://files.test/" + key, nil
		},
		InitiatePaymentFunc: func(_ context.Context, req model.PaymentRequest) (string, error) {
			return "https://pay.test/" + req.OrderID.String(), nil
		},
	}
	return mock, b
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) checkout.View {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var v checkout.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

// toReview fills the cart and walks checkout to the review step.
func toReview(t *testing.T, mux http.Handler) {
	t.Helper()
	serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "1", Quantity: 2}, &asha))
	if v := decodeView(t, serve(mux, clientRequest("POST", "/checkout/begin", nil, &asha))); v.State != checkout.StateShipping {
		t.Fatalf("after begin: State = %s, want SHIPPING", v.State)
	}
	addr := shippingAddr
	v := decodeView(t, serve(mux, clientRequest("POST", "/checkout/shipping", checkout.ShippingInput{Address: &addr}, &asha)))
	if v.State != checkout.StateReview {
		t.Fatalf("after shipping: State = %s, want REVIEW", v.State)
	}
}

func TestCheckout_ConfirmWithoutPayment(t *testing.T) {
	mock, backend := newCheckoutMock()
	_, mux := testHandler(mock)
	toReview(t, mux)

	w := serve(mux, clientRequest("POST", "/checkout/promo", PromoRequest{Code: "BOGUS"}, &asha))
	if code := errorCode(w.Body.Bytes()); code != "REJECTED" {
		t.Errorf("bad promo: code = %s, want REJECTED", code)
	}
	v := decodeView(t, serve(mux, clientRequest("POST", "/checkout/promo", PromoRequest{Code: "save10"}, &asha)))
	if v.Quote.PromoCode != "SAVE10" {
		t.Errorf("PromoCode = %q, want SAVE10", v.Quote.PromoCode)
	}

	w = serve(mux, clientRequest("POST", "/checkout/confirm", nil, &asha))
	if w.Code != http.StatusBadRequest {
		t.Errorf("confirm before terms: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	decodeView(t, serve(mux, clientRequest("POST", "/checkout/terms", TermsRequest{Accepted: true}, &asha)))
	v = decodeView(t, serve(mux, clientRequest("POST", "/checkout/confirm", nil, &asha)))
	if v.State != checkout.StateConfirmed {
		t.Errorf("State = %s, want CONFIRMED", v.State)
	}
	if v.OrderID == "" {
		t.Error("confirmed without an order id")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if o := backend.orders[v.OrderID]; o == nil || o.Status != model.OrderPending {
		t.Errorf("order = %+v, want pending", o)
	}
	if got := decodeCart(t, serve(mux, clientRequest("GET", "/cart", nil, &asha)).Body.Bytes()); len(got.Items) != 0 {
		t.Errorf("cart has %d lines after confirmation, want 0", len(got.Items))
	}
}

func TestSignInAsOtherUserResetsSession(t *testing.T) {
	mock, backend := newCheckoutMock()
	users := map[string]model.User{
		"asha@example.in": asha.User,
		"ravi@example.in": {ID: "u2", Email: "ravi@example.in"},
	}
	mock.SignInFunc = func(_ context.Context, email, _ string) (*model.AuthSession, error) {
		return &model.AuthSession{AccessToken: "tok-" + users[email].ID, User: users[email]}, nil
	}
	var mu sync.Mutex
	saves := map[string][]model.StoredCartRow{}
	mock.SaveCartFunc = func(ctx context.Context, rows []model.StoredCartRow) error {
		id, _ := gateway.UserFrom(ctx)
		mu.Lock()
		defer mu.Unlock()
		saves[id.User.ID] = rows
		return nil
	}
	_, mux := testHandler(mock)

	serve(mux, clientRequest("POST", "/auth/signin", SignInRequest{Email: "asha@example.in", Password: "secret"}, nil))
	toReview(t, mux)
	decodeView(t, serve(mux, clientRequest("POST", "/checkout/terms", TermsRequest{Accepted: true}, &asha)))
	pending := decodeView(t, serve(mux, clientRequest("POST", "/checkout/proceed", nil, &asha)))

	w := serve(mux, clientRequest("POST", "/auth/signin", SignInRequest{Email: "ravi@example.in", Password: "secret"}, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	ravi := gateway.Identity{User: users["ravi@example.in"], AccessToken: "tok-u2"}

	v := decodeView(t, serve(mux, clientRequest("GET", "/checkout", nil, &ravi)))
	if v.State != checkout.StateIdle || v.Shipping != nil || v.OrderID != "" {
		t.Errorf("checkout after switch = %s shipping=%v order=%q, want a fresh idle checkout", v.State, v.Shipping, v.OrderID)
	}
	if got := decodeCart(t, serve(mux, clientRequest("GET", "/cart", nil, &ravi)).Body.Bytes()); len(got.Items) != 0 {
		t.Errorf("ravi's cart has %d lines, want 0", len(got.Items))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(saves["u2"]) != 0 {
		t.Errorf("ravi's remote cart got %+v", saves["u2"])
	}
	if len(saves["u1"]) != 1 {
		t.Errorf("asha's remote cart = %+v, want her line kept", saves["u1"])
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if _, ok := backend.orders[pending.OrderID]; ok {
		t.Error("asha's unpaid pending order should be withdrawn")
	}
}

func TestCheckout_StateErrors(t *testing.T) {
	mock, _ := newCheckoutMock()
	_, mux := testHandler(mock)

	w := serve(mux, clientRequest("POST", "/checkout/begin", nil, &asha))
	if code := errorCode(w.Body.Bytes()); code != "EMPTY_CART" {
		t.Errorf("empty cart: code = %s, want EMPTY_CART", code)
	}

	serve(mux, clientRequest("POST", "/cart/items", AddItemRequest{ProductID: "1"}, nil))
	w = serve(mux, clientRequest("POST", "/checkout/begin", nil, nil))
	if code := errorCode(w.Body.Bytes()); code != "LOGIN_REQUIRED" {
		t.Errorf("guest: code = %s, want LOGIN_REQUIRED", code)
	}

	w = serve(mux, clientRequest("POST", "/checkout/proceed", nil, &asha))
	if w.Code != http.StatusConflict {
		t.Errorf("proceed from idle: Status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func proofRequest(t *testing.T, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="proof"; filename="receipt.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := clientRequest("POST", "/checkout/payment/proof", nil, &asha)
	req.Body = io.NopCloser(&body)
	req.ContentLength = int64(body.Len())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCheckout_ManualProof(t *testing.T) {
	mock, backend := newCheckoutMock()
	_, mux := testHandler(mock)
	toReview(t, mux)
	decodeView(t, serve(mux, clientRequest("POST", "/checkout/terms", TermsRequest{Accepted: true}, &asha)))

	v := decodeView(t, serve(mux, clientRequest("POST", "/checkout/proceed", nil, &asha)))
	if v.State != checkout.StatePaymentPending || v.OrderID == "" {
		t.Fatalf("after proceed: %s order=%q, want PAYMENT_PENDING with order", v.State, v.OrderID)
	}
	v = decodeView(t, serve(mux, clientRequest("POST", "/checkout/payment/manual", nil, &asha)))
	if v.Phase != checkout.PhaseAwaitingProof {
		t.Fatalf("Phase = %s, want AWAITING_PROOF", v.Phase)
	}
	if !strings.HasPrefix(v.PaymentURI, "upi://pay?pa=sripickles@upi") {
		t.Errorf("PaymentURI = %s", v.PaymentURI)
	}

	w := serve(mux, proofRequest(t, "application/pdf", []byte("%PDF")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("pdf proof: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	v = decodeView(t, serve(mux, proofRequest(t, "image/png", []byte("\x89PNG fake"))))
	if v.State != checkout.StateConfirmed {
		t.Errorf("State = %s, want CONFIRMED", v.State)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.uploads) != 1 || !strings.HasSuffix(backend.uploads[0], ".png") {
		t.Errorf("uploads = %v, want one png", backend.uploads)
	}
	if backend.orders[v.OrderID].PaymentProofURL == "" {
		t.Error("proof URL not attached to the order")
	}
}

func TestCheckout_GatewayRedirect(t *testing.T) {
	mock, _ := newCheckoutMock()
	_, mux := testHandler(mock)
	toReview(t, mux)
	decodeView(t, serve(mux, clientRequest("POST", "/checkout/terms", TermsRequest{Accepted: true}, &asha)))
	decodeView(t, serve(mux, clientRequest("POST", "/checkout/proceed", nil, &asha)))

	v := decodeView(t, serve(mux, clientRequest("POST", "/checkout/payment/gateway", nil, &asha)))
	if v.Phase != checkout.PhaseRedirected {
		t.Errorf("Phase = %s, want REDIRECTED", v.Phase)
	}
	if v.RedirectURL != "https://pay.test/"+v.OrderID.String() {
		t.Errorf("RedirectURL = %s", v.RedirectURL)
	}

	q := serve(mux, clientRequest("GET", "/checkout/quote", nil, &asha))
	var quote model.Quote
	json.NewDecoder(q.Body).Decode(&quote)
	if !quote.GrandTotal.IsPositive() {
		t.Errorf("GrandTotal = %s, want > 0", quote.GrandTotal)
	}
}

func TestAdmin(t *testing.T) {
	mock := &gateway.Mock{
		ListAllOrdersFunc: func(context.Context) ([]model.Order, error) {
			return []model.Order{{ID: "ord-1", Status: model.OrderPending, Total: decimal.NewFromInt(286)}}, nil
		},
		CountUsersFunc: func(context.Context) (int, error) { return 4, nil },
	}
	_, mux := testHandler(mock)
	admin := gateway.Identity{User: model.User{ID: "a1", Role: "admin"}, AccessToken: "adm"}

	w := serve(mux, clientRequest("GET", "/admin/dashboard", nil, &asha))
	if w.Code != http.StatusForbidden {
		t.Errorf("shopper: Status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = serve(mux, clientRequest("GET", "/admin/dashboard", nil, &admin))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var stats dashboard.Stats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.Users != 4 {
		t.Errorf("Users = %d, want 4", stats.Users)
	}

	w = serve(mux, clientRequest("GET", "/admin/settings", nil, &admin))
	var prefs dashboard.Preferences
	json.NewDecoder(w.Body).Decode(&prefs)
	if prefs.RefreshIntervalMS != 120000 {
		t.Errorf("default RefreshIntervalMS = %d, want 120000", prefs.RefreshIntervalMS)
	}

	prefs.RefreshIntervalMS = 42
	w = serve(mux, clientRequest("PUT", "/admin/settings", prefs, &admin))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid interval: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	prefs.RefreshIntervalMS = 60000
	serve(mux, clientRequest("PUT", "/admin/settings", prefs, &admin))
	w = serve(mux, clientRequest("GET", "/admin/settings", nil, &admin))
	json.NewDecoder(w.Body).Decode(&prefs)
	if prefs.RefreshIntervalMS != 60000 {
		t.Errorf("saved RefreshIntervalMS = %d, want 60000", prefs.RefreshIntervalMS)
	}
}

func TestWriteError_Internal(t *testing.T) {
	h, _ := testHandler(&gateway.Mock{})
	w := httptest.NewRecorder()

	h.writeError(w, fmt.Errorf("boom"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestDecodeJSON_Invalid(t *testing.T) {
	_, mux := testHandler(&gateway.Mock{})
	req := clientRequest("POST", "/cart/items", nil, nil)
	req.Body = io.NopCloser(strings.NewReader("{not json"))

	w := serve(mux, req)

	if code := errorCode(w.Body.Bytes()); code != "VALIDATION_ERROR" {
		t.Errorf("code = %s, want VALIDATION_ERROR", code)
	}
}
