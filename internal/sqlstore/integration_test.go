//go:build integration
// +build integration

// Integration tests against a scratch MySQL or TiDB database.
// Run with: go test -tags=integration ./internal/sqlstore/... -v
//
// Required environment variables:
//
//	MYSQL_DSN - e.g. root:secret@tcp(127.0.0.1:3306)/storefront_test
//
// Optional:
//
//	MYSQL_CA_FILE - PEM bundle for servers with a private CA
package sqlstore

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

func integrationStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: MYSQL_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	s, err := Open(ctx, Config{DSN: dsn, CAFile: os.Getenv("MYSQL_CA_FILE")}, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	uid := "it-" + uuid.NewString()
	ctx = gateway.WithUser(ctx, gateway.Identity{User: model.User{ID: uid, Email: uid + "@example.test"}})
	return s, ctx
}

func TestIntegration_CartRoundTrip(t *testing.T) {
	s, ctx := integrationStore(t)

	first := []model.StoredCartRow{
		{ProductID: "1", VariantID: "250-g", Quantity: 2},
		{ProductID: "2", VariantID: "500-g", VariantIndex: 1, Quantity: 1},
	}
	if err := s.SaveCart(ctx, first); err != nil {
		t.Fatalf("SaveCart: %v", err)
	}
	second := []model.StoredCartRow{
		{ProductID: "1", VariantID: "250-g", Quantity: 5},
		{ProductID: "3", VariantID: "1-kg", Quantity: 1},
	}
	if err := s.SaveCart(ctx, second); err != nil {
		t.Fatalf("SaveCart: %v", err)
	}

	got, err := s.GetCart(ctx)
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(got) != 2 || got[0].ProductID != "1" || got[0].Quantity != 5 || got[1].ProductID != "3" {
		t.Errorf("cart = %+v", got)
	}

	if err := s.SaveCart(ctx, nil); err != nil {
		t.Fatalf("clearing cart: %v", err)
	}
	if got, _ := s.GetCart(ctx); len(got) != 0 {
		t.Errorf("cart after clear = %+v", got)
	}
}

func TestIntegration_OrderLifecycle(t *testing.T) {
	s, ctx := integrationStore(t)

	addr := model.Address{Name: "Asha", Phone: "9876543210", Street: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001"}
	order, err := s.CreateOrder(ctx, &model.OrderDraft{
		Items:           []model.OrderItem{{ProductID: "1", Name: "Mango Pickle", Variant: "250 g", Price: decimal.NewFromInt(100), Quantity: 2}},
		Subtotal:        decimal.NewFromInt(200),
		Tax:             decimal.NewFromInt(36),
		Shipping:        decimal.NewFromInt(50),
		Total:           decimal.NewFromInt(286),
		ShippingAddress: addr,
		PaymentMethod:   model.MethodOnline,
		Status:          model.OrderPendingPayment,
		PaymentStatus:   model.PaymentPending,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := s.AttachPaymentProof(ctx, order.ID, "https://example.test/proof.jpg"); err != nil {
		t.Fatalf("AttachPaymentProof: %v", err)
	}
	got, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(got.Items) != 1 || !got.Total.Equal(decimal.NewFromInt(286)) || got.BillingAddress.City != "Pune" {
		t.Errorf("order = %+v", got)
	}
	if got.PaymentProofURL == "" {
		t.Error("proof URL not stored")
	}

	if err := s.DeleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if _, err := s.GetOrder(ctx, order.ID); err == nil {
		t.Error("order still readable after delete")
	}
}

func TestIntegration_Addresses(t *testing.T) {
	s, ctx := integrationStore(t)

	a, err := s.SaveAddress(ctx, model.Address{Name: "Asha", Phone: "1", Street: "x", PostalCode: "411001", IsDefault: true})
	if err != nil {
		t.Fatalf("SaveAddress: %v", err)
	}
	b, err := s.SaveAddress(ctx, model.Address{Name: "Ravi", Phone: "2", Street: "y", PostalCode: "560001", IsDefault: true})
	if err != nil {
		t.Fatalf("SaveAddress: %v", err)
	}
	list, err := s.ListAddresses(ctx)
	if err != nil {
		t.Fatalf("ListAddresses: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID || list[1].IsDefault {
		t.Errorf("addresses = %+v", list)
	}
	for _, id := range []model.ID{a.ID, b.ID} {
		if err := s.DeleteAddress(ctx, id); err != nil {
			t.Errorf("DeleteAddress(%s): %v", id, err)
		}
	}
}

func TestIntegration_Profile(t *testing.T) {
	s, ctx := integrationStore(t)

	p, err := s.GetProfile(ctx)
	if err != nil || p.Name != "" {
		t.Fatalf("GetProfile before save = %+v, %v", p, err)
	}
	for _, want := range []model.Profile{{Name: "Asha", Phone: "1"}, {Name: "Asha Rao", Phone: "9876543210"}} {
		if _, err := s.UpdateProfile(ctx, want); err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		got, err := s.GetProfile(ctx)
		if err != nil || *got != want {
			t.Errorf("GetProfile = %+v, %v, want %+v", got, err, want)
		}
	}
}
