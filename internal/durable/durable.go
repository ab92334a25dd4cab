// Package durable is the storage that outlives a single client request:
// pending order ids, checkout drafts and dashboard preferences. Values are JSON.
package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissing is returned by Get for absent or expired keys.
var ErrMissing = errors.New("durable: key not found")

// Store is a string-keyed byte store with optional expiry.
// A zero ttl means the value never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON loads key into dest. found is false when the key is missing;
// a value that no longer decodes is treated as missing and deleted.
func GetJSON(ctx context.Context, s Store, key string, dest any) (found bool, err error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrMissing) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("durable get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		_ = s.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON stores value under key.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("durable marshal %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("durable set %s: %w", key, err)
	}
	return nil
}

// Keys scoped to one client session.
const (
	keyPendingOrder  = "payment_pending_order_id"
	keyPaymentMethod = "payment_method_type"
	keyCheckoutDraft = "checkout_state"
	keyDashboard     = "admin_dashboard_settings"
)

// PendingOrderKey holds the id of the order awaiting payment.
func PendingOrderKey(session string) string { return sessionKey(session, keyPendingOrder) }

// PaymentMethodKey holds the payment method tag of the pending order.
func PaymentMethodKey(session string) string { return sessionKey(session, keyPaymentMethod) }

// CheckoutDraftKey holds the saved checkout progress.
func CheckoutDraftKey(session string) string { return sessionKey(session, keyCheckoutDraft) }

// DashboardKey holds an admin's dashboard preferences. Scoped by user, not session.
func DashboardKey(userID string) string { return "user:" + userID + ":" + keyDashboard }

// CheckoutKeys lists every key purged when a checkout completes or is cancelled.
func CheckoutKeys(session string) []string {
	return []string{PendingOrderKey(session), PaymentMethodKey(session), CheckoutDraftKey(session)}
}

func sessionKey(session, name string) string {
	return "session:" + session + ":" + name
}
