package gateway

import (
	"context"

	"storefront/internal/model"
)

// Identity is the authenticated caller of a backend operation.
type Identity struct {
	User        model.User
	AccessToken string
}

type identityKey struct{}

// WithUser attaches the caller identity to ctx.
func WithUser(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// UserFrom returns the caller identity, if any.
func UserFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.User.ID != ""
}

// RequireUser returns the caller or a login-required error naming action.
func RequireUser(ctx context.Context, action string) (Identity, error) {
	id, ok := UserFrom(ctx)
	if !ok {
		return Identity{}, model.NewLoginRequiredError(action)
	}
	return id, nil
}
