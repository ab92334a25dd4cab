package gateway

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/model"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFrom(ctx); ok {
		t.Fatal("empty context should carry no identity")
	}
	if _, err := RequireUser(ctx, "checkout"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("RequireUser() = %v, want unauthorized", err)
	}

	ctx = WithUser(ctx, Identity{User: model.User{ID: "u1"}, AccessToken: "tok"})
	id, err := RequireUser(ctx, "checkout")
	if err != nil || id.User.ID != "u1" || id.AccessToken != "tok" {
		t.Errorf("RequireUser() = %+v, %v", id, err)
	}

	if _, ok := UserFrom(WithUser(context.Background(), Identity{})); ok {
		t.Error("identity without user id should not count")
	}
}

func TestCompose(t *testing.T) {
	auth := &Mock{GetUserFunc: func(context.Context, string) (*model.User, error) {
		return &model.User{ID: "from-auth"}, nil
	}}
	store := &Mock{CountUsersFunc: func(context.Context) (int, error) { return 7, nil }}

	b := Compose(auth, store, &Mock{}, &Mock{})

	u, err := b.GetUser(context.Background(), "t")
	if err != nil || u.ID != "from-auth" {
		t.Errorf("GetUser() = %+v, %v", u, err)
	}
	n, err := b.CountUsers(context.Background())
	if err != nil || n != 7 {
		t.Errorf("CountUsers() = %d, %v", n, err)
	}
}
