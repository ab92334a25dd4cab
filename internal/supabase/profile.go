package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"storefront/internal/model"
)

type profileRow struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

func (r profileRow) toProfile() *model.Profile {
	p := &model.Profile{}
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Phone != nil {
		p.Phone = *r.Phone
	}
	return p
}

func (c *Client) GetProfile(ctx context.Context) (*model.Profile, error) {
	uid, err := userID(ctx, "view your profile")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableProfiles),
		query:  url.Values{"select": {"name,phone"}, "id": {eq(uid)}},
		header: singleObject,
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewNotFoundError("profile")
		}
		return nil, err
	}
	var row profileRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}

// UpdateProfile writes name and phone to the caller's profile row, which the
// backend creates on sign-up.
func (c *Client) UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	uid, err := userID(ctx, "update your profile")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   rest(tableProfiles),
		query:  url.Values{"id": {eq(uid)}, "select": {"name,phone"}},
		body:   map[string]string{"name": p.Name, "phone": p.Phone},
		header: http.Header{
			"Prefer": {"return=representation"},
			"Accept": {"application/vnd.pgrst.object+json"},
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewNotFoundError("profile")
		}
		return nil, err
	}
	var row profileRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}
