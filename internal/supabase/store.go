package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront/internal/model"
)

func rest(table string) string { return "/rest/v1/" + table }

// Ping checks that the REST endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableProducts),
		query:  url.Values{"select": {"id"}, "limit": {"1"}},
		cred:   asAnon,
	})
	return err
}

// ListProducts returns active products, newest first. Rows whose variants
// cannot be parsed are kept with no variants.
func (c *Client) ListProducts(ctx context.Context) ([]model.Product, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableProducts),
		query: url.Values{
			"select": {"*"},
			"active": {eq("true")},
			"order":  {"created_at.desc"},
		},
		cred: asAnon,
	})
	if err != nil {
		return nil, err
	}
	var rows []productRow
	if err := resp.decode(&rows); err != nil {
		return nil, err
	}
	products := make([]model.Product, 0, len(rows))
	for _, r := range rows {
		p, ok := r.toProduct()
		if !ok {
			c.logger.Warn("unparseable product variants", "product_id", r.ID, "name", r.Name)
		}
		products = append(products, p)
	}
	return products, nil
}

func (c *Client) GetProduct(ctx context.Context, id model.ID) (*model.Product, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableProducts),
		query: url.Values{
			"select": {"*"},
			"id":     {eq(id.String())},
			"active": {eq("true")},
		},
		cred:   asAnon,
		header: singleObject,
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewNotFoundError("product")
		}
		return nil, err
	}
	var row productRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}
	p, _ := row.toProduct()
	return &p, nil
}

func (c *Client) GetCart(ctx context.Context) ([]model.StoredCartRow, error) {
	uid, err := userID(ctx, "load your cart")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableCart),
		query: url.Values{
			"select":  {"product_id,variant_id,variant_index,quantity"},
			"user_id": {eq(uid)},
		},
	})
	if err != nil {
		return nil, err
	}
	var rows []cartRow
	if err := resp.decode(&rows); err != nil {
		return nil, err
	}
	out := make([]model.StoredCartRow, len(rows))
	for i, r := range rows {
		out[i] = r.toStored()
	}
	return out, nil
}

// SaveCart rewrites the caller's cart: every row is deleted, then the
// current rows inserted.
func (c *Client) SaveCart(ctx context.Context, rows []model.StoredCartRow) error {
	uid, err := userID(ctx, "save your cart")
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   rest(tableCart),
		query:  url.Values{"user_id": {eq(uid)}},
		header: preferMinimal,
	}); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	insert := make([]cartRow, len(rows))
	for i, r := range rows {
		idx := r.VariantIndex
		insert[i] = cartRow{
			UserID:       uid,
			ProductID:    r.ProductID,
			VariantID:    nullable(r.VariantID),
			VariantIndex: &idx,
			Quantity:     r.Quantity,
		}
	}
	if _, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   rest(tableCart),
		body:   insert,
		header: preferMinimal,
	}); err != nil {
		return fmt.Errorf("inserting cart rows: %w", err)
	}
	return nil
}

// ListAddresses returns the caller's addresses, default first.
func (c *Client) ListAddresses(ctx context.Context) ([]model.Address, error) {
	uid, err := userID(ctx, "view your addresses")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableAddresses),
		query: url.Values{
			"select":  {"*"},
			"user_id": {eq(uid)},
			"order":   {"is_default.desc,created_at.desc"},
		},
	})
	if err != nil {
		return nil, err
	}
	var rows []addressRow
	if err := resp.decode(&rows); err != nil {
		return nil, err
	}
	out := make([]model.Address, len(rows))
	for i, r := range rows {
		out[i] = r.toAddress()
	}
	return out, nil
}

func (c *Client) SaveAddress(ctx context.Context, addr model.Address) (*model.Address, error) {
	uid, err := userID(ctx, "save an address")
	if err != nil {
		return nil, err
	}
	if addr.IsDefault {
		if _, err := c.do(ctx, request{
			method: http.MethodPatch,
			path:   rest(tableAddresses),
			query:  url.Values{"user_id": {eq(uid)}},
			body:   map[string]bool{"is_default": false},
			header: preferMinimal,
		}); err != nil {
			return nil, fmt.Errorf("clearing default address: %w", err)
		}
	}

	r := request{
		method: http.MethodPost,
		path:   rest(tableAddresses),
		body:   toAddressRow(uid, addr),
		header: http.Header{
			"Prefer": {"return=representation"},
			"Accept": {"application/vnd.pgrst.object+json"},
		},
	}
	if addr.ID != "" {
		r.method = http.MethodPatch
		r.query = url.Values{"id": {eq(addr.ID.String())}, "user_id": {eq(uid)}}
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewNotFoundError("address")
		}
		return nil, err
	}
	var row addressRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}
	saved := row.toAddress()
	return &saved, nil
}

func (c *Client) DeleteAddress(ctx context.Context, id model.ID) error {
	uid, err := userID(ctx, "delete an address")
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   rest(tableAddresses),
		query:  url.Values{"id": {eq(id.String())}, "user_id": {eq(uid)}},
		header: preferRepresentation,
	})
	if err != nil {
		return err
	}
	return requireAffected(resp, "address")
}

// CreateOrder inserts the order header, then its items. When the items
// cannot be written the header is removed again.
func (c *Client) CreateOrder(ctx context.Context, draft *model.OrderDraft) (*model.Order, error) {
	uid, err := userID(ctx, "place an order")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   rest(tableOrders),
		body:   toOrderRow(uid, draft),
		header: http.Header{
			"Prefer": {"return=representation"},
			"Accept": {"application/vnd.pgrst.object+json"},
		},
	})
	if err != nil {
		return nil, err
	}
	var row orderRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}

	if len(draft.Items) > 0 {
		if _, err := c.do(ctx, request{
			method: http.MethodPost,
			path:   rest(tableOrderItems),
			body:   toItemRows(row.ID, draft.Items),
			header: preferMinimal,
		}); err != nil {
			if derr := c.deleteOrderRows(ctx, uid, row.ID); derr != nil {
				c.logger.Warn("removing order without items failed", "order_id", row.ID, "error", derr)
			}
			return nil, fmt.Errorf("inserting order items: %w", err)
		}
	}

	order := row.toOrder()
	order.Items = append([]model.OrderItem(nil), draft.Items...)
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, id model.ID) (*model.Order, error) {
	uid, err := userID(ctx, "view your orders")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableOrders),
		query: url.Values{
			"select":  {"*,order_items(*)"},
			"id":      {eq(id.String())},
			"user_id": {eq(uid)},
		},
		header: singleObject,
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewNotFoundError("order")
		}
		return nil, err
	}
	var row orderRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}
	o := row.toOrder()
	return &o, nil
}

// ListOrders returns the caller's orders, newest first.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	uid, err := userID(ctx, "view your orders")
	if err != nil {
		return nil, err
	}
	return c.listOrders(ctx, request{
		query: url.Values{"user_id": {eq(uid)}},
	})
}

// ListAllOrders returns every order, newest first. Needs the service key
// or an admin token the row policies accept.
func (c *Client) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	return c.listOrders(ctx, request{query: url.Values{}, cred: c.adminCred()})
}

func (c *Client) listOrders(ctx context.Context, r request) ([]model.Order, error) {
	r.method = http.MethodGet
	r.path = rest(tableOrders)
	r.query.Set("select", "*,order_items(*)")
	r.query.Set("order", "created_at.desc")
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var rows []orderRow
	if err := resp.decode(&rows); err != nil {
		return nil, err
	}
	out := make([]model.Order, len(rows))
	for i, row := range rows {
		out[i] = row.toOrder()
	}
	return out, nil
}

func (c *Client) adminCred() credential {
	if c.serviceKey != "" {
		return asService
	}
	return asUser
}

// DeleteOrder removes the caller's order and its items.
func (c *Client) DeleteOrder(ctx context.Context, id model.ID) error {
	uid, err := userID(ctx, "cancel an order")
	if err != nil {
		return err
	}
	return c.deleteOrderRows(ctx, uid, id)
}

func (c *Client) deleteOrderRows(ctx context.Context, uid string, id model.ID) error {
	if _, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   rest(tableOrderItems),
		query:  url.Values{"order_id": {eq(id.String())}},
		header: preferMinimal,
	}); err != nil {
		return fmt.Errorf("deleting order items: %w", err)
	}
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   rest(tableOrders),
		query:  url.Values{"id": {eq(id.String())}, "user_id": {eq(uid)}},
		header: preferRepresentation,
	})
	if err != nil {
		return err
	}
	return requireAffected(resp, "order")
}

func (c *Client) AttachPaymentProof(ctx context.Context, orderID model.ID, proofURL string) error {
	uid, err := userID(ctx, "upload a payment proof")
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   rest(tableOrders),
		query:  url.Values{"id": {eq(orderID.String())}, "user_id": {eq(uid)}},
		body:   map[string]string{"payment_proof_url": proofURL},
		header: preferRepresentation,
	})
	if err != nil {
		return err
	}
	return requireAffected(resp, "order")
}

// ValidatePromoCode looks up an active code whose window contains now.
func (c *Client) ValidatePromoCode(ctx context.Context, code string) (*model.PromoCode, error) {
	now := c.now().UTC().Format(time.RFC3339)
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tablePromoCodes),
		query: url.Values{
			"select":        {"*"},
			"code":          {eq(model.NormalizePromoCode(code))},
			"active":        {eq("true")},
			"valid_from":    {"lte." + now},
			"valid_through": {"gte." + now},
		},
		header: singleObject,
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewRejectedError("Invalid or expired promo code")
		}
		return nil, err
	}
	var row promoRow
	if err := resp.decode(&row); err != nil {
		return nil, err
	}
	return row.toPromo(), nil
}

func (c *Client) LogPaymentEvent(ctx context.Context, ev model.PaymentEvent) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   rest(tablePaymentLogs),
		body: paymentLogRow{
			OrderID: ev.OrderID,
			Stage:   ev.Stage,
			Status:  ev.Status,
			Details: ev.Details,
		},
		header: preferMinimal,
	})
	return err
}

// CountUsers counts profiles using PostgREST's exact count.
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rest(tableProfiles),
		query:  url.Values{"select": {"id"}, "limit": {"1"}},
		cred:   c.adminCred(),
		header: http.Header{"Prefer": {"count=exact"}},
	})
	if err != nil {
		return 0, err
	}
	return parseContentRangeTotal(resp.header.Get("Content-Range"))
}

// parseContentRangeTotal reads the total of "0-0/42" or "*/0".
func parseContentRangeTotal(cr string) (int, error) {
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return 0, fmt.Errorf("missing count in content range %q", cr)
	}
	n, err := strconv.Atoi(cr[i+1:])
	if err != nil {
		return 0, fmt.Errorf("parsing content range %q: %w", cr, err)
	}
	return n, nil
}

// requireAffected fails with not found when a return=representation
// mutation matched no row.
func requireAffected(resp *response, resource string) error {
	var rows []map[string]any
	if err := resp.decode(&rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return model.NewNotFoundError(resource)
	}
	return nil
}
