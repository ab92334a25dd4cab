package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// GetProfile returns an empty profile for users who never saved one.
func (s *Store) GetProfile(ctx context.Context) (*model.Profile, error) {
	uid, err := userID(ctx, "view your profile")
	if err != nil {
		return nil, err
	}
	var p model.Profile
	err = s.db.QueryRowContext(ctx, `SELECT name, phone FROM profiles WHERE user_id = ?`, uid).Scan(&p.Name, &p.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		id, _ := gateway.UserFrom(ctx)
		return &model.Profile{Name: id.User.Name, Phone: id.User.Phone}, nil
	}
	if err != nil {
		return nil, dbError("get profile", err)
	}
	return &p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	uid, err := userID(ctx, "update your profile")
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, name, phone, updated_at) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE name = VALUES(name), phone = VALUES(phone), updated_at = VALUES(updated_at)`,
		uid, p.Name, p.Phone, s.now().UTC())
	if err != nil {
		return nil, dbError("update profile", err)
	}
	return &p, nil
}

func (s *Store) ListAddresses(ctx context.Context) ([]model.Address, error) {
	uid, err := userID(ctx, "view your addresses")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, address, city, state, pincode, is_default FROM addresses
		 WHERE user_id = ? ORDER BY is_default DESC, created_at DESC`, uid)
	if err != nil {
		return nil, dbError("list addresses", err)
	}
	defer rows.Close()

	var out []model.Address
	for rows.Next() {
		var (
			a           model.Address
			city, state sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Phone, &a.Street, &city, &state, &a.PostalCode, &a.IsDefault); err != nil {
			return nil, dbError("scan address", err)
		}
		a.City, a.State = city.String, state.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list addresses", err)
	}
	return out, nil
}

// SaveAddress never stores the email; saved addresses are contact-free.
func (s *Store) SaveAddress(ctx context.Context, addr model.Address) (*model.Address, error) {
	uid, err := userID(ctx, "save an address")
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError("begin address save", err)
	}
	defer tx.Rollback()

	if addr.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE addresses SET is_default = FALSE WHERE user_id = ?`, uid); err != nil {
			return nil, dbError("clear default address", err)
		}
	}

	addr.Email = ""
	if addr.ID == "" {
		addr.ID = model.ID(uuid.NewString())
		_, err = tx.ExecContext(ctx,
			`INSERT INTO addresses (id, user_id, name, phone, address, city, state, pincode, is_default, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			addr.ID.String(), uid, addr.Name, addr.Phone, addr.Street, addr.City, addr.State, addr.PostalCode,
			addr.IsDefault, s.now().UTC())
		if err != nil {
			return nil, dbError("insert address", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE addresses SET name = ?, phone = ?, address = ?, city = ?, state = ?, pincode = ?, is_default = ?
			 WHERE id = ? AND user_id = ?`,
			addr.Name, addr.Phone, addr.Street, addr.City, addr.State, addr.PostalCode, addr.IsDefault,
			addr.ID.String(), uid)
		if err != nil {
			return nil, dbError("update address", err)
		}
		if err := requireAffected(res, "address"); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("commit address save", err)
	}
	return &addr, nil
}

func (s *Store) DeleteAddress(ctx context.Context, id model.ID) error {
	uid, err := userID(ctx, "delete an address")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = ? AND user_id = ?`, id.String(), uid)
	if err != nil {
		return dbError("delete address", err)
	}
	return requireAffected(res, "address")
}

// CreateOrder writes the header and items in one transaction.
func (s *Store) CreateOrder(ctx context.Context, draft *model.OrderDraft) (*model.Order, error) {
	uid, err := userID(ctx, "place an order")
	if err != nil {
		return nil, err
	}
	order := model.Order{
		ID:              model.ID(uuid.NewString()),
		UserID:          uid,
		Items:           append([]model.OrderItem(nil), draft.Items...),
		Subtotal:        draft.Subtotal,
		Tax:             draft.Tax,
		Shipping:        draft.Shipping,
		Discount:        draft.Discount,
		Total:           draft.Total,
		PromoCode:       draft.PromoCode,
		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.ShippingAddress,
		PaymentMethod:   draft.PaymentMethod,
		Status:          draft.Status,
		PaymentStatus:   draft.PaymentStatus,
		CreatedAt:       s.now().UTC(),
	}
	if draft.BillingAddress != nil {
		order.BillingAddress = *draft.BillingAddress
	}
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("encoding shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("encoding billing address: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError("begin order", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, status, total_amount, subtotal, gst, shipping_cost, discount, promo_code,
		 shipping_address, billing_address, payment_method, payment_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID.String(), uid, order.Status, order.Total, order.Subtotal, order.Tax, order.Shipping, order.Discount,
		nullString(order.PromoCode), shipping, billing, nullString(order.PaymentMethod), order.PaymentStatus,
		order.CreatedAt); err != nil {
		return nil, dbError("insert order", err)
	}
	for _, it := range order.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, variant_label, quantity, price)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID.String(), nullString(it.ProductID.String()), it.Name, nullString(it.Variant), it.Quantity, it.Price); err != nil {
			return nil, dbError("insert order item", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("commit order", err)
	}
	return &order, nil
}

const orderColumns = `id, user_id, status, total_amount, subtotal, gst, shipping_cost, discount, promo_code,
	shipping_address, billing_address, payment_method, payment_status, payment_proof_url, created_at`

func scanOrder(sc interface{ Scan(...any) error }) (model.Order, error) {
	var (
		o                         model.Order
		promo, method, proof      sql.NullString
		shippingJSON, billingJSON []byte
	)
	if err := sc.Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.Subtotal, &o.Tax, &o.Shipping, &o.Discount,
		&promo, &shippingJSON, &billingJSON, &method, &o.PaymentStatus, &proof, &o.CreatedAt); err != nil {
		return o, err
	}
	o.PromoCode, o.PaymentMethod, o.PaymentProofURL = promo.String, method.String, proof.String
	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("decoding shipping address: %w", err)
	}
	o.BillingAddress = o.ShippingAddress
	if len(billingJSON) > 0 && string(billingJSON) != "null" {
		if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
			return o, fmt.Errorf("decoding billing address: %w", err)
		}
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id model.ID) (*model.Order, error) {
	uid, err := userID(ctx, "view your orders")
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? AND user_id = ?`, id.String(), uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("order")
	}
	if err != nil {
		return nil, dbError("get order", err)
	}
	orders := []model.Order{o}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (s *Store) ListOrders(ctx context.Context) ([]model.Order, error) {
	uid, err := userID(ctx, "view your orders")
	if err != nil {
		return nil, err
	}
	return s.listOrders(ctx, `WHERE user_id = ?`, uid)
}

// ListAllOrders is unscoped; the caller enforces the admin role.
func (s *Store) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.listOrders(ctx, "")
}

func (s *Store) listOrders(ctx context.Context, where string, args ...any) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, dbError("list orders", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, dbError("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list orders", err)
	}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the items for all orders with one query.
func (s *Store) attachItems(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	args := make([]any, len(orders))
	for i, o := range orders {
		index[o.ID.String()] = i
		args[i] = o.ID.String()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, product_id, product_name, variant_label, quantity, price FROM order_items
		 WHERE order_id IN (`+placeholders(len(args))+`) ORDER BY id`, args...)
	if err != nil {
		return dbError("list order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID          string
			product, variant sql.NullString
			it               model.OrderItem
		)
		if err := rows.Scan(&orderID, &product, &it.Name, &variant, &it.Quantity, &it.Price); err != nil {
			return dbError("scan order item", err)
		}
		it.ProductID, it.Variant = model.ID(product.String), variant.String
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return dbError("list order items", err)
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id model.ID) error {
	uid, err := userID(ctx, "cancel an order")
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin order delete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ? AND user_id = ?`, id.String(), uid)
	if err != nil {
		return dbError("delete order", err)
	}
	if err := requireAffected(res, "order"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id.String()); err != nil {
		return dbError("delete order items", err)
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit order delete", err)
	}
	return nil
}

func (s *Store) AttachPaymentProof(ctx context.Context, orderID model.ID, url string) error {
	uid, err := userID(ctx, "upload a payment proof")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_proof_url = ? WHERE id = ? AND user_id = ?`, url, orderID.String(), uid)
	if err != nil {
		return dbError("attach payment proof", err)
	}
	return requireAffected(res, "order")
}

// ValidatePromoCode treats a NULL bound as open.
func (s *Store) ValidatePromoCode(ctx context.Context, code string) (*model.PromoCode, error) {
	now := s.now().UTC()
	var (
		p             model.PromoCode
		from, through sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, discount_percent, active, valid_from, valid_through FROM promo_codes
		 WHERE code = ? AND active = TRUE
		   AND (valid_from IS NULL OR valid_from <= ?)
		   AND (valid_through IS NULL OR valid_through >= ?)`,
		model.NormalizePromoCode(code), now, now).
		Scan(&p.Code, &p.DiscountPercent, &p.Active, &from, &through)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewRejectedError("Invalid or expired promo code")
	}
	if err != nil {
		return nil, dbError("validate promo code", err)
	}
	p.ValidFrom, p.ValidThrough = from.Time, through.Time
	return &p, nil
}

func (s *Store) LogPaymentEvent(ctx context.Context, ev model.PaymentEvent) error {
	var details []byte
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encoding payment event details: %w", err)
		}
		details = b
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_logs (order_id, stage, status, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.OrderID.String(), ev.Stage, ev.Status, details, s.now().UTC()); err != nil {
		return dbError("log payment event", err)
	}
	return nil
}

// CountUsers counts distinct users with any stored profile, cart, address
// or order.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (
			SELECT user_id FROM profiles
			UNION SELECT user_id FROM orders
			UNION SELECT user_id FROM addresses
			UNION SELECT user_id FROM cart_items
		) u`).Scan(&n)
	if err != nil {
		return 0, dbError("count users", err)
	}
	return n, nil
}

func requireAffected(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if n == 0 {
		return model.NewNotFoundError(resource)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
