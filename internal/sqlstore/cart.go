package sqlstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"storefront/internal/model"
	"storefront/internal/reconcile"
)

func (s *Store) GetCart(ctx context.Context) ([]model.StoredCartRow, error) {
	uid, err := userID(ctx, "load your cart")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, variant_id, variant_index, quantity FROM cart_items WHERE user_id = ? ORDER BY line_no, id`, uid)
	if err != nil {
		return nil, dbError("get cart", err)
	}
	defer rows.Close()

	var out []model.StoredCartRow
	for rows.Next() {
		var r model.StoredCartRow
		if err := rows.Scan(&r.ProductID, &r.VariantID, &r.VariantIndex, &r.Quantity); err != nil {
			return nil, dbError("scan cart row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("get cart", err)
	}
	return out, nil
}

// SaveCart brings the stored rows to the given state with the fewest
// statements, inside one transaction holding the caller's rows locked.
func (s *Store) SaveCart(ctx context.Context, desired []model.StoredCartRow) error {
	uid, err := userID(ctx, "save your cart")
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin cart save", err)
	}
	defer tx.Rollback()

	current, err := lockCart(ctx, tx, uid)
	if err != nil {
		return err
	}
	diff := planCart(current, desired)
	if diff.IsEmpty() {
		return tx.Commit()
	}
	s.logger.Debug("saving cart", "user_id", uid,
		"add", len(diff.ToAdd), "update", len(diff.ToUpdate), "remove", len(diff.ToRemove))

	for _, r := range diff.ToRemove {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ? AND user_id = ?`, r.RowID, uid); err != nil {
			return dbError("remove cart row", err)
		}
	}
	for _, u := range diff.ToUpdate {
		if _, err := tx.ExecContext(ctx, `UPDATE cart_items SET quantity = ? WHERE id = ? AND user_id = ?`,
			u.NewQuantity, u.RowID, uid); err != nil {
			return dbError("update cart row", err)
		}
	}
	lineNo := len(current)
	for _, a := range diff.ToAdd {
		lineNo++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cart_items (id, user_id, product_id, variant_id, variant_index, quantity, line_no) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), uid, a.ProductID, a.VariantID, a.VariantIndex, a.Quantity, lineNo); err != nil {
			return dbError("insert cart row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit cart save", err)
	}
	return nil
}

func lockCart(ctx context.Context, tx *sql.Tx, uid string) ([]reconcile.CurrentItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, product_id, variant_id, quantity FROM cart_items WHERE user_id = ? ORDER BY line_no, id FOR UPDATE`, uid)
	if err != nil {
		return nil, dbError("lock cart", err)
	}
	defer rows.Close()

	var current []reconcile.CurrentItem
	for rows.Next() {
		var c reconcile.CurrentItem
		if err := rows.Scan(&c.RowID, &c.ProductID, &c.VariantID, &c.Quantity); err != nil {
			return nil, dbError("scan cart row", err)
		}
		current = append(current, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("lock cart", err)
	}
	return current, nil
}

// planCart diffs stored rows against the desired cart. Rows that duplicate
// an earlier stored line are removed, as are desired lines with no quantity.
func planCart(current []reconcile.CurrentItem, desired []model.StoredCartRow) *reconcile.LineItemDiff {
	seen := make(map[[2]string]bool, len(current))
	unique := make([]reconcile.CurrentItem, 0, len(current))
	var extra []reconcile.ItemToRemove
	for _, c := range current {
		k := [2]string{c.ProductID, c.VariantID}
		if seen[k] {
			extra = append(extra, reconcile.ItemToRemove{ProductID: c.ProductID, RowID: c.RowID})
			continue
		}
		seen[k] = true
		unique = append(unique, c)
	}

	want := make([]reconcile.DesiredItem, 0, len(desired))
	for _, d := range desired {
		if d.Quantity <= 0 {
			continue
		}
		want = append(want, reconcile.DesiredItem{
			ProductID:    d.ProductID.String(),
			VariantID:    d.VariantID,
			VariantIndex: d.VariantIndex,
			Quantity:     d.Quantity,
		})
	}

	diff := reconcile.DiffLineItems(unique, want)
	diff.ToRemove = append(diff.ToRemove, extra...)
	return diff
}
