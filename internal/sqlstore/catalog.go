package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

const productColumns = `id, name, category, image_url, tag, rating, description, variants, active`

type productRecord struct {
	ID          int64
	Name        string
	Category    string
	Image       sql.NullString
	Tag         sql.NullString
	Rating      decimal.NullDecimal
	Description sql.NullString
	Variants    []byte
	Active      bool
}

func (r *productRecord) scan(sc interface{ Scan(...any) error }) error {
	return sc.Scan(&r.ID, &r.Name, &r.Category, &r.Image, &r.Tag, &r.Rating, &r.Description, &r.Variants, &r.Active)
}

// toProduct applies the catalog defaults: the tag falls back to the
// category and a missing or zero rating shows the default.
func (r productRecord) toProduct() (model.Product, error) {
	p := model.Product{
		ID:          model.ID(strconv.FormatInt(r.ID, 10)),
		Name:        r.Name,
		Category:    r.Category,
		Image:       r.Image.String,
		Tag:         strings.TrimSpace(r.Tag.String),
		Rating:      model.DefaultRating,
		Description: r.Description.String,
		Active:      r.Active,
	}
	if p.Tag == "" {
		p.Tag = p.Category
	}
	if r.Rating.Valid && r.Rating.Decimal.IsPositive() {
		p.Rating = r.Rating.Decimal
	}
	if len(r.Variants) > 0 && string(r.Variants) != "null" {
		var variants []model.Variant
		if err := json.Unmarshal(r.Variants, &variants); err != nil {
			return p, err
		}
		p.Variants = model.AssignVariantIDs(variants)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE active = TRUE ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, dbError("list products", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var rec productRecord
		if err := rec.scan(rows); err != nil {
			return nil, dbError("scan product", err)
		}
		p, err := rec.toProduct()
		if err != nil {
			s.logger.Warn("skipping variants that do not parse", "product_id", rec.ID, "error", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id model.ID) (*model.Product, error) {
	n, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil {
		return nil, model.NewNotFoundError("product")
	}
	var rec productRecord
	err = rec.scan(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, n))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("product")
	}
	if err != nil {
		return nil, dbError("get product", err)
	}
	p, err := rec.toProduct()
	if err != nil {
		s.logger.Warn("skipping variants that do not parse", "product_id", rec.ID, "error", err)
	}
	return &p, nil
}
