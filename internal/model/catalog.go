// Package model defines the storefront domain types shared by every layer:
// catalog, cart, checkout, orders and the backend rows they map to.
package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ID is an entity identifier that tolerates both JSON numbers and strings.
// The hosted store returns numeric ids for some tables and uuids for others.
type ID string

// UnmarshalJSON accepts 42, "42" and "6f1c...".
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the raw identifier.
func (id ID) String() string { return string(id) }

// SameID reports whether two identifiers name the same entity, treating
// numeric forms loosely ("7" == "07" == 7).
func SameID(a, b ID) bool {
	as, bs := strings.TrimSpace(string(a)), strings.TrimSpace(string(b))
	if as == bs {
		return true
	}
	an, aerr := strconv.ParseInt(as, 10, 64)
	bn, berr := strconv.ParseInt(bs, 10, 64)
	return aerr == nil && berr == nil && an == bn
}

// Variant is a purchasable option of a product (weight, size).
type Variant struct {
	// ID is stable across reorderings of the variant list.
	ID    string          `json:"id"`
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
	// Stock is nil when stock is unconstrained.
	Stock *int `json:"stock,omitempty"`
}

// Product is a catalog entry. Immutable once loaded into the catalog cache.
type Product struct {
	ID          ID              `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Tag         string          `json:"tag,omitempty"`
	Rating      decimal.Decimal `json:"rating"`
	Description string          `json:"description"`
	Variants    []Variant       `json:"variants"`
	Active      bool            `json:"-"`
}

// DefaultRating is shown for products without a stored rating.
var DefaultRating = decimal.RequireFromString("4.5")

// FirstPrice returns the price of the first variant, or zero.
func (p Product) FirstPrice() decimal.Decimal {
	if len(p.Variants) == 0 {
		return decimal.Zero
	}
	return p.Variants[0].Price
}

// VariantByID looks up a variant and its position.
func (p Product) VariantByID(id string) (Variant, int, bool) {
	for i, v := range p.Variants {
		if v.ID == id {
			return v, i, true
		}
	}
	return Variant{}, -1, false
}

// VariantByLabel looks up a variant by its display label.
func (p Product) VariantByLabel(label string) (Variant, int, bool) {
	for i, v := range p.Variants {
		if v.Label == label {
			return v, i, true
		}
	}
	return Variant{}, -1, false
}

// ResolveVariant finds a variant by stable id first, then by positional index,
// then falls back to the first variant. Mirrors how stored cart rows written
// before variants had ids are interpreted.
func (p Product) ResolveVariant(id string, index int) (Variant, int, bool) {
	if id != "" {
		if v, i, ok := p.VariantByID(id); ok {
			return v, i, true
		}
	}
	if index >= 0 && index < len(p.Variants) {
		return p.Variants[index], index, true
	}
	if len(p.Variants) > 0 {
		return p.Variants[0], 0, true
	}
	return Variant{}, -1, false
}

// AssignVariantIDs gives every variant without an id a stable one derived
// from its label. Derived ids are unique within the product.
func AssignVariantIDs(variants []Variant) []Variant {
	seen := make(map[string]int, len(variants))
	for _, v := range variants {
		if v.ID != "" {
			seen[v.ID]++
		}
	}
	out := make([]Variant, len(variants))
	for i, v := range variants {
		if v.ID == "" {
			base := VariantSlug(v.Label)
			id := base
			for n := 2; seen[id] > 0; n++ {
				id = base + "-" + strconv.Itoa(n)
			}
			seen[id]++
			v.ID = id
		}
		out[i] = v
	}
	return out
}

// VariantSlug lowercases a label and keeps only [a-z0-9], joined by dashes.
// "500 g (Jar)" → "500-g-jar".
func VariantSlug(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "standard"
	}
	return s
}
