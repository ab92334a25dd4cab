package cart

import (
	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

// Selection is a scratch list of variant quantities for one product, built
// up on the product page before being committed to the cart in one step.
type Selection struct {
	product model.Product
	qty     map[string]int
	order   []string
}

// SelectionLine is one variant in a selection.
type SelectionLine struct {
	Variant  model.Variant `json:"variant"`
	Index    int           `json:"index"`
	Quantity int           `json:"quantity"`
}

// NewSelection starts an empty selection for product.
func NewSelection(product model.Product) *Selection {
	return &Selection{product: product, qty: make(map[string]int)}
}

// Product returns the product being selected.
func (s *Selection) Product() model.Product { return s.product }

// Set replaces the quantity of a variant. A quantity ≤ 0 drops the variant.
func (s *Selection) Set(variantID string, qty int) error {
	if _, _, ok := s.product.VariantByID(variantID); !ok {
		return model.NewValidationError("variant", "not offered for "+s.product.Name)
	}
	if qty <= 0 {
		s.drop(variantID)
		return nil
	}
	if _, exists := s.qty[variantID]; !exists {
		s.order = append(s.order, variantID)
	}
	s.qty[variantID] = qty
	return nil
}

// Adjust changes a variant's quantity by delta.
func (s *Selection) Adjust(variantID string, delta int) error {
	return s.Set(variantID, s.qty[variantID]+delta)
}

func (s *Selection) drop(variantID string) {
	if _, exists := s.qty[variantID]; !exists {
		return
	}
	delete(s.qty, variantID)
	for i, id := range s.order {
		if id == variantID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Lines returns the selected variants in the order they were first chosen.
func (s *Selection) Lines() []SelectionLine {
	out := make([]SelectionLine, 0, len(s.order))
	for _, id := range s.order {
		v, idx, _ := s.product.VariantByID(id)
		out = append(out, SelectionLine{Variant: v, Index: idx, Quantity: s.qty[id]})
	}
	return out
}

// Total is Σ price × quantity over the selection.
func (s *Selection) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines() {
		total = total.Add(l.Variant.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// IsEmpty reports whether nothing is selected.
func (s *Selection) IsEmpty() bool { return len(s.order) == 0 }
