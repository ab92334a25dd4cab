// Package reconcile merges a local cart with its remote copy and computes the
// minimal row mutations that bring a stored cart to a desired state.
package reconcile

import (
	"sort"

	"storefront/internal/model"
)

// MergeResult is the outcome of merging a local cart with the remote cart.
type MergeResult struct {
	// Entries is the merged cart: local order first, remote-only lines appended.
	Entries []model.CartEntry
	// Pushed counts local lines absent remotely. When non-zero the merged cart
	// must be written back so both sides converge.
	Pushed int
	// Overridden counts local lines whose quantity was replaced by the remote one.
	Overridden int
}

// NeedsPush reports whether the remote cart differs from the merged cart.
func (r MergeResult) NeedsPush() bool { return r.Pushed > 0 }

// MergeCart applies the remote-wins policy. Lines are matched by
// (product id, variant label) with loose id equality:
//   - remote line with no local match: added locally
//   - matched line with a different quantity: remote quantity wins
//   - local line with no remote match: kept and counted for push
func MergeCart(local, remote []model.CartEntry) MergeResult {
	res := MergeResult{Entries: make([]model.CartEntry, 0, len(local)+len(remote))}
	used := make([]bool, len(remote))

	for _, l := range local {
		matched := false
		for i, r := range remote {
			if used[i] || !l.Key().Matches(r.Key()) {
				continue
			}
			used[i] = true
			matched = true
			if l.Quantity != r.Quantity {
				l.Quantity = r.Quantity
				res.Overridden++
			}
			break
		}
		if !matched {
			res.Pushed++
		}
		res.Entries = append(res.Entries, l)
	}

	for i, r := range remote {
		if !used[i] {
			res.Entries = append(res.Entries, r)
		}
	}
	return res
}

// LineItemDiff describes the row mutations needed to reconcile a stored cart.
// Apply in order: Remove → Update → Add, so removed rows are never updated and
// added rows never collide with stale ones.
type LineItemDiff struct {
	ToAdd    []ItemToAdd
	ToRemove []ItemToRemove
	ToUpdate []ItemToUpdate
}

// ItemToAdd is a new stored row.
type ItemToAdd struct {
	ProductID    string
	VariantID    string
	VariantIndex int
	Quantity     int
}

// ItemToRemove identifies a stored row to delete.
type ItemToRemove struct {
	ProductID string
	RowID     string
}

// ItemToUpdate is a quantity change on an existing stored row.
type ItemToUpdate struct {
	ProductID   string
	RowID       string
	OldQuantity int
	NewQuantity int
}

// IsEmpty returns true if no changes are needed.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// CurrentItem is a row as currently stored.
type CurrentItem struct {
	ProductID string
	RowID     string
	VariantID string
	Quantity  int
}

// DesiredItem is a row as it should be stored.
type DesiredItem struct {
	ProductID    string
	VariantID    string
	VariantIndex int
	Quantity     int
}

// DiffLineItems computes the delta between stored and desired rows, matching
// by product id and variant id. Output slices are sorted by key so the
// resulting statements run in a stable order.
func DiffLineItems(current []CurrentItem, desired []DesiredItem) *LineItemDiff {
	diff := &LineItemDiff{}

	currentByKey := make(map[string]CurrentItem, len(current))
	for _, item := range current {
		currentByKey[itemKey(item.ProductID, item.VariantID)] = item
	}

	desiredByKey := make(map[string]DesiredItem, len(desired))
	for _, item := range desired {
		desiredByKey[itemKey(item.ProductID, item.VariantID)] = item
	}

	for _, key := range sortedKeys(desiredByKey) {
		want := desiredByKey[key]
		have, exists := currentByKey[key]
		switch {
		case !exists:
			diff.ToAdd = append(diff.ToAdd, ItemToAdd{
				ProductID:    want.ProductID,
				VariantID:    want.VariantID,
				VariantIndex: want.VariantIndex,
				Quantity:     want.Quantity,
			})
		case have.Quantity != want.Quantity:
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{
				ProductID:   want.ProductID,
				RowID:       have.RowID,
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
			})
		}
	}

	for _, key := range sortedKeys(currentByKey) {
		if _, exists := desiredByKey[key]; !exists {
			have := currentByKey[key]
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{
				ProductID: have.ProductID,
				RowID:     have.RowID,
			})
		}
	}

	return diff
}

// itemKey uses ProductID alone if no variant, ProductID:VariantID otherwise.
func itemKey(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + ":" + variantID
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
