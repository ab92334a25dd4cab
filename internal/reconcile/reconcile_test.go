package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

func entry(id, label string, qty int) model.CartEntry {
	return model.CartEntry{
		ProductID: model.ID(id),
		Variant:   model.Variant{ID: model.VariantSlug(label), Label: label, Price: decimal.NewFromInt(100)},
		Quantity:  qty,
	}
}

func TestMergeCart_RemoteOnlyIntoEmptyLocal(t *testing.T) {
	remote := []model.CartEntry{entry("b", "250 g", 3)}

	res := MergeCart(nil, remote)

	if len(res.Entries) != 1 || res.Entries[0].ProductID != "b" || res.Entries[0].Quantity != 3 {
		t.Fatalf("Entries = %+v, want [b x3]", res.Entries)
	}
	if res.NeedsPush() {
		t.Error("remote should stay unchanged when local is empty")
	}
}

func TestMergeCart_RemoteWinsOnConflict(t *testing.T) {
	local := []model.CartEntry{entry("a", "250 g", 1)}
	remote := []model.CartEntry{entry("a", "250 g", 5)}

	res := MergeCart(local, remote)

	if len(res.Entries) != 1 || res.Entries[0].Quantity != 5 {
		t.Fatalf("Entries = %+v, want [a x5]", res.Entries)
	}
	if res.Overridden != 1 {
		t.Errorf("Overridden = %d, want 1", res.Overridden)
	}
	if res.NeedsPush() {
		t.Error("no push needed when every local line exists remotely")
	}
}

func TestMergeCart_LocalOnlyIsPushed(t *testing.T) {
	local := []model.CartEntry{entry("a", "250 g", 1), entry("c", "1 kg", 2)}
	remote := []model.CartEntry{entry("a", "250 g", 1), entry("b", "500 g", 4)}

	res := MergeCart(local, remote)

	if len(res.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(res.Entries))
	}
	order := []model.ID{"a", "c", "b"}
	for i, id := range order {
		if res.Entries[i].ProductID != id {
			t.Errorf("Entries[%d] = %s, want %s", i, res.Entries[i].ProductID, id)
		}
	}
	if res.Pushed != 1 || !res.NeedsPush() {
		t.Errorf("Pushed = %d, want 1", res.Pushed)
	}
}

func TestMergeCart_LooseIDAndVariantLabel(t *testing.T) {
	local := []model.CartEntry{entry("7", "250 g", 1), entry("7", "500 g", 1)}
	remote := []model.CartEntry{entry("07", "250 g", 2)}

	res := MergeCart(local, remote)

	if len(res.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(res.Entries))
	}
	if res.Entries[0].Quantity != 2 {
		t.Errorf("matched line quantity = %d, want 2", res.Entries[0].Quantity)
	}
	if res.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1 (500 g variant is local-only)", res.Pushed)
	}
}

func TestMergeCart_RemoteEmptyPushesLocal(t *testing.T) {
	local := []model.CartEntry{entry("a", "250 g", 2)}

	res := MergeCart(local, nil)

	if len(res.Entries) != 1 || !res.NeedsPush() {
		t.Errorf("got %+v, want local kept and pushed", res)
	}
}

func TestDiffLineItems(t *testing.T) {
	current := []CurrentItem{
		{ProductID: "1", RowID: "r1", VariantID: "small", Quantity: 2},
		{ProductID: "2", RowID: "r2", VariantID: "small", Quantity: 1},
		{ProductID: "3", RowID: "r3", Quantity: 4},
	}
	desired := []DesiredItem{
		{ProductID: "1", VariantID: "small", Quantity: 5},
		{ProductID: "3", Quantity: 4},
		{ProductID: "4", VariantID: "large", VariantIndex: 1, Quantity: 1},
	}

	diff := DiffLineItems(current, desired)

	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].RowID != "r1" || diff.ToUpdate[0].OldQuantity != 2 || diff.ToUpdate[0].NewQuantity != 5 {
		t.Errorf("ToUpdate = %+v", diff.ToUpdate)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].RowID != "r2" {
		t.Errorf("ToRemove = %+v", diff.ToRemove)
	}
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].ProductID != "4" || diff.ToAdd[0].VariantIndex != 1 {
		t.Errorf("ToAdd = %+v", diff.ToAdd)
	}
}

func TestDiffLineItems_NoChanges(t *testing.T) {
	items := []CurrentItem{{ProductID: "1", RowID: "r1", VariantID: "v", Quantity: 2}}
	diff := DiffLineItems(items, []DesiredItem{{ProductID: "1", VariantID: "v", Quantity: 2}})
	if !diff.IsEmpty() {
		t.Errorf("expected empty diff, got %+v", diff)
	}
}

func TestDiffLineItems_SortedOutput(t *testing.T) {
	desired := []DesiredItem{
		{ProductID: "c", Quantity: 1},
		{ProductID: "a", Quantity: 1},
		{ProductID: "b", Quantity: 1},
	}
	diff := DiffLineItems(nil, desired)
	for i, want := range []string{"a", "b", "c"} {
		if diff.ToAdd[i].ProductID != want {
			t.Errorf("ToAdd[%d] = %s, want %s", i, diff.ToAdd[i].ProductID, want)
		}
	}
}
