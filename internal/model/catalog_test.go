package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  ID
	}{
		{`42`, "42"},
		{`"42"`, "42"},
		{`"6f1c2a"`, "6f1c2a"},
		{`null`, ""},
	}

	for _, tt := range tests {
		var got ID
		if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSameID(t *testing.T) {
	tests := []struct {
		a, b ID
		want bool
	}{
		{"7", "7", true},
		{"7", "07", true},
		{"7", "8", false},
		{"abc", "abc", true},
		{"abc", "ABC", false},
	}

	for _, tt := range tests {
		if got := SameID(tt.a, tt.b); got != tt.want {
			t.Errorf("SameID(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAssignVariantIDs(t *testing.T) {
	in := []Variant{
		{Label: "250 g"},
		{Label: "500 g (Jar)"},
		{ID: "kg", Label: "1 kg"},
		{Label: "250 g"},
		{Label: "!!"},
	}
	got := AssignVariantIDs(in)
	want := []string{"250-g", "500-g-jar", "kg", "250-g-2", "standard"}
	for i, v := range got {
		if v.ID != want[i] {
			t.Errorf("variant %d id = %q, want %q", i, v.ID, want[i])
		}
	}
	if in[0].ID != "" {
		t.Error("input slice must not be modified")
	}
}

func TestResolveVariant(t *testing.T) {
	p := Product{Variants: []Variant{
		{ID: "small", Label: "250 g", Price: decimal.NewFromInt(100)},
		{ID: "large", Label: "500 g", Price: decimal.NewFromInt(180)},
	}}

	tests := []struct {
		name      string
		id        string
		index     int
		wantID    string
		wantIndex int
	}{
		{"by id beats index", "large", 0, "large", 1},
		{"unknown id falls back to index", "gone", 1, "large", 1},
		{"out of range index falls to first", "", 9, "small", 0},
		{"negative index falls to first", "", -1, "small", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, i, ok := p.ResolveVariant(tt.id, tt.index)
			if !ok || v.ID != tt.wantID || i != tt.wantIndex {
				t.Errorf("ResolveVariant(%q, %d) = %q, %d, %v", tt.id, tt.index, v.ID, i, ok)
			}
		})
	}

	if _, _, ok := (Product{}).ResolveVariant("x", 0); ok {
		t.Error("product without variants should not resolve")
	}
}

func TestAddress_MissingFields(t *testing.T) {
	a := Address{Name: "Asha", Phone: "98", Street: "1 Main"}
	got := a.MissingFields()
	if len(got) != 2 || got[0] != "email" || got[1] != "pincode" {
		t.Errorf("MissingFields() = %v, want [email pincode]", got)
	}
	a.Email, a.PostalCode = "a@x.in", "560001"
	if !a.Complete() {
		t.Error("address should be complete")
	}
}

func TestPromoCode_ValidAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	base := PromoCode{
		Code:         "SPICY10",
		Active:       true,
		ValidFrom:    now.Add(-time.Hour),
		ValidThrough: now.Add(time.Hour),
	}

	inactive := base
	inactive.Active = false
	early := base
	early.ValidFrom = now.Add(time.Minute)
	expired := base
	expired.ValidThrough = now.Add(-time.Minute)
	open := PromoCode{Active: true}

	tests := []struct {
		name string
		p    PromoCode
		want bool
	}{
		{"inside window", base, true},
		{"inactive", inactive, false},
		{"not yet valid", early, false},
		{"expired", expired, false},
		{"open window", open, true},
	}

	for _, tt := range tests {
		if got := tt.p.ValidAt(now); got != tt.want {
			t.Errorf("%s: ValidAt = %v, want %v", tt.name, got, tt.want)
		}
	}

	if got := NormalizePromoCode("  spicy10 "); got != "SPICY10" {
		t.Errorf("NormalizePromoCode = %q", got)
	}
}
