package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAddressHasRequiredField(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want bool
	}{
		{name: "empty", addr: Address{}, want: false},
		{name: "only optional line", addr: Address{Address2: "apt 4"}, want: false},
		{name: "blank first name", addr: Address{FirstName: "   "}, want: false},
		{name: "first name", addr: Address{FirstName: "Ana"}, want: true},
		{name: "only phone", addr: Address{Phone: "+1 555"}, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.addr.HasRequiredField(); got != tc.want {
				t.Fatalf("HasRequiredField() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLineItemKeyAndTotal(t *testing.T) {
	item := LineItem{ProductID: "p-1", Size: "L", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 3}

	if item.Key() != (ItemKey{ProductID: "p-1", Size: "L"}) {
		t.Fatalf("unexpected key %+v", item.Key())
	}
	if !item.LineTotal().Equal(decimal.RequireFromString("37.5")) {
		t.Fatalf("unexpected line total %s", item.LineTotal())
	}
}

func TestIdentityIsStaff(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleSuperUser, RoleSEO} {
		if !(Identity{ID: "u", Role: role}).IsStaff() {
			t.Errorf("role %s must be staff", role)
		}
	}
	if (Identity{ID: "u", Role: RoleClient}).IsStaff() {
		t.Error("client must not be staff")
	}
}

func TestProductOffersSize(t *testing.T) {
	p := Product{Sizes: []string{"S", "M"}, Images: []string{"a.jpg", "b.jpg"}}
	if !p.OffersSize("M") || p.OffersSize("XL") {
		t.Fatal("unexpected size lookup result")
	}
	if p.CoverImage() != "a.jpg" {
		t.Fatalf("unexpected cover %q", p.CoverImage())
	}
}
