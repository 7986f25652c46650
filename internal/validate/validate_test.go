package validate_test

import (
	"testing"

	"codeshop/internal/validate"
)

func TestQty(t *testing.T) {
	for in, want := range map[string]bool{"1": true, " 5 ": true, "0": false, "-2": false, "abc": false, "1001": false} {
		if _, ok := validate.Qty(in); ok != want {
			t.Fatalf("Qty(%q) ok=%v", in, ok)
		}
	}
}

func TestPromoCode(t *testing.T) {
	if c, ok := validate.PromoCode(" welcome10 "); !ok || c != "WELCOME10" {
		t.Fatalf("got %q %v", c, ok)
	}
	if c, ok := validate.PromoCode(""); !ok || c != "" {
		t.Fatal("empty code is allowed")
	}
	if _, ok := validate.PromoCode("DROP TABLE;"); ok {
		t.Fatal("bad characters accepted")
	}
}

func TestAmount(t *testing.T) {
	for in, want := range map[string]bool{"25": true, "10.50": true, "10.505": false, "0": false, "-1": false, "x": false} {
		if _, ok := validate.Amount(in); ok != want {
			t.Fatalf("Amount(%q) ok=%v", in, ok)
		}
	}
}

func TestText(t *testing.T) {
	if _, ok := validate.Text("   ", 10); ok {
		t.Fatal("blank accepted")
	}
	if _, ok := validate.Text("ééééé", 5); !ok {
		t.Fatal("limit counts runes")
	}
	if _, ok := validate.Text("toolong", 3); ok {
		t.Fatal("over limit accepted")
	}
}
