package domain

import (
	"math/rand"
	"testing"
	"time"
)

func mustApply(t *testing.T, cart Cart, action CartAction) Cart {
	t.Helper()
	next, err := ApplyCartAction(cart, action)
	if err != nil {
		t.Fatalf("apply %T: unexpected error: %v", action, err)
	}
	return next
}

func TestApplyCartActionAddItemTwiceMergesLine(t *testing.T) {
	product := Product{ID: "A", Name: "Mug", UnitPrice: 1000}

	cart := mustApply(t, Cart{}, AddItem{Product: product})
	cart = mustApply(t, cart, AddItem{Product: product})

	if len(cart.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(cart.Lines))
	}
	if cart.Lines[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", cart.Lines[0].Quantity)
	}
}

func TestApplyCartActionVariantsAreDistinctLines(t *testing.T) {
	product := Product{ID: "shirt", UnitPrice: 5000}

	cart := mustApply(t, Cart{}, AddItem{Product: product, Variant: "M"})
	cart = mustApply(t, cart, AddItem{Product: product, Variant: "L"})
	cart = mustApply(t, cart, AddItem{Product: Product{ID: "cap", UnitPrice: 900}})

	if len(cart.Lines) != 3 {
		t.Fatalf("expected three lines, got %d", len(cart.Lines))
	}
	if cart.Lines[0].Variant != "M" || cart.Lines[1].Variant != "L" || cart.Lines[2].ProductID != "cap" {
		t.Fatalf("expected insertion order preserved, got %+v", cart.Lines)
	}
}

func TestApplyCartActionSetQuantityZeroEqualsRemove(t *testing.T) {
	cart := mustApply(t, Cart{}, AddItem{Product: Product{ID: "A", UnitPrice: 10}})
	cart = mustApply(t, cart, AddItem{Product: Product{ID: "B", UnitPrice: 20}})
	key := LineKey{ProductID: "A"}

	viaSet := mustApply(t, cart, SetQuantity{Key: key, Quantity: 0})
	viaRemove := mustApply(t, cart, RemoveItem{Key: key})

	if len(viaSet.Lines) != len(viaRemove.Lines) {
		t.Fatalf("expected same line count, got %d and %d", len(viaSet.Lines), len(viaRemove.Lines))
	}
	for i := range viaSet.Lines {
		if viaSet.Lines[i] != viaRemove.Lines[i] {
			t.Fatalf("line %d differs: %+v vs %+v", i, viaSet.Lines[i], viaRemove.Lines[i])
		}
	}
}

func TestApplyCartActionDoesNotMutateInput(t *testing.T) {
	cart := mustApply(t, Cart{}, AddItem{Product: Product{ID: "A", UnitPrice: 10}})
	_ = mustApply(t, cart, SetQuantity{Key: LineKey{ProductID: "A"}, Quantity: 7})
	_ = mustApply(t, cart, RemoveItem{Key: LineKey{ProductID: "A"}})

	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 1 {
		t.Fatalf("expected original cart untouched, got %+v", cart.Lines)
	}
}

func TestApplyCartActionClearDropsCoupon(t *testing.T) {
	cart := mustApply(t, Cart{}, AddItem{Product: Product{ID: "A", UnitPrice: 10}})
	cart.Coupon = &AppliedCoupon{Code: "DESC10"}

	cart = mustApply(t, cart, ClearCart{})

	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart.Lines)
	}
	if cart.Coupon != nil {
		t.Fatalf("expected coupon cleared")
	}
}

func TestApplyCartActionLoadReplacesWholesale(t *testing.T) {
	cart := mustApply(t, Cart{}, AddItem{Product: Product{ID: "A", UnitPrice: 10}})

	snapshot := Cart{
		UserID: "user-1",
		Lines: []CartLine{
			{ProductID: "B", Quantity: 2, UnitPrice: 20},
			{ProductID: "B", Quantity: 1, UnitPrice: 20},
			{ProductID: "C", Quantity: 0, UnitPrice: 30},
		},
	}
	cart = mustApply(t, cart, LoadCart{Snapshot: snapshot})

	if cart.UserID != "user-1" {
		t.Fatalf("expected user id from snapshot, got %q", cart.UserID)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "B" || cart.Lines[0].Quantity != 3 {
		t.Fatalf("expected merged snapshot line, got %+v", cart.Lines)
	}
}

func TestApplyCartActionRejectsEmptyProduct(t *testing.T) {
	_, err := ApplyCartAction(Cart{}, AddItem{Product: Product{ID: "  "}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if verr, ok := err.(*ValidationError); !ok || verr.Field != "productId" {
		t.Fatalf("expected productId validation error, got %v", err)
	}
}

func TestApplyCartActionRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := []string{"A", "B", "C"}
	variants := []string{"", "S", "M"}

	for run := 0; run < 200; run++ {
		cart := Cart{}
		for step := 0; step < 40; step++ {
			key := LineKey{
				ProductID: products[rng.Intn(len(products))],
				Variant:   variants[rng.Intn(len(variants))],
			}
			var action CartAction
			switch rng.Intn(3) {
			case 0:
				action = AddItem{Product: Product{ID: key.ProductID, UnitPrice: 100}, Variant: key.Variant}
			case 1:
				action = RemoveItem{Key: key}
			default:
				action = SetQuantity{Key: key, Quantity: rng.Intn(5) - 1}
			}
			cart = mustApply(t, cart, action)

			seen := make(map[LineKey]struct{}, len(cart.Lines))
			for _, line := range cart.Lines {
				if line.Quantity < 1 {
					t.Fatalf("run %d step %d: quantity below one: %+v", run, step, line)
				}
				if _, dup := seen[line.Key()]; dup {
					t.Fatalf("run %d step %d: duplicate key %v", run, step, line.Key())
				}
				seen[line.Key()] = struct{}{}
			}
		}
	}
}

func TestCartTotals(t *testing.T) {
	cart := Cart{Lines: []CartLine{
		{ProductID: "A", Quantity: 2, UnitPrice: 1000},
		{ProductID: "B", Quantity: 1, UnitPrice: 250},
	}, UpdatedAt: time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)}

	if got := cart.TotalPrice(); got != 2250 {
		t.Fatalf("expected total price 2250, got %d", got)
	}
	if got := cart.TotalItems(); got != 3 {
		t.Fatalf("expected 3 items, got %d", got)
	}
}
