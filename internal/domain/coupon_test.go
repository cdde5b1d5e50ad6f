package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCouponDiscount(t *testing.T) {
	cases := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		discount int64
	}{
		{"percentage", Coupon{DiscountType: DiscountPercentage, DiscountValue: 10}, 2000, 200},
		{"percentage rounds half up", Coupon{DiscountType: DiscountPercentage, DiscountValue: 15}, 1010, 152},
		{"fixed below subtotal", Coupon{DiscountType: DiscountFixed, DiscountValue: 500}, 2000, 500},
		{"fixed capped at subtotal", Coupon{DiscountType: DiscountFixed, DiscountValue: 5000}, 2000, 2000},
		{"zero subtotal", Coupon{DiscountType: DiscountFixed, DiscountValue: 500}, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.coupon.Discount(tc.subtotal)
			if got != tc.discount {
				t.Fatalf("expected discount %d, got %d", tc.discount, got)
			}
			if final := FinalPrice(tc.subtotal, got); final < 0 {
				t.Fatalf("final price below zero: %d", final)
			}
		})
	}
}

func TestEvaluateCouponScenarios(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	cart := Cart{Lines: []CartLine{{ProductID: "A", Quantity: 2, UnitPrice: 1000}}}
	subtotal := cart.TotalPrice()

	coupon := &Coupon{
		Code:              "DESC10",
		DiscountType:      DiscountPercentage,
		DiscountValue:     10,
		MinimumOrderValue: 1500,
		IsActive:          true,
	}

	applied, err := EvaluateCoupon("desc10", coupon, subtotal, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied.Discount != 200 {
		t.Fatalf("expected discount 200, got %d", applied.Discount)
	}
	if final := FinalPrice(subtotal, applied.Discount); final != 1800 {
		t.Fatalf("expected final 1800, got %d", final)
	}

	strict := *coupon
	strict.MinimumOrderValue = 2500
	_, err = EvaluateCoupon("DESC10", &strict, subtotal, now)
	if !errors.Is(err, &CouponError{Reason: CouponBelowMinimum}) {
		t.Fatalf("expected below minimum, got %v", err)
	}
	if cart.TotalPrice() != 2000 {
		t.Fatalf("expected subtotal unchanged")
	}
}

func TestEvaluateCouponOrderOfChecks(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	one := 1

	cases := []struct {
		name   string
		coupon *Coupon
		reason CouponReason
	}{
		{"missing", nil, CouponInvalidCode},
		{"inactive", &Coupon{Code: "X", IsActive: false}, CouponInvalidCode},
		{"expired wins over minimum", &Coupon{Code: "X", IsActive: true, ExpiresAt: &past, MinimumOrderValue: 99999}, CouponExpired},
		{"minimum wins over usage", &Coupon{Code: "X", IsActive: true, MinimumOrderValue: 99999, MaxUses: &one, CurrentUses: 1}, CouponBelowMinimum},
		{"exhausted", &Coupon{Code: "X", IsActive: true, MaxUses: &one, CurrentUses: 1}, CouponExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EvaluateCoupon("x", tc.coupon, 1000, now)
			var cerr *CouponError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected coupon error, got %v", err)
			}
			if cerr.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, cerr.Reason)
			}
		})
	}
}

func TestShippingAddressMissingField(t *testing.T) {
	addr := ShippingAddress{Name: "Ana", Street: "Rua 1", City: "SP", State: "SP", ZipCode: "01000-000"}
	if got := addr.MissingField(); got != "phone" {
		t.Fatalf("expected phone missing, got %q", got)
	}
	addr.Phone = "+55 11 99999-0000"
	if got := addr.MissingField(); got != "" {
		t.Fatalf("expected complete address, got %q", got)
	}
}
