package domain

import (
	"strings"
	"time"
)

// DiscountType enumerates how a coupon value is interpreted.
type DiscountType string

const (
	// DiscountPercentage treats the value as whole percent points of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed treats the value as an amount in minor units.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether the discount type is known.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Coupon is an administrator-managed discount code.
type Coupon struct {
	ID                string
	Code              string
	Description       string
	DiscountType      DiscountType
	DiscountValue     int64
	MinimumOrderValue int64
	MaxUses           *int
	CurrentUses       int
	IsActive          bool
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NormalizeCouponCode trims and upper-cases a code so lookups are case-insensitive.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Expired reports whether the coupon expiry has passed at now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Exhausted reports whether the usage limit has been reached.
func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// Usable reports whether the coupon may be redeemed at now, ignoring the order minimum.
func (c Coupon) Usable(now time.Time) bool {
	return c.IsActive && !c.Expired(now) && !c.Exhausted()
}

// Discount computes the discount the coupon grants on subtotal. It never exceeds subtotal.
func (c Coupon) Discount(subtotal int64) int64 {
	if subtotal <= 0 || c.DiscountValue <= 0 {
		return 0
	}
	var discount int64
	switch c.DiscountType {
	case DiscountPercentage:
		// half-up to the nearest minor unit
		discount = (subtotal*c.DiscountValue + 50) / 100
	case DiscountFixed:
		discount = c.DiscountValue
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount
}

// FinalPrice floors subtotal minus discount at zero.
func FinalPrice(subtotal, discount int64) int64 {
	if total := subtotal - discount; total > 0 {
		return total
	}
	return 0
}

// EvaluateCoupon runs the coupon checks in order: lookup, expiry, minimum, usage. A nil coupon
// means the lookup among active coupons found nothing.
func EvaluateCoupon(code string, coupon *Coupon, subtotal int64, now time.Time) (AppliedCoupon, error) {
	normalized := NormalizeCouponCode(code)
	if coupon == nil || !coupon.IsActive {
		return AppliedCoupon{}, &CouponError{Code: normalized, Reason: CouponInvalidCode}
	}
	if coupon.Expired(now) {
		return AppliedCoupon{}, &CouponError{Code: coupon.Code, Reason: CouponExpired}
	}
	if subtotal < coupon.MinimumOrderValue {
		return AppliedCoupon{}, &CouponError{Code: coupon.Code, Reason: CouponBelowMinimum}
	}
	if coupon.Exhausted() {
		return AppliedCoupon{}, &CouponError{Code: coupon.Code, Reason: CouponExhausted}
	}
	return AppliedCoupon{
		Code:          coupon.Code,
		DiscountType:  coupon.DiscountType,
		DiscountValue: coupon.DiscountValue,
		Discount:      coupon.Discount(subtotal),
		ValidatedAt:   now,
	}, nil
}
