package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports user input that cannot be accepted, naming the offending field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	if e.Message == "" {
		return fmt.Sprintf("validation error: %s is required", e.Field)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// CouponReason enumerates why a coupon was rejected.
type CouponReason string

const (
	CouponInvalidCode  CouponReason = "invalid_code"
	CouponExpired      CouponReason = "expired"
	CouponBelowMinimum CouponReason = "below_minimum"
	CouponExhausted    CouponReason = "exhausted"
)

// CouponError is a user-facing coupon rejection. The cart stays usable without the coupon.
type CouponError struct {
	Code   string
	Reason CouponReason
}

// Error implements the error interface.
func (e *CouponError) Error() string {
	if e == nil {
		return "coupon rejected"
	}
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// Is lets errors.Is match on reason alone, e.g. errors.Is(err, &CouponError{Reason: CouponExpired}).
func (e *CouponError) Is(target error) bool {
	t, ok := target.(*CouponError)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Reason == e.Reason && (t.Code == "" || t.Code == e.Code)
}

func isBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}
