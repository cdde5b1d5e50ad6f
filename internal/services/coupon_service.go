package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	maxCouponCodeLength        = 32
	maxCouponDescriptionLength = 500
)

// CouponServiceDeps wires the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	IDGen   func() string
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	newID   func() string
	logger  func(ctx context.Context, event string, fields map[string]any)
	policy  *bluemonday.Policy
}

var _ CouponService = (*couponService)(nil)

// NewCouponService constructs a CouponService backed by the coupon repository.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

// Evaluate looks the code up in the store and runs the coupon checks against subtotal.
func (s *couponService) Evaluate(ctx context.Context, code string, subtotal int64) (AppliedCoupon, error) {
	coupon, err := s.Lookup(ctx, code)
	if err != nil {
		return AppliedCoupon{}, err
	}
	return domain.EvaluateCoupon(code, coupon, subtotal, s.now())
}

func (s *couponService) Lookup(ctx context.Context, code string) (*Coupon, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return nil, nil
	}
	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil
		}
		return nil, mapRepositoryError(err, ErrCouponNotFound, nil)
	}
	return &coupon, nil
}

func (s *couponService) Get(ctx context.Context, code string) (Coupon, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Coupon{}, mapRepositoryError(err, ErrCouponNotFound, nil)
	}
	return coupon, nil
}

func (s *couponService) List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, mapRepositoryError(err, nil, nil)
	}
	return page, nil
}

func (s *couponService) Create(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	now := s.now()
	coupon := Coupon{
		ID:                s.newID(),
		Code:              domain.NormalizeCouponCode(cmd.Code),
		Description:       s.sanitizeDescription(cmd.Description),
		DiscountType:      domain.DiscountType(strings.ToLower(strings.TrimSpace(string(cmd.DiscountType)))),
		DiscountValue:     cmd.DiscountValue,
		MinimumOrderValue: cmd.MinimumOrderValue,
		MaxUses:           cmd.MaxUses,
		IsActive:          cmd.IsActive,
		ExpiresAt:         utcPtr(cmd.ExpiresAt),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := validateCoupon(coupon); err != nil {
		return Coupon{}, err
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, mapRepositoryError(err, nil, ErrCouponConflict)
	}
	s.logger(ctx, "coupon.created", map[string]any{
		"code": coupon.Code,
		"type": string(coupon.DiscountType),
	})
	return coupon, nil
}

func (s *couponService) Update(ctx context.Context, cmd UpdateCouponCommand) (Coupon, error) {
	existing, err := s.Get(ctx, cmd.Code)
	if err != nil {
		return Coupon{}, err
	}

	updated := existing
	updated.Description = s.sanitizeDescription(cmd.Description)
	updated.DiscountType = domain.DiscountType(strings.ToLower(strings.TrimSpace(string(cmd.DiscountType))))
	updated.DiscountValue = cmd.DiscountValue
	updated.MinimumOrderValue = cmd.MinimumOrderValue
	updated.MaxUses = cmd.MaxUses
	updated.IsActive = cmd.IsActive
	updated.ExpiresAt = utcPtr(cmd.ExpiresAt)
	updated.UpdatedAt = s.now()
	if err := validateCoupon(updated); err != nil {
		return Coupon{}, err
	}

	if err := s.coupons.Update(ctx, updated); err != nil {
		return Coupon{}, mapRepositoryError(err, ErrCouponNotFound, ErrCouponConflict)
	}
	s.logger(ctx, "coupon.updated", map[string]any{"code": updated.Code})
	return updated, nil
}

func (s *couponService) Delete(ctx context.Context, code string) error {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Delete(ctx, normalized); err != nil {
		return mapRepositoryError(err, ErrCouponNotFound, nil)
	}
	s.logger(ctx, "coupon.deleted", map[string]any{"code": normalized})
	return nil
}

func (s *couponService) sanitizeDescription(value string) string {
	return strings.TrimSpace(s.policy.Sanitize(value))
}

func validateCoupon(c Coupon) error {
	switch {
	case c.Code == "":
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("code", ""))
	case len(c.Code) > maxCouponCodeLength || strings.ContainsAny(c.Code, " /\t"):
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("code", "must be a single token of at most 32 characters"))
	case utf8.RuneCountInString(c.Description) > maxCouponDescriptionLength:
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("description", "is too long"))
	case !c.DiscountType.Valid():
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("discount_type", "must be percentage or fixed"))
	case c.DiscountValue <= 0:
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("discount_value", "must be positive"))
	case c.DiscountType == domain.DiscountPercentage && c.DiscountValue > 100:
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("discount_value", "must not exceed 100 percent"))
	case c.MinimumOrderValue < 0:
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("minimum_order_value", "must not be negative"))
	case c.MaxUses != nil && *c.MaxUses <= 0:
		return fmt.Errorf("%w: %w", ErrCouponInvalidInput, domain.NewValidationError("max_uses", "must be positive"))
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
