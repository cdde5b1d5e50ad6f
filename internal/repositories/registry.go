package repositories

import (
	"context"
	"errors"
)

// RegistryParts lists the repositories a Registry serves. Closers run in reverse order on Close.
type RegistryParts struct {
	Carts   CartRepository
	Coupons CouponRepository
	Orders  OrderRepository
	Health  HealthRepository
	Closers []func(context.Context) error
}

type registry struct {
	parts RegistryParts
}

// NewRegistry assembles a Registry from backend-specific repositories.
func NewRegistry(parts RegistryParts) (Registry, error) {
	switch {
	case parts.Carts == nil:
		return nil, errors.New("repositories: cart repository is required")
	case parts.Coupons == nil:
		return nil, errors.New("repositories: coupon repository is required")
	case parts.Orders == nil:
		return nil, errors.New("repositories: order repository is required")
	case parts.Health == nil:
		return nil, errors.New("repositories: health repository is required")
	}
	return &registry{parts: parts}, nil
}

func (r *registry) Carts() CartRepository     { return r.parts.Carts }
func (r *registry) Coupons() CouponRepository { return r.parts.Coupons }
func (r *registry) Orders() OrderRepository   { return r.parts.Orders }
func (r *registry) Health() HealthRepository  { return r.parts.Health }

func (r *registry) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.parts.Closers) - 1; i >= 0; i-- {
		if closer := r.parts.Closers[i]; closer != nil {
			if err := closer(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
