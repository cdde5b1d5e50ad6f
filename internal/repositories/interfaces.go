package repositories

import (
	"context"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository stores the remote copy of a signed-in user's cart, one row per line key.
type CartRepository interface {
	ListLines(ctx context.Context, userID string) ([]domain.CartLine, error)
	UpsertLine(ctx context.Context, userID string, line domain.CartLine) error
	DeleteLine(ctx context.Context, userID string, key domain.LineKey) error
	DeleteAll(ctx context.Context, userID string) error
}

// CouponListFilter narrows admin coupon listings.
type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// CouponRepository persists coupons keyed by their upper-cased code.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, code string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	// Redeem increments the usage of code on behalf of orderID when the coupon still has
	// uses left, and records the outcome on the order in the same atomic step. Calling it
	// again for an order whose outcome is already recorded returns that outcome unchanged.
	Redeem(ctx context.Context, orderID, code string, at time.Time) (domain.CouponRedemption, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders and their item snapshots.
type OrderRepository interface {
	// Insert writes a direct order together with its items.
	Insert(ctx context.Context, order domain.Order) error
	// CreateForPaymentSession inserts order unless one already exists for its payment
	// session, in which case a conflict error is returned.
	CreateForPaymentSession(ctx context.Context, order domain.Order) error
	FindByPaymentSession(ctx context.Context, sessionID string) (domain.Order, error)
	// MaterializeItems writes items keyed by line number and marks the order materialised.
	// Replaying it with the same items is a no-op.
	MaterializeItems(ctx context.Context, orderID string, items []domain.OrderItem, at time.Time) error
	FindByID(ctx context.Context, orderID string, withItems bool) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListUnsettled returns non-cancelled orders whose items or coupon redemption are still pending.
	ListUnsettled(ctx context.Context, limit int) ([]domain.Order, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
}

// HealthRepository reports readiness of backing services.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
