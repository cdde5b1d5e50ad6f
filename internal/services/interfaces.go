package services

import (
	"context"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	LineKey            = domain.LineKey
	Product            = domain.Product
	AppliedCoupon      = domain.AppliedCoupon
	Coupon             = domain.Coupon
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderSubmission    = domain.OrderSubmission
	OrderStats         = domain.OrderStats
	ShippingAddress    = domain.ShippingAddress
	Notification       = domain.Notification
	SystemHealthReport = domain.SystemHealthReport
	CouponListFilter   = repositories.CouponListFilter
	OrderListFilter    = repositories.OrderListFilter
)

// CartSessionKey identifies an in-memory cart session and the identity currently using it.
// An empty UserID is a guest.
type CartSessionKey struct {
	SessionID string
	UserID    string
}

// CartService owns in-memory cart sessions and mirrors signed-in carts to the remote store.
type CartService interface {
	Cart(ctx context.Context, key CartSessionKey) (Cart, error)
	SwitchIdentity(ctx context.Context, sessionID, userID string) (Cart, error)
	AddItem(ctx context.Context, key CartSessionKey, product Product, variant string) (Cart, error)
	SetQuantity(ctx context.Context, key CartSessionKey, line LineKey, quantity int) (Cart, error)
	RemoveItem(ctx context.Context, key CartSessionKey, line LineKey) (Cart, error)
	Clear(ctx context.Context, key CartSessionKey) (Cart, error)
	ApplyCoupon(ctx context.Context, key CartSessionKey, code string) (Cart, error)
	RemoveCoupon(ctx context.Context, key CartSessionKey) (Cart, error)
	// ClearUser empties every session bound to userID and deletes the remote cart, waiting for
	// queued writes of that user to land first.
	ClearUser(ctx context.Context, userID string) error
}

// CreateCouponCommand carries admin input for a new coupon.
type CreateCouponCommand struct {
	Code              string
	Description       string
	DiscountType      domain.DiscountType
	DiscountValue     int64
	MinimumOrderValue int64
	MaxUses           *int
	IsActive          bool
	ExpiresAt         *time.Time
}

// UpdateCouponCommand replaces the editable fields of an existing coupon.
type UpdateCouponCommand struct {
	Code              string
	Description       string
	DiscountType      domain.DiscountType
	DiscountValue     int64
	MinimumOrderValue int64
	MaxUses           *int
	IsActive          bool
	ExpiresAt         *time.Time
}

// CouponService evaluates coupon codes and manages the coupon catalogue.
type CouponService interface {
	Evaluate(ctx context.Context, code string, subtotal int64) (AppliedCoupon, error)
	// Lookup re-reads a coupon from the store. A missing coupon yields (nil, nil).
	Lookup(ctx context.Context, code string) (*Coupon, error)
	Get(ctx context.Context, code string) (Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
	Create(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	Update(ctx context.Context, cmd UpdateCouponCommand) (Coupon, error)
	Delete(ctx context.Context, code string) error
}

// StartCheckoutCommand starts a processor checkout for the caller's cart.
type StartCheckoutCommand struct {
	UserID          string
	Email           string
	Lines           []CartLine
	CouponCode      string
	ShippingAddress ShippingAddress
	Locale          string
	SuccessURL      string
	CancelURL       string
}

// CheckoutStart is the result of StartCheckout.
type CheckoutStart struct {
	Session    payments.CheckoutSession
	Submission OrderSubmission
}

// PlaceOrderCommand inserts an order directly, without a processor session.
type PlaceOrderCommand struct {
	UserID          string
	Lines           []CartLine
	CouponCode      string
	ShippingAddress ShippingAddress
}

// CheckoutService turns carts into processor sessions or direct orders.
type CheckoutService interface {
	StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutStart, error)
	PlaceDirectOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// ReconcileResult reports the order produced for a processor session.
type ReconcileResult struct {
	OrderID   string
	Duplicate bool
}

// SweepResult summarises a ResumePending run.
type SweepResult struct {
	Scanned   int
	Completed int
	Failed    int
}

// PaymentReconciler converts paid processor sessions into orders exactly once.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, sessionID string) (ReconcileResult, error)
	ResumePending(ctx context.Context) (SweepResult, error)
}

// UpdateOrderStatusCommand changes the lifecycle status of an order.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
}

// OrderReadOptions controls owner checks on reads.
type OrderReadOptions struct {
	UserID string
	Admin  bool
}

// ExportReportCommand requests a CSV export of orders.
type ExportReportCommand struct {
	Status  OrderStatus
	ActorID string
}

// ReportExport points at an uploaded report.
type ReportExport struct {
	Object      string
	URL         string
	Rows        int
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// OrderService covers order history, the admin lifecycle and reporting.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Stats(ctx context.Context) (OrderStats, error)
	ExportReport(ctx context.Context, cmd ExportReportCommand) (ReportExport, error)
}

// SystemService exposes health information for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}
