package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/observability"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	defaultReconcileTimeout = 30 * time.Second
	defaultSweepBatchSize   = 50
)

// sessionRetriever abstracts payments.Manager for reconciliation.
type sessionRetriever interface {
	RetrieveSession(ctx context.Context, paymentCtx payments.PaymentContext, sessionID string) (payments.SessionDetails, error)
}

// PaymentReconcilerDeps wires the reconciler.
type PaymentReconcilerDeps struct {
	Orders         repositories.OrderRepository
	Coupons        couponRedeemer
	Carts          cartClearer
	Payments       sessionRetriever
	Currency       string
	Timeout        time.Duration
	SweepBatchSize int
	Clock          func() time.Time
	IDGen          func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	coupons  couponRedeemer
	carts    cartClearer
	payments sessionRetriever
	currency string
	timeout  time.Duration
	batch    int
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ PaymentReconciler = (*paymentReconciler)(nil)

// NewPaymentReconciler constructs a reconciler validating required dependencies.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("payment reconciler: coupon redeemer is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("payment reconciler: cart clearer is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment reconciler: payment manager is required")
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
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	batch := deps.SweepBatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &paymentReconciler{
		orders:   deps.Orders,
		coupons:  deps.Coupons,
		carts:    deps.Carts,
		payments: deps.Payments,
		currency: currency,
		timeout:  timeout,
		batch:    batch,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Reconcile turns the paid processor session into exactly one order. It runs detached from the
// caller's cancellation so an abandoned request cannot stop it halfway.
func (r *paymentReconciler) Reconcile(ctx context.Context, sessionID string) (result ReconcileResult, err error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: session id is required", ErrCheckoutInvalidInput)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "payments.reconcile", attribute.String("payment.session_id", sessionID))
	defer func() {
		span.SetAttributes(
			attribute.String("order.id", result.OrderID),
			attribute.Bool("reconcile.duplicate", result.Duplicate),
		)
		observability.EndSpan(span, err)
	}()

	existing, err := r.orders.FindByPaymentSession(ctx, sessionID)
	switch {
	case err == nil:
		return r.continueExisting(ctx, existing)
	case !isRepoNotFound(err):
		return ReconcileResult{}, mapRepositoryError(err, nil, nil)
	}

	details, err := r.paidSession(ctx, sessionID)
	if err != nil {
		return ReconcileResult{}, err
	}

	order := r.orderFromSession(sessionID, details)
	if err := r.orders.CreateForPaymentSession(ctx, order); err != nil {
		if !isRepoConflict(err) {
			return ReconcileResult{}, mapRepositoryError(err, nil, nil)
		}
		winner, ferr := r.orders.FindByPaymentSession(ctx, sessionID)
		if ferr != nil {
			return ReconcileResult{}, mapRepositoryError(ferr, ErrOrderNotFound, nil)
		}
		r.logger(ctx, "reconcile.create.lost_race", map[string]any{
			"sessionId": sessionID,
			"orderId":   winner.ID,
		})
		return r.continueExisting(ctx, winner)
	}

	r.logger(ctx, "order.created", map[string]any{
		"orderId":   order.ID,
		"userId":    order.UserID,
		"sessionId": sessionID,
		"total":     order.TotalAmount,
		"source":    string(order.Source),
	})
	return r.resume(ctx, order, &details)
}

// ResumePending re-runs reconciliation for orders whose follow-up steps are still outstanding,
// including direct orders whose coupon redemption did not reach the store.
func (r *paymentReconciler) ResumePending(ctx context.Context) (SweepResult, error) {
	orders, err := r.orders.ListUnsettled(ctx, r.batch)
	if err != nil {
		return SweepResult{}, mapRepositoryError(err, nil, nil)
	}

	var result SweepResult
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++
		if _, err := r.sweepOne(ctx, order); err != nil {
			result.Failed++
			r.logger(ctx, "reconcile.sweep.failed", map[string]any{
				"orderId":   order.ID,
				"sessionId": order.PaymentSessionID,
				"error":     err.Error(),
			})
			continue
		}
		result.Completed++
	}

	r.logger(ctx, "reconcile.sweep.completed", map[string]any{
		"scanned":   result.Scanned,
		"completed": result.Completed,
		"failed":    result.Failed,
	})
	return result, ctx.Err()
}

// sweepOne settles a single unsettled order. Payment orders go through Reconcile so the paid
// session is re-read; direct orders only lack their coupon redemption.
func (r *paymentReconciler) sweepOne(ctx context.Context, order Order) (ReconcileResult, error) {
	if order.PaymentSessionID != "" {
		return r.Reconcile(ctx, order.PaymentSessionID)
	}
	return r.resume(ctx, order, nil)
}

func (r *paymentReconciler) continueExisting(ctx context.Context, order Order) (ReconcileResult, error) {
	if order.Settled() {
		r.logger(ctx, "reconcile.duplicate", map[string]any{
			"orderId":   order.ID,
			"sessionId": order.PaymentSessionID,
		})
		return ReconcileResult{OrderID: order.ID, Duplicate: true}, nil
	}
	return r.resume(ctx, order, nil)
}

// resume performs the steps after order creation. Cart clearing runs only in the pass that
// materialises the items, so a late retry never empties a cart started after the payment.
func (r *paymentReconciler) resume(ctx context.Context, order Order, details *payments.SessionDetails) (ReconcileResult, error) {
	now := r.now()
	result := ReconcileResult{OrderID: order.ID}

	if !order.ItemsMaterialized {
		if details == nil {
			fetched, err := r.paidSession(ctx, order.PaymentSessionID)
			if err != nil {
				return result, &ReconciliationPartialFailure{OrderID: order.ID, Stage: StageItems, Err: err}
			}
			details = &fetched
		}
		items := sessionItems(order.ID, details.Items, now)
		if err := r.orders.MaterializeItems(ctx, order.ID, items, now); err != nil {
			r.logPartial(ctx, order, StageItems, err)
			return result, &ReconciliationPartialFailure{OrderID: order.ID, Stage: StageItems, Err: mapRepositoryError(err, nil, nil)}
		}
		order.ItemsMaterialized = true

		if err := r.carts.ClearUser(ctx, order.UserID); err != nil {
			r.logPartial(ctx, order, StageCart, err)
			return result, &ReconciliationPartialFailure{OrderID: order.ID, Stage: StageCart, Err: err}
		}
	}

	if order.CouponCode != "" && order.CouponRedemption == domain.CouponRedemptionNone {
		outcome, err := r.coupons.Redeem(ctx, order.ID, order.CouponCode, now)
		if err != nil {
			r.logPartial(ctx, order, StageCoupon, err)
			return result, &ReconciliationPartialFailure{OrderID: order.ID, Stage: StageCoupon, Err: mapRepositoryError(err, nil, nil)}
		}
		if outcome == domain.CouponRedemptionRejected {
			r.logger(ctx, "reconcile.coupon.rejected", map[string]any{
				"orderId": order.ID,
				"coupon":  order.CouponCode,
			})
		}
	}

	return result, nil
}

func (r *paymentReconciler) paidSession(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
	details, err := r.payments.RetrieveSession(ctx, payments.PaymentContext{Currency: r.currency}, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return payments.SessionDetails{}, fmt.Errorf("%w: session %s not found", ErrPaymentIncomplete, sessionID)
		}
		return payments.SessionDetails{}, err
	}
	if !details.Paid {
		return payments.SessionDetails{}, fmt.Errorf("%w: session %s not paid", ErrPaymentIncomplete, sessionID)
	}
	return details, nil
}

func (r *paymentReconciler) orderFromSession(sessionID string, details payments.SessionDetails) Order {
	now := r.now()
	subtotal := details.Subtotal
	if subtotal <= 0 {
		for _, item := range details.Items {
			subtotal += item.UnitAmount * int64(item.Quantity)
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(details.Currency))
	if currency == "" {
		currency = r.currency
	}
	return Order{
		ID:               r.newID(),
		UserID:           details.UserID,
		Status:           domain.OrderStatusConfirmed,
		Source:           domain.OrderSourcePayment,
		Subtotal:         subtotal,
		Discount:         max(0, subtotal-details.AmountTotal),
		TotalAmount:      details.AmountTotal,
		Currency:         currency,
		CouponCode:       details.CouponCode,
		ShippingAddress:  details.Shipping,
		PaymentSessionID: sessionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (r *paymentReconciler) logPartial(ctx context.Context, order Order, stage string, err error) {
	r.logger(ctx, "reconcile.partial_failure", map[string]any{
		"orderId":   order.ID,
		"sessionId": order.PaymentSessionID,
		"stage":     stage,
		"error":     err.Error(),
	})
}

func sessionItems(orderID string, lines []payments.SessionLineItem, at time.Time) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			productID = payments.UnknownProductID
		}
		items = append(items, OrderItem{
			OrderID:      orderID,
			LineNo:       i + 1,
			ProductID:    productID,
			ProductName:  line.Name,
			ProductImage: line.Image,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitAmount,
			TotalPrice:   line.UnitAmount * int64(line.Quantity),
			CreatedAt:    at,
		})
	}
	return items
}
