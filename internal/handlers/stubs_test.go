package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

var errNotImplemented = errors.New("not implemented")

type stubCartService struct {
	cartFn         func(context.Context, services.CartSessionKey) (services.Cart, error)
	addFn          func(context.Context, services.CartSessionKey, services.Product, string) (services.Cart, error)
	setQuantityFn  func(context.Context, services.CartSessionKey, services.LineKey, int) (services.Cart, error)
	removeFn       func(context.Context, services.CartSessionKey, services.LineKey) (services.Cart, error)
	clearFn        func(context.Context, services.CartSessionKey) (services.Cart, error)
	applyCouponFn  func(context.Context, services.CartSessionKey, string) (services.Cart, error)
	removeCouponFn func(context.Context, services.CartSessionKey) (services.Cart, error)
}

func (s *stubCartService) Cart(ctx context.Context, key services.CartSessionKey) (services.Cart, error) {
	if s.cartFn != nil {
		return s.cartFn(ctx, key)
	}
	return services.Cart{UserID: key.UserID}, nil
}

func (s *stubCartService) SwitchIdentity(ctx context.Context, sessionID, userID string) (services.Cart, error) {
	return services.Cart{UserID: userID}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, key services.CartSessionKey, product services.Product, variant string) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, key, product, variant)
	}
	return services.Cart{}, errNotImplemented
}

func (s *stubCartService) SetQuantity(ctx context.Context, key services.CartSessionKey, line services.LineKey, quantity int) (services.Cart, error) {
	if s.setQuantityFn != nil {
		return s.setQuantityFn(ctx, key, line, quantity)
	}
	return services.Cart{}, errNotImplemented
}

func (s *stubCartService) RemoveItem(ctx context.Context, key services.CartSessionKey, line services.LineKey) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, key, line)
	}
	return services.Cart{}, errNotImplemented
}

func (s *stubCartService) Clear(ctx context.Context, key services.CartSessionKey) (services.Cart, error) {
	if s.clearFn != nil {
		return s.clearFn(ctx, key)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, key services.CartSessionKey, code string) (services.Cart, error) {
	if s.applyCouponFn != nil {
		return s.applyCouponFn(ctx, key, code)
	}
	return services.Cart{}, errNotImplemented
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, key services.CartSessionKey) (services.Cart, error) {
	if s.removeCouponFn != nil {
		return s.removeCouponFn(ctx, key)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) ClearUser(context.Context, string) error {
	return nil
}

type stubCouponService struct {
	evaluateFn func(context.Context, string, int64) (services.AppliedCoupon, error)
	getFn      func(context.Context, string) (services.Coupon, error)
	listFn     func(context.Context, services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
	createFn   func(context.Context, services.CreateCouponCommand) (services.Coupon, error)
	updateFn   func(context.Context, services.UpdateCouponCommand) (services.Coupon, error)
	deleteFn   func(context.Context, string) error
}

func (s *stubCouponService) Evaluate(ctx context.Context, code string, subtotal int64) (services.AppliedCoupon, error) {
	if s.evaluateFn != nil {
		return s.evaluateFn(ctx, code, subtotal)
	}
	return services.AppliedCoupon{}, errNotImplemented
}

func (s *stubCouponService) Lookup(context.Context, string) (*services.Coupon, error) {
	return nil, nil
}

func (s *stubCouponService) Get(ctx context.Context, code string) (services.Coupon, error) {
	if s.getFn != nil {
		return s.getFn(ctx, code)
	}
	return services.Coupon{}, errNotImplemented
}

func (s *stubCouponService) List(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Coupon]{}, nil
}

func (s *stubCouponService) Create(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Coupon{}, errNotImplemented
}

func (s *stubCouponService) Update(ctx context.Context, cmd services.UpdateCouponCommand) (services.Coupon, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Coupon{}, errNotImplemented
}

func (s *stubCouponService) Delete(ctx context.Context, code string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, code)
	}
	return errNotImplemented
}

type stubCheckoutService struct {
	startFn func(context.Context, services.StartCheckoutCommand) (services.CheckoutStart, error)
	placeFn func(context.Context, services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) StartCheckout(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutStart, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.CheckoutStart{}, errNotImplemented
}

func (s *stubCheckoutService) PlaceDirectOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

type stubReconciler struct {
	reconcileFn func(context.Context, string) (services.ReconcileResult, error)
	sweepFn     func(context.Context) (services.SweepResult, error)
	calls       []string
}

func (s *stubReconciler) Reconcile(ctx context.Context, sessionID string) (services.ReconcileResult, error) {
	s.calls = append(s.calls, sessionID)
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, sessionID)
	}
	return services.ReconcileResult{}, errNotImplemented
}

func (s *stubReconciler) ResumePending(ctx context.Context) (services.SweepResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx)
	}
	return services.SweepResult{}, nil
}

type stubOrderService struct {
	getFn      func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	listUserFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	listFn     func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn   func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	statsFn    func(context.Context) (services.OrderStats, error)
	exportFn   func(context.Context, services.ExportReportCommand) (services.ReportExport, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, opts)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, userID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, userID, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) Stats(ctx context.Context) (services.OrderStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return services.OrderStats{}, nil
}

func (s *stubOrderService) ExportReport(ctx context.Context, cmd services.ExportReportCommand) (services.ReportExport, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, cmd)
	}
	return services.ReportExport{}, errNotImplemented
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubVerifier struct {
	event payments.WebhookEvent
	err   error
	seen  string
}

func (s *stubVerifier) Verify(_ []byte, signature string) (payments.WebhookEvent, error) {
	s.seen = signature
	return s.event, s.err
}

var (
	_ services.CartService       = (*stubCartService)(nil)
	_ services.CouponService     = (*stubCouponService)(nil)
	_ services.CheckoutService   = (*stubCheckoutService)(nil)
	_ services.PaymentReconciler = (*stubReconciler)(nil)
	_ services.OrderService      = (*stubOrderService)(nil)
	_ services.SystemService     = (*stubSystemService)(nil)
	_ WebhookVerifier            = (*stubVerifier)(nil)
)

func withUser(ctx context.Context, uid string, roles ...string) context.Context {
	return auth.WithIdentity(ctx, &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: roles})
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}
