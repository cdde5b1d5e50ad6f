package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
)

type stubCheckoutManager struct {
	ctx  payments.PaymentContext
	req  payments.CheckoutSessionRequest
	err  error
	hits int
}

func (s *stubCheckoutManager) CreateCheckoutSession(_ context.Context, pctx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.hits++
	s.ctx = pctx
	s.req = req
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	return payments.CheckoutSession{ID: "cs_test_1", Provider: "stripe", RedirectURL: "https://checkout.stripe.test/cs_test_1"}, nil
}

// lateRedeemer spends the last use of code before delegating, as a competing order would between
// validation and redemption.
type lateRedeemer struct {
	store *memoryStore
	inner couponRedeemer
}

func (r *lateRedeemer) Redeem(ctx context.Context, orderID, code string, at time.Time) (domain.CouponRedemption, error) {
	r.store.mu.Lock()
	c := r.store.coupons[code]
	if c.MaxUses != nil {
		c.CurrentUses = *c.MaxUses
	}
	r.store.coupons[code] = c
	r.store.mu.Unlock()
	return r.inner.Redeem(ctx, orderID, code, at)
}

type checkoutFixture struct {
	svc     CheckoutService
	store   *memoryStore
	carts   *stubCartClearer
	manager *stubCheckoutManager
	logger  *recordingLogger
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	store := newMemoryStore()
	coupons := newTestCouponService(t, store)
	carts := &stubCartClearer{}
	manager := &stubCheckoutManager{}
	logger := &recordingLogger{}
	var seq atomic.Int64
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:            store.orderRepo(),
		Coupons:           coupons,
		Redeemer:          store.couponRepo(),
		Carts:             carts,
		Payments:          manager,
		Currency:          "brl",
		SuccessURL:        "https://shop.test/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         "https://shop.test/checkout",
		ShippingCountries: []string{"BR"},
		Clock:             fixedClock,
		IDGen:             func() string { return fmt.Sprintf("01HZX3ORDER%015d", seq.Add(1)) },
		Logger:            logger.log,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return &checkoutFixture{svc: svc, store: store, carts: carts, manager: manager, logger: logger}
}

var desc10Lines = []CartLine{
	{ProductID: "A", Name: "Alpha", Image: "a.png", UnitPrice: 5000, Quantity: 2},
	{ProductID: "B", Name: "Beta", UnitPrice: 10000, Quantity: 1},
}

func TestStartCheckoutDesc10(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.coupons["DESC10"] = domain.Coupon{Code: "DESC10", DiscountType: domain.DiscountPercentage, DiscountValue: 10, IsActive: true}

	start, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{
		UserID:     "user-1",
		Email:      "ana@example.com",
		Lines:      desc10Lines,
		CouponCode: "desc10",
		Locale:     "pt-BR",
	})
	if err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	if start.Session.ID != "cs_test_1" {
		t.Fatalf("unexpected session %+v", start.Session)
	}
	req := f.manager.req
	if req.Amount != 18000 || req.Discount != 2000 || req.Currency != "BRL" {
		t.Fatalf("unexpected amounts %+v", req)
	}
	if req.Metadata[payments.MetadataUserID] != "user-1" || req.Metadata[payments.MetadataCouponCode] != "DESC10" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
	if len(req.Items) != 2 || req.Items[0].UnitAmount != 5000 || req.Items[0].Quantity != 2 || req.Items[0].ProductID != "A" {
		t.Fatalf("expected catalogue prices on line items, got %+v", req.Items)
	}
	if !strings.Contains(req.SuccessURL, "{CHECKOUT_SESSION_ID}") || len(req.ShippingCountries) != 1 {
		t.Fatalf("expected configured defaults, got %+v", req)
	}
	if !strings.HasPrefix(req.IdempotencyKey, "checkout_") {
		t.Fatalf("expected idempotency key, got %q", req.IdempotencyKey)
	}
	if f.store.orderCount() != 0 {
		t.Fatalf("starting checkout must not write orders")
	}
}

func TestStartCheckoutRejectsStaleCoupon(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.coupons["ONCE"] = domain.Coupon{Code: "ONCE", DiscountType: domain.DiscountFixed, DiscountValue: 100, IsActive: true, MaxUses: intPtr(1), CurrentUses: 1}

	_, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{UserID: "user-1", Lines: desc10Lines, CouponCode: "ONCE"})
	if !errors.Is(err, &domain.CouponError{Reason: domain.CouponExhausted}) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if f.manager.hits != 0 {
		t.Fatalf("processor must not be called for a rejected coupon")
	}
}

func TestStartCheckoutWrapsProcessorFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	f.manager.err = payments.ErrProviderUnavailable

	_, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{UserID: "user-1", Lines: desc10Lines})
	if !errors.Is(err, ErrCheckoutPaymentFailed) || !errors.Is(err, payments.ErrProviderUnavailable) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if f.logger.count("checkout.session.failed") != 1 {
		t.Fatalf("expected failure logged")
	}
}

func TestStartCheckoutRequiresUser(t *testing.T) {
	f := newCheckoutFixture(t)
	if _, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{Lines: desc10Lines}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPlaceDirectOrderDesc10(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.coupons["DESC10"] = domain.Coupon{Code: "DESC10", DiscountType: domain.DiscountPercentage, DiscountValue: 10, IsActive: true}

	order, err := f.svc.PlaceDirectOrder(context.Background(), PlaceOrderCommand{
		UserID:          "user-1",
		Lines:           desc10Lines,
		CouponCode:      "DESC10",
		ShippingAddress: testAddress,
	})
	if err != nil {
		t.Fatalf("PlaceDirectOrder: %v", err)
	}
	if order.Status != domain.OrderStatusPending || order.Source != domain.OrderSourceDirect {
		t.Fatalf("unexpected order state %+v", order)
	}
	if order.Subtotal != 20000 || order.Discount != 2000 || order.TotalAmount != 18000 {
		t.Fatalf("unexpected totals %+v", order)
	}
	if order.CouponRedemption != domain.CouponRedemptionRedeemed {
		t.Fatalf("expected coupon redeemed, got %q", order.CouponRedemption)
	}

	stored := f.store.order(order.ID)
	if len(stored.Items) != 2 || stored.Items[0].LineNo != 1 || stored.Items[1].LineNo != 2 {
		t.Fatalf("expected two numbered items, got %+v", stored.Items)
	}
	if stored.ItemCount != 3 || !stored.ItemsMaterialized {
		t.Fatalf("unexpected item bookkeeping %+v", stored)
	}
	if got := f.store.coupon("DESC10").CurrentUses; got != 1 {
		t.Fatalf("expected one coupon use, got %d", got)
	}
	if f.carts.count() != 1 || f.carts.cleared[0] != "user-1" {
		t.Fatalf("expected cart cleared, got %v", f.carts.cleared)
	}
}

func TestPlaceDirectOrderExhaustedCouponWritesNothing(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.coupons["ONCE"] = domain.Coupon{Code: "ONCE", DiscountType: domain.DiscountFixed, DiscountValue: 100, IsActive: true, MaxUses: intPtr(1), CurrentUses: 1}

	_, err := f.svc.PlaceDirectOrder(context.Background(), PlaceOrderCommand{
		UserID:          "user-1",
		Lines:           desc10Lines,
		CouponCode:      "ONCE",
		ShippingAddress: testAddress,
	})
	if !errors.Is(err, &domain.CouponError{Reason: domain.CouponExhausted}) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if f.store.orderCount() != 0 || f.carts.count() != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestPlaceDirectOrderMissingAddressField(t *testing.T) {
	f := newCheckoutFixture(t)
	address := testAddress
	address.Phone = ""
	_, err := f.svc.PlaceDirectOrder(context.Background(), PlaceOrderCommand{UserID: "user-1", Lines: desc10Lines, ShippingAddress: address})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "shipping_address.phone" {
		t.Fatalf("expected phone validation error, got %v", err)
	}
}

func TestPlaceDirectOrderCartClearFailureIsLogged(t *testing.T) {
	f := newCheckoutFixture(t)
	f.carts.err = errBoom

	order, err := f.svc.PlaceDirectOrder(context.Background(), PlaceOrderCommand{UserID: "user-1", Lines: desc10Lines, ShippingAddress: testAddress})
	if err != nil {
		t.Fatalf("PlaceDirectOrder: %v", err)
	}
	if order.ID == "" || f.logger.count("checkout.cart.clear.failed") != 1 {
		t.Fatalf("expected order kept and failure logged")
	}
}

func TestPlaceDirectOrderLateExhaustionCancelsOrder(t *testing.T) {
	store := newMemoryStore()
	store.coupons["ONCE"] = domain.Coupon{Code: "ONCE", DiscountType: domain.DiscountFixed, DiscountValue: 500, IsActive: true, MaxUses: intPtr(1)}
	carts := &stubCartClearer{}
	logger := &recordingLogger{}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:   store.orderRepo(),
		Coupons:  newTestCouponService(t, store),
		Redeemer: &lateRedeemer{store: store, inner: store.couponRepo()},
		Carts:    carts,
		Payments: &stubCheckoutManager{},
		Clock:    fixedClock,
		IDGen:    func() string { return "ord-late" },
		Logger:   logger.log,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	order, err := svc.PlaceDirectOrder(context.Background(), PlaceOrderCommand{
		UserID:          "user-1",
		Lines:           desc10Lines,
		CouponCode:      "ONCE",
		ShippingAddress: testAddress,
	})
	if !errors.Is(err, &domain.CouponError{Reason: domain.CouponExhausted}) {
		t.Fatalf("expected exhausted, got order=%+v err=%v", order, err)
	}
	stored := store.order("ord-late")
	if stored.Status != domain.OrderStatusCancelled || stored.CouponRedemption != domain.CouponRedemptionRejected {
		t.Fatalf("expected the discounted order cancelled, got %+v", stored)
	}
	if carts.count() != 0 {
		t.Fatalf("expected cart kept, got %v", carts.cleared)
	}
	if logger.count("checkout.coupon.rejected") != 1 {
		t.Fatalf("expected rejection logged")
	}
}

func TestPlaceDirectOrderConcurrentSingleUseCoupon(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.coupons["ONCE"] = domain.Coupon{Code: "ONCE", DiscountType: domain.DiscountFixed, DiscountValue: 500, IsActive: true, MaxUses: intPtr(1)}

	const buyers = 2
	var wg sync.WaitGroup
	orders := make([]Order, buyers)
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orders[i], errs[i] = f.svc.PlaceDirectOrder(context.Background(), PlaceOrderCommand{
				UserID:          fmt.Sprintf("user-%d", i),
				Lines:           desc10Lines,
				CouponCode:      "ONCE",
				ShippingAddress: testAddress,
			})
		}(i)
	}
	wg.Wait()

	placed, exhausted := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil:
			placed++
			if orders[i].Discount != 500 || orders[i].CouponRedemption != domain.CouponRedemptionRedeemed {
				t.Fatalf("expected the placed order to carry a redeemed discount, got %+v", orders[i])
			}
		case errors.Is(errs[i], &domain.CouponError{Reason: domain.CouponExhausted}):
			exhausted++
		default:
			t.Fatalf("unexpected error %v", errs[i])
		}
	}
	if placed != 1 || exhausted != 1 {
		t.Fatalf("expected one order and one exhausted coupon, got placed=%d exhausted=%d", placed, exhausted)
	}
	if got := f.store.coupon("ONCE").CurrentUses; got != 1 {
		t.Fatalf("expected one coupon use, got %d", got)
	}

	f.store.mu.Lock()
	discounted := 0
	for _, o := range f.store.orders {
		if o.Discount > 0 && o.Status != domain.OrderStatusCancelled {
			discounted++
		}
	}
	f.store.mu.Unlock()
	if discounted != 1 {
		t.Fatalf("expected exactly one live discounted order, got %d", discounted)
	}
	if f.carts.count() != 1 {
		t.Fatalf("expected only the winning cart cleared, got %v", f.carts.cleared)
	}
}

func TestPlaceDirectOrderDeferredRedemptionIsSwept(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.coupons["DESC10"] = domain.Coupon{Code: "DESC10", DiscountType: domain.DiscountPercentage, DiscountValue: 10, IsActive: true}
	f.store.failRedeem = errBoom
	ctx := context.Background()

	order, err := f.svc.PlaceDirectOrder(ctx, PlaceOrderCommand{
		UserID:          "user-1",
		Lines:           desc10Lines,
		CouponCode:      "DESC10",
		ShippingAddress: testAddress,
	})
	if err != nil {
		t.Fatalf("PlaceDirectOrder: %v", err)
	}
	if order.CouponRedemption != domain.CouponRedemptionNone || f.logger.count("checkout.coupon.redeem.failed") != 1 {
		t.Fatalf("expected redemption deferred and logged, got %+v", order)
	}

	f.store.mu.Lock()
	f.store.failRedeem = nil
	f.store.mu.Unlock()
	reconciler, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:   f.store.orderRepo(),
		Coupons:  f.store.couponRepo(),
		Carts:    &stubCartClearer{},
		Payments: &stubSessions{sessions: map[string]payments.SessionDetails{}},
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler: %v", err)
	}
	sweep, err := reconciler.ResumePending(ctx)
	if err != nil {
		t.Fatalf("ResumePending: %v", err)
	}
	if sweep.Scanned != 1 || sweep.Completed != 1 {
		t.Fatalf("unexpected sweep %+v", sweep)
	}
	if got := f.store.order(order.ID).CouponRedemption; got != domain.CouponRedemptionRedeemed {
		t.Fatalf("expected the sweep to redeem the coupon, got %q", got)
	}
	if got := f.store.coupon("DESC10").CurrentUses; got != 1 {
		t.Fatalf("expected one coupon use, got %d", got)
	}
}
