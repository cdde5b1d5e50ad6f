package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
)

type reconcilerFixture struct {
	svc      PaymentReconciler
	store    *memoryStore
	sessions *stubSessions
	carts    *stubCartClearer
	logger   *recordingLogger
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := newMemoryStore()
	store.coupons["DESC10"] = domain.Coupon{Code: "DESC10", DiscountType: domain.DiscountPercentage, DiscountValue: 10, IsActive: true}
	sessions := &stubSessions{sessions: map[string]payments.SessionDetails{
		"cs_paid": paidSessionDetails("cs_paid", "user-1", "DESC10"),
	}}
	carts := &stubCartClearer{}
	logger := &recordingLogger{}
	var seq atomic.Int64
	svc, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:   store.orderRepo(),
		Coupons:  store.couponRepo(),
		Carts:    carts,
		Payments: sessions,
		Timeout:  time.Second,
		Clock:    fixedClock,
		IDGen:    func() string { return fmt.Sprintf("ord-%03d", seq.Add(1)) },
		Logger:   logger.log,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler: %v", err)
	}
	return &reconcilerFixture{svc: svc, store: store, sessions: sessions, carts: carts, logger: logger}
}

func paidSessionDetails(id, userID, coupon string) payments.SessionDetails {
	return payments.SessionDetails{
		ID:          id,
		Provider:    "stripe",
		Paid:        true,
		Subtotal:    20000,
		AmountTotal: 18000,
		Currency:    "brl",
		UserID:      userID,
		CouponCode:  coupon,
		Shipping:    testAddress,
		Items: []payments.SessionLineItem{
			{ProductID: "A", Name: "Alpha", Quantity: 2, UnitAmount: 5000, AmountTotal: 10000},
			{Name: "Beta", Quantity: 1, UnitAmount: 10000, AmountTotal: 10000},
		},
	}
}

func TestReconcileCreatesConfirmedOrder(t *testing.T) {
	f := newReconcilerFixture(t)

	result, err := f.svc.Reconcile(context.Background(), "cs_paid")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Duplicate || result.OrderID == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	order := f.store.order(result.OrderID)
	if order.Status != domain.OrderStatusConfirmed || order.Source != domain.OrderSourcePayment {
		t.Fatalf("unexpected order state %+v", order)
	}
	if order.Subtotal != 20000 || order.Discount != 2000 || order.TotalAmount != 18000 || order.Currency != "BRL" {
		t.Fatalf("unexpected amounts %+v", order)
	}
	if order.PaymentSessionID != "cs_paid" || order.UserID != "user-1" || order.ShippingAddress.City != "Recife" {
		t.Fatalf("unexpected order fields %+v", order)
	}
	if len(order.Items) != 2 || order.ItemCount != 3 {
		t.Fatalf("expected two items totalling three units, got %+v", order.Items)
	}
	if order.Items[1].ProductID != payments.UnknownProductID || order.Items[1].LineNo != 2 || order.Items[0].TotalPrice != 10000 {
		t.Fatalf("unexpected item snapshot %+v", order.Items)
	}
	if order.CouponRedemption != domain.CouponRedemptionRedeemed || f.store.coupon("DESC10").CurrentUses != 1 {
		t.Fatalf("expected coupon redeemed once, got %+v", order)
	}
	if f.carts.count() != 1 || f.carts.cleared[0] != "user-1" {
		t.Fatalf("expected cart cleared, got %v", f.carts.cleared)
	}
}

func TestReconcileSecondCallIsDuplicate(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	first, err := f.svc.Reconcile(ctx, "cs_paid")
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := f.svc.Reconcile(ctx, "cs_paid")
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !second.Duplicate || second.OrderID != first.OrderID {
		t.Fatalf("expected duplicate of %s, got %+v", first.OrderID, second)
	}
	if f.sessions.calls != 1 || f.store.createCalls != 1 {
		t.Fatalf("duplicate must not reach the processor or create again: calls=%d creates=%d", f.sessions.calls, f.store.createCalls)
	}
	if f.carts.count() != 1 || f.store.coupon("DESC10").CurrentUses != 1 {
		t.Fatalf("duplicate must not repeat side effects")
	}
}

func TestReconcileConcurrentCallsCreateOneOrder(t *testing.T) {
	f := newReconcilerFixture(t)

	const callers = 12
	var wg sync.WaitGroup
	results := make([]ReconcileResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Reconcile(context.Background(), "cs_paid")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if results[i].OrderID != results[0].OrderID {
			t.Fatalf("callers disagree on order id: %s vs %s", results[i].OrderID, results[0].OrderID)
		}
	}
	if f.store.orderCount() != 1 {
		t.Fatalf("expected exactly one order, got %d", f.store.orderCount())
	}
	if items := f.store.order(results[0].OrderID).Items; len(items) != 2 {
		t.Fatalf("expected one item set, got %+v", items)
	}
	if uses := f.store.coupon("DESC10").CurrentUses; uses != 1 {
		t.Fatalf("expected coupon used once, got %d", uses)
	}
}

func TestReconcileSingleUseCouponAcrossSessions(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.coupons["ONCE"] = domain.Coupon{Code: "ONCE", DiscountType: domain.DiscountFixed, DiscountValue: 500, IsActive: true, MaxUses: intPtr(1)}
	f.sessions.sessions["cs_a"] = paidSessionDetails("cs_a", "user-a", "ONCE")
	f.sessions.sessions["cs_b"] = paidSessionDetails("cs_b", "user-b", "ONCE")

	var wg sync.WaitGroup
	results := make(map[string]ReconcileResult)
	var mu sync.Mutex
	for _, id := range []string{"cs_a", "cs_b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.svc.Reconcile(context.Background(), id)
			if err != nil {
				t.Errorf("Reconcile %s: %v", id, err)
				return
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if len(results) != 2 {
		t.Fatalf("expected two orders, got %+v", results)
	}
	redeemed, rejected := 0, 0
	for _, res := range results {
		switch f.store.order(res.OrderID).CouponRedemption {
		case domain.CouponRedemptionRedeemed:
			redeemed++
		case domain.CouponRedemptionRejected:
			rejected++
		}
	}
	if redeemed != 1 || rejected != 1 {
		t.Fatalf("expected one redeemed and one rejected, got %d/%d", redeemed, rejected)
	}
	if uses := f.store.coupon("ONCE").CurrentUses; uses != 1 {
		t.Fatalf("expected usage capped at 1, got %d", uses)
	}
	if f.logger.count("reconcile.coupon.rejected") != 1 {
		t.Fatalf("expected rejected redemption logged")
	}
}

func TestReconcilePaymentIncomplete(t *testing.T) {
	f := newReconcilerFixture(t)
	unpaid := paidSessionDetails("cs_open", "user-1", "")
	unpaid.Paid = false
	f.sessions.sessions["cs_open"] = unpaid

	for _, id := range []string{"cs_open", "cs_unknown"} {
		if _, err := f.svc.Reconcile(context.Background(), id); !errors.Is(err, ErrPaymentIncomplete) {
			t.Fatalf("%s: expected payment incomplete, got %v", id, err)
		}
	}
	if f.store.orderCount() != 0 || f.carts.count() != 0 {
		t.Fatalf("incomplete payments must not write anything")
	}
}

func TestReconcileRequiresSessionID(t *testing.T) {
	f := newReconcilerFixture(t)
	if _, err := f.svc.Reconcile(context.Background(), "  "); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReconcileStoreUnavailable(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.findErr = errRepoUnavailable
	if _, err := f.svc.Reconcile(context.Background(), "cs_paid"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestReconcilePartialFailureResumesOnRetry(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.failMaterialize = errBoom
	ctx := context.Background()

	result, err := f.svc.Reconcile(ctx, "cs_paid")
	var partial *ReconciliationPartialFailure
	if !errors.As(err, &partial) || partial.Stage != StageItems {
		t.Fatalf("expected items partial failure, got %v", err)
	}
	if partial.OrderID != result.OrderID || f.store.orderCount() != 1 {
		t.Fatalf("expected order kept for retry, got %+v", result)
	}
	if f.carts.count() != 0 || f.store.coupon("DESC10").CurrentUses != 0 {
		t.Fatalf("later steps must wait for items")
	}
	if f.logger.count("reconcile.partial_failure") != 1 {
		t.Fatalf("expected partial failure logged")
	}

	f.store.mu.Lock()
	f.store.failMaterialize = nil
	f.store.mu.Unlock()

	retry, err := f.svc.Reconcile(ctx, "cs_paid")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Duplicate || retry.OrderID != result.OrderID {
		t.Fatalf("expected retry to complete the same order, got %+v", retry)
	}
	order := f.store.order(retry.OrderID)
	if len(order.Items) != 2 || !order.Settled() {
		t.Fatalf("expected settled order, got %+v", order)
	}
	if f.carts.count() != 1 || f.store.coupon("DESC10").CurrentUses != 1 {
		t.Fatalf("expected cart cleared and coupon redeemed on retry")
	}
}

func TestResumePendingCompletesUnsettledOrders(t *testing.T) {
	f := newReconcilerFixture(t)
	f.sessions.sessions["cs_other"] = paidSessionDetails("cs_other", "user-2", "")
	ctx := context.Background()

	if _, err := f.svc.Reconcile(ctx, "cs_other"); err != nil {
		t.Fatalf("Reconcile settled order: %v", err)
	}
	f.store.mu.Lock()
	f.store.failRedeem = errBoom
	f.store.mu.Unlock()
	pending, err := f.svc.Reconcile(ctx, "cs_paid")
	var partial *ReconciliationPartialFailure
	if !errors.As(err, &partial) || partial.Stage != StageCoupon {
		t.Fatalf("expected coupon partial failure, got %v", err)
	}
	f.store.mu.Lock()
	f.store.failRedeem = nil
	f.store.mu.Unlock()

	sweep, err := f.svc.ResumePending(ctx)
	if err != nil {
		t.Fatalf("ResumePending: %v", err)
	}
	if sweep.Scanned != 1 || sweep.Completed != 1 || sweep.Failed != 0 {
		t.Fatalf("unexpected sweep %+v", sweep)
	}
	if got := f.store.order(pending.OrderID).CouponRedemption; got != domain.CouponRedemptionRedeemed {
		t.Fatalf("expected coupon redeemed by sweep, got %q", got)
	}
	if f.logger.count("reconcile.sweep.completed") != 1 {
		t.Fatalf("expected sweep summary logged")
	}
}

func TestReconcileIgnoresCallerCancellation(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.Reconcile(ctx, "cs_paid")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !f.store.order(result.OrderID).Settled() {
		t.Fatalf("expected order settled despite cancelled caller")
	}
}
