package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

func newCartRouter(svc services.CartService) chi.Router {
	h := NewCartHandlers(nil, svc, WithCartSessionIDGenerator(func() string { return "guest-session-1" }))
	router := chi.NewRouter()
	router.Route("/cart", h.Routes)
	return router
}

func TestCartHandlersGuestGetsNewSession(t *testing.T) {
	var captured services.CartSessionKey
	svc := &stubCartService{
		cartFn: func(_ context.Context, key services.CartSessionKey) (services.Cart, error) {
			captured = key
			return services.Cart{}, nil
		},
	}
	router := newCartRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SessionID != "guest-session-1" || captured.UserID != "" {
		t.Fatalf("unexpected session key %+v", captured)
	}
	if got := rr.Header().Get(CartSessionHeader); got != "guest-session-1" {
		t.Fatalf("expected session header echoed, got %q", got)
	}
	body := decodeResponse(t, rr)
	if body["sessionId"] != "guest-session-1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCartHandlersSignedInUsesUserSession(t *testing.T) {
	var captured services.CartSessionKey
	svc := &stubCartService{
		cartFn: func(_ context.Context, key services.CartSessionKey) (services.Cart, error) {
			captured = key
			return services.Cart{UserID: key.UserID}, nil
		},
	}
	router := newCartRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(CartSessionHeader, "guest-session-9")
	req = req.WithContext(withUser(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.SessionID != "uid:user-1" || captured.UserID != "user-1" {
		t.Fatalf("expected per-user session, got %+v", captured)
	}
}

func TestCartHandlersRejectsReservedGuestSession(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(CartSessionHeader, "uid:someone-else")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeResponse(t, rr); body["error"] != "invalid_cart_session" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	updated := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	var gotProduct services.Product
	var gotVariant string
	svc := &stubCartService{
		addFn: func(_ context.Context, _ services.CartSessionKey, product services.Product, variant string) (services.Cart, error) {
			gotProduct = product
			gotVariant = variant
			return services.Cart{
				Lines: []services.CartLine{
					{ProductID: "A", Variant: "M", Name: "Alpha", UnitPrice: 5000, Quantity: 2},
				},
				Coupon:    &services.AppliedCoupon{Code: "DESC10", DiscountType: domain.DiscountPercentage, DiscountValue: 10, Discount: 1000},
				UpdatedAt: updated,
			}, nil
		},
	}
	router := newCartRouter(svc)

	body := `{"productId":" A ","variant":"M","name":"Alpha","unitPrice":5000}`
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotProduct.ID != "A" || gotProduct.UnitPrice != 5000 || gotVariant != "M" {
		t.Fatalf("unexpected product %+v variant %q", gotProduct, gotVariant)
	}

	resp := decodeResponse(t, rr)
	cart := resp["cart"].(map[string]any)
	if cart["subtotal"] != float64(10000) || cart["discount"] != float64(1000) || cart["total"] != float64(9000) {
		t.Fatalf("unexpected totals %v", cart)
	}
	if cart["totalItems"] != float64(2) || cart["updatedAt"] != "2024-06-01T09:00:00Z" {
		t.Fatalf("unexpected cart payload %v", cart)
	}
}

func TestCartHandlersSetQuantityRequiresValue(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := httptest.NewRequest(http.MethodPut, "/cart/items/A", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersSetQuantityPassesVariant(t *testing.T) {
	var gotLine services.LineKey
	var gotQty int
	svc := &stubCartService{
		setQuantityFn: func(_ context.Context, _ services.CartSessionKey, line services.LineKey, qty int) (services.Cart, error) {
			gotLine = line
			gotQty = qty
			return services.Cart{}, nil
		},
	}
	router := newCartRouter(svc)

	req := httptest.NewRequest(http.MethodPut, "/cart/items/A?variant=L", strings.NewReader(`{"quantity":0}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLine.ProductID != "A" || gotLine.Variant != "L" || gotQty != 0 {
		t.Fatalf("unexpected call line=%+v qty=%d", gotLine, gotQty)
	}
}

func TestCartHandlersApplyCouponRejected(t *testing.T) {
	svc := &stubCartService{
		applyCouponFn: func(context.Context, services.CartSessionKey, string) (services.Cart, error) {
			return services.Cart{}, &domain.CouponError{Code: "OLD", Reason: domain.CouponExpired}
		},
	}
	router := newCartRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"code":"old"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	body := decodeResponse(t, rr)
	if body["error"] != "coupon_rejected" || body["reason"] != "expired" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	router := newCartRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCartHandlersMapsStoreOutage(t *testing.T) {
	svc := &stubCartService{
		clearFn: func(context.Context, services.CartSessionKey) (services.Cart, error) {
			return services.Cart{}, services.ErrCartUnavailable
		},
	}
	router := newCartRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
