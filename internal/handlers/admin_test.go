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

func newAdminRouter(coupons services.CouponService, orders services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(nil, coupons, orders).Routes)
	return router
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(withUser(req.Context(), "admin-1", "admin"))
}

func TestAdminHandlersCreateCoupon(t *testing.T) {
	var cmd services.CreateCouponCommand
	coupons := &stubCouponService{
		createFn: func(_ context.Context, c services.CreateCouponCommand) (services.Coupon, error) {
			cmd = c
			return services.Coupon{Code: "DESC10", DiscountType: c.DiscountType, DiscountValue: c.DiscountValue, MaxUses: c.MaxUses, IsActive: c.IsActive, ExpiresAt: c.ExpiresAt}, nil
		},
	}
	router := newAdminRouter(coupons, nil)

	body := `{"code":"desc10","discountType":"Percentage","discountValue":10,"maxUses":100,"expiresAt":"2024-12-31T23:59:59Z"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/coupons", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if cmd.DiscountType != domain.DiscountPercentage || cmd.DiscountValue != 10 || !cmd.IsActive {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.MaxUses == nil || *cmd.MaxUses != 100 {
		t.Fatalf("expected max uses, got %v", cmd.MaxUses)
	}
	if cmd.ExpiresAt == nil || !cmd.ExpiresAt.Equal(time.Date(2024, time.December, 31, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", cmd.ExpiresAt)
	}
	resp := decodeResponse(t, rr)
	if resp["code"] != "DESC10" || resp["expiresAt"] != "2024-12-31T23:59:59Z" {
		t.Fatalf("unexpected body %v", resp)
	}
}

func TestAdminHandlersCreateCouponInvalidExpiry(t *testing.T) {
	router := newAdminRouter(&stubCouponService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/coupons", `{"code":"X","expiresAt":"tomorrow"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminHandlersCreateCouponConflict(t *testing.T) {
	coupons := &stubCouponService{
		createFn: func(context.Context, services.CreateCouponCommand) (services.Coupon, error) {
			return services.Coupon{}, services.ErrCouponConflict
		},
	}
	router := newAdminRouter(coupons, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/coupons", `{"code":"X","discountType":"fixed","discountValue":100}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateCouponCodeMismatch(t *testing.T) {
	router := newAdminRouter(&stubCouponService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/admin/coupons/DESC10", `{"code":"OTHER"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminHandlersDeleteCoupon(t *testing.T) {
	var deleted string
	coupons := &stubCouponService{
		deleteFn: func(_ context.Context, code string) error {
			deleted = code
			return nil
		},
	}
	router := newAdminRouter(coupons, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/admin/coupons/desc10", ""))

	if rr.Code != http.StatusNoContent || deleted != "desc10" {
		t.Fatalf("expected 204 deleting desc10, got %d %q", rr.Code, deleted)
	}
}

func TestAdminHandlersListCouponsActiveFilter(t *testing.T) {
	var filter services.CouponListFilter
	coupons := &stubCouponService{
		listFn: func(_ context.Context, f services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
			filter = f
			return domain.CursorPage[services.Coupon]{Items: []services.Coupon{{Code: "A"}}}, nil
		},
	}
	router := newAdminRouter(coupons, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/coupons?active=true", ""))

	if rr.Code != http.StatusOK || !filter.ActiveOnly {
		t.Fatalf("expected active filter, got %d %+v", rr.Code, filter)
	}
}

func TestAdminHandlersListOrdersFilters(t *testing.T) {
	var filter services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, f services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			filter = f
			return domain.CursorPage[services.Order]{}, nil
		},
	}
	router := newAdminRouter(nil, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/orders?status=Shipped&pageSize=10", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if filter.Status != domain.OrderStatusShipped || filter.Pagination.PageSize != 10 {
		t.Fatalf("unexpected filter %+v", filter)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/orders?status=lost", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateOrderStatus(t *testing.T) {
	var cmd services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		updateFn: func(_ context.Context, c services.UpdateOrderStatusCommand) (services.Order, error) {
			cmd = c
			return services.Order{ID: c.OrderID, Status: domain.OrderStatusShipped}, nil
		},
	}
	router := newAdminRouter(nil, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/admin/orders/ord-1/status", `{"status":"shipped"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cmd.OrderID != "ord-1" || cmd.Status != "shipped" || cmd.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestAdminHandlersUpdateOrderStatusInvalid(t *testing.T) {
	orders := &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidInput
		},
	}
	router := newAdminRouter(nil, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/admin/orders/ord-1/status", `{"status":"lost"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminHandlersOrderStats(t *testing.T) {
	orders := &stubOrderService{
		statsFn: func(context.Context) (services.OrderStats, error) {
			return services.OrderStats{
				TotalOrders:       3,
				TotalRevenue:      23700,
				AverageOrderValue: 7900,
				PendingOrders:     1,
				ByStatus:          map[domain.OrderStatus]int{domain.OrderStatusPending: 1, domain.OrderStatusConfirmed: 2},
			}, nil
		},
	}
	router := newAdminRouter(nil, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/orders/stats", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeResponse(t, rr)
	byStatus := body["byStatus"].(map[string]any)
	if body["totalRevenue"] != float64(23700) || byStatus["confirmed"] != float64(2) {
		t.Fatalf("unexpected stats %v", body)
	}
}

func TestAdminHandlersExportReport(t *testing.T) {
	generated := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	var cmd services.ExportReportCommand
	orders := &stubOrderService{
		exportFn: func(_ context.Context, c services.ExportReportCommand) (services.ReportExport, error) {
			cmd = c
			return services.ReportExport{
				Object:      "reports/orders/2024/06/01/rep1.csv",
				URL:         "https://storage.test/rep1",
				Rows:        3,
				GeneratedAt: generated,
				ExpiresAt:   generated.Add(15 * time.Minute),
			}, nil
		},
	}
	router := newAdminRouter(nil, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/reports", `{"status":"confirmed"}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if cmd.Status != "confirmed" || cmd.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	body := decodeResponse(t, rr)
	if body["rows"] != float64(3) || body["expiresAt"] != "2024-06-01T09:15:00Z" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAdminHandlersExportReportUnconfigured(t *testing.T) {
	orders := &stubOrderService{
		exportFn: func(context.Context, services.ExportReportCommand) (services.ReportExport, error) {
			return services.ReportExport{}, services.ErrReportStorageUnavailable
		},
	}
	router := newAdminRouter(nil, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/reports", ""))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
