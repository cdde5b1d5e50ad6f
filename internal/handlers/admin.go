package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

// AdminHandlers exposes coupon management and the order lifecycle to administrators.
type AdminHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
	orders  services.OrderService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, coupons services.CouponService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{authn: authn, coupons: coupons, orders: orders}
}

// Routes registers admin endpoints. Every route requires the admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Route("/coupons", func(rt chi.Router) {
		rt.Get("/", h.listCoupons)
		rt.Post("/", h.createCoupon)
		rt.Get("/{code}", h.getCoupon)
		rt.Put("/{code}", h.updateCoupon)
		rt.Delete("/{code}", h.deleteCoupon)
	})
	r.Route("/orders", func(rt chi.Router) {
		rt.Get("/", h.listOrders)
		rt.Get("/stats", h.orderStats)
		rt.Post("/reports", h.exportReport)
		rt.Get("/{orderID}", h.getOrder)
		rt.Put("/{orderID}/status", h.updateOrderStatus)
	})
}

type couponRequest struct {
	Code              string  `json:"code"`
	Description       string  `json:"description"`
	DiscountType      string  `json:"discountType"`
	DiscountValue     int64   `json:"discountValue"`
	MinimumOrderValue int64   `json:"minimumOrderValue"`
	MaxUses           *int    `json:"maxUses"`
	IsActive          *bool   `json:"isActive"`
	ExpiresAt         *string `json:"expiresAt"`
}

type couponPayload struct {
	Code              string `json:"code"`
	Description       string `json:"description,omitempty"`
	DiscountType      string `json:"discountType"`
	DiscountValue     int64  `json:"discountValue"`
	MinimumOrderValue int64  `json:"minimumOrderValue"`
	MaxUses           *int   `json:"maxUses,omitempty"`
	CurrentUses       int    `json:"currentUses"`
	IsActive          bool   `json:"isActive"`
	ExpiresAt         string `json:"expiresAt,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

type orderStatsPayload struct {
	TotalOrders       int            `json:"totalOrders"`
	TotalRevenue      int64          `json:"totalRevenue"`
	AverageOrderValue int64          `json:"averageOrderValue"`
	PendingOrders     int            `json:"pendingOrders"`
	ByStatus          map[string]int `json:"byStatus"`
}

type exportReportRequest struct {
	Status string `json:"status"`
}

type reportPayload struct {
	Object      string `json:"object"`
	URL         string `json:"url"`
	Rows        int    `json:"rows"`
	GeneratedAt string `json:"generatedAt"`
	ExpiresAt   string `json:"expiresAt"`
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	params, ok := pageParams(w, r)
	if !ok {
		return
	}
	filter := services.CouponListFilter{
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "active must be a boolean", http.StatusBadRequest))
			return
		}
		filter.ActiveOnly = active
	}

	page, err := h.coupons.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := couponListResponse{Items: make([]couponPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, coupon := range page.Items {
		resp.Items = append(resp.Items, buildCouponPayload(coupon))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	coupon, err := h.coupons.Get(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	var req couponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	expiresAt, ok := parseExpiry(w, r, req.ExpiresAt)
	if !ok {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	coupon, err := h.coupons.Create(ctx, services.CreateCouponCommand{
		Code:              req.Code,
		Description:       req.Description,
		DiscountType:      domain.DiscountType(strings.ToLower(strings.TrimSpace(req.DiscountType))),
		DiscountValue:     req.DiscountValue,
		MinimumOrderValue: req.MinimumOrderValue,
		MaxUses:           req.MaxUses,
		IsActive:          active,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildCouponPayload(coupon))
}

func (h *AdminHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	var req couponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	code := chi.URLParam(r, "code")
	if body := strings.TrimSpace(req.Code); body != "" && domain.NormalizeCouponCode(body) != domain.NormalizeCouponCode(code) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code in body does not match path", http.StatusBadRequest))
		return
	}
	expiresAt, ok := parseExpiry(w, r, req.ExpiresAt)
	if !ok {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	coupon, err := h.coupons.Update(ctx, services.UpdateCouponCommand{
		Code:              code,
		Description:       req.Description,
		DiscountType:      domain.DiscountType(strings.ToLower(strings.TrimSpace(req.DiscountType))),
		DiscountValue:     req.DiscountValue,
		MinimumOrderValue: req.MinimumOrderValue,
		MaxUses:           req.MaxUses,
		IsActive:          active,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *AdminHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	if err := h.coupons.Delete(ctx, chi.URLParam(r, "code")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	params, ok := pageParams(w, r)
	if !ok {
		return
	}
	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("userId")),
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unknown order status", http.StatusBadRequest))
			return
		}
		filter.Status = status
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{Admin: true})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	var req orderStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  services.OrderStatus(req.Status),
		ActorID: auth.UserID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	stats, err := h.orders.Stats(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := orderStatsPayload{
		TotalOrders:       stats.TotalOrders,
		TotalRevenue:      stats.TotalRevenue,
		AverageOrderValue: stats.AverageOrderValue,
		PendingOrders:     stats.PendingOrders,
		ByStatus:          make(map[string]int, len(stats.ByStatus)),
	}
	for status, count := range stats.ByStatus {
		payload.ByStatus[string(status)] = count
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *AdminHandlers) exportReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	var req exportReportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	export, err := h.orders.ExportReport(ctx, services.ExportReportCommand{
		Status:  services.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID: auth.UserID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, reportPayload{
		Object:      export.Object,
		URL:         export.URL,
		Rows:        export.Rows,
		GeneratedAt: formatTime(export.GeneratedAt),
		ExpiresAt:   formatTime(export.ExpiresAt),
	})
}

func parseExpiry(w http.ResponseWriter, r *http.Request, raw *string) (*time.Time, bool) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, true
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "expiresAt must be RFC3339", http.StatusBadRequest).
			WithDetails(map[string]any{"field": "expiresAt"}))
		return nil, false
	}
	ts = ts.UTC()
	return &ts, true
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	payload := couponPayload{
		Code:              coupon.Code,
		Description:       coupon.Description,
		DiscountType:      string(coupon.DiscountType),
		DiscountValue:     coupon.DiscountValue,
		MinimumOrderValue: coupon.MinimumOrderValue,
		MaxUses:           coupon.MaxUses,
		CurrentUses:       coupon.CurrentUses,
		IsActive:          coupon.IsActive,
		CreatedAt:         formatTime(coupon.CreatedAt),
		UpdatedAt:         formatTime(coupon.UpdatedAt),
	}
	if coupon.ExpiresAt != nil {
		payload.ExpiresAt = formatTime(*coupon.ExpiresAt)
	}
	return payload
}
