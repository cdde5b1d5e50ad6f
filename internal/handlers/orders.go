package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/pagination"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

// OrderHandlers exposes the signed-in user's order history.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs order history handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers /me/orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
}

type orderItemPayload struct {
	LineNo       int    `json:"lineNo"`
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductImage string `json:"productImage,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	TotalPrice   int64  `json:"totalPrice"`
}

type orderPayload struct {
	ID               string                   `json:"id"`
	UserID           string                   `json:"userId"`
	Status           string                   `json:"status"`
	Source           string                   `json:"source"`
	Subtotal         int64                    `json:"subtotal"`
	Discount         int64                    `json:"discount"`
	TotalAmount      int64                    `json:"totalAmount"`
	Currency         string                   `json:"currency,omitempty"`
	CouponCode       string                   `json:"couponCode,omitempty"`
	CouponRedemption string                   `json:"couponRedemption,omitempty"`
	ShippingAddress  services.ShippingAddress `json:"shippingAddress"`
	PaymentSessionID string                   `json:"paymentSessionId,omitempty"`
	ItemCount        int                      `json:"itemCount"`
	Items            []orderItemPayload       `json:"items,omitempty"`
	CreatedAt        string                   `json:"createdAt,omitempty"`
	UpdatedAt        string                   `json:"updatedAt,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	userID := strings.TrimSpace(auth.UserID(ctx))
	if userID == "" {
		writeUnauthenticated(ctx, w)
		return
	}
	params, ok := pageParams(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListUserOrders(ctx, userID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	userID := strings.TrimSpace(auth.UserID(ctx))
	if userID == "" {
		writeUnauthenticated(ctx, w)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{UserID: userID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func pageParams(w http.ResponseWriter, r *http.Request) (pagination.Params, bool) {
	params, err := pagination.FromRequest(r)
	if err == nil {
		return params, true
	}
	code := "invalid_page_size"
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		code = "invalid_page_token"
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
	return pagination.Params{}, false
}

func buildOrderList(orders []services.Order, next string) orderListResponse {
	resp := orderListResponse{Items: make([]orderPayload, 0, len(orders)), NextPageToken: next}
	for _, order := range orders {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	return resp
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		UserID:           order.UserID,
		Status:           string(order.Status),
		Source:           string(order.Source),
		Subtotal:         order.Subtotal,
		Discount:         order.Discount,
		TotalAmount:      order.TotalAmount,
		Currency:         order.Currency,
		CouponCode:       order.CouponCode,
		CouponRedemption: string(order.CouponRedemption),
		ShippingAddress:  order.ShippingAddress,
		PaymentSessionID: order.PaymentSessionID,
		ItemCount:        order.ItemCount,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	if len(order.Items) > 0 {
		payload.Items = make([]orderItemPayload, 0, len(order.Items))
		for _, item := range order.Items {
			payload.Items = append(payload.Items, orderItemPayload{
				LineNo:       item.LineNo,
				ProductID:    item.ProductID,
				ProductName:  item.ProductName,
				ProductImage: item.ProductImage,
				Quantity:     item.Quantity,
				UnitPrice:    item.UnitPrice,
				TotalPrice:   item.TotalPrice,
			})
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
