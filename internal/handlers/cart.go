package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/requestctx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

// CartSessionHeader carries the guest cart session id in both directions.
const CartSessionHeader = "X-Cart-Session"

const (
	userSessionPrefix   = "uid:"
	maxCartSessionIDLen = 128
)

// CartHandlers exposes the session cart to guests and signed-in shoppers.
type CartHandlers struct {
	authn        *auth.Authenticator
	carts        services.CartService
	newSessionID func() string
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartSessionIDGenerator overrides how new guest session ids are minted.
func WithCartSessionIDGenerator(fn func() string) CartOption {
	return func(h *CartHandlers) {
		if fn != nil {
			h.newSessionID = fn
		}
	}
}

// NewCartHandlers constructs cart handlers. Authentication is optional on every cart route.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{
		authn:        authn,
		carts:        carts,
		newSessionID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Use(h.resolveSession)
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productId}", h.setQuantity)
	r.Delete("/items/{productId}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
}

// resolveSession binds the request to a cart session. Signed-in shoppers always use their
// per-user session; guests present an opaque id or receive a new one.
func (h *CartHandlers) resolveSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := h.sessionFor(r)
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_cart_session", "cart session header is invalid", http.StatusBadRequest))
			return
		}
		w.Header().Set(CartSessionHeader, sessionID)
		next.ServeHTTP(w, r.WithContext(requestctx.WithCartSession(r.Context(), sessionID)))
	})
}

func (h *CartHandlers) sessionFor(r *http.Request) (string, bool) {
	return cartSessionFor(r, h.newSessionID)
}

func cartSessionFor(r *http.Request, mint func() string) (string, bool) {
	if uid := strings.TrimSpace(auth.UserID(r.Context())); uid != "" {
		return userSessionPrefix + uid, true
	}
	sessionID := strings.TrimSpace(r.Header.Get(CartSessionHeader))
	if sessionID == "" {
		if mint == nil {
			return "", false
		}
		return mint(), true
	}
	if len(sessionID) > maxCartSessionIDLen || strings.HasPrefix(sessionID, userSessionPrefix) {
		return "", false
	}
	return sessionID, true
}

func cartKey(r *http.Request) services.CartSessionKey {
	return services.CartSessionKey{
		SessionID: requestctx.CartSession(r.Context()),
		UserID:    strings.TrimSpace(auth.UserID(r.Context())),
	}
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	UnitPrice int64  `json:"unitPrice"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type cartLinePayload struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

type appliedCouponPayload struct {
	Code          string `json:"code"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
	Discount      int64  `json:"discount"`
}

type cartPayload struct {
	UserID     string                `json:"userId,omitempty"`
	Items      []cartLinePayload     `json:"items"`
	TotalItems int                   `json:"totalItems"`
	Subtotal   int64                 `json:"subtotal"`
	Discount   int64                 `json:"discount"`
	Total      int64                 `json:"total"`
	Coupon     *appliedCouponPayload `json:"coupon,omitempty"`
	UpdatedAt  string                `json:"updatedAt,omitempty"`
}

type cartResponse struct {
	SessionID string      `json:"sessionId"`
	Cart      cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	cart, err := h.carts.Cart(r.Context(), cartKey(r))
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	cart, err := h.carts.Clear(r.Context(), cartKey(r))
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	var req addCartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product := services.Product{
		ID:        strings.TrimSpace(req.ProductID),
		Name:      strings.TrimSpace(req.Name),
		Image:     strings.TrimSpace(req.Image),
		UnitPrice: req.UnitPrice,
	}
	cart, err := h.carts.AddItem(r.Context(), cartKey(r), product, strings.TrimSpace(req.Variant))
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	var req setQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.SetQuantity(r.Context(), cartKey(r), lineKeyFromRequest(r), *req.Quantity)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), cartKey(r), lineKeyFromRequest(r))
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	var req applyCouponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.ApplyCoupon(r.Context(), cartKey(r), req.Code)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	cart, err := h.carts.RemoveCoupon(r.Context(), cartKey(r))
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, cart services.Cart, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	httpx.WriteJSON(w, http.StatusOK, cartResponse{
		SessionID: requestctx.CartSession(r.Context()),
		Cart:      buildCartPayload(cart),
	})
}

func lineKeyFromRequest(r *http.Request) services.LineKey {
	return services.LineKey{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productId")),
		Variant:   strings.TrimSpace(r.URL.Query().Get("variant")),
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		UserID:     cart.UserID,
		Items:      make([]cartLinePayload, 0, len(cart.Lines)),
		TotalItems: cart.TotalItems(),
		Subtotal:   cart.TotalPrice(),
	}
	for _, line := range cart.Lines {
		payload.Items = append(payload.Items, cartLinePayload{
			ProductID: line.ProductID,
			Variant:   line.Variant,
			Name:      line.Name,
			Image:     line.Image,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     line.Total(),
		})
	}
	if cart.Coupon != nil {
		payload.Discount = cart.Coupon.Discount
		payload.Coupon = &appliedCouponPayload{
			Code:          cart.Coupon.Code,
			DiscountType:  string(cart.Coupon.DiscountType),
			DiscountValue: cart.Coupon.DiscountValue,
			Discount:      cart.Coupon.Discount,
		}
	}
	payload.Total = domain.FinalPrice(payload.Subtotal, payload.Discount)
	payload.UpdatedAt = formatTime(cart.UpdatedAt)
	return payload
}
