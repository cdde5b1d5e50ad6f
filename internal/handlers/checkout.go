package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

// CheckoutHandlers turns the caller's cart into a processor session or a direct order.
type CheckoutHandlers struct {
	authn      *auth.Authenticator
	carts      services.CartService
	checkout   services.CheckoutService
	reconciler services.PaymentReconciler
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, carts services.CartService, checkout services.CheckoutService, reconciler services.PaymentReconciler) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:      authn,
		carts:      carts,
		checkout:   checkout,
		reconciler: reconciler,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout/session", h.createSession)
	group.Post("/checkout/verify", h.verifySession)
	group.Post("/orders", h.placeOrder)
}

type checkoutSessionRequest struct {
	Locale     string `json:"locale"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Subtotal  int64  `json:"subtotal"`
	Discount  int64  `json:"discount"`
	Total     int64  `json:"total"`
}

type verifySessionRequest struct {
	SessionID string `json:"sessionId"`
}

type verifySessionResponse struct {
	Status    string `json:"status"`
	OrderID   string `json:"orderId"`
	Duplicate bool   `json:"duplicate"`
}

type placeOrderRequest struct {
	ShippingAddress *services.ShippingAddress `json:"shippingAddress"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || h.carts == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	var req checkoutSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cart, err := h.carts.Cart(ctx, userCartKey(identity.UID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = identity.Locale
	}

	start, err := h.checkout.StartCheckout(ctx, services.StartCheckoutCommand{
		UserID:     identity.UID,
		Email:      identity.Email,
		Lines:      cart.Lines,
		CouponCode: appliedCouponCode(cart),
		Locale:     locale,
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := checkoutSessionResponse{
		SessionID: start.Session.ID,
		Provider:  start.Session.Provider,
		URL:       start.Session.RedirectURL,
		Subtotal:  start.Submission.Subtotal,
		Discount:  start.Submission.Discount,
		Total:     start.Submission.Total,
	}
	if !start.Session.ExpiresAt.IsZero() {
		resp.ExpiresAt = start.Session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) verifySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	if strings.TrimSpace(auth.UserID(ctx)) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	var req verifySessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, sessionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := "created"
	if result.Duplicate {
		status = "already_processed"
	}
	httpx.WriteJSON(w, http.StatusOK, verifySessionResponse{
		Status:    status,
		OrderID:   result.OrderID,
		Duplicate: result.Duplicate,
	})
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || h.carts == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	userID := strings.TrimSpace(auth.UserID(ctx))
	if userID == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ShippingAddress == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shippingAddress is required", http.StatusBadRequest).
			WithDetails(map[string]any{"field": "shipping_address"}))
		return
	}

	cart, err := h.carts.Cart(ctx, userCartKey(userID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	order, err := h.checkout.PlaceDirectOrder(ctx, services.PlaceOrderCommand{
		UserID:          userID,
		Lines:           cart.Lines,
		CouponCode:      appliedCouponCode(cart),
		ShippingAddress: *req.ShippingAddress,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func userCartKey(uid string) services.CartSessionKey {
	return services.CartSessionKey{SessionID: userSessionPrefix + uid, UserID: uid}
}

func appliedCouponCode(cart services.Cart) string {
	if cart.Coupon == nil {
		return ""
	}
	return cart.Coupon.Code
}
