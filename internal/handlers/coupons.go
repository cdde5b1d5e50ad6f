package handlers

import (
	"math"
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

const (
	defaultCouponAttemptLimit  = 10
	defaultCouponAttemptWindow = time.Minute
)

// CouponHandlers serves the public coupon validation endpoint.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
	limiter attemptLimiter
}

// CouponOption customises CouponHandlers.
type CouponOption func(*CouponHandlers)

// WithCouponAttemptLimit overrides how many validation attempts a caller gets per window.
// A non-positive limit disables limiting.
func WithCouponAttemptLimit(limit int, window time.Duration, clock func() time.Time) CouponOption {
	return func(h *CouponHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService, opts ...CouponOption) *CouponHandlers {
	h := &CouponHandlers{
		authn:   authn,
		coupons: coupons,
		limiter: newFixedWindowLimiter(defaultCouponAttemptLimit, defaultCouponAttemptWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers POST /coupons:validate.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.With(h.authn.OptionalFirebaseAuth()).Post("/coupons:validate", h.validateCoupon)
		return
	}
	r.Post("/coupons:validate", h.validateCoupon)
}

type validateCouponRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type validateCouponResponse struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
	Discount      int64  `json:"discount"`
	Total         int64  `json:"total"`
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	if ok, retryAfter := h.allow(r); !ok {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many coupon attempts", http.StatusTooManyRequests))
		return
	}

	var req validateCouponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}
	if req.Subtotal < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must not be negative", http.StatusBadRequest))
		return
	}

	applied, err := h.coupons.Evaluate(ctx, req.Code, req.Subtotal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, validateCouponResponse{
		Valid:         true,
		Code:          applied.Code,
		DiscountType:  string(applied.DiscountType),
		DiscountValue: applied.DiscountValue,
		Discount:      applied.Discount,
		Total:         domain.FinalPrice(req.Subtotal, applied.Discount),
	})
}

func (h *CouponHandlers) allow(r *http.Request) (bool, time.Duration) {
	if h.limiter == nil {
		return true, 0
	}
	return h.limiter.Allow(limiterKey(r))
}
