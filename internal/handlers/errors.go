package handlers

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

// writeServiceError maps service and domain errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		couponErr  *domain.CouponError
		validation *domain.ValidationError
		partial    *services.ReconciliationPartialFailure
	)
	switch {
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", couponErr.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(couponErr.Reason), "code": couponErr.Code}))
	case errors.As(err, &partial):
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_pending", "order recorded; follow-up steps will be retried", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"orderId": partial.OrderID, "stage": partial.Stage}))
	case errors.Is(err, services.ErrPaymentIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("payment_incomplete", "payment has not been completed", http.StatusPaymentRequired))
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", validation.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"field": validation.Field}))
	case errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", "a coupon with this code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrStoreUnavailable),
		errors.Is(err, services.ErrReportStorageUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request could not be processed", http.StatusInternalServerError))
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteBodyError(w, r, err)
		return false
	}
	return true
}
