package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/observability"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

// InternalHandlers serves scheduler-triggered maintenance endpoints. Authentication is applied
// by the router's internal middleware chain.
type InternalHandlers struct {
	reconciler services.PaymentReconciler
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(reconciler services.PaymentReconciler) *InternalHandlers {
	return &InternalHandlers{reconciler: reconciler}
}

// Routes registers internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reconciliation/sweep", h.sweep)
}

type sweepResponse struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (h *InternalHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		writeUnavailable(ctx, w, "reconciliation")
		return
	}

	caller := ""
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = identity.Email
	}
	result, err := h.reconciler.ResumePending(ctx)
	if err != nil {
		observability.FromContext(ctx).Error("reconciliation sweep failed", zap.String("caller", caller), zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	observability.FromContext(ctx).Info("reconciliation sweep finished",
		zap.String("caller", caller),
		zap.Int("scanned", result.Scanned),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
	)
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{
		Scanned:   result.Scanned,
		Completed: result.Completed,
		Failed:    result.Failed,
	})
}
