package services

import (
	"errors"
	"fmt"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

var (
	// ErrPaymentIncomplete indicates the processor session is unknown or has not been paid.
	ErrPaymentIncomplete = errors.New("payments: payment incomplete")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidInput indicates the caller supplied invalid order parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderConflict indicates a concurrent modification of the order.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCouponNotFound indicates the coupon code does not exist.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponConflict indicates a coupon with the same code already exists.
	ErrCouponConflict = errors.New("coupon: conflict")
	// ErrCouponInvalidInput indicates admin coupon input failed validation.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCheckoutInvalidInput indicates the checkout request is missing required data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPaymentFailed indicates the processor session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrStoreUnavailable indicates the remote data store cannot be reached.
	ErrStoreUnavailable = errors.New("store: unavailable")
	// ErrReportStorageUnavailable indicates report exports are not configured.
	ErrReportStorageUnavailable = errors.New("order: report storage unavailable")
)

// SyncFailure records a remote cart write that failed. It is logged, never returned to callers.
type SyncFailure struct {
	Op     string
	UserID string
	Err    error
}

func (e *SyncFailure) Error() string {
	if e == nil {
		return "cart sync failure"
	}
	return fmt.Sprintf("cart sync %s for %s: %v", e.Op, e.UserID, e.Err)
}

func (e *SyncFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reconciliation stages reported by ReconciliationPartialFailure.
const (
	StageItems  = "items"
	StageCart   = "cart"
	StageCoupon = "coupon"
)

// ReconciliationPartialFailure reports an order that exists but whose follow-up steps did not all
// complete. Retrying reconciliation for the same session finishes the remaining steps.
type ReconciliationPartialFailure struct {
	OrderID string
	Stage   string
	Err     error
}

func (e *ReconciliationPartialFailure) Error() string {
	if e == nil {
		return "reconciliation incomplete"
	}
	return fmt.Sprintf("reconciliation of order %s incomplete at %s: %v", e.OrderID, e.Stage, e.Err)
}

func (e *ReconciliationPartialFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// mapRepositoryError translates repository failures into the given service sentinels.
func mapRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
