package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const defaultCheckoutCurrency = "BRL"

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

type couponLookup interface {
	Lookup(ctx context.Context, code string) (*Coupon, error)
}

type couponRedeemer interface {
	Redeem(ctx context.Context, orderID, code string, at time.Time) (domain.CouponRedemption, error)
}

type cartClearer interface {
	ClearUser(ctx context.Context, userID string) error
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders            repositories.OrderRepository
	Coupons           couponLookup
	Redeemer          couponRedeemer
	Carts             cartClearer
	Payments          checkoutSessionManager
	Currency          string
	SuccessURL        string
	CancelURL         string
	ShippingCountries []string
	Clock             func() time.Time
	IDGen             func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders            repositories.OrderRepository
	coupons           couponLookup
	redeemer          couponRedeemer
	carts             cartClearer
	payments          checkoutSessionManager
	currency          string
	successURL        string
	cancelURL         string
	shippingCountries []string
	now               func() time.Time
	newID             func() string
	logger            func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Coupons == nil || deps.Redeemer == nil {
		return nil, errors.New("checkout service: coupon lookup and redeemer are required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart clearer is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		orders:            deps.Orders,
		coupons:           deps.Coupons,
		redeemer:          deps.Redeemer,
		carts:             deps.Carts,
		payments:          deps.Payments,
		currency:          currency,
		successURL:        strings.TrimSpace(deps.SuccessURL),
		cancelURL:         strings.TrimSpace(deps.CancelURL),
		shippingCountries: append([]string(nil), deps.ShippingCountries...),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// StartCheckout prices the cart, re-validates its coupon against the store and opens a processor session.
func (s *checkoutService) StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutStart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutStart{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	successURL := firstNonEmpty(cmd.SuccessURL, s.successURL)
	cancelURL := firstNonEmpty(cmd.CancelURL, s.cancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutStart{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}

	submission, err := priceLines(cmd.Lines, nil)
	if err != nil {
		return CheckoutStart{}, err
	}
	coupon, err := s.revalidateCoupon(ctx, cmd.CouponCode, submission.Subtotal)
	if err != nil {
		return CheckoutStart{}, err
	}
	if coupon != nil {
		if submission, err = priceLines(cmd.Lines, coupon); err != nil {
			return CheckoutStart{}, err
		}
	}

	metadata := map[string]string{payments.MetadataUserID: userID}
	if submission.CouponCode != "" {
		metadata[payments.MetadataCouponCode] = submission.CouponCode
	}
	items := make([]payments.CheckoutLineItem, 0, len(submission.Lines))
	for _, line := range submission.Lines {
		items = append(items, payments.CheckoutLineItem{
			ProductID:  line.ProductID,
			Name:       line.ProductName,
			Image:      line.ProductImage,
			Quantity:   int64(line.Quantity),
			UnitAmount: line.UnitPrice,
		})
	}

	req := payments.CheckoutSessionRequest{
		Amount:            submission.Total,
		Discount:          submission.Discount,
		Currency:          s.currency,
		CustomerEmail:     strings.TrimSpace(cmd.Email),
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		Locale:            cmd.Locale,
		Metadata:          metadata,
		IdempotencyKey:    s.idempotencyKey(userID, submission),
		ShippingCountries: s.shippingCountries,
		Items:             items,
	}
	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, req)
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"userId": userID,
			"amount": submission.Total,
			"error":  err.Error(),
		})
		return CheckoutStart{}, fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"userId":    userID,
		"sessionId": session.ID,
		"amount":    submission.Total,
		"discount":  submission.Discount,
	})
	return CheckoutStart{Session: session, Submission: submission}, nil
}

// PlaceDirectOrder writes a pending order with its items, redeems the coupon and clears the cart.
// A coupon that ran out between validation and redemption cancels the order and fails the call. A
// redemption that could not reach the store is left to ResumePending.
func (s *checkoutService) PlaceDirectOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	submission, err := AssembleOrder(cmd.Lines, cmd.ShippingAddress, nil)
	if err != nil {
		return Order{}, err
	}
	coupon, err := s.revalidateCoupon(ctx, cmd.CouponCode, submission.Subtotal)
	if err != nil {
		return Order{}, err
	}
	if coupon != nil {
		if submission, err = AssembleOrder(cmd.Lines, cmd.ShippingAddress, coupon); err != nil {
			return Order{}, err
		}
	}

	now := s.now()
	order := Order{
		ID:                s.newID(),
		UserID:            userID,
		Status:            domain.OrderStatusPending,
		Source:            domain.OrderSourceDirect,
		Subtotal:          submission.Subtotal,
		Discount:          submission.Discount,
		TotalAmount:       submission.Total,
		Currency:          s.currency,
		CouponCode:        submission.CouponCode,
		ShippingAddress:   submission.ShippingAddress,
		ItemsMaterialized: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.Items = make([]OrderItem, 0, len(submission.Lines))
	for i, line := range submission.Lines {
		order.Items = append(order.Items, OrderItem{
			OrderID:      order.ID,
			LineNo:       i + 1,
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			ProductImage: line.ProductImage,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			TotalPrice:   line.TotalPrice,
			CreatedAt:    now,
		})
		order.ItemCount += line.Quantity
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, nil, ErrOrderConflict)
	}
	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"userId":  userID,
		"total":   order.TotalAmount,
		"source":  string(order.Source),
	})

	if order.CouponCode != "" {
		outcome, err := s.redeemer.Redeem(ctx, order.ID, order.CouponCode, now)
		switch {
		case err != nil:
			s.logger(ctx, "checkout.coupon.redeem.failed", map[string]any{
				"orderId": order.ID,
				"coupon":  order.CouponCode,
				"error":   err.Error(),
			})
		case outcome == domain.CouponRedemptionRejected:
			s.logger(ctx, "checkout.coupon.rejected", map[string]any{
				"orderId": order.ID,
				"coupon":  order.CouponCode,
			})
			if _, err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, now); err != nil {
				s.logger(ctx, "checkout.order.cancel.failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
			return Order{}, &domain.CouponError{Code: order.CouponCode, Reason: domain.CouponExhausted}
		default:
			order.CouponRedemption = outcome
		}
	}

	if err := s.carts.ClearUser(ctx, userID); err != nil {
		s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
			"orderId": order.ID,
			"userId":  userID,
			"error":   err.Error(),
		})
	}

	return order, nil
}

// revalidateCoupon re-reads code from the store and evaluates it against subtotal. An empty code yields nil.
func (s *checkoutService) revalidateCoupon(ctx context.Context, code string, subtotal int64) (*Coupon, error) {
	if domain.NormalizeCouponCode(code) == "" {
		return nil, nil
	}
	coupon, err := s.coupons.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if _, err := domain.EvaluateCoupon(code, coupon, subtotal, s.now()); err != nil {
		return nil, err
	}
	return coupon, nil
}

// idempotencyKey is stable for the same cart contents within one hour.
func (s *checkoutService) idempotencyKey(userID string, submission OrderSubmission) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	write(userID, submission.CouponCode, strconv.FormatInt(submission.Total, 10))
	for _, line := range submission.Lines {
		write(line.ProductID, line.Variant, strconv.Itoa(line.Quantity), strconv.FormatInt(line.UnitPrice, 10))
	}
	write(s.now().Truncate(time.Hour).Format(time.RFC3339))
	return "checkout_" + hex.EncodeToString(h.Sum(nil))[:32]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
