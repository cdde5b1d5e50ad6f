package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/storage"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	defaultReportURLTTL  = 15 * time.Minute
	reportPageSize       = 100
	maxReportRows        = 50000
)

var reportHeader = []string{
	"order_id", "user_id", "status", "source", "subtotal", "discount", "total", "currency",
	"coupon_code", "coupon_redemption", "item_count", "created_at", "updated_at",
}

type reportStore interface {
	Put(ctx context.Context, object, contentType string, data []byte) error
	SignedURL(object string, expires time.Time) (string, error)
}

// OrderServiceDeps wires the order lifecycle service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Notifier      Notifier
	Reports       reportStore
	NotifyTimeout time.Duration
	ReportURLTTL  time.Duration
	Clock         func() time.Time
	IDGen         func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	notifier      Notifier
	reports       reportStore
	notifyTimeout time.Duration
	reportURLTTL  time.Duration
	now           func() time.Time
	newID         func() string
	logger        func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService. Notifier and report storage are optional.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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
	notifyTimeout := deps.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	urlTTL := deps.ReportURLTTL
	if urlTTL <= 0 {
		urlTTL = defaultReportURLTTL
	}

	return &orderService{
		orders:        deps.Orders,
		notifier:      deps.Notifier,
		reports:       deps.Reports,
		notifyTimeout: notifyTimeout,
		reportURLTTL:  urlTTL,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID, true)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, nil)
	}
	if !opts.Admin && order.UserID != strings.TrimSpace(opts.UserID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.ListOrders(ctx, OrderListFilter{UserID: userID, Pagination: page})
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, nil, nil)
	}
	return page, nil
}

// UpdateStatus moves the order to any status, then notifies the owner without waiting for delivery.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	status, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, domain.NewValidationError("status", "unknown order status"))
	}

	order, err := s.orders.UpdateStatus(ctx, orderID, status, s.now())
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId": order.ID,
		"status":  string(status),
		"actorId": cmd.ActorID,
	})

	s.dispatchStatusNotification(ctx, order)
	return order, nil
}

func (s *orderService) Stats(ctx context.Context) (OrderStats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return OrderStats{}, mapRepositoryError(err, nil, nil)
	}
	return stats, nil
}

// ExportReport writes matching orders as CSV to report storage and returns a signed download link.
func (s *orderService) ExportReport(ctx context.Context, cmd ExportReportCommand) (ReportExport, error) {
	if s.reports == nil {
		return ReportExport{}, ErrReportStorageUnavailable
	}
	var status OrderStatus
	if strings.TrimSpace(string(cmd.Status)) != "" {
		parsed, ok := domain.ParseOrderStatus(string(cmd.Status))
		if !ok {
			return ReportExport{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, domain.NewValidationError("status", "unknown order status"))
		}
		status = parsed
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(reportHeader); err != nil {
		return ReportExport{}, err
	}

	rows := 0
	filter := OrderListFilter{Status: status, Pagination: Pagination{PageSize: reportPageSize}}
	for {
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return ReportExport{}, mapRepositoryError(err, nil, nil)
		}
		for _, order := range page.Items {
			if err := w.Write(reportRow(order)); err != nil {
				return ReportExport{}, err
			}
			rows++
		}
		if page.NextPageToken == "" || rows >= maxReportRows {
			break
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ReportExport{}, err
	}

	now := s.now()
	object, err := storage.ReportObjectPath("orders", now, s.newID(), "csv")
	if err != nil {
		return ReportExport{}, err
	}
	if err := s.reports.Put(ctx, object, "text/csv; charset=utf-8", buf.Bytes()); err != nil {
		return ReportExport{}, fmt.Errorf("order: upload report: %w", err)
	}
	expires := now.Add(s.reportURLTTL)
	url, err := s.reports.SignedURL(object, expires)
	if err != nil {
		return ReportExport{}, fmt.Errorf("order: sign report url: %w", err)
	}

	s.logger(ctx, "order.report.exported", map[string]any{
		"object":  object,
		"rows":    rows,
		"status":  string(status),
		"actorId": cmd.ActorID,
	})
	return ReportExport{Object: object, URL: url, Rows: rows, GeneratedAt: now, ExpiresAt: expires}, nil
}

func (s *orderService) dispatchStatusNotification(ctx context.Context, order Order) {
	if s.notifier == nil || strings.TrimSpace(order.UserID) == "" {
		return
	}
	notification := statusNotification(order, s.now())
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(nctx, notification); err != nil {
			s.logger(nctx, "order.notification.failed", map[string]any{
				"orderId": order.ID,
				"userId":  order.UserID,
				"status":  string(order.Status),
				"error":   err.Error(),
			})
		}
	}()
}

func statusNotification(order Order, at time.Time) Notification {
	short := order.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return Notification{
		UserID: order.UserID,
		Title:  "Order update: #" + short,
		Body:   fmt.Sprintf("Your order status changed to %s.", order.Status),
		Type:   domain.NotificationTypeOrderUpdate,
		Data: map[string]string{
			"order_id": order.ID,
			"status":   string(order.Status),
		},
		CreatedAt: at,
	}
}

func reportRow(order Order) []string {
	return []string{
		order.ID,
		order.UserID,
		string(order.Status),
		string(order.Source),
		strconv.FormatInt(order.Subtotal, 10),
		strconv.FormatInt(order.Discount, 10),
		strconv.FormatInt(order.TotalAmount, 10),
		order.Currency,
		order.CouponCode,
		string(order.CouponRedemption),
		strconv.Itoa(order.ItemCount),
		order.CreatedAt.UTC().Format(time.RFC3339),
		order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
