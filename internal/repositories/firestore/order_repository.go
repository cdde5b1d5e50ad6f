package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	pfirestore "github.com/itamarnascimento/shop-dash-catalogue/internal/platform/firestore"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/pagination"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	ordersCollection          = "orders"
	orderItemsSubcollection   = "items"
	paymentSessionsCollection = "paymentSessions"
)

var errPaymentSessionTaken = errors.New("payment session already has an order")

type shippingDocument struct {
	Name    string `firestore:"name"`
	Street  string `firestore:"street"`
	City    string `firestore:"city"`
	State   string `firestore:"state"`
	ZipCode string `firestore:"zipCode"`
	Phone   string `firestore:"phone"`
}

type orderDocument struct {
	ID                string           `firestore:"id"`
	UserID            string           `firestore:"userId"`
	Status            string           `firestore:"status"`
	Source            string           `firestore:"source"`
	Subtotal          int64            `firestore:"subtotal"`
	Discount          int64            `firestore:"discount"`
	TotalAmount       int64            `firestore:"totalAmount"`
	Currency          string           `firestore:"currency"`
	CouponCode        string           `firestore:"couponCode"`
	ShippingAddress   shippingDocument `firestore:"shippingAddress"`
	PaymentSessionID  string           `firestore:"paymentSessionId"`
	ItemsMaterialized bool             `firestore:"itemsMaterialized"`
	ItemCount         int              `firestore:"itemCount"`
	CouponRedemption  string           `firestore:"couponRedemption"`
	CreatedAt         time.Time        `firestore:"createdAt"`
	UpdatedAt         time.Time        `firestore:"updatedAt"`
}

type orderItemDocument struct {
	LineNo       int       `firestore:"lineNo"`
	ProductID    string    `firestore:"productId"`
	ProductName  string    `firestore:"productName"`
	ProductImage string    `firestore:"productImage,omitempty"`
	Quantity     int       `firestore:"quantity"`
	UnitPrice    int64     `firestore:"unitPrice"`
	TotalPrice   int64     `firestore:"totalPrice"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

type paymentSessionDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderStatsDocument struct {
	Status      string `firestore:"status"`
	TotalAmount int64  `firestore:"totalAmount"`
}

// OrderRepository stores orders under orders/{id} with items in a subcollection. A document in
// paymentSessions/{sessionId} pins each processor session to exactly one order.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	sessions *pfirestore.Collection[paymentSessionDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		sessions: pfirestore.NewCollection[paymentSessionDocument](provider, paymentSessionsCollection),
	}, nil
}

// Insert writes the order and its items in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, "orders.insert", func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(ref, encodeOrder(order)); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := tx.Create(itemRef(ref, item.LineNo), encodeOrderItem(item, order.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateForPaymentSession creates the order and the session pin together. When the pin
// already exists the call fails with a conflict and writes nothing.
func (r *OrderRepository) CreateForPaymentSession(ctx context.Context, order domain.Order) error {
	sessionID := strings.TrimSpace(order.PaymentSessionID)
	if sessionID == "" {
		return errors.New("order repository: payment session id is required")
	}
	sessionRef, err := r.sessions.Doc(ctx, sessionID)
	if err != nil {
		return err
	}
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, "orders.createForPaymentSession", func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(sessionRef)
		switch {
		case err == nil:
			return pfirestore.Conflict("orders.createForPaymentSession", fmt.Errorf("%w: %s", errPaymentSessionTaken, sessionID))
		case status.Code(err) != codes.NotFound:
			return err
		}
		if err := tx.Create(orderRef, encodeOrder(order)); err != nil {
			return err
		}
		return tx.Create(sessionRef, paymentSessionDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()})
	})
}

// FindByPaymentSession resolves the order pinned to sessionID.
func (r *OrderRepository) FindByPaymentSession(ctx context.Context, sessionID string) (domain.Order, error) {
	pin, err := r.sessions.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, pin.OrderID, false)
}

// MaterializeItems writes items keyed by line number and flips itemsMaterialized. An order that
// is already materialised is left alone.
func (r *OrderRepository) MaterializeItems(ctx context.Context, orderID string, items []domain.OrderItem, at time.Time) error {
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, "orders.materializeItems", func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		if current.ItemsMaterialized {
			return nil
		}
		for _, item := range items {
			if err := tx.Set(itemRef(ref, item.LineNo), encodeOrderItem(item, at)); err != nil {
				return err
			}
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "itemsMaterialized", Value: true},
			{Path: "itemCount", Value: countItems(items)},
			{Path: "updatedAt", Value: at.UTC()},
		})
	})
}

// FindByID loads an order, optionally with its items ordered by line number.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string, withItems bool) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	order := decodeOrder(doc)
	if !withItems {
		return order, nil
	}

	items := pfirestore.NewCollection[orderItemDocument](r.provider, ordersCollection+"/"+doc.ID+"/"+orderItemsSubcollection)
	docs, err := items.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("lineNo", firestore.Asc)
	}, nil)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = make([]domain.OrderItem, 0, len(docs))
	for _, item := range docs {
		order.Items = append(order.Items, decodeOrderItem(doc.ID, item))
	}
	return order, nil
}

// UpdateStatus sets the status and returns the updated order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus, at time.Time) (domain.Order, error) {
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	var updated orderDocument
	err = r.provider.RunTransaction(ctx, "orders.updateStatus", func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if updated, err = pfirestore.Decode[orderDocument](snap); err != nil {
			return err
		}
		updated.Status = string(next)
		updated.UpdatedAt = at.UTC()
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: updated.Status},
			{Path: "updatedAt", Value: updated.UpdatedAt},
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(updated), nil
}

// List pages through orders newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	}, nil)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > size {
		docs = docs[:size]
		last := docs[len(docs)-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, decodeOrder(doc))
	}
	return page, nil
}

// ListUnsettled returns orders missing items or a coupon outcome, oldest first. Cancelled orders
// are skipped.
func (r *OrderRepository) ListUnsettled(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	unmaterialized, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("itemsMaterialized", "==", false).
			Limit(limit)
	}, nil)
	if err != nil {
		return nil, err
	}
	unredeemed, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("couponRedemption", "==", "").
			Where("couponCode", "!=", "").
			Limit(limit)
	}, nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(unmaterialized)+len(unredeemed))
	out := make([]domain.Order, 0, len(unmaterialized)+len(unredeemed))
	for _, doc := range append(unmaterialized, unredeemed...) {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		seen[doc.ID] = struct{}{}
		order := decodeOrder(doc)
		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats scans status and total of every order.
func (r *OrderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	rows := pfirestore.NewCollection[orderStatsDocument](r.provider, ordersCollection)
	docs, err := rows.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Select("status", "totalAmount")
	}, nil)
	if err != nil {
		return domain.OrderStats{}, err
	}
	stats := repositories.NewOrderStatsAccumulator()
	for _, doc := range docs {
		stats.Add(domain.OrderStatus(doc.Status), doc.TotalAmount)
	}
	return stats.Result(), nil
}

func itemRef(order *firestore.DocumentRef, lineNo int) *firestore.DocumentRef {
	return order.Collection(orderItemsSubcollection).Doc(fmt.Sprintf("%04d", lineNo))
}

func countItems(items []domain.OrderItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func encodeOrder(o domain.Order) orderDocument {
	return orderDocument{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		Source:      string(o.Source),
		Subtotal:    o.Subtotal,
		Discount:    o.Discount,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		CouponCode:  o.CouponCode,
		ShippingAddress: shippingDocument{
			Name:    o.ShippingAddress.Name,
			Street:  o.ShippingAddress.Street,
			City:    o.ShippingAddress.City,
			State:   o.ShippingAddress.State,
			ZipCode: o.ShippingAddress.ZipCode,
			Phone:   o.ShippingAddress.Phone,
		},
		PaymentSessionID:  o.PaymentSessionID,
		ItemsMaterialized: o.ItemsMaterialized,
		ItemCount:         o.ItemCount,
		CouponRedemption:  string(o.CouponRedemption),
		CreatedAt:         o.CreatedAt.UTC(),
		UpdatedAt:         o.UpdatedAt.UTC(),
	}
}

func decodeOrder(doc orderDocument) domain.Order {
	return domain.Order{
		ID:          doc.ID,
		UserID:      doc.UserID,
		Status:      domain.OrderStatus(doc.Status),
		Source:      domain.OrderSource(doc.Source),
		Subtotal:    doc.Subtotal,
		Discount:    doc.Discount,
		TotalAmount: doc.TotalAmount,
		Currency:    doc.Currency,
		CouponCode:  doc.CouponCode,
		ShippingAddress: domain.ShippingAddress{
			Name:    doc.ShippingAddress.Name,
			Street:  doc.ShippingAddress.Street,
			City:    doc.ShippingAddress.City,
			State:   doc.ShippingAddress.State,
			ZipCode: doc.ShippingAddress.ZipCode,
			Phone:   doc.ShippingAddress.Phone,
		},
		PaymentSessionID:  doc.PaymentSessionID,
		ItemsMaterialized: doc.ItemsMaterialized,
		ItemCount:         doc.ItemCount,
		CouponRedemption:  domain.CouponRedemption(doc.CouponRedemption),
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}
}

func encodeOrderItem(item domain.OrderItem, at time.Time) orderItemDocument {
	created := item.CreatedAt
	if created.IsZero() {
		created = at
	}
	return orderItemDocument{
		LineNo:       item.LineNo,
		ProductID:    item.ProductID,
		ProductName:  item.ProductName,
		ProductImage: item.ProductImage,
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice,
		TotalPrice:   item.TotalPrice,
		CreatedAt:    created.UTC(),
	}
}

func decodeOrderItem(orderID string, doc orderItemDocument) domain.OrderItem {
	return domain.OrderItem{
		OrderID:      orderID,
		LineNo:       doc.LineNo,
		ProductID:    doc.ProductID,
		ProductName:  doc.ProductName,
		ProductImage: doc.ProductImage,
		Quantity:     doc.Quantity,
		UnitPrice:    doc.UnitPrice,
		TotalPrice:   doc.TotalPrice,
		CreatedAt:    doc.CreatedAt.UTC(),
	}
}
