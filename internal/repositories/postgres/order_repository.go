package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/pagination"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const orderColumns = `id, user_id, status, source, subtotal, discount, total_amount, currency, coupon_code,
	shipping_name, shipping_street, shipping_city, shipping_state, shipping_zip_code, shipping_phone,
	COALESCE(payment_session_id, ''), items_materialized, item_count, coupon_redemption, created_at, updated_at`

const insertOrderSQL = `
	INSERT INTO orders (id, user_id, status, source, subtotal, discount, total_amount, currency, coupon_code,
		shipping_name, shipping_street, shipping_city, shipping_state, shipping_zip_code, shipping_phone,
		payment_session_id, items_materialized, item_count, coupon_redemption, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULLIF($16, ''), $17, $18, $19, $20, $21)`

// OrderRepository stores orders and order_items. The partial unique index on
// payment_session_id keeps one order per processor session.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database handle")
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return inTx(ctx, r.db, "orders.insert", func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}
		return upsertItems(ctx, tx, order.ID, order.Items, order.CreatedAt)
	})
}

func (r *OrderRepository) CreateForPaymentSession(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.PaymentSessionID) == "" {
		return errors.New("order repository: payment session id is required")
	}
	return wrapError("orders.createForPaymentSession", insertOrder(ctx, r.db, order))
}

func (r *OrderRepository) FindByPaymentSession(ctx context.Context, sessionID string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_session_id = $1`, strings.TrimSpace(sessionID))
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapError("orders.findByPaymentSession", err)
	}
	return order, nil
}

func (r *OrderRepository) MaterializeItems(ctx context.Context, orderID string, items []domain.OrderItem, at time.Time) error {
	return inTx(ctx, r.db, "orders.materializeItems", func(tx *sql.Tx) error {
		var done bool
		err := tx.QueryRowContext(ctx, `SELECT items_materialized FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&done)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := upsertItems(ctx, tx, orderID, items, at); err != nil {
			return err
		}
		count := 0
		for _, item := range items {
			count += item.Quantity
		}
		_, err = tx.ExecContext(ctx, `UPDATE orders SET items_materialized = TRUE, item_count = $2, updated_at = $3 WHERE id = $1`,
			orderID, count, at.UTC())
		return err
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string, withItems bool) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, strings.TrimSpace(orderID))
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapError("orders.findByID", err)
	}
	if !withItems {
		return order, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT line_no, product_id, product_name, product_image, quantity, unit_price, total_price, created_at
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, order.ID)
	if err != nil {
		return domain.Order{}, wrapError("order_items.list", err)
	}
	defer rows.Close()
	for rows.Next() {
		item := domain.OrderItem{OrderID: order.ID}
		if err := rows.Scan(&item.LineNo, &item.ProductID, &item.ProductName, &item.ProductImage,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.CreatedAt); err != nil {
			return domain.Order{}, wrapError("order_items.scan", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		order.Items = append(order.Items, item)
	}
	return order, wrapError("order_items.rows", rows.Err())
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		RETURNING `+orderColumns, orderID, string(status), at.UTC())
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapError("orders.updateStatus", err)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	var after any
	if cursor.ID != "" {
		after = cursor.CreatedAt.UTC()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`,
		strings.TrimSpace(filter.UserID), string(filter.Status), after, cursor.ID, size+1)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (r *OrderRepository) ListUnsettled(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status <> 'cancelled' AND (items_materialized = FALSE OR (coupon_code <> '' AND coupon_redemption = ''))
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, wrapError("orders.listUnsettled", err)
	}
	return collectOrders(rows)
}

func (r *OrderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0) FROM orders GROUP BY status`)
	if err != nil {
		return domain.OrderStats{}, wrapError("orders.stats", err)
	}
	defer rows.Close()

	stats := domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}
	var revenueOrders int
	for rows.Next() {
		var (
			status string
			count  int
			sum    int64
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return domain.OrderStats{}, wrapError("orders.stats.scan", err)
		}
		s := domain.OrderStatus(status)
		stats.ByStatus[s] = count
		stats.TotalOrders += count
		if s == domain.OrderStatusPending {
			stats.PendingOrders = count
		}
		if s != domain.OrderStatusCancelled {
			stats.TotalRevenue += sum
			revenueOrders += count
		}
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStats{}, wrapError("orders.stats.rows", err)
	}
	if revenueOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue / int64(revenueOrders)
	}
	return stats, nil
}

func insertOrder(ctx context.Context, q querier, o domain.Order) error {
	a := o.ShippingAddress
	_, err := q.ExecContext(ctx, insertOrderSQL,
		o.ID, o.UserID, string(o.Status), string(o.Source), o.Subtotal, o.Discount, o.TotalAmount, o.Currency, o.CouponCode,
		a.Name, a.Street, a.City, a.State, a.ZipCode, a.Phone,
		o.PaymentSessionID, o.ItemsMaterialized, o.ItemCount, string(o.CouponRedemption), o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	return err
}

func upsertItems(ctx context.Context, q querier, orderID string, items []domain.OrderItem, at time.Time) error {
	for _, item := range items {
		created := item.CreatedAt
		if created.IsZero() {
			created = at
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, product_image, quantity, unit_price, total_price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (order_id, line_no) DO NOTHING`,
			orderID, item.LineNo, item.ProductID, item.ProductName, item.ProductImage,
			item.Quantity, item.UnitPrice, item.TotalPrice, created.UTC()); err != nil {
			return err
		}
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                          domain.Order
		status, source, redemption string
	)
	a := &o.ShippingAddress
	if err := row.Scan(&o.ID, &o.UserID, &status, &source, &o.Subtotal, &o.Discount, &o.TotalAmount, &o.Currency, &o.CouponCode,
		&a.Name, &a.Street, &a.City, &a.State, &a.ZipCode, &a.Phone,
		&o.PaymentSessionID, &o.ItemsMaterialized, &o.ItemCount, &redemption, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.Source = domain.OrderSource(source)
	o.CouponRedemption = domain.CouponRedemption(redemption)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapError("orders.scan", err)
		}
		orders = append(orders, order)
	}
	return orders, wrapError("orders.rows", rows.Err())
}
