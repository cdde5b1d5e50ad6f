package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of directly inserted orders.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed is the initial state of orders created from a paid processor session.
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OrderStatuses lists every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus normalises and validates a status string.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range orderStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// OrderSource records which path created the order.
type OrderSource string

const (
	OrderSourceDirect  OrderSource = "direct"
	OrderSourcePayment OrderSource = "payment"
)

// CouponRedemption records the outcome of the usage increment for an order's coupon.
type CouponRedemption string

const (
	CouponRedemptionNone     CouponRedemption = ""
	CouponRedemptionRedeemed CouponRedemption = "redeemed"
	// CouponRedemptionRejected marks a coupon that was missing or exhausted when the order was settled.
	CouponRedemptionRejected CouponRedemption = "rejected"
)

// Order is a durable purchase record.
type Order struct {
	ID                string
	UserID            string
	Status            OrderStatus
	Source            OrderSource
	Subtotal          int64
	Discount          int64
	TotalAmount       int64
	Currency          string
	CouponCode        string
	ShippingAddress   ShippingAddress
	PaymentSessionID  string
	ItemsMaterialized bool
	ItemCount         int
	CouponRedemption  CouponRedemption
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Settled reports whether every post-creation step has been recorded on the order.
func (o Order) Settled() bool {
	if !o.ItemsMaterialized {
		return false
	}
	if strings.TrimSpace(o.CouponCode) != "" && o.CouponRedemption == CouponRedemptionNone {
		return false
	}
	return true
}

// OrderItem is a denormalised product snapshot taken at purchase time.
type OrderItem struct {
	OrderID      string
	LineNo       int
	ProductID    string
	ProductName  string
	ProductImage string
	Quantity     int
	UnitPrice    int64
	TotalPrice   int64
	CreatedAt    time.Time
}

// SubmissionLine is one line of an order submission.
type SubmissionLine struct {
	ProductID    string
	Variant      string
	ProductName  string
	ProductImage string
	Quantity     int
	UnitPrice    int64
	TotalPrice   int64
}

// OrderSubmission is the payload consumed by the direct insert path and the processor path.
type OrderSubmission struct {
	Lines           []SubmissionLine
	Subtotal        int64
	Discount        int64
	Total           int64
	ShippingAddress ShippingAddress
	CouponCode      string
}

// OrderFilter narrows admin listings.
type OrderFilter struct {
	UserID string
	Status OrderStatus
}

// OrderStats aggregates order figures for the admin reports view.
type OrderStats struct {
	TotalOrders       int
	TotalRevenue      int64
	AverageOrderValue int64
	PendingOrders     int
	ByStatus          map[OrderStatus]int
}
