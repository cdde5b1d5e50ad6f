package repositories

import (
	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

// OrderStatsAccumulator folds (status, total) rows into domain.OrderStats for stores that
// cannot aggregate server-side.
type OrderStatsAccumulator struct {
	stats          domain.OrderStats
	revenueSamples int
}

// NewOrderStatsAccumulator returns an empty accumulator.
func NewOrderStatsAccumulator() *OrderStatsAccumulator {
	return &OrderStatsAccumulator{stats: domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}}
}

// Add records one order. Cancelled orders count towards totals but not revenue.
func (a *OrderStatsAccumulator) Add(status domain.OrderStatus, total int64) {
	a.stats.TotalOrders++
	a.stats.ByStatus[status]++
	if status == domain.OrderStatusPending {
		a.stats.PendingOrders++
	}
	if status != domain.OrderStatusCancelled {
		a.stats.TotalRevenue += total
		a.revenueSamples++
	}
}

// Result returns the aggregated figures.
func (a *OrderStatsAccumulator) Result() domain.OrderStats {
	out := a.stats
	out.ByStatus = make(map[domain.OrderStatus]int, len(a.stats.ByStatus))
	for status, count := range a.stats.ByStatus {
		out.ByStatus[status] = count
	}
	if a.revenueSamples > 0 {
		out.AverageOrderValue = out.TotalRevenue / int64(a.revenueSamples)
	}
	return out
}
