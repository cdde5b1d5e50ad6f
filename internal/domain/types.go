package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ShippingAddress is the delivery destination captured at checkout.
type ShippingAddress struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Phone   string `json:"phone"`
}

// MissingField returns the wire name of the first empty required field, or "" when complete.
func (a ShippingAddress) MissingField() string {
	fields := []struct {
		name  string
		value string
	}{
		{"name", a.Name},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
		{"phone", a.Phone},
	}
	for _, f := range fields {
		if isBlank(f.value) {
			return f.name
		}
	}
	return ""
}

// Notification is the request handed to the notification dispatcher.
type Notification struct {
	UserID    string
	Title     string
	Body      string
	Type      string
	Data      map[string]string
	CreatedAt time.Time
}

const (
	// NotificationTypeOrderUpdate marks notifications emitted on order status changes.
	NotificationTypeOrderUpdate = "order_update"
)

// HealthStatus is the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the result of probing one dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for the readiness endpoint.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
