package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

var testNow = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type repoErr struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoErr) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	default:
		return "unavailable"
	}
}

func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return e.conflict }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

var (
	errRepoNotFound    = repoErr{notFound: true}
	errRepoConflict    = repoErr{conflict: true}
	errRepoUnavailable = repoErr{unavailable: true}
)

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.event == event {
			n++
		}
	}
	return n
}

// memoryCartRepo keeps remote cart rows per user.
type memoryCartRepo struct {
	mu        sync.Mutex
	rows      map[string][]domain.CartLine
	ops       []string
	failWrite error
	failList  error
	block     chan struct{}
}

func newMemoryCartRepo() *memoryCartRepo {
	return &memoryCartRepo{rows: map[string][]domain.CartLine{}}
}

func (r *memoryCartRepo) wait() {
	if r.block != nil {
		<-r.block
	}
}

func (r *memoryCartRepo) ListLines(_ context.Context, userID string) ([]domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failList != nil {
		return nil, r.failList
	}
	return append([]domain.CartLine(nil), r.rows[userID]...), nil
}

func (r *memoryCartRepo) UpsertLine(_ context.Context, userID string, line domain.CartLine) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "upsert:"+userID+":"+line.Key().String())
	if r.failWrite != nil {
		return r.failWrite
	}
	lines := r.rows[userID]
	for i := range lines {
		if lines[i].Key() == line.Key() {
			lines[i] = line
			return nil
		}
	}
	r.rows[userID] = append(lines, line)
	return nil
}

func (r *memoryCartRepo) DeleteLine(_ context.Context, userID string, key domain.LineKey) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "delete:"+userID+":"+key.String())
	if r.failWrite != nil {
		return r.failWrite
	}
	lines := r.rows[userID]
	out := lines[:0]
	for _, l := range lines {
		if l.Key() != key {
			out = append(out, l)
		}
	}
	r.rows[userID] = out
	return nil
}

func (r *memoryCartRepo) DeleteAll(_ context.Context, userID string) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "delete_all:"+userID)
	if r.failWrite != nil {
		return r.failWrite
	}
	delete(r.rows, userID)
	return nil
}

func (r *memoryCartRepo) snapshot(userID string) []domain.CartLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CartLine(nil), r.rows[userID]...)
}

func (r *memoryCartRepo) opsSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

// memoryStore backs both the coupon and order repositories so redemption can update the order
// in the same critical section, as the real stores do in one transaction.
type memoryStore struct {
	mu       sync.Mutex
	coupons  map[string]domain.Coupon
	orders   map[string]domain.Order
	sessions map[string]string
	items    map[string][]domain.OrderItem

	failMaterialize error
	failRedeem      error
	findErr         error
	createCalls     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		coupons:  map[string]domain.Coupon{},
		orders:   map[string]domain.Order{},
		sessions: map[string]string{},
		items:    map[string][]domain.OrderItem{},
	}
}

func (s *memoryStore) couponRepo() *memoryCouponRepo { return &memoryCouponRepo{s: s} }
func (s *memoryStore) orderRepo() *memoryOrderRepo   { return &memoryOrderRepo{s: s} }

func (s *memoryStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Items = append([]domain.OrderItem(nil), s.items[id]...)
	return o
}

func (s *memoryStore) coupon(code string) domain.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[code]
}

func (s *memoryStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type memoryCouponRepo struct{ s *memoryStore }

var _ repositories.CouponRepository = (*memoryCouponRepo)(nil)

func (r *memoryCouponRepo) Insert(_ context.Context, c domain.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.coupons[c.Code]; ok {
		return errRepoConflict
	}
	r.s.coupons[c.Code] = c
	return nil
}

func (r *memoryCouponRepo) Update(_ context.Context, c domain.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.coupons[c.Code]; !ok {
		return errRepoNotFound
	}
	r.s.coupons[c.Code] = c
	return nil
}

func (r *memoryCouponRepo) Delete(_ context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.coupons[code]; !ok {
		return errRepoNotFound
	}
	delete(r.s.coupons, code)
	return nil
}

func (r *memoryCouponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.coupons[code]
	if !ok {
		return domain.Coupon{}, errRepoNotFound
	}
	return c, nil
}

func (r *memoryCouponRepo) List(_ context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Coupon
	for _, c := range r.s.coupons {
		if filter.ActiveOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return domain.CursorPage[domain.Coupon]{Items: out}, nil
}

func (r *memoryCouponRepo) Redeem(_ context.Context, orderID, code string, at time.Time) (domain.CouponRedemption, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failRedeem != nil {
		return domain.CouponRedemptionNone, r.s.failRedeem
	}
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.CouponRedemptionNone, errRepoNotFound
	}
	if order.CouponRedemption != domain.CouponRedemptionNone {
		return order.CouponRedemption, nil
	}
	outcome := domain.CouponRedemptionRejected
	if c, ok := r.s.coupons[code]; ok && !c.Exhausted() {
		c.CurrentUses++
		c.UpdatedAt = at
		r.s.coupons[code] = c
		outcome = domain.CouponRedemptionRedeemed
	}
	order.CouponRedemption = outcome
	order.UpdatedAt = at
	r.s.orders[orderID] = order
	return outcome, nil
}

type memoryOrderRepo struct{ s *memoryStore }

var _ repositories.OrderRepository = (*memoryOrderRepo)(nil)

func (r *memoryOrderRepo) Insert(_ context.Context, o domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[o.ID]; ok {
		return errRepoConflict
	}
	r.s.items[o.ID] = append([]domain.OrderItem(nil), o.Items...)
	o.Items = nil
	r.s.orders[o.ID] = o
	return nil
}

func (r *memoryOrderRepo) CreateForPaymentSession(_ context.Context, o domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.createCalls++
	if _, ok := r.s.sessions[o.PaymentSessionID]; ok {
		return errRepoConflict
	}
	r.s.sessions[o.PaymentSessionID] = o.ID
	o.Items = nil
	r.s.orders[o.ID] = o
	return nil
}

func (r *memoryOrderRepo) FindByPaymentSession(_ context.Context, sessionID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.findErr != nil {
		return domain.Order{}, r.s.findErr
	}
	id, ok := r.s.sessions[sessionID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return r.s.orders[id], nil
}

func (r *memoryOrderRepo) MaterializeItems(_ context.Context, orderID string, items []domain.OrderItem, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failMaterialize != nil {
		return r.s.failMaterialize
	}
	order, ok := r.s.orders[orderID]
	if !ok {
		return errRepoNotFound
	}
	if order.ItemsMaterialized {
		return nil
	}
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	r.s.items[orderID] = append([]domain.OrderItem(nil), items...)
	order.ItemsMaterialized = true
	order.ItemCount = count
	order.UpdatedAt = at
	r.s.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string, withItems bool) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	if withItems {
		order.Items = append([]domain.OrderItem(nil), r.s.items[orderID]...)
	}
	return order, nil
}

func (r *memoryOrderRepo) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	order.Status = status
	order.UpdatedAt = at
	r.s.orders[orderID] = order
	return order, nil
}

func (r *memoryOrderRepo) sorted() []domain.Order {
	out := make([]domain.Order, 0, len(r.s.orders))
	for _, o := range r.s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List pages by one order per page so callers exercise token handling.
func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []domain.Order
	for _, o := range r.sorted() {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Pagination.PageToken != "" && o.ID <= filter.Pagination.PageToken {
			continue
		}
		matched = append(matched, o)
	}
	if len(matched) <= 1 {
		return domain.CursorPage[domain.Order]{Items: matched}, nil
	}
	return domain.CursorPage[domain.Order]{Items: matched[:1], NextPageToken: matched[0].ID}, nil
}

func (r *memoryOrderRepo) ListUnsettled(_ context.Context, limit int) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.sorted() {
		if o.Status != domain.OrderStatusCancelled && !o.Settled() {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryOrderRepo) Stats(_ context.Context) (domain.OrderStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acc := repositories.NewOrderStatsAccumulator()
	for _, o := range r.s.orders {
		acc.Add(o.Status, o.TotalAmount)
	}
	return acc.Result(), nil
}

// stubSessions answers RetrieveSession from a fixed set of processor sessions.
type stubSessions struct {
	mu       sync.Mutex
	sessions map[string]payments.SessionDetails
	err      error
	calls    int
}

func (s *stubSessions) RetrieveSession(_ context.Context, _ payments.PaymentContext, sessionID string) (payments.SessionDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return payments.SessionDetails{}, s.err
	}
	details, ok := s.sessions[sessionID]
	if !ok {
		return payments.SessionDetails{}, payments.ErrSessionNotFound
	}
	return details, nil
}

type stubCartClearer struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (s *stubCartClearer) ClearUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cleared = append(s.cleared, userID)
	return nil
}

func (s *stubCartClearer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleared)
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

var errBoom = errors.New("boom")
