package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

const defaultCartSessionTTL = 30 * time.Minute

var (
	// ErrCartInvalidInput indicates the cart request is missing its session id.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates the cart service is not configured.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

type cartSyncer interface {
	Load(ctx context.Context, userID string) ([]domain.CartLine, error)
	Upsert(ctx context.Context, userID string, line domain.CartLine)
	Delete(ctx context.Context, userID string, key domain.LineKey)
	DeleteAll(ctx context.Context, userID string)
	DeleteAllSync(ctx context.Context, userID string) error
}

type couponEvaluator interface {
	Evaluate(ctx context.Context, code string, subtotal int64) (AppliedCoupon, error)
}

// CartServiceDeps wires the session cart service.
type CartServiceDeps struct {
	Sync       cartSyncer
	Coupons    couponEvaluator
	SessionTTL time.Duration
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type cartSession struct {
	mu     sync.Mutex
	userID string
	// loaded reports whether the local cart reflects the remote store for userID, either because
	// the load succeeded or because a local change replaced the remote cart.
	loaded   bool
	cart     Cart
	lastSeen time.Time
}

type cartService struct {
	sync    cartSyncer
	coupons couponEvaluator
	ttl     time.Duration
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	sessions map[string]*cartSession
}

// CartSessions is the concrete session store, exposing idle eviction alongside CartService.
type CartSessions interface {
	CartService
	EvictIdle(ctx context.Context) int
	RunJanitor(ctx context.Context)
}

var _ CartSessions = (*cartService)(nil)

// NewCartService constructs the in-memory session cart service.
func NewCartService(deps CartServiceDeps) (CartSessions, error) {
	if deps.Sync == nil {
		return nil, errors.New("cart service: sync adapter is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("cart service: coupon evaluator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultCartSessionTTL
	}

	return &cartService{
		sync:    deps.Sync,
		coupons: deps.Coupons,
		ttl:     ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		sessions: make(map[string]*cartSession),
	}, nil
}

func (s *cartService) Cart(ctx context.Context, key CartSessionKey) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()
	return sess.cart, nil
}

func (s *cartService) SwitchIdentity(ctx context.Context, sessionID, userID string) (Cart, error) {
	return s.Cart(ctx, CartSessionKey{SessionID: sessionID, UserID: userID})
}

func (s *cartService) AddItem(ctx context.Context, key CartSessionKey, product Product, variant string) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()

	next, err := domain.ApplyCartAction(sess.cart, domain.AddItem{Product: product, Variant: variant})
	if err != nil {
		return sess.cart, err
	}
	s.commit(sess, next)
	if s.adoptLocked(ctx, sess) {
		return sess.cart, nil
	}

	lineKey := domain.LineKey{ProductID: strings.TrimSpace(product.ID), Variant: strings.TrimSpace(variant)}
	if idx := next.Find(lineKey); idx >= 0 && sess.userID != "" {
		s.sync.Upsert(ctx, sess.userID, next.Lines[idx])
	}
	return sess.cart, nil
}

func (s *cartService) SetQuantity(ctx context.Context, key CartSessionKey, line LineKey, quantity int) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()

	existed := sess.cart.Find(line) >= 0
	next, err := domain.ApplyCartAction(sess.cart, domain.SetQuantity{Key: line, Quantity: quantity})
	if err != nil {
		return sess.cart, err
	}
	s.commit(sess, next)
	if existed && s.adoptLocked(ctx, sess) {
		return sess.cart, nil
	}

	if sess.userID != "" && existed {
		if idx := next.Find(line); idx >= 0 {
			s.sync.Upsert(ctx, sess.userID, next.Lines[idx])
		} else {
			s.sync.Delete(ctx, sess.userID, line)
		}
	}
	return sess.cart, nil
}

func (s *cartService) RemoveItem(ctx context.Context, key CartSessionKey, line LineKey) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()

	existed := sess.cart.Find(line) >= 0
	next, err := domain.ApplyCartAction(sess.cart, domain.RemoveItem{Key: line})
	if err != nil {
		return sess.cart, err
	}
	s.commit(sess, next)
	if existed && s.adoptLocked(ctx, sess) {
		return sess.cart, nil
	}

	if sess.userID != "" && existed {
		s.sync.Delete(ctx, sess.userID, line)
	}
	return sess.cart, nil
}

func (s *cartService) Clear(ctx context.Context, key CartSessionKey) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()

	next, err := domain.ApplyCartAction(sess.cart, domain.ClearCart{})
	if err != nil {
		return sess.cart, err
	}
	s.commit(sess, next)
	sess.loaded = true

	if sess.userID != "" {
		s.sync.DeleteAll(ctx, sess.userID)
	}
	return sess.cart, nil
}

// ApplyCoupon evaluates code against the session subtotal. A rejected coupon leaves the cart as it was.
func (s *cartService) ApplyCoupon(ctx context.Context, key CartSessionKey, code string) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()

	applied, err := s.coupons.Evaluate(ctx, code, sess.cart.TotalPrice())
	if err != nil {
		return sess.cart, err
	}
	next := sess.cart
	next.Coupon = &applied
	next.UpdatedAt = s.now()
	sess.cart = next
	return sess.cart, nil
}

func (s *cartService) RemoveCoupon(ctx context.Context, key CartSessionKey) (Cart, error) {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return Cart{}, err
	}
	defer sess.mu.Unlock()

	if sess.cart.Coupon != nil {
		next := sess.cart
		next.Coupon = nil
		next.UpdatedAt = s.now()
		sess.cart = next
	}
	return sess.cart, nil
}

func (s *cartService) ClearUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	s.mu.Lock()
	all := make([]*cartSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.mu.Lock()
		if sess.userID == userID {
			if next, err := domain.ApplyCartAction(sess.cart, domain.ClearCart{}); err == nil {
				s.commit(sess, next)
				sess.loaded = true
			}
		}
		sess.mu.Unlock()
	}

	return s.sync.DeleteAllSync(ctx, userID)
}

// EvictIdle drops sessions unused for longer than the session TTL and returns how many were dropped.
func (s *cartService) EvictIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.After(cutoff) {
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		delete(s.sessions, id)
		sess.mu.Unlock()
		evicted++
	}
	if evicted > 0 {
		s.logger(ctx, "cart.sessions.evicted", map[string]any{
			"evicted":   evicted,
			"remaining": len(s.sessions),
		})
	}
	return evicted
}

// RunJanitor evicts idle sessions until ctx is cancelled.
func (s *cartService) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(max(s.ttl/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle(ctx)
		}
	}
}

// acquire returns the session locked, switching its identity first when the caller changed. A
// signed-in session whose remote cart could not be loaded retries the load on every request until
// it succeeds or a local change takes over.
func (s *cartService) acquire(ctx context.Context, key CartSessionKey) (*cartSession, error) {
	if s == nil || s.sync == nil {
		return nil, ErrCartUnavailable
	}
	sessionID := strings.TrimSpace(key.SessionID)
	if sessionID == "" {
		return nil, ErrCartInvalidInput
	}
	userID := strings.TrimSpace(key.UserID)

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &cartSession{}
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = s.now()
	s.mu.Unlock()

	sess.mu.Lock()
	switch {
	case sess.userID != userID:
		s.switchLocked(ctx, sess, userID)
	case userID != "" && !sess.loaded:
		s.loadLocked(ctx, sess)
	}
	return sess, nil
}

func (s *cartService) switchLocked(ctx context.Context, sess *cartSession, userID string) {
	sess.userID = userID
	sess.loaded = false
	if userID == "" {
		next, _ := domain.ApplyCartAction(sess.cart, domain.ClearCart{})
		next.UserID = ""
		s.commit(sess, next)
		return
	}

	next := sess.cart
	next.UserID = userID
	s.commit(sess, next)
	s.loadLocked(ctx, sess)
}

// loadLocked replaces the local cart with the remote one. A failed load is logged and leaves the
// local cart in place.
func (s *cartService) loadLocked(ctx context.Context, sess *cartSession) {
	lines, err := s.sync.Load(ctx, sess.userID)
	if err != nil {
		failure := &SyncFailure{Op: "load", UserID: sess.userID, Err: err}
		s.logger(ctx, "cart.sync.failed", map[string]any{
			"op":     failure.Op,
			"userId": failure.UserID,
			"error":  errorString(failure.Err),
		})
		return
	}
	next, err := domain.ApplyCartAction(sess.cart, domain.LoadCart{Snapshot: Cart{UserID: sess.userID, Lines: lines}})
	if err != nil {
		return
	}
	sess.loaded = true
	s.commit(sess, next)
}

// adoptLocked makes the local cart authoritative for a signed-in session that never loaded its
// remote cart, queueing a full replacement of the remote lines. It reports whether it did so.
func (s *cartService) adoptLocked(ctx context.Context, sess *cartSession) bool {
	if sess.userID == "" || sess.loaded {
		return false
	}
	sess.loaded = true
	s.sync.DeleteAll(ctx, sess.userID)
	for _, line := range sess.cart.Lines {
		s.sync.Upsert(ctx, sess.userID, line)
	}
	return true
}

func (s *cartService) commit(sess *cartSession, next Cart) {
	next.UpdatedAt = s.now()
	if next.Coupon != nil {
		coupon := *next.Coupon
		coupon.Discount = domain.Coupon{DiscountType: coupon.DiscountType, DiscountValue: coupon.DiscountValue}.Discount(next.TotalPrice())
		next.Coupon = &coupon
	}
	sess.cart = next
}
