package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/config"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/observability"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	defaultCartTTL = 15 * time.Minute
	maxJitter      = 2 * time.Minute
	// invalidationHold is how long after a write read-through fills are refused for that cart.
	invalidationHold = 10 * time.Second
)

var errInvalidated = errors.New("rediscache: cart invalidated")

type cachedLine struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// CartRepository is a read-through cache in front of another CartRepository. Writes go to the
// backing store first and then invalidate the cached copy. An invalidation also leaves a short-lived
// hold marker so a read that fetched the old lines before the write cannot cache them afterwards.
type CartRepository struct {
	next   repositories.CartRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger observability.EventLogger
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// Option customises the cache.
type Option func(*CartRepository)

// WithTTL overrides the base expiry of cached carts.
func WithTTL(ttl time.Duration) Option {
	return func(r *CartRepository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the event logger used for cache faults.
func WithLogger(logger observability.EventLogger) Option {
	return func(r *CartRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewClient builds a go-redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewCartRepository wraps next with a Redis cache.
func NewCartRepository(next repositories.CartRepository, client redis.UniversalClient, opts ...Option) (*CartRepository, error) {
	if next == nil {
		return nil, errors.New("redis cart cache requires backing repository")
	}
	if client == nil {
		return nil, errors.New("redis cart cache requires client")
	}
	r := &CartRepository{
		next:   next,
		client: client,
		ttl:    defaultCartTTL,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// ListLines serves from cache and falls back to the backing store on a miss or a cache fault.
func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	key := cacheKey(userID)
	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []cachedLine
		if err := json.Unmarshal(data, &cached); err == nil {
			return fromCache(cached), nil
		}
		r.logger(ctx, "cart.cache.decode_failed", map[string]any{"userId": userID})
	case !errors.Is(err, redis.Nil):
		r.logger(ctx, "cart.cache.read_failed", map[string]any{"userId": userID, "error": err})
	}

	lines, err := r.next.ListLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, userID, lines)
	return lines, nil
}

func (r *CartRepository) UpsertLine(ctx context.Context, userID string, line domain.CartLine) error {
	if err := r.next.UpsertLine(ctx, userID, line); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *CartRepository) DeleteLine(ctx context.Context, userID string, key domain.LineKey) error {
	if err := r.next.DeleteLine(ctx, userID, key); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	if err := r.next.DeleteAll(ctx, userID); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// store fills the cache unless the cart was invalidated while the backing read was in flight. The
// hold key is watched so an invalidation racing the fill aborts it.
func (r *CartRepository) store(ctx context.Context, userID string, lines []domain.CartLine) {
	data, err := json.Marshal(toCache(lines))
	if err != nil {
		return
	}
	key, hold := cacheKey(userID), holdKey(userID)
	ttl := r.ttl + rand.N(maxJitter)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		held, err := tx.Exists(ctx, hold).Result()
		if err != nil {
			return err
		}
		if held > 0 {
			return errInvalidated
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, hold)
	switch {
	case err == nil, errors.Is(err, errInvalidated), errors.Is(err, redis.TxFailedErr):
	default:
		r.logger(ctx, "cart.cache.write_failed", map[string]any{"key": key, "error": err})
	}
}

func (r *CartRepository) invalidate(ctx context.Context, userID string) {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, holdKey(userID), "1", invalidationHold)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		r.logger(ctx, "cart.cache.invalidate_failed", map[string]any{"userId": userID, "error": err})
	}
}

// Ping reports whether Redis answers.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "cart:" + strings.TrimSpace(userID)
}

func holdKey(userID string) string {
	return cacheKey(userID) + ":hold"
}

func toCache(lines []domain.CartLine) []cachedLine {
	out := make([]cachedLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, cachedLine{ProductID: l.ProductID, Variant: l.Variant, Name: l.Name, Image: l.Image, UnitPrice: l.UnitPrice, Quantity: l.Quantity})
	}
	return out
}

func fromCache(cached []cachedLine) []domain.CartLine {
	if len(cached) == 0 {
		return nil
	}
	out := make([]domain.CartLine, 0, len(cached))
	for _, c := range cached {
		out = append(out, domain.CartLine{ProductID: c.ProductID, Variant: c.Variant, Name: c.Name, Image: c.Image, UnitPrice: c.UnitPrice, Quantity: c.Quantity})
	}
	return out
}
