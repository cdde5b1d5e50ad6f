package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

// CartRepository stores cart lines in cart_items.
type CartRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Postgres-backed cart repository.
func NewCartRepository(db *sql.DB) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires database handle")
	}
	return &CartRepository{db: db, now: time.Now}, nil
}

func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variant, name, image, unit_price, quantity
		FROM cart_items WHERE user_id = $1
		ORDER BY created_at, product_id, variant`, strings.TrimSpace(userID))
	if err != nil {
		return nil, wrapError("cart_items.list", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Variant, &line.Name, &line.Image, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, wrapError("cart_items.scan", err)
		}
		lines = append(lines, line)
	}
	return lines, wrapError("cart_items.rows", rows.Err())
}

func (r *CartRepository) UpsertLine(ctx context.Context, userID string, line domain.CartLine) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, variant, name, image, unit_price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id, product_id, variant) DO UPDATE
		SET name = EXCLUDED.name, image = EXCLUDED.image, unit_price = EXCLUDED.unit_price,
		    quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		strings.TrimSpace(userID), line.ProductID, line.Variant, line.Name, line.Image, line.UnitPrice, line.Quantity, now)
	return wrapError("cart_items.upsert", err)
}

func (r *CartRepository) DeleteLine(ctx context.Context, userID string, key domain.LineKey) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2 AND variant = $3`,
		strings.TrimSpace(userID), key.ProductID, key.Variant)
	return wrapError("cart_items.delete", err)
}

func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, strings.TrimSpace(userID))
	return wrapError("cart_items.deleteAll", err)
}
