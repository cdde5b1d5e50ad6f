package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/pagination"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const couponColumns = `id, code, description, discount_type, discount_value, minimum_order_value,
	max_uses, current_uses, is_active, expires_at, created_at, updated_at`

// CouponRepository stores coupons in the coupons table.
type CouponRepository struct {
	db *sql.DB
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Postgres-backed coupon repository.
func NewCouponRepository(db *sql.DB) (*CouponRepository, error) {
	if db == nil {
		return nil, errors.New("coupon repository requires database handle")
	}
	return &CouponRepository{db: db}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, c domain.Coupon) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, domain.NormalizeCouponCode(c.Code), c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderValue, nullInt(c.MaxUses), c.CurrentUses, c.IsActive, nullTime(c.ExpiresAt),
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return wrapError("coupons.insert", err)
}

func (r *CouponRepository) Update(ctx context.Context, c domain.Coupon) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons SET description = $2, discount_type = $3, discount_value = $4,
			minimum_order_value = $5, max_uses = $6, is_active = $7, expires_at = $8, updated_at = $9
		WHERE code = $1`,
		domain.NormalizeCouponCode(c.Code), c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderValue, nullInt(c.MaxUses), c.IsActive, nullTime(c.ExpiresAt), c.UpdatedAt.UTC())
	if err != nil {
		return wrapError("coupons.update", err)
	}
	return requireRow("coupons.update", res)
}

func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM coupons WHERE code = $1`, domain.NormalizeCouponCode(code))
	if err != nil {
		return wrapError("coupons.delete", err)
	}
	return requireRow("coupons.delete", res)
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, domain.NormalizeCouponCode(code))
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, wrapError("coupons.findByCode", err)
	}
	return coupon, nil
}

func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+couponColumns+` FROM coupons
		WHERE ($1 = FALSE OR is_active) AND code > $2
		ORDER BY code LIMIT $3`, filter.ActiveOnly, cursor.Key, size+1)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, wrapError("coupons.list", err)
	}
	defer rows.Close()

	var items []domain.Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, wrapError("coupons.scan", err)
		}
		items = append(items, coupon)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Coupon]{}, wrapError("coupons.rows", err)
	}

	page := domain.CursorPage[domain.Coupon]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{Key: page.Items[size-1].Code})
	}
	return page, nil
}

// Redeem locks the order row, then applies the conditional increment. The order lock
// serialises retries for the same order; the WHERE clause serialises competing orders.
func (r *CouponRepository) Redeem(ctx context.Context, orderID, code string, at time.Time) (domain.CouponRedemption, error) {
	var outcome domain.CouponRedemption
	err := inTx(ctx, r.db, "coupons.redeem", func(tx *sql.Tx) error {
		var recorded string
		err := tx.QueryRowContext(ctx, `SELECT coupon_redemption FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&recorded)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("coupons.redeem.order")
		}
		if err != nil {
			return err
		}
		if recorded != "" {
			outcome = domain.CouponRedemption(recorded)
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE coupons SET current_uses = current_uses + 1, updated_at = $2
			WHERE code = $1 AND (max_uses IS NULL OR current_uses < max_uses)`,
			domain.NormalizeCouponCode(code), at.UTC())
		if err != nil {
			return err
		}
		outcome = domain.CouponRedemptionRejected
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			outcome = domain.CouponRedemptionRedeemed
		}
		_, err = tx.ExecContext(ctx, `UPDATE orders SET coupon_redemption = $2, updated_at = $3 WHERE id = $1`,
			orderID, string(outcome), at.UTC())
		return err
	})
	if err != nil {
		return domain.CouponRedemptionNone, err
	}
	return outcome, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		c            domain.Coupon
		discountType string
		maxUses      sql.NullInt64
		expiresAt    sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue, &c.MinimumOrderValue,
		&maxUses, &c.CurrentUses, &c.IsActive, &expiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Coupon{}, err
	}
	c.DiscountType = domain.DiscountType(discountType)
	if maxUses.Valid {
		v := int(maxUses.Int64)
		c.MaxUses = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Time.UTC()
		c.ExpiresAt = &v
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if n == 0 {
		return notFound(op)
	}
	if n > 1 {
		return wrapError(op, fmt.Errorf("expected one row, affected %d", n))
	}
	return nil
}
