package firestore

import (
	"context"
	"errors"
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

const couponsCollection = "coupons"

type couponDocument struct {
	ID                string     `firestore:"id"`
	Code              string     `firestore:"code"`
	Description       string     `firestore:"description,omitempty"`
	DiscountType      string     `firestore:"discountType"`
	DiscountValue     int64      `firestore:"discountValue"`
	MinimumOrderValue int64      `firestore:"minimumOrderValue"`
	MaxUses           *int       `firestore:"maxUses"`
	CurrentUses       int        `firestore:"currentUses"`
	IsActive          bool       `firestore:"isActive"`
	ExpiresAt         *time.Time `firestore:"expiresAt"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

// CouponRepository stores coupons under coupons/{CODE}.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.Collection[couponDocument]
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the coupon; an existing code is a conflict.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	code := domain.NormalizeCouponCode(coupon.Code)
	ref, err := r.coupons.Doc(ctx, code)
	if err != nil {
		return err
	}
	coupon.Code = code
	if _, err := ref.Create(ctx, encodeCoupon(coupon)); err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update replaces the editable fields. Usage counters and creation time are left untouched.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	ref, err := r.coupons.Doc(ctx, domain.NormalizeCouponCode(coupon.Code))
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "description", Value: coupon.Description},
		{Path: "discountType", Value: string(coupon.DiscountType)},
		{Path: "discountValue", Value: coupon.DiscountValue},
		{Path: "minimumOrderValue", Value: coupon.MinimumOrderValue},
		{Path: "maxUses", Value: coupon.MaxUses},
		{Path: "isActive", Value: coupon.IsActive},
		{Path: "expiresAt", Value: coupon.ExpiresAt},
		{Path: "updatedAt", Value: coupon.UpdatedAt.UTC()},
	})
	return pfirestore.WrapError("coupons.update", err)
}

// Delete removes the coupon; a missing coupon is reported as not found.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	ref, err := r.coupons.Doc(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx, firestore.Exists)
	return pfirestore.WrapError("coupons.delete", err)
}

// FindByCode looks a coupon up by its case-insensitive code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	doc, err := r.coupons.Get(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc), nil
}

// List pages through coupons ordered by code.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		q = q.OrderBy("code", firestore.Asc)
		if cursor.Key != "" {
			q = q.StartAfter(cursor.Key)
		}
		return q.Limit(size + 1)
	}, nil)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	page := domain.CursorPage[domain.Coupon]{}
	if len(docs) > size {
		docs = docs[:size]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{Key: docs[len(docs)-1].Code})
	}
	page.Items = make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, decodeCoupon(doc))
	}
	return page, nil
}

// Redeem increments currentUses when the coupon has uses left and stamps the outcome on the
// order, all in one transaction. A recorded outcome short-circuits the transaction.
func (r *CouponRepository) Redeem(ctx context.Context, orderID, code string, at time.Time) (domain.CouponRedemption, error) {
	orderRef, err := r.orders.Doc(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.CouponRedemptionNone, err
	}
	couponRef, err := r.coupons.Doc(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		return domain.CouponRedemptionNone, err
	}

	var outcome domain.CouponRedemption
	err = r.provider.RunTransaction(ctx, "coupons.redeem", func(ctx context.Context, tx *firestore.Transaction) error {
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return pfirestore.WrapError("coupons.redeem.order", err)
		}
		order, err := pfirestore.Decode[orderDocument](orderSnap)
		if err != nil {
			return err
		}
		if order.CouponRedemption != "" {
			outcome = domain.CouponRedemption(order.CouponRedemption)
			return nil
		}

		outcome = domain.CouponRedemptionRejected
		var coupon couponDocument
		couponSnap, err := tx.Get(couponRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return pfirestore.WrapError("coupons.redeem.coupon", err)
		default:
			if coupon, err = pfirestore.Decode[couponDocument](couponSnap); err != nil {
				return err
			}
			if coupon.MaxUses == nil || coupon.CurrentUses < *coupon.MaxUses {
				outcome = domain.CouponRedemptionRedeemed
			}
		}

		if outcome == domain.CouponRedemptionRedeemed {
			if err := tx.Update(couponRef, []firestore.Update{
				{Path: "currentUses", Value: firestore.Increment(1)},
				{Path: "updatedAt", Value: at.UTC()},
			}); err != nil {
				return err
			}
		}
		return tx.Update(orderRef, []firestore.Update{
			{Path: "couponRedemption", Value: string(outcome)},
			{Path: "updatedAt", Value: at.UTC()},
		})
	})
	if err != nil {
		return domain.CouponRedemptionNone, err
	}
	return outcome, nil
}

func encodeCoupon(c domain.Coupon) couponDocument {
	doc := couponDocument{
		ID:                c.ID,
		Code:              c.Code,
		Description:       c.Description,
		DiscountType:      string(c.DiscountType),
		DiscountValue:     c.DiscountValue,
		MinimumOrderValue: c.MinimumOrderValue,
		MaxUses:           c.MaxUses,
		CurrentUses:       c.CurrentUses,
		IsActive:          c.IsActive,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
	if c.ExpiresAt != nil {
		expires := c.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}
	return doc
}

func decodeCoupon(doc couponDocument) domain.Coupon {
	coupon := domain.Coupon{
		ID:                doc.ID,
		Code:              doc.Code,
		Description:       doc.Description,
		DiscountType:      domain.DiscountType(doc.DiscountType),
		DiscountValue:     doc.DiscountValue,
		MinimumOrderValue: doc.MinimumOrderValue,
		MaxUses:           doc.MaxUses,
		CurrentUses:       doc.CurrentUses,
		IsActive:          doc.IsActive,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}
	if doc.ExpiresAt != nil {
		expires := doc.ExpiresAt.UTC()
		coupon.ExpiresAt = &expires
	}
	return coupon
}
