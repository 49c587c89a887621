package coupon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/metrics"
)

var (
	// ErrCouponNotFound is returned for an unknown code
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrCouponInactive is returned for a deactivated coupon
	ErrCouponInactive = errors.New("coupon is inactive")

	// ErrCouponExpired is returned outside the validity window
	ErrCouponExpired = errors.New("coupon is outside its validity window")

	// ErrCouponBelowMinimum is returned when the order subtotal is under the
	// coupon's minimum
	ErrCouponBelowMinimum = errors.New("order subtotal below coupon minimum")

	// ErrCouponExhausted is returned when the usage limit has been reached
	ErrCouponExhausted = errors.New("coupon usage limit reached")
)

// Validator owns coupon lookups and is the only mutator of used_count.
// Validation is side-effect free and may be called repeatedly; redemption is
// a compare-and-set increment called exactly once per placed order.
type Validator struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewValidator creates a new coupon validator
func NewValidator(database *db.DB, logger *zap.Logger) *Validator {
	return &Validator{db: database.DB, log: logger}
}

// WithTx returns a validator bound to the caller's transaction.
func (v *Validator) WithTx(tx *gorm.DB) *Validator {
	return &Validator{db: tx, log: v.log}
}

// Create inserts a new coupon
func (v *Validator) Create(ctx context.Context, c *db.Coupon) error {
	if err := v.db.WithContext(ctx).Create(c).Error; err != nil {
		v.log.Error("Failed to create coupon", zap.String("code", c.Code), zap.Error(err))
		return err
	}
	v.log.Info("Coupon created", zap.String("code", c.Code))
	return nil
}

// Get retrieves a coupon by code
func (v *Validator) Get(ctx context.Context, code string) (*db.Coupon, error) {
	var c db.Coupon
	err := v.db.WithContext(ctx).Where("code = ?", code).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Validate checks a code against an order subtotal at the given instant and
// returns the coupon with its discount in cents. It has no side effects, so
// cart previews may call it freely. Percent discounts truncate to the cent
// and are capped at the subtotal; fixed discounts are likewise capped so the
// discount never exceeds what it discounts.
func (v *Validator) Validate(ctx context.Context, code string, subtotalCents int64, now time.Time) (*db.Coupon, int64, error) {
	c, err := v.Get(ctx, code)
	if err != nil {
		return nil, 0, err
	}

	if !c.Active {
		return nil, 0, ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return nil, 0, ErrCouponExpired
	}
	if subtotalCents < c.MinOrderCents {
		return nil, 0, ErrCouponBelowMinimum
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, 0, ErrCouponExhausted
	}

	return c, Discount(c, subtotalCents), nil
}

// Redeem consumes one use of the coupon. The increment is guarded by the
// usage limit in a single statement, so of two orders racing for the last
// use at most one succeeds; the loser gets ErrCouponExhausted.
func (v *Validator) Redeem(ctx context.Context, code string) error {
	result := v.db.WithContext(ctx).Model(&db.Coupon{}).
		Where("code = ? AND (usage_limit IS NULL OR used_count < usage_limit)", code).
		Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := v.Get(ctx, code); err != nil {
			return err
		}
		metrics.CouponExhaustions.Inc()
		v.log.Debug("Coupon exhausted on redeem", zap.String("code", code))
		return ErrCouponExhausted
	}

	metrics.CouponRedemptions.Inc()
	return nil
}

// Discount computes the discount a coupon grants on a subtotal, in cents.
func Discount(c *db.Coupon, subtotalCents int64) int64 {
	var discount int64
	switch c.DiscountType {
	case db.DiscountPercent:
		// Integer arithmetic truncates toward zero at the cent
		discount = subtotalCents * c.DiscountValue / 100
	case db.DiscountFixed:
		discount = c.DiscountValue
	}
	if discount > subtotalCents {
		discount = subtotalCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
