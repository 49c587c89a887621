package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/pkg/logger"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	return database
}

func newTestValidator(t *testing.T) *Validator {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	return NewValidator(database, log)
}

func limit(n int64) *int64 { return &n }

func seedCoupon(t *testing.T, v *Validator, c db.Coupon) {
	if c.ValidFrom.IsZero() {
		c.ValidFrom = time.Now().Add(-time.Hour)
	}
	if c.ValidUntil.IsZero() {
		c.ValidUntil = time.Now().Add(time.Hour)
	}
	require.NoError(t, v.Create(context.Background(), &c))
}

func TestValidateUnknownCode(t *testing.T) {
	v := newTestValidator(t)

	_, _, err := v.Validate(context.Background(), "NOPE", 1000, time.Now())
	assert.ErrorIs(t, err, ErrCouponNotFound)
}

func TestValidateInactive(t *testing.T) {
	v := newTestValidator(t)
	seedCoupon(t, v, db.Coupon{Code: "OFF10", DiscountType: db.DiscountPercent, DiscountValue: 10, Active: false})

	_, _, err := v.Validate(context.Background(), "OFF10", 1000, time.Now())
	assert.ErrorIs(t, err, ErrCouponInactive)
}

func TestCreatePersistsInactiveFlag(t *testing.T) {
	v := newTestValidator(t)
	seedCoupon(t, v, db.Coupon{Code: "PAUSED", DiscountType: db.DiscountPercent, DiscountValue: 10, Active: false})

	// A coupon created deactivated must read back deactivated
	c, err := v.Get(context.Background(), "PAUSED")
	require.NoError(t, err)
	assert.False(t, c.Active)
}

func TestValidateWindow(t *testing.T) {
	v := newTestValidator(t)
	now := time.Now()
	seedCoupon(t, v, db.Coupon{
		Code:          "SOON",
		DiscountType:  db.DiscountPercent,
		DiscountValue: 10,
		ValidFrom:     now.Add(time.Hour),
		ValidUntil:    now.Add(2 * time.Hour),
		Active:        true,
	})

	_, _, err := v.Validate(context.Background(), "SOON", 1000, now)
	assert.ErrorIs(t, err, ErrCouponExpired)

	_, _, err = v.Validate(context.Background(), "SOON", 1000, now.Add(3*time.Hour))
	assert.ErrorIs(t, err, ErrCouponExpired)

	c, discount, err := v.Validate(context.Background(), "SOON", 1000, now.Add(90*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, int64(100), discount)
	require.NotNil(t, c)
	assert.Equal(t, "SOON", c.Code)
}

func TestValidateBelowMinimum(t *testing.T) {
	v := newTestValidator(t)
	seedCoupon(t, v, db.Coupon{Code: "BIG", DiscountType: db.DiscountFixed, DiscountValue: 500, MinOrderCents: 2000, Active: true})

	_, _, err := v.Validate(context.Background(), "BIG", 1999, time.Now())
	assert.ErrorIs(t, err, ErrCouponBelowMinimum)
}

func TestValidateExhausted(t *testing.T) {
	v := newTestValidator(t)
	seedCoupon(t, v, db.Coupon{Code: "GONE", DiscountType: db.DiscountPercent, DiscountValue: 10, UsageLimit: limit(3), UsedCount: 3, Active: true})

	_, _, err := v.Validate(context.Background(), "GONE", 1000, time.Now())
	assert.ErrorIs(t, err, ErrCouponExhausted)
}

func TestValidateHasNoSideEffects(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()
	seedCoupon(t, v, db.Coupon{Code: "OFF10", DiscountType: db.DiscountPercent, DiscountValue: 10, UsageLimit: limit(5), Active: true})

	for i := 0; i < 4; i++ {
		_, _, err := v.Validate(ctx, "OFF10", 1000, time.Now())
		require.NoError(t, err)
	}

	c, err := v.Get(ctx, "OFF10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.UsedCount)
}

func TestDiscountComputation(t *testing.T) {
	percent := &db.Coupon{DiscountType: db.DiscountPercent, DiscountValue: 10}

	// Truncates to the cent: 10% of $0.99 is 9 cents, never 10
	assert.Equal(t, int64(9), Discount(percent, 99))
	assert.Equal(t, int64(200), Discount(percent, 2000))

	full := &db.Coupon{DiscountType: db.DiscountPercent, DiscountValue: 100}
	assert.Equal(t, int64(1500), Discount(full, 1500))

	fixed := &db.Coupon{DiscountType: db.DiscountFixed, DiscountValue: 500}
	assert.Equal(t, int64(500), Discount(fixed, 2000))

	// Fixed discounts never exceed the subtotal
	assert.Equal(t, int64(300), Discount(fixed, 300))
}

func TestRedeemIncrementsUsedCount(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()
	seedCoupon(t, v, db.Coupon{Code: "OFF10", DiscountType: db.DiscountPercent, DiscountValue: 10, UsageLimit: limit(2), Active: true})

	require.NoError(t, v.Redeem(ctx, "OFF10"))
	require.NoError(t, v.Redeem(ctx, "OFF10"))

	err := v.Redeem(ctx, "OFF10")
	assert.ErrorIs(t, err, ErrCouponExhausted)

	c, err := v.Get(ctx, "OFF10")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.UsedCount)
}

func TestRedeemUnlimited(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()
	seedCoupon(t, v, db.Coupon{Code: "FOREVER", DiscountType: db.DiscountFixed, DiscountValue: 100, Active: true})

	for i := 0; i < 10; i++ {
		require.NoError(t, v.Redeem(ctx, "FOREVER"))
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	v := newTestValidator(t)

	err := v.Redeem(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrCouponNotFound)
}

func TestConcurrentRedeemsHonorLimit(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	const usageLimit = 3
	const callers = 8
	seedCoupon(t, v, db.Coupon{Code: "RACE", DiscountType: db.DiscountPercent, DiscountValue: 10, UsageLimit: limit(usageLimit), Active: true})

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- v.Redeem(ctx, "RACE")
		}()
	}
	wg.Wait()
	close(results)

	succeeded, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, ErrCouponExhausted)
			exhausted++
		}
	}

	assert.Equal(t, usageLimit, succeeded)
	assert.Equal(t, callers-usageLimit, exhausted)

	c, err := v.Get(ctx, "RACE")
	require.NoError(t, err)
	assert.Equal(t, int64(usageLimit), c.UsedCount)
}
