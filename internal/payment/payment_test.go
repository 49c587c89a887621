package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/coupon"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/ledger"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/order"
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

type fixture struct {
	database   *db.DB
	orders     *order.Service
	reconciler *Reconciler
	order      *db.Order
}

// newFixture seeds a customer, a $10.00 product with stock and one pending
// order for two units (total $20.00).
func newFixture(t *testing.T) *fixture {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")

	led := ledger.NewLedger(database, log)
	coupons := coupon.NewValidator(database, log)
	orders := order.NewService(database, led, coupons, nil, log, 0)
	reconciler := NewReconciler(database, orders, nil, nil, log)

	customer := db.Customer{Email: "jo@example.com", FirstName: "Jo", LastName: "Doe", CreatedAt: time.Now()}
	require.NoError(t, database.Create(&customer).Error)
	address := db.Address{CustomerID: customer.ID, Line1: "1 Main St", City: "Springfield", Country: "US"}
	require.NoError(t, database.Create(&address).Error)

	product := db.Product{SKU: "WIDGET-1", Name: "Widget", PriceCents: 1000, Currency: "USD", Active: true}
	require.NoError(t, database.Create(&product).Error)
	require.NoError(t, led.Restock(context.Background(), product.ID, order.DefaultLocation, 10, "PO-seed"))

	ord, err := orders.Place(context.Background(), order.PlaceRequest{
		CustomerID:        customer.ID,
		ShippingAddressID: address.ID,
		BillingAddressID:  address.ID,
		Items:             []order.LineItem{{ProductID: product.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	return &fixture{database: database, orders: orders, reconciler: reconciler, order: ord}
}

func (f *fixture) orderStatus(t *testing.T) string {
	got, err := f.orders.Get(context.Background(), f.order.ID)
	require.NoError(t, err)
	return got.Status
}

func TestRecordAttemptCurrencyMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.RecordAttempt(context.Background(), f.order.ID, "stripe", "pi_1", 2000, "EUR")
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestRecordAttemptUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.RecordAttempt(context.Background(), 9999, "stripe", "pi_1", 2000, "USD")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestRecordAttemptIsIdempotentOnProviderRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)

	replay, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	var count int64
	require.NoError(t, f.database.Model(&db.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMarkCompletedTransitionsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)

	require.NoError(t, f.reconciler.MarkCompleted(ctx, payment.ID))

	assert.Equal(t, db.OrderStatusPaid, f.orderStatus(t))

	got, err := f.reconciler.GetByProviderRef(ctx, "stripe", "pi_1")
	require.NoError(t, err)
	assert.Equal(t, db.PaymentStatusCompleted, got.Status)
	assert.NotNil(t, got.PaidAt)
}

func TestMarkCompletedAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 1999, "USD")
	require.NoError(t, err)

	err = f.reconciler.MarkCompleted(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, db.OrderStatusPending, f.orderStatus(t))
}

func TestDuplicateCompletionIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)

	require.NoError(t, f.reconciler.MarkCompleted(ctx, payment.ID))
	// At-least-once delivery: the same notification arrives again
	require.NoError(t, f.reconciler.MarkCompleted(ctx, payment.ID))

	assert.Equal(t, db.OrderStatusPaid, f.orderStatus(t))
}

func TestSecondCompletedPaymentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)
	require.NoError(t, f.reconciler.MarkCompleted(ctx, first.ID))

	second, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_2", 2000, "USD")
	require.NoError(t, err)

	err = f.reconciler.MarkCompleted(ctx, second.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	// The order stays paid exactly once
	assert.Equal(t, db.OrderStatusPaid, f.orderStatus(t))
}

func TestMarkFailedLeavesOrderRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)

	require.NoError(t, f.reconciler.MarkFailed(ctx, payment.ID))
	assert.Equal(t, db.OrderStatusPending, f.orderStatus(t))

	// A failed attempt cannot later complete
	err = f.reconciler.MarkCompleted(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrInvalidPaymentState)

	// The customer retries with a fresh attempt
	retry, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_2", 2000, "USD")
	require.NoError(t, err)
	require.NoError(t, f.reconciler.MarkCompleted(ctx, retry.ID))
	assert.Equal(t, db.OrderStatusPaid, f.orderStatus(t))
}

func TestMarkRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)
	require.NoError(t, f.reconciler.MarkCompleted(ctx, payment.ID))

	require.NoError(t, f.reconciler.MarkRefunded(ctx, payment.ID))

	assert.Equal(t, db.OrderStatusRefunded, f.orderStatus(t))

	got, err := f.reconciler.GetByProviderRef(ctx, "stripe", "pi_1")
	require.NoError(t, err)
	assert.Equal(t, db.PaymentStatusRefunded, got.Status)
}

func TestMarkRefundedRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.reconciler.RecordAttempt(ctx, f.order.ID, "stripe", "pi_1", 2000, "USD")
	require.NoError(t, err)

	err = f.reconciler.MarkRefunded(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrInvalidPaymentState)
	assert.Equal(t, db.OrderStatusPending, f.orderStatus(t))
}

func TestMarkCompletedUnknownPayment(t *testing.T) {
	f := newFixture(t)

	err := f.reconciler.MarkCompleted(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
