package purchasing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/ledger"
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

func newTestService(t *testing.T) (*Service, *ledger.Ledger, uint64) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	led := ledger.NewLedger(database, log)
	svc := NewService(database, led, nil, log)

	supplier := db.Supplier{Name: "Acme Wholesale"}
	require.NoError(t, database.Create(&supplier).Error)

	return svc, led, supplier.ID
}

func TestCreatePurchaseOrder(t *testing.T) {
	svc, _, supplierID := newTestService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, supplierID, []Line{
		{ProductID: 1, Quantity: 10, UnitCostCents: 450},
		{ProductID: 2, Quantity: 5, UnitCostCents: 900},
	})
	require.NoError(t, err)

	assert.Equal(t, db.PurchaseOrderPending, po.Status)
	require.Len(t, po.Items, 2)
	assert.Equal(t, int32(1), po.Items[0].ItemID)
	assert.Equal(t, int32(2), po.Items[1].ItemID)

	_, err = svc.Create(ctx, supplierID, nil)
	assert.ErrorIs(t, err, ErrEmptyPurchaseOrder)
}

func TestReceiveItemRestocksLedger(t *testing.T) {
	svc, led, supplierID := newTestService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, supplierID, []Line{{ProductID: 1, Quantity: 10, UnitCostCents: 450}})
	require.NoError(t, err)

	require.NoError(t, svc.ReceiveItem(ctx, po.ID, 1, 4, "main"))

	rec, err := led.Snapshot(ctx, 1, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.Quantity)

	// Receipt writes an `in` movement referencing the purchase order
	movements, err := led.Movements(ctx, 1, "main")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, db.MovementIn, movements[0].Type)
	assert.Equal(t, po.Number, movements[0].Reference)

	got, err := svc.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PurchaseOrderPartial, got.Status)
}

func TestReceiveToCompletion(t *testing.T) {
	svc, _, supplierID := newTestService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, supplierID, []Line{{ProductID: 1, Quantity: 10, UnitCostCents: 450}})
	require.NoError(t, err)

	require.NoError(t, svc.ReceiveItem(ctx, po.ID, 1, 6, "main"))
	require.NoError(t, svc.ReceiveItem(ctx, po.ID, 1, 4, "main"))

	got, err := svc.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PurchaseOrderReceived, got.Status)
	assert.NotNil(t, got.ReceivedAt)
	assert.Equal(t, int32(10), got.Items[0].QuantityReceived)
}

func TestOverReceiptRejected(t *testing.T) {
	svc, led, supplierID := newTestService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, supplierID, []Line{{ProductID: 1, Quantity: 10, UnitCostCents: 450}})
	require.NoError(t, err)

	err = svc.ReceiveItem(ctx, po.ID, 1, 11, "main")
	assert.ErrorIs(t, err, ErrOverReceipt)

	// Nothing reached the ledger
	_, err = led.Snapshot(ctx, 1, "main")
	assert.ErrorIs(t, err, ledger.ErrInventoryNotFound)
}

func TestReceiveUnknownLine(t *testing.T) {
	svc, _, supplierID := newTestService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, supplierID, []Line{{ProductID: 1, Quantity: 10, UnitCostCents: 450}})
	require.NoError(t, err)

	err = svc.ReceiveItem(ctx, po.ID, 99, 1, "main")
	assert.ErrorIs(t, err, ErrLineNotFound)

	err = svc.ReceiveItem(ctx, 999, 1, 1, "main")
	assert.ErrorIs(t, err, ErrPurchaseOrderNotFound)
}
