package db

import (
	"gorm.io/gorm"
)

// RunMigrations migrates every persisted entity and creates the indexes the
// hot paths depend on.
func RunMigrations(db *DB) error {
	models := []interface{}{
		&Customer{},
		&CustomerProfile{},
		&Address{},
		&Category{},
		&Supplier{},
		&Product{},
		&ProductCategory{},
		&ProductSupplier{},
		&InventoryRecord{},
		&StockMovement{},
		&StockReservation{},
		&Coupon{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&ProductReview{},
		&PurchaseOrder{},
		&PurchaseOrderItem{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return err
	}

	return createIndexes(db.DB)
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// The abandoned-reservation sweep scans pending orders by age
		`CREATE INDEX IF NOT EXISTS idx_orders_status_placed_at ON orders(status, placed_at)`,

		// Release/commit on order transitions looks up active handles per order
		`CREATE INDEX IF NOT EXISTS idx_reservations_order_status ON stock_reservations(order_id, status)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
