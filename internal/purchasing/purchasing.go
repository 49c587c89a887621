package purchasing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/events"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/ledger"
)

var (
	// ErrPurchaseOrderNotFound is returned for an unknown purchase order
	ErrPurchaseOrderNotFound = errors.New("purchase order not found")

	// ErrLineNotFound is returned when a receipt names a product the
	// purchase order does not contain
	ErrLineNotFound = errors.New("purchase order line not found")

	// ErrOverReceipt is returned when a receipt exceeds the ordered quantity
	ErrOverReceipt = errors.New("received quantity exceeds ordered quantity")

	// ErrEmptyPurchaseOrder is returned for a purchase order with no lines
	ErrEmptyPurchaseOrder = errors.New("purchase order has no lines")
)

// Line is one requested purchase-order line
type Line struct {
	ProductID     uint64
	Quantity      int32
	UnitCostCents int64
}

// Service owns the purchase-order lifecycle. Physical goods receipt is what
// feeds the stock ledger's `in` movements.
type Service struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	publisher *events.Publisher
	log       *zap.Logger
}

// NewService creates a new purchasing service
func NewService(database *db.DB, led *ledger.Ledger, publisher *events.Publisher, logger *zap.Logger) *Service {
	return &Service{db: database.DB, ledger: led, publisher: publisher, log: logger}
}

// Create opens a purchase order against a supplier
func (s *Service) Create(ctx context.Context, supplierID uint64, lines []Line) (*db.PurchaseOrder, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyPurchaseOrder
	}

	items := make([]db.PurchaseOrderItem, 0, len(lines))
	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		items = append(items, db.PurchaseOrderItem{
			ItemID:          int32(i + 1),
			ProductID:       line.ProductID,
			QuantityOrdered: line.Quantity,
			UnitCostCents:   line.UnitCostCents,
		})
	}

	po := &db.PurchaseOrder{
		Number:     uuid.New().String(),
		SupplierID: supplierID,
		Status:     db.PurchaseOrderPending,
		Items:      items,
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(po).Error; err != nil {
		return nil, err
	}

	s.log.Info("Purchase order created",
		zap.String("number", po.Number),
		zap.Uint64("supplier_id", supplierID),
		zap.Int("lines", len(items)),
	)
	return po, nil
}

// ReceiveItem records physical receipt of qty units of a product on a
// purchase order and restocks the ledger at the given location, in one
// transaction. The purchase order moves to partially_received until every
// line is fully received.
func (s *Service) ReceiveItem(ctx context.Context, purchaseOrderID, productID uint64, qty int32, location string) error {
	if qty <= 0 {
		return ledger.ErrInvalidQuantity
	}

	var po db.PurchaseOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").Where("id = ?", purchaseOrderID).First(&po).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPurchaseOrderNotFound
			}
			return err
		}

		// Guarded increment so concurrent receipts cannot exceed the order
		result := tx.Model(&db.PurchaseOrderItem{}).
			Where("purchase_order_id = ? AND product_id = ? AND quantity_received + ? <= quantity_ordered",
				purchaseOrderID, productID, qty).
			Update("quantity_received", gorm.Expr("quantity_received + ?", qty))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&db.PurchaseOrderItem{}).
				Where("purchase_order_id = ? AND product_id = ?", purchaseOrderID, productID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrLineNotFound
			}
			return ErrOverReceipt
		}

		if err := s.ledger.WithTx(tx).Restock(ctx, productID, location, int64(qty), po.Number); err != nil {
			return err
		}

		return s.refreshStatus(tx, purchaseOrderID)
	})
	if err != nil {
		return err
	}

	s.publishRestocked(ctx, &po, productID, qty, location)
	return nil
}

// Get retrieves a purchase order with its lines
func (s *Service) Get(ctx context.Context, purchaseOrderID uint64) (*db.PurchaseOrder, error) {
	var po db.PurchaseOrder
	err := s.db.WithContext(ctx).Preload("Items").Where("id = ?", purchaseOrderID).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseOrderNotFound
		}
		return nil, err
	}
	return &po, nil
}

// refreshStatus recomputes the purchase order's status from its lines
func (s *Service) refreshStatus(tx *gorm.DB, purchaseOrderID uint64) error {
	var outstanding int64
	if err := tx.Model(&db.PurchaseOrderItem{}).
		Where("purchase_order_id = ? AND quantity_received < quantity_ordered", purchaseOrderID).
		Count(&outstanding).Error; err != nil {
		return err
	}

	if outstanding == 0 {
		return tx.Model(&db.PurchaseOrder{}).
			Where("id = ?", purchaseOrderID).
			Updates(map[string]interface{}{
				"status":      db.PurchaseOrderReceived,
				"received_at": time.Now(),
			}).Error
	}

	return tx.Model(&db.PurchaseOrder{}).
		Where("id = ? AND status = ?", purchaseOrderID, db.PurchaseOrderPending).
		Update("status", db.PurchaseOrderPartial).Error
}

func (s *Service) publishRestocked(ctx context.Context, po *db.PurchaseOrder, productID uint64, qty int32, location string) {
	err := s.publisher.Publish(ctx, events.EventStockRestocked, map[string]interface{}{
		"purchase_order": po.Number,
		"product_id":     productID,
		"quantity":       qty,
		"location":       location,
	})
	if err != nil {
		s.log.Warn("Failed to publish restock event",
			zap.String("purchase_order", po.Number),
			zap.Error(err),
		)
	}
}
