package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/metrics"
)

var (
	// ErrInventoryNotFound is returned when no record exists for the
	// (product, location) pair
	ErrInventoryNotFound = errors.New("inventory record not found")

	// ErrInsufficientStock is returned when available-to-sell is below the
	// requested quantity
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity is returned for non-positive quantities
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrReservationNotFound is returned for an unknown reservation handle
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAlreadyReleased is returned when releasing a handle twice
	ErrAlreadyReleased = errors.New("reservation already released")

	// ErrInvalidReservation is returned when operating on a handle that is
	// no longer active
	ErrInvalidReservation = errors.New("reservation not active")

	// ErrInvalidAdjustment is returned when an adjustment would drive
	// quantity below zero or below the reserved count
	ErrInvalidAdjustment = errors.New("adjustment would violate stock invariants")

	// ErrLedgerIntegrity means the counters disagree with the reservation
	// handles; the enclosing transaction is aborted
	ErrLedgerIntegrity = errors.New("ledger counters inconsistent with reservations")
)

// Ledger is the only mutator of inventory counters and the stock movement
// log. Every counter mutation appends exactly one movement in the same
// transaction, and all counter updates are guarded compare-and-set statements
// so the non-negative-available invariant holds across concurrent callers and
// service instances.
type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewLedger creates a new stock ledger
func NewLedger(database *db.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: database.DB, log: logger}
}

// WithTx returns a ledger bound to the caller's transaction, so ledger calls
// compose into a larger atomic unit (order placement, cancellation, shipment).
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx, log: l.log}
}

// Reserve places a hold of qty units on (productID, location). It fails with
// ErrInsufficientStock when available-to-sell is below qty; two concurrent
// reservations never both succeed past that bound.
func (l *Ledger) Reserve(ctx context.Context, productID uint64, location string, qty int64, reference string) (*db.StockReservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	var res *db.StockReservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&db.InventoryRecord{}).
			Where("product_id = ? AND location = ? AND quantity - reserved >= ?", productID, location, qty).
			Updates(map[string]interface{}{
				"reserved":   gorm.Expr("reserved + ?", qty),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&db.InventoryRecord{}).
				Where("product_id = ? AND location = ?", productID, location).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrInventoryNotFound
			}
			return ErrInsufficientStock
		}

		now := time.Now()
		res = &db.StockReservation{
			ID:        uuid.New().String(),
			ProductID: productID,
			Location:  location,
			Quantity:  qty,
			Reference: reference,
			Status:    db.ReservationActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(res).Error; err != nil {
			return err
		}

		return appendMovement(tx, productID, location, db.MovementReserved, qty, reference)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			metrics.OversellRejections.Inc()
			l.log.Debug("Reservation rejected",
				zap.Uint64("product_id", productID),
				zap.String("location", location),
				zap.Int64("quantity", qty),
			)
		}
		return nil, err
	}

	metrics.StockMovements.WithLabelValues(db.MovementReserved).Inc()
	return res, nil
}

// Release returns a reservation's units to available-to-sell. Releasing an
// already-released handle fails with ErrAlreadyReleased rather than silently
// succeeding, to surface double-release bugs.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := l.transition(tx, reservationID, db.ReservationReleased)
		if err != nil {
			return err
		}

		result := tx.Model(&db.InventoryRecord{}).
			Where("product_id = ? AND location = ? AND reserved >= ?", res.ProductID, res.Location, res.Quantity).
			Updates(map[string]interface{}{
				"reserved":   gorm.Expr("reserved - ?", res.Quantity),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLedgerIntegrity
		}

		return appendMovement(tx, res.ProductID, res.Location, db.MovementUnreserved, -res.Quantity, res.Reference)
	})
	if err != nil {
		l.logHandleError("release", reservationID, err)
		return err
	}

	metrics.StockMovements.WithLabelValues(db.MovementUnreserved).Inc()
	return nil
}

// Commit converts a reservation into a permanent stock decrement. It fails
// with ErrInvalidReservation if the handle was already committed or released.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := l.transition(tx, reservationID, db.ReservationCommitted)
		if err != nil {
			return err
		}

		result := tx.Model(&db.InventoryRecord{}).
			Where("product_id = ? AND location = ? AND reserved >= ? AND quantity >= ?",
				res.ProductID, res.Location, res.Quantity, res.Quantity).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity - ?", res.Quantity),
				"reserved":   gorm.Expr("reserved - ?", res.Quantity),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLedgerIntegrity
		}

		return appendMovement(tx, res.ProductID, res.Location, db.MovementOut, -res.Quantity, res.Reference)
	})
	if err != nil {
		l.logHandleError("commit", reservationID, err)
		return err
	}

	metrics.StockMovements.WithLabelValues(db.MovementOut).Inc()
	return nil
}

// Restock adds received goods to on-hand quantity, creating the inventory
// record on first receipt. Called by purchase-order receipt.
func (l *Ledger) Restock(ctx context.Context, productID uint64, location string, qty int64, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &db.InventoryRecord{
			ProductID: productID,
			Location:  location,
			Quantity:  qty,
			UpdatedAt: time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "location"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":   gorm.Expr("inventory.quantity + ?", qty),
				"updated_at": time.Now(),
			}),
		}).Create(rec).Error; err != nil {
			return err
		}

		return appendMovement(tx, productID, location, db.MovementIn, qty, reference)
	})
	if err != nil {
		l.log.Error("Restock failed",
			zap.Uint64("product_id", productID),
			zap.String("location", location),
			zap.Error(err),
		)
		return err
	}

	l.log.Info("Stock received",
		zap.Uint64("product_id", productID),
		zap.String("location", location),
		zap.Int64("quantity", qty),
		zap.String("reference", reference),
	)
	metrics.StockMovements.WithLabelValues(db.MovementIn).Inc()
	return nil
}

// Adjust applies a signed manual correction to on-hand quantity. The
// adjustment is rejected if it would drive quantity below zero or below the
// currently reserved count.
func (l *Ledger) Adjust(ctx context.Context, productID uint64, location string, delta int64, reference string) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&db.InventoryRecord{}).
			Where("product_id = ? AND location = ? AND quantity + ? >= reserved AND quantity + ? >= 0",
				productID, location, delta, delta).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity + ?", delta),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&db.InventoryRecord{}).
				Where("product_id = ? AND location = ?", productID, location).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrInventoryNotFound
			}
			return ErrInvalidAdjustment
		}

		return appendMovement(tx, productID, location, db.MovementAdjustment, delta, reference)
	})
	if err != nil {
		return err
	}

	l.log.Info("Stock adjusted",
		zap.Uint64("product_id", productID),
		zap.String("location", location),
		zap.Int64("delta", delta),
		zap.String("reference", reference),
	)
	metrics.StockMovements.WithLabelValues(db.MovementAdjustment).Inc()
	return nil
}

// AttachOrder links reservation handles to the order that owns them, so
// cancel and shipment can find them later.
func (l *Ledger) AttachOrder(ctx context.Context, reservationIDs []string, orderID uint64) error {
	if len(reservationIDs) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Model(&db.StockReservation{}).
		Where("id IN ?", reservationIDs).
		Updates(map[string]interface{}{
			"order_id":   orderID,
			"updated_at": time.Now(),
		}).Error
}

// ActiveReservations returns the active handles linked to an order.
func (l *Ledger) ActiveReservations(ctx context.Context, orderID uint64) ([]db.StockReservation, error) {
	var reservations []db.StockReservation
	err := l.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, db.ReservationActive).
		Order("created_at").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// Snapshot returns the current counters for a (product, location) pair.
func (l *Ledger) Snapshot(ctx context.Context, productID uint64, location string) (*db.InventoryRecord, error) {
	var rec db.InventoryRecord
	err := l.db.WithContext(ctx).
		Where("product_id = ? AND location = ?", productID, location).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInventoryNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Movements returns the full audit trail for a (product, location) pair in
// append order.
func (l *Ledger) Movements(ctx context.Context, productID uint64, location string) ([]db.StockMovement, error) {
	var movements []db.StockMovement
	err := l.db.WithContext(ctx).
		Where("product_id = ? AND location = ?", productID, location).
		Order("id").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// FoldMovements replays an audit trail into (quantity, reserved) counters.
// For a consistent ledger the result always equals the live record.
func FoldMovements(movements []db.StockMovement) (quantity, reserved int64) {
	for _, m := range movements {
		switch m.Type {
		case db.MovementIn, db.MovementAdjustment:
			quantity += m.QuantityDelta
		case db.MovementOut:
			quantity += m.QuantityDelta
			reserved += m.QuantityDelta
		case db.MovementReserved, db.MovementUnreserved:
			reserved += m.QuantityDelta
		}
	}
	return quantity, reserved
}

// transition compare-and-sets a handle from active to the target status and
// returns the handle. Zero rows affected means the handle was already spent;
// the returned error names how.
func (l *Ledger) transition(tx *gorm.DB, reservationID, target string) (*db.StockReservation, error) {
	result := tx.Model(&db.StockReservation{}).
		Where("id = ? AND status = ?", reservationID, db.ReservationActive).
		Updates(map[string]interface{}{
			"status":     target,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	var res db.StockReservation
	if err := tx.Where("id = ?", reservationID).First(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if result.RowsAffected == 0 {
		if res.Status == db.ReservationReleased && target == db.ReservationReleased {
			return nil, ErrAlreadyReleased
		}
		return nil, ErrInvalidReservation
	}

	return &res, nil
}

func appendMovement(tx *gorm.DB, productID uint64, location, movementType string, delta int64, reference string) error {
	return tx.Create(&db.StockMovement{
		ProductID:     productID,
		Location:      location,
		Type:          movementType,
		QuantityDelta: delta,
		Reference:     reference,
		CreatedAt:     time.Now(),
	}).Error
}

func (l *Ledger) logHandleError(op, reservationID string, err error) {
	switch {
	case errors.Is(err, ErrAlreadyReleased), errors.Is(err, ErrInvalidReservation):
		// Should not occur under correct orchestration
		l.log.Warn("Reservation handle misuse",
			zap.String("op", op),
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
	case errors.Is(err, ErrLedgerIntegrity):
		l.log.Error("Ledger integrity violation",
			zap.String("op", op),
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
	}
}
