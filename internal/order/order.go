package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/coupon"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/events"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/ledger"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/metrics"
)

// DefaultLocation is the stock location orders draw from unless the request
// names another.
const DefaultLocation = "main"

var (
	// ErrOrderNotFound is returned for an unknown order
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition is returned when a lifecycle operation is applied
	// in the wrong state
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrProductNotFound is returned when a line names an unknown product
	ErrProductNotFound = errors.New("product not found")

	// ErrProductInactive is returned when a line names a deactivated product
	ErrProductInactive = errors.New("product is inactive")

	// ErrEmptyOrder is returned for a placement with no lines
	ErrEmptyOrder = errors.New("order has no items")

	// ErrMixedCurrencies is returned when order lines price in different
	// currencies
	ErrMixedCurrencies = errors.New("order items have mixed currencies")
)

// LineItem is one requested order line
type LineItem struct {
	ProductID uint64
	Quantity  int32
}

// PlaceRequest carries everything needed to place an order
type PlaceRequest struct {
	CustomerID        uint64
	ShippingAddressID uint64
	BillingAddressID  uint64
	Items             []LineItem
	CouponCode        string // optional
	Location          string // defaults to DefaultLocation
}

// Service is the order aggregate. It exclusively owns the Order/OrderItem
// lifecycle and orchestrates the stock ledger and coupon validator inside a
// single transaction per operation, so a failed placement never leaves stock
// reserved without a pending order.
type Service struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	coupons       *coupon.Validator
	publisher     *events.Publisher
	log           *zap.Logger
	shippingCents int64
}

// NewService creates a new order service. The publisher may be nil when no
// broker is configured.
func NewService(database *db.DB, led *ledger.Ledger, coupons *coupon.Validator, publisher *events.Publisher, logger *zap.Logger, shippingCents int64) *Service {
	return &Service{
		db:            database.DB,
		ledger:        led,
		coupons:       coupons,
		publisher:     publisher,
		log:           logger,
		shippingCents: shippingCents,
	}
}

// WithTx returns a service bound to the caller's transaction. Used by the
// payment reconciler, which owns the payment row updates but delegates order
// status transitions here.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{
		db:            tx,
		ledger:        s.ledger.WithTx(tx),
		coupons:       s.coupons.WithTx(tx),
		publisher:     s.publisher,
		log:           s.log,
		shippingCents: s.shippingCents,
	}
}

// Place reserves stock for every line, redeems the coupon if one is given,
// snapshots product name/sku/price into order items and persists the order in
// pending state — all in one transaction. Any failure rolls the whole unit
// back, so partial reservations are never visible; an unavailable line fails
// with ErrInsufficientStock naming the product's SKU.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*db.Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
	}

	location := req.Location
	if location == "" {
		location = DefaultLocation
	}
	number := uuid.New().String()

	var ord *db.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)

		var (
			items          []db.OrderItem
			reservationIDs []string
			subtotal       int64
			currency       string
		)
		for i, line := range req.Items {
			var p db.Product
			if err := tx.Where("id = ?", line.ProductID).First(&p).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: product %d", ErrProductNotFound, line.ProductID)
				}
				return err
			}
			if !p.Active {
				return fmt.Errorf("%w: %s", ErrProductInactive, p.SKU)
			}
			if currency == "" {
				currency = p.Currency
			} else if currency != p.Currency {
				return ErrMixedCurrencies
			}

			res, err := led.Reserve(ctx, p.ID, location, int64(line.Quantity), number)
			if err != nil {
				if errors.Is(err, ledger.ErrInsufficientStock) || errors.Is(err, ledger.ErrInventoryNotFound) {
					// Rollback releases every prior reservation in this call
					return fmt.Errorf("%w: %s", ledger.ErrInsufficientStock, p.SKU)
				}
				return err
			}
			reservationIDs = append(reservationIDs, res.ID)

			lineTotal := p.PriceCents * int64(line.Quantity)
			items = append(items, db.OrderItem{
				ItemID:          int32(i + 1), // insertion sequence within the order
				ProductID:       p.ID,
				ProductName:     p.Name,
				SKU:             p.SKU,
				UnitPriceCents:  p.PriceCents,
				Quantity:        line.Quantity,
				TotalPriceCents: lineTotal,
			})
			subtotal += lineTotal
		}

		var (
			discount int64
			couponID *uint64
		)
		if req.CouponCode != "" {
			val := s.coupons.WithTx(tx)
			c, d, err := val.Validate(ctx, req.CouponCode, subtotal, time.Now())
			if err != nil {
				return err
			}
			if err := val.Redeem(ctx, req.CouponCode); err != nil {
				return err
			}
			discount = d
			couponID = &c.ID
		}

		now := time.Now()
		ord = &db.Order{
			Number:            number,
			CustomerID:        req.CustomerID,
			ShippingAddressID: req.ShippingAddressID,
			BillingAddressID:  req.BillingAddressID,
			Status:            db.OrderStatusPending,
			Currency:          currency,
			SubtotalCents:     subtotal,
			ShippingCents:     s.shippingCents,
			DiscountCents:     discount,
			TotalCents:        subtotal + s.shippingCents - discount,
			CouponID:          couponID,
			Items:             items,
			PlacedAt:          now,
			UpdatedAt:         now,
		}
		if err := tx.Create(ord).Error; err != nil {
			return err
		}

		return led.AttachOrder(ctx, reservationIDs, ord.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.Inc()
	s.log.Info("Order placed",
		zap.String("number", ord.Number),
		zap.Uint64("customer_id", ord.CustomerID),
		zap.Int64("total_cents", ord.TotalCents),
	)
	s.publishLifecycle(ctx, events.EventOrderPlaced, ord)

	return ord, nil
}

// Cancel releases every reservation held by a pending order and moves it to
// cancelled. Any other starting state fails with ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, orderID uint64) error {
	var ord *db.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ord, err = s.transition(tx, orderID, db.OrderStatusPending, db.OrderStatusCancelled, nil)
		if err != nil {
			return err
		}

		led := s.ledger.WithTx(tx)
		reservations, err := led.ActiveReservations(ctx, orderID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if err := led.Release(ctx, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logTransitionError("cancel", orderID, err)
		return err
	}

	metrics.OrdersCancelled.Inc()
	s.log.Info("Order cancelled", zap.String("number", ord.Number))
	s.publishLifecycle(ctx, events.EventOrderCancelled, ord)
	return nil
}

// MarkPaid moves a pending order to paid. Called by the payment reconciler
// on the first completed payment; no ledger action happens here, stock is
// committed at shipment.
func (s *Service) MarkPaid(ctx context.Context, orderID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.transition(tx, orderID, db.OrderStatusPending, db.OrderStatusPaid, nil)
		return err
	})
	if err != nil {
		s.logTransitionError("mark paid", orderID, err)
	}
	return err
}

// MarkShipped commits every reservation held by a paid order into a
// permanent stock decrement and moves the order to shipped.
func (s *Service) MarkShipped(ctx context.Context, orderID uint64) error {
	var ord *db.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var err error
		ord, err = s.transition(tx, orderID, db.OrderStatusPaid, db.OrderStatusShipped, map[string]interface{}{
			"shipped_at": now,
		})
		if err != nil {
			return err
		}

		led := s.ledger.WithTx(tx)
		reservations, err := led.ActiveReservations(ctx, orderID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if err := led.Commit(ctx, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logTransitionError("mark shipped", orderID, err)
		return err
	}

	s.log.Info("Order shipped", zap.String("number", ord.Number))
	s.publishLifecycle(ctx, events.EventOrderShipped, ord)
	return nil
}

// MarkDelivered moves a shipped order to delivered.
func (s *Service) MarkDelivered(ctx context.Context, orderID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.transition(tx, orderID, db.OrderStatusShipped, db.OrderStatusDelivered, map[string]interface{}{
			"delivered_at": time.Now(),
		})
		return err
	})
	if err != nil {
		s.logTransitionError("mark delivered", orderID, err)
	}
	return err
}

// Refund moves a paid order to refunded. The payment reconciler updates the
// payment row; the ledger already holds the reservations, which stay
// committed or active as they were.
func (s *Service) Refund(ctx context.Context, orderID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.transition(tx, orderID, db.OrderStatusPaid, db.OrderStatusRefunded, nil)
		return err
	})
	if err != nil {
		s.logTransitionError("refund", orderID, err)
	}
	return err
}

// Get retrieves an order with its items
func (s *Service) Get(ctx context.Context, orderID uint64) (*db.Order, error) {
	var ord db.Order
	err := s.db.WithContext(ctx).Preload("Items").Where("id = ?", orderID).First(&ord).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &ord, nil
}

// ReleaseAbandoned cancels pending orders older than the cutoff and releases
// their reservations. It is the reconciliation sweep for holds whose
// customers never paid; each order is handled in its own transaction so one
// failure does not block the rest.
func (s *Service) ReleaseAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	var stale []db.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND placed_at < ?", db.OrderStatusPending, cutoff).
		Order("placed_at").
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	released := 0
	for _, ord := range stale {
		if err := s.Cancel(ctx, ord.ID); err != nil {
			// A concurrent payment may have raced the sweep; skip and move on
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return released, err
		}
		released++
	}

	if released > 0 {
		s.log.Info("Released abandoned orders", zap.Int("count", released))
	}
	return released, nil
}

// transition compare-and-sets an order's status and returns the refreshed
// order. Zero rows affected distinguishes a missing order from a wrong
// starting state.
func (s *Service) transition(tx *gorm.DB, orderID uint64, from, to string, extra map[string]interface{}) (*db.Order, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.Model(&db.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}

	var ord db.Order
	if err := tx.Where("id = ?", orderID).First(&ord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s -> %s, order is %s", ErrInvalidTransition, from, to, ord.Status)
	}
	return &ord, nil
}

func (s *Service) publishLifecycle(ctx context.Context, eventType string, ord *db.Order) {
	err := s.publisher.Publish(ctx, eventType, map[string]interface{}{
		"order_id":    ord.ID,
		"number":      ord.Number,
		"customer_id": ord.CustomerID,
		"status":      ord.Status,
		"total_cents": ord.TotalCents,
		"currency":    ord.Currency,
	})
	if err != nil {
		// Event delivery is best effort; the order itself is committed
		s.log.Warn("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("number", ord.Number),
			zap.Error(err),
		)
	}
}

func (s *Service) logTransitionError(op string, orderID uint64, err error) {
	if errors.Is(err, ErrInvalidTransition) {
		s.log.Warn("Rejected order transition",
			zap.String("op", op),
			zap.Uint64("order_id", orderID),
			zap.Error(err),
		)
	}
}
