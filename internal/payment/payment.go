package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/cache"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/events"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/metrics"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/order"
)

var (
	// ErrPaymentNotFound is returned for an unknown payment
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrCurrencyMismatch is returned when an attempt's currency differs
	// from the order's
	ErrCurrencyMismatch = errors.New("payment currency does not match order")

	// ErrAmountMismatch is returned when a completing payment's amount
	// differs from the order total
	ErrAmountMismatch = errors.New("payment amount does not match order total")

	// ErrInvalidPaymentState is returned when a status change is applied to
	// a payment in the wrong state
	ErrInvalidPaymentState = errors.New("invalid payment state for operation")
)

// Reconciler maps external payment-provider notifications onto payment rows
// and order status transitions. Providers deliver at least once, so every
// operation is idempotent on (provider, provider_payment_id).
type Reconciler struct {
	db        *gorm.DB
	orders    *order.Service
	dedupe    *cache.IdempotencyCache
	publisher *events.Publisher
	log       *zap.Logger
}

// NewReconciler creates a new payment reconciler. dedupe and publisher may be
// nil when Redis or the broker are not configured.
func NewReconciler(database *db.DB, orders *order.Service, dedupe *cache.IdempotencyCache, publisher *events.Publisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:        database.DB,
		orders:    orders,
		dedupe:    dedupe,
		publisher: publisher,
		log:       logger,
	}
}

// RecordAttempt appends a pending payment row for an order. A replayed
// notification for the same (provider, provider_payment_id) returns the
// existing row instead of creating a second one.
func (r *Reconciler) RecordAttempt(ctx context.Context, orderID uint64, provider, providerPaymentID string, amountCents int64, currency string) (*db.Payment, error) {
	firstSeen, err := r.dedupe.FirstSeen(ctx, dedupeKey(provider, providerPaymentID))
	if err != nil {
		// Redis trouble must not block payments; the unique index still holds
		r.log.Warn("Idempotency cache unavailable", zap.Error(err))
	} else if !firstSeen {
		metrics.DuplicatePaymentNotifications.Inc()
		existing, err := r.GetByProviderRef(ctx, provider, providerPaymentID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		// Seen in the cache but never persisted (crash between the guard and
		// the insert); fall through and create the row.
	}

	var payment *db.Payment
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ord db.Order
		if err := tx.Where("id = ?", orderID).First(&ord).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return order.ErrOrderNotFound
			}
			return err
		}
		if currency != ord.Currency {
			return fmt.Errorf("%w: got %s, order is %s", ErrCurrencyMismatch, currency, ord.Currency)
		}

		var existing db.Payment
		err := tx.Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
			First(&existing).Error
		if err == nil {
			payment = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment = &db.Payment{
			OrderID:           orderID,
			Provider:          provider,
			ProviderPaymentID: providerPaymentID,
			AmountCents:       amountCents,
			Currency:          currency,
			Status:            db.PaymentStatusPending,
			CreatedAt:         time.Now(),
		}
		if err := tx.Create(payment).Error; err != nil {
			// A concurrent replay may have won the unique index race
			var raced db.Payment
			if lookupErr := tx.Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
				First(&raced).Error; lookupErr == nil {
				payment = &raced
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// MarkCompleted records a successful provider notification. The first
// completion of a matching payment transitions the order pending -> paid;
// re-delivery for an already-completed payment is a no-op so revenue is never
// counted twice.
func (r *Reconciler) MarkCompleted(ctx context.Context, paymentID uint64) error {
	var (
		payment      db.Payment
		ord          db.Order
		completedNow bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if payment.Status == db.PaymentStatusCompleted {
			metrics.DuplicatePaymentNotifications.Inc()
			r.log.Debug("Duplicate completion notification",
				zap.String("provider_payment_id", payment.ProviderPaymentID),
			)
			return nil
		}
		if payment.Status != db.PaymentStatusPending {
			return fmt.Errorf("%w: payment is %s", ErrInvalidPaymentState, payment.Status)
		}

		if err := tx.Where("id = ?", payment.OrderID).First(&ord).Error; err != nil {
			return err
		}
		if payment.AmountCents != ord.TotalCents {
			return fmt.Errorf("%w: got %d, order total is %d", ErrAmountMismatch, payment.AmountCents, ord.TotalCents)
		}

		now := time.Now()
		result := tx.Model(&db.Payment{}).
			Where("id = ? AND status = ?", paymentID, db.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":  db.PaymentStatusCompleted,
				"paid_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race to a concurrent delivery of the same notification
			metrics.DuplicatePaymentNotifications.Inc()
			return nil
		}
		payment.Status = db.PaymentStatusCompleted
		payment.PaidAt = &now
		completedNow = true

		// First completed payment carries the order to paid. Stock stays
		// reserved; commitment happens at shipment.
		return r.orders.WithTx(tx).MarkPaid(ctx, ord.ID)
	})
	if err != nil {
		return err
	}

	if completedNow {
		metrics.PaymentsCompleted.Inc()
		r.publish(ctx, events.EventPaymentCompleted, &payment)
	}
	return nil
}

// MarkFailed records a failed provider notification. The order is untouched
// so the customer can retry with a new attempt.
func (r *Reconciler) MarkFailed(ctx context.Context, paymentID uint64) error {
	result := r.db.WithContext(ctx).Model(&db.Payment{}).
		Where("id = ? AND status = ?", paymentID, db.PaymentStatusPending).
		Update("status", db.PaymentStatusFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		payment, err := r.byID(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status == db.PaymentStatusFailed {
			return nil
		}
		return fmt.Errorf("%w: payment is %s", ErrInvalidPaymentState, payment.Status)
	}
	return nil
}

// MarkRefunded reverses a completed payment and carries its paid order to
// refunded, in one transaction.
func (r *Reconciler) MarkRefunded(ctx context.Context, paymentID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment db.Payment
		if err := tx.Where("id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		result := tx.Model(&db.Payment{}).
			Where("id = ? AND status = ?", paymentID, db.PaymentStatusCompleted).
			Update("status", db.PaymentStatusRefunded)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: payment is %s", ErrInvalidPaymentState, payment.Status)
		}

		return r.orders.WithTx(tx).Refund(ctx, payment.OrderID)
	})
}

func (r *Reconciler) byID(ctx context.Context, paymentID uint64) (*db.Payment, error) {
	var payment db.Payment
	err := r.db.WithContext(ctx).Where("id = ?", paymentID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByProviderRef retrieves a payment by its provider reference
func (r *Reconciler) GetByProviderRef(ctx context.Context, provider, providerPaymentID string) (*db.Payment, error) {
	var payment db.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *Reconciler) publish(ctx context.Context, eventType string, payment *db.Payment) {
	err := r.publisher.Publish(ctx, eventType, map[string]interface{}{
		"payment_id":          payment.ID,
		"order_id":            payment.OrderID,
		"provider":            payment.Provider,
		"provider_payment_id": payment.ProviderPaymentID,
		"amount_cents":        payment.AmountCents,
		"currency":            payment.Currency,
	})
	if err != nil {
		r.log.Warn("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.Uint64("payment_id", payment.ID),
			zap.Error(err),
		)
	}
}

func dedupeKey(provider, providerPaymentID string) string {
	return fmt.Sprintf("payment:%s:%s", provider, providerPaymentID)
}
