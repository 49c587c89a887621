package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the fulfillment hot paths. Exposed on the health HTTP
// server's /metrics endpoint.
var (
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_orders_placed_total",
		Help: "Orders successfully placed",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_orders_cancelled_total",
		Help: "Orders cancelled from pending",
	})

	OversellRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_oversell_rejections_total",
		Help: "Reservations rejected for insufficient stock",
	})

	StockMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_stock_movements_total",
		Help: "Stock movements appended to the ledger, by type",
	}, []string{"type"})

	CouponRedemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_coupon_redemptions_total",
		Help: "Successful coupon redemptions",
	})

	CouponExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_coupon_exhaustions_total",
		Help: "Redemptions rejected because the usage limit was reached",
	})

	PaymentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_payments_completed_total",
		Help: "Payments marked completed",
	})

	DuplicatePaymentNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_duplicate_payment_notifications_total",
		Help: "Provider notifications discarded as duplicates",
	})
)
