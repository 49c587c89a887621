package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/order"
)

const (
	exchangeName = "shop.events"
	exchangeType = "topic"

	// Provider notification routing keys
	routingSucceeded = "provider.payment.succeeded"
	routingFailed    = "provider.payment.failed"
	routingRefunded  = "provider.payment.refunded"
)

// ProviderNotification is the payload the payment provider delivers. Delivery
// is at least once; the reconciler deduplicates on provider_payment_id.
type ProviderNotification struct {
	OrderID           uint64 `json:"order_id"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
}

// Consumer feeds provider notifications from RabbitMQ into the reconciler
type Consumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	reconciler *Reconciler
	log        *zap.Logger
}

// NewConsumer connects to RabbitMQ and declares the provider-notification
// queue bound to the shared topic exchange.
func NewConsumer(url, serviceName string, reconciler *Reconciler, log *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, exchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queueName:  fmt.Sprintf("%s.payments.queue", serviceName),
		reconciler: reconciler,
		log:        log,
	}, nil
}

// Start declares and binds the queue, then blocks consuming notifications
// until the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	queue, err := c.channel.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range []string{routingSucceeded, routingFailed, routingRefunded} {
		if err := c.channel.QueueBind(queue.Name, key, exchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	msgs, err := c.channel.Consume(
		queue.Name,
		"payment-reconciler", // consumer tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,                  // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.Info("Consuming provider payment notifications", zap.String("queue", queue.Name))

	for msg := range msgs {
		c.handle(ctx, msg)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var n ProviderNotification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		c.log.Error("Malformed provider notification", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	var err error
	switch msg.RoutingKey {
	case routingSucceeded:
		err = c.applyOutcome(ctx, n, c.reconciler.MarkCompleted)
	case routingFailed:
		err = c.applyOutcome(ctx, n, c.reconciler.MarkFailed)
	case routingRefunded:
		var payment *db.Payment
		payment, err = c.reconciler.GetByProviderRef(ctx, n.Provider, n.ProviderPaymentID)
		if err == nil {
			err = c.reconciler.MarkRefunded(ctx, payment.ID)
		}
	default:
		c.log.Warn("Unknown notification routing key", zap.String("routing_key", msg.RoutingKey))
		msg.Nack(false, false)
		return
	}

	if err != nil {
		if isCallerError(err) {
			// Bad or stale input from the provider; retrying cannot help
			c.log.Warn("Rejected provider notification",
				zap.String("routing_key", msg.RoutingKey),
				zap.String("provider_payment_id", n.ProviderPaymentID),
				zap.Error(err),
			)
			msg.Nack(false, false)
			return
		}
		c.log.Error("Failed to process provider notification",
			zap.String("provider_payment_id", n.ProviderPaymentID),
			zap.Error(err),
		)
		msg.Nack(false, true) // requeue for retry
		return
	}

	msg.Ack(false)
}

// applyOutcome records the attempt (idempotently) and applies the terminal
// outcome to it.
func (c *Consumer) applyOutcome(ctx context.Context, n ProviderNotification, outcome func(context.Context, uint64) error) error {
	payment, err := c.reconciler.RecordAttempt(ctx, n.OrderID, n.Provider, n.ProviderPaymentID, n.AmountCents, n.Currency)
	if err != nil {
		return err
	}
	return outcome(ctx, payment.ID)
}

func isCallerError(err error) bool {
	return errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrInvalidPaymentState) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, order.ErrOrderNotFound) ||
		errors.Is(err, order.ErrInvalidTransition)
}

// Close closes the consumer connection
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
