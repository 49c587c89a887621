package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/cache"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/config"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/coupon"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/events"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/ledger"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/order"
	"github.com/Riooo17/plp-week8-ecommerce-db/internal/payment"
	"github.com/Riooo17/plp-week8-ecommerce-db/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Fulfillment service starting")

	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	log.Info("Connecting to RabbitMQ")
	publisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, domain events disabled", zap.Error(err))
		publisher = nil
	}
	if publisher != nil {
		defer publisher.Close()
	}

	var dedupe *cache.IdempotencyCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dedupe = cache.NewIdempotencyCache(client)
		log.Info("Payment notification dedupe enabled", zap.String("redis", cfg.RedisAddr))
	}

	led := ledger.NewLedger(database, log)
	coupons := coupon.NewValidator(database, log)
	orders := order.NewService(database, led, coupons, publisher, log, cfg.ShippingFlatCents)
	reconciler := payment.NewReconciler(database, orders, dedupe, publisher, log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())

	// Consume at-least-once payment notifications from the provider
	if publisher != nil {
		consumer, err := payment.NewConsumer(cfg.RabbitMQURL, cfg.ServiceName, reconciler, log)
		if err != nil {
			log.Fatal("Failed to start payment consumer", zap.Error(err))
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(sweepCtx); err != nil {
				log.Error("Payment consumer stopped", zap.Error(err))
			}
		}()
	}

	// Sweep reservations held by abandoned pending orders
	go func() {
		ticker := time.NewTicker(cfg.ReservationSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := orders.ReleaseAbandoned(sweepCtx, cfg.ReservationSweepAge); err != nil {
					log.Error("Reservation sweep failed", zap.Error(err))
				}
			}
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", healthHandler(database, publisher, log))
	httpMux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      httpMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Server stopped")
}

func healthHandler(database *db.DB, publisher *events.Publisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(); err != nil {
			log.Error("Database health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: database connection failed"))
			return
		}

		if publisher != nil && !publisher.IsHealthy() {
			log.Error("RabbitMQ health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: rabbitmq connection failed"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}
}
