package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/handler"
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	mid "github.com/namhbcf1/kho1-sub001/internal/middleware"
	"github.com/namhbcf1/kho1-sub001/internal/order"
	"github.com/namhbcf1/kho1-sub001/pkg/config"
	"github.com/namhbcf1/kho1-sub001/pkg/database"
	"github.com/namhbcf1/kho1-sub001/pkg/jwtutil"
	"github.com/namhbcf1/kho1-sub001/pkg/logger"
	"github.com/namhbcf1/kho1-sub001/prometheus"
)

func main() {
	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting service", appConfig.LogConfig()...)

	// Initialize JWT utility
	jwtutil.Initialize(&appConfig.JWT)

	// Initialize Prometheus metrics
	prometheus.InitMetrics(appConfig)
	log.Info("Prometheus metrics initialized",
		zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	// Initialize database
	if err := database.InitDB(appConfig); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Wire the transaction engines over the shared datastore
	store := datastore.NewGormStore(database.GetDB())
	ledger := inventory.NewLedger(store, log)
	reservations := inventory.NewManager(store, log, appConfig.Inventory.ReservationTTL)
	coordinator := order.NewCoordinator(store, ledger, reservations, log, order.Config{
		MaxRetries:     appConfig.Order.MaxRetries,
		RetryBackoff:   appConfig.Order.RetryBackoff,
		TotalTolerance: appConfig.Order.TotalTolerance,
	})
	handler.Init(coordinator, ledger, reservations, appConfig)

	// Reclaim expired reservations in the background
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runReservationSweeper(sweepCtx, coordinator, appConfig.Inventory.SweepInterval, log)

	// Initialize Echo instance
	e := echo.New()

	// Middleware
	e.Use(echomw.Recover())
	e.Use(mid.RequestIDMiddleware)
	e.Use(mid.MetricsMiddleware)

	// Metrics endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Health check endpoint
	e.GET("/health", handler.HealthCheck)

	// Authentication routes
	e.POST("/api/auth/register", handler.Register)
	e.POST("/api/auth/login", handler.Login)

	// Product API routes
	productAPI := e.Group("/api/products", mid.AuthMiddleware)
	productAPI.GET("", handler.ListProducts)
	productAPI.GET("/:id", handler.GetProduct)
	productAPI.POST("", handler.CreateProduct)
	productAPI.PUT("/:id", handler.UpdateProduct)
	productAPI.DELETE("/:id", handler.DeleteProduct, mid.RequireRole("manager"))
	productAPI.POST("/:id/stock", handler.AdjustStock)
	productAPI.GET("/:id/transactions", handler.ListStockTransactions)

	// Customer API routes
	customerAPI := e.Group("/api/customers", mid.AuthMiddleware)
	customerAPI.GET("", handler.ListCustomers)
	customerAPI.GET("/:id", handler.GetCustomer)
	customerAPI.POST("", handler.CreateCustomer)
	customerAPI.PUT("/:id", handler.UpdateCustomer)
	customerAPI.DELETE("/:id", handler.DeleteCustomer)

	// Order API routes
	orderAPI := e.Group("/api/orders", mid.AuthMiddleware)
	orderAPI.POST("", handler.CreateOrder)
	orderAPI.GET("", handler.ListOrders)
	orderAPI.GET("/:id", handler.GetOrder)
	orderAPI.POST("/:id/cancel", handler.CancelOrder)

	// Reservation API routes
	reservationAPI := e.Group("/api/reservations", mid.AuthMiddleware)
	reservationAPI.POST("", handler.CreateReservation)
	reservationAPI.POST("/sweep", handler.SweepReservations)
	reservationAPI.DELETE("/:order_id", handler.ReleaseReservation)

	// Start server
	go func() {
		port := appConfig.Server.Port
		log.Info("Starting server", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
}

// runReservationSweeper reclaims expired stock holds on a fixed interval
// until ctx is cancelled.
func runReservationSweeper(ctx context.Context, coordinator *order.Coordinator, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Reservation sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("Reservation sweeper stopped")
			return
		case <-ticker.C:
			swept, err := coordinator.SweepExpiredReservations(ctx)
			if err != nil {
				log.Error("Reservation sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				prometheus.SweptReservations.Add(float64(swept))
			}
		}
	}
}
