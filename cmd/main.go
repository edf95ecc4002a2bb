package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/piogold/ico_service/internal/api/routes"
	"github.com/piogold/ico_service/internal/infrastructure/config"
	"github.com/piogold/ico_service/internal/infrastructure/database"
	"github.com/piogold/ico_service/internal/infrastructure/di"
	"github.com/piogold/ico_service/pkg/graceful"
	"github.com/piogold/ico_service/pkg/logger"
	"github.com/piogold/ico_service/pkg/metrics"
	"github.com/piogold/ico_service/pkg/tracing"
)

// @title PIOGOLD ICO Service API
// @version 1.0
// @description USDT on BSC in, native PIO on PIOGOLD out.

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build dependency injection container
	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	// The signer must be up before the pool resumes interrupted payouts.
	container.PayoutDispatcher.Start(ctx)
	if err := container.SettlementPool.Start(ctx); err != nil {
		log.Fatal("Failed to start settlement pool", "error", err)
	}

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"payment_chain", cfg.Chains.BSC.ChainID,
			"payout_chain", cfg.Chains.PioGold.ChainID,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Database pool metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.DatabaseConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
				metrics.DatabaseConnections.WithLabelValues("idle").Set(float64(stats.Idle))
				metrics.DatabaseConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
			}
		}
	}()

	shutdown := graceful.NewShutdownManager(server, 30*time.Second, log)
	// Pool first so no new payouts are queued while the signer drains.
	shutdown.Register(container.SettlementPool)
	shutdown.Register(container.PayoutDispatcher)
	shutdown.RegisterHook(func(context.Context) error {
		cancel()
		container.Close()
		return nil
	})
	shutdown.RegisterHook(tracingShutdown)
	shutdown.RegisterCloser(db)
	shutdown.WaitForShutdown()
}
