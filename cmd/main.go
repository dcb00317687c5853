package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stacklayer/custody-service/internal/api/routes"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/internal/infrastructure/database"
	"github.com/stacklayer/custody-service/internal/infrastructure/di"
	"github.com/stacklayer/custody-service/internal/workers/broadcast_watcher"
	"github.com/stacklayer/custody-service/internal/workers/chain_watcher"
	"github.com/stacklayer/custody-service/internal/workers/confirmation_tracker"
	"github.com/stacklayer/custody-service/internal/workers/conservation"
	"github.com/stacklayer/custody-service/pkg/graceful"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/metrics"
	"github.com/stacklayer/custody-service/pkg/security"
	"github.com/stacklayer/custody-service/pkg/tracing"
)

// stopper adapts a worker Stop func to the graceful shutdown interface
type stopper func()

func (s stopper) Shutdown(time.Duration) error {
	s()
	return nil
}

// ctxStopper adapts a context-taking shutdown func to the same interface
type ctxStopper func(context.Context) error

func (f ctxStopper) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f(ctx)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}
	defer container.Close()

	// Distributed tracing
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	useTLS := cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""
	if useTLS {
		tlsCfg := security.DefaultTLSConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		tlsCfg.CAFile = cfg.Server.TLSCAFile
		server.TLSConfig, err = tlsCfg.BuildTLSConfig()
		if err != nil {
			log.Fatal("Failed to build TLS config", "error", err)
		}
	}

	shutdown := graceful.NewShutdownManager(server, db, log)
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	shutdown.Register(stopper(cancelWorkers))
	shutdown.Register(ctxStopper(tracingShutdown))

	// One watcher per enabled chain
	for chain, client := range container.WatcherClients {
		chainCfg := cfg.Chains[string(chain)]
		watcher := chain_watcher.NewWorker(
			chain_watcher.Config{
				Chain:         chain,
				PollInterval:  chainCfg.PollInterval(),
				StartBlock:    chainCfg.StartBlock,
				ReorgDepth:    chainCfg.ReorgDepth,
				Confirmations: chainCfg.Confirmations,
			},
			client,
			container.DepositRepo,
			container.AddressService,
			log,
		)
		go watcher.Start(workerCtx)
		shutdown.Register(stopper(watcher.Stop))
		log.Info("Chain watcher started", "chain", chain)
	}

	// Confirmation tracker promotes pending deposits
	tracker := confirmation_tracker.NewWorker(
		container.ConfirmationService,
		time.Duration(cfg.Workers.ConfirmationIntervalSec)*time.Second,
		log,
	)
	go tracker.Start(workerCtx)
	shutdown.Register(stopper(tracker.Stop))

	// Broadcast watcher executes approved withdrawals and tracks them
	broadcaster := broadcast_watcher.NewWorker(
		container.WithdrawalService,
		time.Duration(cfg.Workers.BroadcastIntervalSec)*time.Second,
		cfg.Workers.BatchSize,
		log,
	)
	go broadcaster.Start(workerCtx)
	shutdown.Register(stopper(broadcaster.Stop))

	// Conservation audit on a cron schedule
	auditor := conservation.NewWorker(
		container.LedgerService,
		cfg.Custody.SupportedAssets,
		cfg.Workers.ConservationCron,
		log.Zap(),
	)
	if err := auditor.Start(); err != nil {
		log.Fatal("Failed to start conservation worker", "error", err)
	}
	shutdown.Register(stopper(auditor.Stop))

	// Start server in goroutine
	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"tls", useTLS,
		)
		var serveErr error
		if useTLS {
			// Certificates already live in server.TLSConfig.
			serveErr = server.ListenAndServeTLS("", "")
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", serveErr)
		}
	}()

	// Database connection metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
				metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
				metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
			}
		}
	}()

	shutdown.WaitForShutdown()
}
