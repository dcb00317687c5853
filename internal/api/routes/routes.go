package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/stacklayer/custody-service/internal/api/handlers"
	"github.com/stacklayer/custody-service/internal/api/middleware"
	"github.com/stacklayer/custody-service/internal/infrastructure/di"
	"github.com/stacklayer/custody-service/pkg/idempotency"
	"github.com/stacklayer/custody-service/pkg/metrics"
	"github.com/stacklayer/custody-service/pkg/ratelimit"
	"github.com/stacklayer/custody-service/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()

	// Global middleware - order matters
	router.Use(middleware.RequestID())
	router.Use(tracing.Middleware())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(container.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandlers := handlers.NewHealthHandlers(container.DB, container.Redis)
	depositHandlers := handlers.NewDepositHandlers(
		container.AddressService,
		container.DepositRepo,
		container.Logger,
	)
	balanceHandlers := handlers.NewBalanceHandlers(container.LedgerService, container.Logger)
	withdrawalHandlers := handlers.NewWithdrawalHandlers(container.WithdrawalService, container.Logger)
	adminHandlers := handlers.NewAdminHandlers(
		container.ConfirmationService,
		container.WithdrawalService,
		container.DenylistRepo,
		container.LedgerService,
		container.AuditRepo,
		container.Logger,
	)

	// Health and metrics (no auth required)
	router.GET("/health", healthHandlers.Health)
	router.GET("/ready", healthHandlers.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Protected routes (auth required)
		protected := v1.Group("/")
		protected.Use(middleware.Authentication(container.Config, container.Logger))
		protected.Use(ratelimit.Middleware(container.RateLimiter))
		{
			deposits := protected.Group("/deposits")
			{
				deposits.GET("/address/:chain", depositHandlers.GetDepositAddress)
				deposits.GET("", depositHandlers.ListDeposits)
				deposits.GET("/:id", depositHandlers.GetDeposit)
			}

			protected.GET("/balances/:asset", balanceHandlers.GetBalance)
			protected.GET("/ledger/:asset", balanceHandlers.ListLedgerEntries)

			withdrawals := protected.Group("/withdrawals")
			// Clients retrying a submission replay the recorded
			// response instead of creating a second withdrawal.
			withdrawals.Use(idempotency.Middleware(container.Redis, container.Logger.Zap()))
			{
				withdrawals.POST("", withdrawalHandlers.CreateWithdrawal)
				withdrawals.GET("", withdrawalHandlers.ListWithdrawals)
				withdrawals.GET("/:id", withdrawalHandlers.GetWithdrawal)
				withdrawals.POST("/:id/cancel", withdrawalHandlers.CancelWithdrawal)
			}
		}

		// Admin routes (operator role required)
		admin := v1.Group("/admin")
		admin.Use(middleware.Authentication(container.Config, container.Logger))
		admin.Use(middleware.AdminAuth())
		{
			admin.POST("/deposits/confirm", adminHandlers.ConfirmDeposits)
			admin.GET("/withdrawals", adminHandlers.ListWithdrawalsByStatus)
			admin.POST("/withdrawals/:id/review", adminHandlers.ReviewWithdrawal)
			admin.GET("/denylist", adminHandlers.ListDenylist)
			admin.POST("/denylist", adminHandlers.AddDenylistEntry)
			admin.DELETE("/denylist/:chain/:address", adminHandlers.RemoveDenylistEntry)
			admin.GET("/conservation/:asset", adminHandlers.CheckConservation)
			admin.GET("/audit", adminHandlers.ListAuditLogs)
		}
	}

	return router
}
