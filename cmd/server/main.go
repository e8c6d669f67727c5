package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"tradebot/internal/auth"
	"tradebot/internal/broker"
	"tradebot/internal/broker/alpaca"
	"tradebot/internal/broker/paper"
	"tradebot/internal/config"
	"tradebot/internal/database"
	"tradebot/internal/execution"
	"tradebot/internal/history"
	"tradebot/internal/portfolio"
	"tradebot/internal/risk"
	"tradebot/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the execution and risk engine together and runs the API server
// with graceful shutdown support.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	historyService := history.NewService(db)

	// Recompute today's realized P&L from the persisted history so a
	// restart cannot forget a tripped circuit breaker.
	now := time.Now()
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	realizedToday, err := historyService.RealizedPnLSince(dayStart)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to recompute daily realized P&L")
	}

	riskManager := risk.NewManager(risk.Config{
		InitialCapital:     cfg.InitialCapital,
		MaxDailyLossPct:    cfg.MaxDailyLossPct,
		MaxPositionSizePct: cfg.MaxPositionSizePct,
	}, realizedToday, now)

	var brokerage broker.Brokerage
	switch cfg.Broker {
	case config.BrokerAlpaca:
		brokerage = alpaca.New()
		log.Info().Msg("using alpaca brokerage")
	default:
		brokerage = paper.New(paper.DefaultConfig(cfg.InitialCapital))
		log.Info().Msg("using paper brokerage")
	}

	portfolioService := portfolio.NewService(brokerage, riskManager, historyService, cfg.BrokerTimeout)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)

	controller := execution.NewController(execution.Config{
		MaxPositionSizePct: cfg.MaxPositionSizePct,
		MaxStopLossPct:     cfg.MaxStopLossPct,
		TakeProfitPct:      cfg.TakeProfitPct,
		BrokerTimeout:      cfg.BrokerTimeout,
	}, brokerage, riskManager, historyService)
	executionHandlers := execution.NewGinHandlers(controller, riskManager)

	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret)
	authHandlers := auth.NewGinHandlers(authService)

	// Periodic risk sync keeps the breaker honest even when no client is
	// polling status.
	syncWorker := portfolio.NewSyncWorker(portfolioService, cfg.SyncInterval)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go syncWorker.Start(workerCtx)

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.JWTSecret, authHandlers, executionHandlers, portfolioHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal. Shutdown stops new requests; it never
	// cancels orders already accepted by the brokerage.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: public endpoints for token issuance
// - Execute routes: engine start/stop and single-trade execution
// - Portfolio routes: status, performance, history and close operations
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	executionHandlers *execution.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		execute := v1.Group("/execute")
		execute.Use(middleware.JWTAuth(jwtSecret))
		{
			execute.POST("/start", executionHandlers.StartHandler())
			execute.POST("/stop", executionHandlers.StopHandler())
			execute.POST("/trade", executionHandlers.ExecuteTradeHandler())
		}

		portfolioGroup := v1.Group("/portfolio")
		portfolioGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			portfolioGroup.GET("/status", portfolioHandlers.StatusHandler())
			portfolioGroup.GET("/performance", portfolioHandlers.PerformanceHandler())
			portfolioGroup.GET("/history", portfolioHandlers.HistoryHandler())
			portfolioGroup.POST("/close/:symbol", portfolioHandlers.ClosePositionHandler())
			portfolioGroup.POST("/close_all", portfolioHandlers.CloseAllHandler())
		}
	}
}
