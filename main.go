package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stockcart-backend/cart"
	"stockcart-backend/config"
	"stockcart-backend/database"
	"stockcart-backend/jobs"
	"stockcart-backend/ledger"
	"stockcart-backend/middleware"
	"stockcart-backend/notify"
	"stockcart-backend/report"
	"stockcart-backend/reservation"
	"stockcart-backend/routes"
	"stockcart-backend/suppress"
	"stockcart-backend/utils"
	"stockcart-backend/watch"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	runJob := flag.String("run", "", "run one job by name and exit")
	tokenFor := flag.String("token", "", "print a development access token for this user id and exit")
	tokenRole := flag.String("role", "customer", "role claim for -token")
	flag.Parse()

	// Load environment variables
	envErr := config.LoadEnv()

	logger := utils.NewLogger(config.GetEnv("LOG_LEVEL", "info"), "stockcart-backend")
	defer logger.Sync()

	if envErr != nil {
		logger.Fatal("Error loading .env file", zap.Error(envErr))
	}

	// Validate critical environment variables
	if err := config.ValidateEnv(logger); err != nil {
		logger.Fatal("Environment validation failed", zap.Error(err))
	}
	cfg := config.Load(logger)

	if *tokenFor != "" {
		token, err := issueDevToken(cfg, *tokenFor, *tokenRole)
		if err != nil {
			logger.Fatal("Cannot issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if !cfg.IsProduction() {
		if err := database.SeedCatalog(db, logger); err != nil {
			logger.Warn("Could not seed catalog", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Alert delivery
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	mailCfg := notify.MailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		To:       cfg.AdminEmail,
	}
	if mailCfg.Configured() {
		sinks = append(sinks, notify.NewMailSink(mailCfg))
	}
	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		sinks = append(sinks, kafkaSink)
	}
	dispatcher := notify.NewDispatcher(logger, cfg.AlertQueueSize, sinks...)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(context.Background())
	}()

	// Suppression markers live in Redis when available so they survive
	// restarts and are shared between instances.
	var store suppress.Store = suppress.NewMemoryStore()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable at startup, low stock alerts fail open", zap.Error(err))
		}
		store = suppress.NewRedisStore(redisClient, "stockcart:")
	}

	// Core services
	stockLedger := ledger.New(db, cfg.LockTimeout)
	carts := cart.NewStore(db)
	lowStock := watch.New(stockLedger, store, dispatcher, cfg.LowStockThreshold, cfg.SuppressionWindow, logger)
	transitions := watch.NewQueue(lowStock, cfg.AlertQueueSize, logger)
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		transitions.Run(context.Background())
	}()
	reservations := reservation.NewService(stockLedger, carts, transitions, logger)
	reports := report.NewService(carts, dispatcher, logger)

	// Scheduled jobs
	reportSchedule, err := jobs.DailyAt(cfg.DailyReportAt)
	if err != nil {
		logger.Fatal("Invalid DAILY_REPORT_AT", zap.Error(err))
	}
	scheduler := jobs.NewScheduler(jobs.NewRunLog(time.Hour), logger)
	for _, job := range []jobs.Job{
		jobs.CheckLowStock(lowStock, cfg.LowStockSchedule),
		jobs.ExpireCarts(reservations, cfg.CartMaxAge, cfg.ExpirySchedule),
		jobs.DailySalesReport(reports, reportSchedule),
	} {
		if err := scheduler.Register(job); err != nil {
			logger.Fatal("Failed to register job", zap.Error(err))
		}
	}

	shutdown := func() {
		transitions.Close()
		select {
		case <-observed:
		case <-time.After(10 * time.Second):
			logger.Warn("Stock transitions not drained before shutdown")
		}
		dispatcher.Close()
		select {
		case <-dispatched:
		case <-time.After(30 * time.Second):
			logger.Warn("Alert queue not drained before shutdown")
		}
		if kafkaSink != nil {
			if err := kafkaSink.Close(); err != nil {
				logger.Error("Error closing Kafka writer", zap.Error(err))
			}
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.Error("Error closing database connection", zap.Error(err))
			} else {
				logger.Info("Database connection closed")
			}
		}
	}

	if *runJob != "" {
		run, err := scheduler.RunOnce(ctx, *runJob)
		shutdown()
		if err != nil {
			logger.Fatal("Job failed", zap.String("job", *runJob), zap.Error(err))
		}
		logger.Info("Job finished", zap.String("job", *runJob), zap.Any("result", run.Result))
		return
	}

	scheduler.Start(ctx)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
	}))

	routes.SetupRoutes(r, routes.Deps{
		DB:           db,
		Ledger:       stockLedger,
		Carts:        carts,
		Reservations: reservations,
		Scheduler:    scheduler,
		CartLimiter:  middleware.NewRateLimiter(ctx, cfg.CartRateLimit, cfg.CartRateBurst),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Run server in a goroutine
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	stop()
	logger.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	shutdown()

	logger.Info("Server exited gracefully")
}

const devTokenTTL = 24 * time.Hour

// issueDevToken signs an access token for local testing against the API.
// Production sessions come from the identity service.
func issueDevToken(cfg config.Config, userID, role string) (string, error) {
	if cfg.IsProduction() {
		return "", errors.New("development tokens are disabled in production")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}
	return utils.GenerateToken(id, role, devTokenTTL)
}
