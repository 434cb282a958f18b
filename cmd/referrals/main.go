package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/internal/analytics"
	"github.com/bunkmate/referral-service/internal/codes"
	"github.com/bunkmate/referral-service/internal/directory"
	"github.com/bunkmate/referral-service/internal/notify"
	"github.com/bunkmate/referral-service/internal/payouts"
	"github.com/bunkmate/referral-service/internal/programs"
	"github.com/bunkmate/referral-service/internal/referrals"
	"github.com/bunkmate/referral-service/internal/rewards"
	"github.com/bunkmate/referral-service/pkg/cache"
	"github.com/bunkmate/referral-service/pkg/config"
	"github.com/bunkmate/referral-service/pkg/database"
	"github.com/bunkmate/referral-service/pkg/errors"
	"github.com/bunkmate/referral-service/pkg/eventbus"
	"github.com/bunkmate/referral-service/pkg/health"
	"github.com/bunkmate/referral-service/pkg/logger"
	"github.com/bunkmate/referral-service/pkg/middleware"
	"github.com/bunkmate/referral-service/pkg/ratelimit"
	redisclient "github.com/bunkmate/referral-service/pkg/redis"
	"github.com/bunkmate/referral-service/pkg/security"
	_ "github.com/bunkmate/referral-service/pkg/validation"
)

const (
	serviceName = "referral-service"
	version     = "1.0.0"
)

// sweepInterval is how often stale pending referrals are expired.
const sweepInterval = 6 * time.Hour

// sweepAfterDays is the age at which a pending referral is considered dead.
const sweepAfterDays = 90

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting referral service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	if err := errors.InitSentry(&cfg.Sentry, serviceName); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else if cfg.Sentry.Enabled {
		defer errors.Flush(2 * time.Second)
		logger.Info("Sentry error tracking initialized")
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	if os.Getenv("RUN_MIGRATIONS") == "true" {
		if err := database.Migrate(&cfg.Database); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}()
	cacheManager := cache.NewManager(redisClient)
	logger.Info("Connected to redis")

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.Config{
			URL:        cfg.NATS.URL,
			Name:       serviceName,
			StreamName: cfg.NATS.StreamName,
		})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close()
		logger.Info("Connected to NATS", zap.String("stream", cfg.NATS.StreamName))
	}

	// eventbus.Publisher is an interface; a typed nil *Bus must not leak
	// into the services or their nil checks stop working.
	var publisher eventbus.Publisher
	if bus != nil {
		publisher = bus
	}

	cipher, err := security.NewCipher(cfg.Referral.PayoutDetailsKey)
	if err != nil {
		logger.Fatal("Failed to initialize payout cipher", zap.Error(err))
	}

	directoryClient := directory.NewClient(&cfg.Directory)
	sink := notify.NewSink(publisher)

	programsRepo := programs.NewRepository(db)
	programsService := programs.NewService(programsRepo)
	programsHandler := programs.NewHandler(programsService)

	codesRepo := codes.NewRepository(db)
	codesService := codes.NewService(codesRepo, programsService)
	codesHandler := codes.NewHandler(codesService)

	rewardsRepo := rewards.NewRepository(db)
	rewardsService := rewards.NewService(rewardsRepo, publisher)
	rewardsHandler := rewards.NewHandler(rewardsService)

	referralsRepo := referrals.NewRepository(db)
	referralsService := referrals.NewService(
		referralsRepo,
		programsService,
		codesService,
		rewardsService,
		directoryClient,
		sink,
		publisher,
		cfg.Referral.SweepBatchSize,
	)
	referralsHandler := referrals.NewHandler(referralsService)

	payoutsRepo := payouts.NewRepository(db)
	payoutsService := payouts.NewService(payoutsRepo, rewardsService, cipher, sink, publisher, cfg.Referral.DefaultEstimatedDays)
	payoutsHandler := payouts.NewHandler(payoutsService)

	analyticsRepo := analytics.NewRepository(db)
	analyticsService := analytics.NewService(analyticsRepo, cacheManager)
	analyticsHandler := analytics.NewHandler(analyticsService)

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	startSweeper(rootCtx, referralsService)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)
		router.Use(middleware.RateLimit(limiter, cfg.RateLimit))
	}

	router.GET("/health/live", health.LivenessHandler(serviceName, version))
	router.GET("/health/ready", health.ReadinessHandler(serviceName, version, map[string]health.Checker{
		"database":  health.PostgresChecker(db),
		"redis":     health.RedisChecker(redisClient),
		"directory": health.HTTPEndpointChecker(cfg.Directory.BaseURL + "/health/live"),
	}))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	programsHandler.RegisterRoutes(v1)
	codesHandler.RegisterRoutes(v1)
	referralsHandler.RegisterRoutes(v1)
	rewardsHandler.RegisterRoutes(v1)
	payoutsHandler.RegisterRoutes(v1)
	analyticsHandler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// startSweeper periodically expires pending referrals that never converted.
// The sweep only matches pending rows, so overlapping runs across replicas
// are safe.
func startSweeper(ctx context.Context, service *referrals.Service) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := service.SweepExpired(ctx, sweepAfterDays)
				if err != nil {
					logger.Error("Referral expiry sweep failed", zap.Error(err))
					continue
				}
				if result.Matched > 0 {
					logger.Info("Referral expiry sweep completed",
						zap.Int("matched", result.Matched),
						zap.Int("expired", result.Expired),
						zap.Int("failed", result.Failed),
					)
				}
			}
		}
	}()
}
