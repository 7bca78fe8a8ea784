package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/sqlpractice-api/internal/config"
	"github.com/noah-isme/sqlpractice-api/internal/database"
	"github.com/noah-isme/sqlpractice-api/internal/handler"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/internal/router"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/sqlguard"
	"github.com/noah-isme/sqlpractice-api/internal/worker"
	"github.com/noah-isme/sqlpractice-api/pkg/ai"
	cloud "github.com/noah-isme/sqlpractice-api/pkg/cloudinary"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// Restore uploads are capped at 5 MB; leave room for multipart framing.
const bodyLimit = 6 * 1024 * 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to catalog database")
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate catalog database")
		}
	}

	sandboxPool, flavor, err := database.ConnectSandbox(context.Background(), database.SandboxOptions{
		Driver:   cfg.SandboxDriver,
		URL:      cfg.SandboxURL,
		MaxConns: cfg.SandboxMaxConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to sandbox database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
	} else {
		logger.Warn().Msg("redis not configured, catalog cache and token revocation disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
	}

	runner := sandbox.NewExecutor(sandboxPool, sandbox.Config{
		Flavor:           flavor,
		MaxConcurrent:    int64(cfg.SandboxMaxConns),
		StatementTimeout: cfg.SandboxStatementTimeout,
		AcquireTimeout:   cfg.SandboxAcquireTimeout,
		MaxRows:          cfg.SandboxMaxRows,
		LearnerRole:      cfg.SandboxLearnerRole,
		Logger:           logger,
	})
	if err := runner.EnsureLearnerRole(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare sandbox learner role")
	}

	queue := worker.NewQueue(worker.Config{
		Workers: cfg.BookkeepingWorkers,
		Buffer:  cfg.BookkeepingBuffer,
		Logger:  logger,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())

	problemRepo := repository.NewProblemRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	queryRepo := repository.NewQueryRepository(db)
	userRepo := repository.NewUserRepository(db)
	pathRepo := repository.NewLearningPathRepository(db)

	feedCtx, stopFeed := context.WithCancel(context.Background())
	feed := service.NewAchievementFeed(natsConn, logger)
	feed.Start(feedCtx)

	problemService := service.NewProblemService(problemRepo, runner, redisClient, cfg.CacheTTL, logger)
	progressService := service.NewProgressService(progressRepo, problemRepo, feed, redisClient, service.ProgressConfig{
		FastSolveThreshold: cfg.FastSolveThreshold,
		CacheTTL:           cfg.CacheTTL,
	}, logger)
	authService := service.NewAuthService(userRepo, progressRepo, service.LogMailer{Logger: logger}, redisClient, service.AuthConfig{
		Secret: cfg.JWTSecret,
		TTL:    cfg.JWTTTL,
		Issuer: cfg.AppName,
	}, logger)
	queryService := service.NewQueryService(queryRepo, problemService, logger)
	pathService := service.NewLearningPathService(pathRepo, problemService, logger)
	schemaService := service.NewSchemaService(problemService, runner, logger)
	performanceService := service.NewPerformanceService(repository.NewPerformanceRepository(db), logger)
	syncService := service.NewSyncService(progressRepo, queryRepo, problemRepo, newArchiver(cfg, logger), validate, logger)

	executionService := service.NewExecutionService(service.ExecutionDeps{
		Guard:     sqlguard.New(logger, sqlguard.WithMaxLength(cfg.QueryMaxLength)),
		Problems:  problemService,
		Grader:    service.NewGradingService(problemService, runner, logger),
		Sandbox:   runner,
		Progress:  progressService,
		Queries:   queryRepo,
		Queue:     queue,
		Explainer: newExplainer(cfg, logger),
	}, logger)

	optionalAuth := middleware.JWTOptional(authService)
	protected := middleware.JWTProtected(authService)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    bodyLimit,
	})

	middleware.Register(app, middleware.Config{
		Logger:         &logger,
		AllowedOrigins: splitOrigins(cfg.AllowedOrigins),
		AccessLog:      !cfg.IsProduction(),
	})
	router.Register(app, cfg, router.Dependencies{
		SQLHandler: handler.NewSQLHandler(executionService, problemService, validate, logger).
			WithRateLimit(middleware.RateLimit("sql", cfg.ExecuteRateLimit, time.Minute)),
		SchemaHandler:       handler.NewSchemaHandler(schemaService, validate, logger),
		PerformanceHandler:  handler.NewPerformanceHandler(performanceService, logger),
		AuthHandler:         handler.NewAuthHandler(authService, validate, protected, logger),
		ProgressHandler:     handler.NewProgressHandler(progressService, problemService, feed, validate, logger),
		QueryHandler:        handler.NewQueryHandler(queryService, validate, logger),
		LearningPathHandler: handler.NewLearningPathHandler(pathService, logger),
		SyncHandler:         handler.NewSyncHandler(syncService, validate, protected, logger),
		HealthProbes:        healthProbes(db, sandboxPool, redisClient, natsConn),
		OptionalAuth:        optionalAuth,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	logger.Info().Str("addr", cfg.HTTPAddress()).Str("sandbox", string(flavor)).Msg("sql practice api started")

	waitForShutdown(app, logger)

	stopFeed()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := queue.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("bookkeeping queue did not drain in time")
	}
	if natsConn != nil {
		natsConn.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = sandboxPool.Close()
	if catalogPool, err := db.DB(); err == nil {
		_ = catalogPool.Close()
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
}

func newExplainer(cfg config.Config, logger zerolog.Logger) ai.Explainer {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	explainer, err := ai.NewOpenAIExplainer(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
		Logger: logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("openai explainer disabled")
		return nil
	}
	return explainer
}

func newArchiver(cfg config.Config, logger zerolog.Logger) service.BackupArchiver {
	if cfg.CloudinaryURL == "" {
		return nil
	}
	archiver, err := cloud.New(cloud.Config{URL: cfg.CloudinaryURL, Folder: cfg.BackupFolder}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("backup archiving disabled")
		return nil
	}
	return archiver
}

func healthProbes(db *gorm.DB, sandboxPool *sql.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.HealthProbe {
	probes := []handler.HealthProbe{
		{Name: "catalog", Check: func(ctx context.Context) error {
			pool, err := db.DB()
			if err != nil {
				return err
			}
			return pool.PingContext(ctx)
		}},
		{Name: "sandbox", Check: sandboxPool.PingContext},
	}
	if redisClient != nil {
		probes = append(probes, handler.HealthProbe{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	if natsConn != nil {
		probes = append(probes, handler.HealthProbe{Name: "nats", Check: func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New(natsConn.Status().String())
			}
			return nil
		}})
	}
	return probes
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
