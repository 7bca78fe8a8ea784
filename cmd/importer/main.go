package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/config"
	"github.com/noah-isme/sqlpractice-api/internal/content"
	"github.com/noah-isme/sqlpractice-api/internal/database"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

func main() {
	file := flag.String("file", "content/problems.yaml", "content bundle to import")
	verify := flag.Bool("verify", false, "run every reference solution against its expected output")
	derive := flag.Bool("derive", false, "fill missing expected output from the reference solution")
	dryRun := flag.Bool("dry-run", false, "validate without writing to the catalog")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("service", "importer").Logger()

	bundle, err := content.LoadFile(*file)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("failed to load content bundle")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to catalog database")
	}
	if cfg.AutoMigrate && !*dryRun {
		if err := db.AutoMigrate(models.All()...); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate catalog database")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	problemRepo := repository.NewProblemRepository(db)

	var grader content.Grader
	if *verify || *derive {
		sandboxPool, flavor, err := database.ConnectSandbox(ctx, database.SandboxOptions{
			Driver:   cfg.SandboxDriver,
			URL:      cfg.SandboxURL,
			MaxConns: cfg.SandboxMaxConns,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to sandbox database")
		}
		defer sandboxPool.Close()

		runner := sandbox.NewExecutor(sandboxPool, sandbox.Config{
			Flavor:           flavor,
			MaxConcurrent:    int64(cfg.SandboxMaxConns),
			StatementTimeout: cfg.SandboxStatementTimeout,
			AcquireTimeout:   cfg.SandboxAcquireTimeout,
			MaxRows:          cfg.SandboxMaxRows,
			LearnerRole:      cfg.SandboxLearnerRole,
			Logger:           logger,
		})
		if err := runner.EnsureLearnerRole(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare sandbox learner role")
		}
		problems := service.NewProblemService(problemRepo, runner, nil, 0, logger)
		grader = service.NewGradingService(problems, runner, logger)
	}

	importer := content.NewImporter(problemRepo, repository.NewLearningPathRepository(db), grader, logger)
	report, err := importer.Import(ctx, bundle, content.Options{Verify: *verify, Derive: *derive, DryRun: *dryRun})
	if err != nil {
		logger.Fatal().Err(err).Msg("content import failed")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(report)

	if len(report.Failures) > 0 {
		os.Exit(1)
	}
}
