package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/config"
	"github.com/noah-isme/sqlpractice-api/pkg/docker"
)

const usage = `usage: sandbox <up|down> [flags]

  up    start (or reuse) the PostgreSQL sandbox container and print its DSN
  down  remove the sandbox container
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadProvisioner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	fs.StringVar(&cfg.Image, "image", cfg.Image, "postgres image")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "container name")
	fs.StringVar(&cfg.HostPort, "port", cfg.HostPort, "host port, empty for a random one")
	fs.Int64Var(&cfg.MemoryLimitMB, "memory", cfg.MemoryLimitMB, "memory limit in MB")
	asJSON := fs.Bool("json", false, "print the instance as JSON")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	provisioner, err := docker.NewProvisioner(docker.Config{
		Host:          cfg.DockerHost,
		Image:         cfg.Image,
		Name:          cfg.Name,
		HostPort:      cfg.HostPort,
		MemoryLimitMB: cfg.MemoryLimitMB,
		CPUShares:     cfg.CPUShares,
		ReadyTimeout:  cfg.ReadyTimeout,
		LearnerRole:   cfg.LearnerRole,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create provisioner")
	}
	defer provisioner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "up":
		instance, err := provisioner.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start sandbox")
		}
		if *asJSON {
			_ = json.NewEncoder(os.Stdout).Encode(instance)
			return
		}
		fmt.Printf("SQLP_SANDBOX_URL=%s\n", instance.DSN)
		fmt.Printf("SQLP_SANDBOX_LEARNER_ROLE=%s\n", instance.LearnerRole)
	case "down":
		if err := provisioner.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to remove sandbox")
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
