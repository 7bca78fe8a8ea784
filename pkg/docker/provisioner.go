// Package docker provisions disposable PostgreSQL containers that back the
// query sandbox in development and CI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

const (
	postgresPort = nat.Port("5432/tcp")
	sandboxLabel = "sqlp.sandbox"
	dataDir      = "/var/lib/postgresql/data"
)

var (
	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sqlp",
		Subsystem: "provisioner",
		Name:      "up_duration_seconds",
		Help:      "Time from container create until the sandbox accepts connections",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"image"})

	provisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlp",
		Subsystem: "provisioner",
		Name:      "failures_total",
		Help:      "Number of sandbox containers that failed to come up",
	}, []string{"image"})
)

// ReadyFunc reports whether the database behind dsn accepts connections.
type ReadyFunc func(ctx context.Context, dsn string) error

// BootstrapFunc prepares the learner role on the database behind dsn.
type BootstrapFunc func(ctx context.Context, dsn, role string) error

// Config groups provisioner configuration values.
type Config struct {
	Host          string
	Image         string
	Name          string
	User          string
	Password      string
	Database      string
	BindAddress   string
	HostPort      string
	MemoryLimitMB int64
	CPUShares     int64
	ReadyTimeout  time.Duration
	// LearnerRole is created without login or superuser rights once the
	// container is ready. The bootstrap user owns the sandbox tables.
	LearnerRole string
	Logger      zerolog.Logger
}

// Instance describes a running sandbox container.
type Instance struct {
	ContainerID string `json:"container_id"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	DSN         string `json:"dsn"`
	LearnerRole string `json:"learner_role"`
	Reused      bool   `json:"reused"`
}

// Provisioner manages the lifecycle of the sandbox container.
type Provisioner struct {
	client *client.Client
	cfg    Config
	ready     ReadyFunc
	bootstrap BootstrapFunc
	tracer    trace.Tracer
	logger zerolog.Logger
}

// NewProvisioner constructs a Docker backed provisioner.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Provisioner{
		client:    cli,
		cfg:       withDefaults(cfg),
		ready:     PingPostgres,
		bootstrap: BootstrapLearnerRole,
		tracer:    otel.Tracer("github.com/noah-isme/sqlpractice-api/pkg/docker"),
		logger:    logger.With().Str("component", "sandbox_provisioner").Logger(),
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Image == "" {
		cfg.Image = "postgres:16-alpine"
	}
	if cfg.Name == "" {
		cfg.Name = "sqlp-sandbox"
	}
	if cfg.User == "" {
		cfg.User = "sandbox"
	}
	if cfg.Password == "" {
		cfg.Password = "sandbox"
	}
	if cfg.Database == "" {
		cfg.Database = "sandbox"
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 512
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.LearnerRole == "" {
		cfg.LearnerRole = sandbox.DefaultLearnerRole
	}
	return cfg
}

// Up starts the sandbox container, reusing a running one with the same name,
// and waits until PostgreSQL accepts connections.
func (p *Provisioner) Up(parent context.Context) (Instance, error) {
	ctx, span := p.tracer.Start(parent, "docker.provisioner.up", trace.WithAttributes(
		attribute.String("docker.image", p.cfg.Image),
		attribute.String("docker.container", p.cfg.Name),
	))
	defer span.End()

	instance, err := p.up(ctx)
	if err != nil {
		provisionFailures.WithLabelValues(p.cfg.Image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Instance{}, err
	}
	return instance, nil
}

func (p *Provisioner) up(ctx context.Context) (Instance, error) {
	existing, err := p.client.ContainerInspect(ctx, p.cfg.Name)
	switch {
	case err == nil && existing.State != nil && existing.State.Running:
		hostPort, err := publishedPort(existing.NetworkSettings.Ports)
		if err != nil {
			return Instance{}, err
		}
		dsn := p.dsn(hostPort)
		if err := p.bootstrap(ctx, dsn, p.cfg.LearnerRole); err != nil {
			return Instance{}, err
		}
		p.logger.Info().Str("container_id", existing.ID).Msg("reusing running sandbox container")
		return Instance{
			ContainerID: existing.ID,
			Name:        p.cfg.Name,
			Image:       p.cfg.Image,
			DSN:         dsn,
			LearnerRole: p.cfg.LearnerRole,
			Reused:      true,
		}, nil
	case err == nil:
		// Stopped leftovers hold a stale tmpfs; start clean.
		if err := p.remove(ctx, existing.ID); err != nil {
			return Instance{}, err
		}
	case !errdefs.IsNotFound(err):
		return Instance{}, fmt.Errorf("container inspect: %w", err)
	}

	if err := p.ensureImage(ctx); err != nil {
		return Instance{}, err
	}

	start := time.Now()
	resp, err := p.client.ContainerCreate(ctx, p.containerConfig(), p.hostConfig(), nil, nil, p.cfg.Name)
	if err != nil {
		return Instance{}, fmt.Errorf("container create: %w", err)
	}
	for _, warning := range resp.Warnings {
		p.logger.Warn().Str("container_id", resp.ID).Msg(warning)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.cleanup(resp.ID)
		return Instance{}, fmt.Errorf("container start: %w", err)
	}

	inspected, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.cleanup(resp.ID)
		return Instance{}, fmt.Errorf("container inspect: %w", err)
	}
	hostPort, err := publishedPort(inspected.NetworkSettings.Ports)
	if err != nil {
		p.cleanup(resp.ID)
		return Instance{}, err
	}

	dsn := p.dsn(hostPort)
	if err := waitReady(ctx, p.ready, dsn, p.cfg.ReadyTimeout, 500*time.Millisecond); err != nil {
		p.cleanup(resp.ID)
		return Instance{}, err
	}
	if err := p.bootstrap(ctx, dsn, p.cfg.LearnerRole); err != nil {
		p.cleanup(resp.ID)
		return Instance{}, err
	}

	elapsed := time.Since(start)
	provisionDuration.WithLabelValues(p.cfg.Image).Observe(elapsed.Seconds())
	p.logger.Info().
		Str("container_id", resp.ID).
		Str("port", hostPort).
		Dur("startup", elapsed).
		Msg("sandbox container ready")

	return Instance{ContainerID: resp.ID, Name: p.cfg.Name, Image: p.cfg.Image, DSN: dsn, LearnerRole: p.cfg.LearnerRole}, nil
}

// Down force removes the sandbox container. A missing container is not an
// error.
func (p *Provisioner) Down(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "docker.provisioner.down", trace.WithAttributes(
		attribute.String("docker.container", p.cfg.Name),
	))
	defer span.End()

	if err := p.remove(ctx, p.cfg.Name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	p.logger.Info().Str("container", p.cfg.Name).Msg("sandbox container removed")
	return nil
}

func (p *Provisioner) remove(ctx context.Context, id string) error {
	err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (p *Provisioner) cleanup(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.remove(ctx, id); err != nil {
		p.logger.Error().Err(err).Str("container_id", id).Msg("failed to remove container")
	}
}

func (p *Provisioner) ensureImage(ctx context.Context) error {
	if _, _, err := p.client.ImageInspectWithRaw(ctx, p.cfg.Image); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("image inspect: %w", err)
	}

	p.logger.Info().Str("image", p.cfg.Image).Msg("pulling sandbox image")
	reader, err := p.client.ImagePull(ctx, p.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	return nil
}

func (p *Provisioner) containerConfig() *container.Config {
	return &container.Config{
		Image: p.cfg.Image,
		Env: []string{
			"POSTGRES_USER=" + p.cfg.User,
			"POSTGRES_PASSWORD=" + p.cfg.Password,
			"POSTGRES_DB=" + p.cfg.Database,
		},
		ExposedPorts: nat.PortSet{postgresPort: struct{}{}},
		Labels:       map[string]string{sandboxLabel: "true"},
	}
}

func (p *Provisioner) hostConfig() *container.HostConfig {
	return &container.HostConfig{
		PortBindings: nat.PortMap{
			postgresPort: []nat.PortBinding{{HostIP: p.cfg.BindAddress, HostPort: p.cfg.HostPort}},
		},
		Resources: container.Resources{
			Memory:    p.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: p.cfg.CPUShares,
		},
		Tmpfs:       map[string]string{dataDir: "rw"},
		NetworkMode: "bridge",
	}
}

func (p *Provisioner) dsn(hostPort string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.cfg.User, p.cfg.Password),
		Host:     net.JoinHostPort(p.cfg.BindAddress, hostPort),
		Path:     "/" + p.cfg.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Close shuts down the provisioner's underlying client.
func (p *Provisioner) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func publishedPort(ports nat.PortMap) (string, error) {
	for _, binding := range ports[postgresPort] {
		if binding.HostPort != "" {
			return binding.HostPort, nil
		}
	}
	return "", errors.New("sandbox container does not publish port 5432")
}

func waitReady(ctx context.Context, ready ReadyFunc, dsn string, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, interval*4)
		lastErr = ready(attemptCtx, dsn)
		cancelAttempt()
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("sandbox not ready after %s: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// PingPostgres opens a single connection to dsn and pings it.
func PingPostgres(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// BootstrapLearnerRole creates role on the database behind dsn.
func BootstrapLearnerRole(ctx context.Context, dsn, role string) error {
	statements, err := sandbox.LearnerRoleStatements(role)
	if err != nil {
		return err
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("learner role: %w", err)
	}
	defer conn.Close(context.Background())

	for _, statement := range statements {
		if _, err := conn.Exec(ctx, statement); err != nil {
			return fmt.Errorf("learner role: %w", err)
		}
	}
	return nil
}
