package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	HTTPHost    string
	HTTPPort    string
	LogLevel    string
	AutoMigrate bool

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	SandboxURL              string
	SandboxDriver           string
	SandboxMaxConns         int
	SandboxStatementTimeout time.Duration
	SandboxAcquireTimeout   time.Duration
	SandboxMaxRows          int
	// SandboxLearnerRole is assumed for learner queries on PostgreSQL.
	// "none" runs them as the connection user.
	SandboxLearnerRole string

	QueryMaxLength     int
	ExecuteRateLimit   int
	FastSolveThreshold time.Duration

	JWTSecret string
	JWTTTL    time.Duration
	CacheTTL  time.Duration

	BookkeepingWorkers int
	BookkeepingBuffer  int

	OpenAIAPIKey  string
	OpenAIModel   string
	CloudinaryURL string
	BackupFolder  string

	AllowedOrigins string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.HTTPPort, ":") {
		return c.HTTPHost + c.HTTPPort
	}
	return fmt.Sprintf("%s:%s", c.HTTPHost, c.HTTPPort)
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SQLP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "SQL Practice API")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.host", "")
	v.SetDefault("http.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("sandbox.driver", "pgx")
	v.SetDefault("sandbox.max_conns", 5)
	v.SetDefault("sandbox.statement_timeout", "30s")
	v.SetDefault("sandbox.acquire_timeout", "2s")
	v.SetDefault("sandbox.max_rows", 1000)
	v.SetDefault("sandbox.learner_role", "sqlp_learner")
	v.SetDefault("query.max_length", 5000)
	v.SetDefault("execute.rate_limit", 30)
	v.SetDefault("fast_solve.threshold", "1s")
	v.SetDefault("jwt.ttl", "24h")
	v.SetDefault("cache.ttl", "2m")
	v.SetDefault("bookkeeping.workers", 4)
	v.SetDefault("bookkeeping.buffer", 256)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("backup.folder", "sqlpractice/backups")
	v.SetDefault("allowed_origins", "*")

	durations := map[string]time.Duration{}
	for _, key := range []string{"sandbox.statement_timeout", "sandbox.acquire_timeout", "fast_solve.threshold", "jwt.ttl", "cache.ttl"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	cfg := Config{
		AppName:                 v.GetString("app.name"),
		AppEnv:                  strings.ToLower(v.GetString("app.env")),
		HTTPHost:                v.GetString("http.host"),
		HTTPPort:                v.GetString("http.port"),
		LogLevel:                strings.ToLower(v.GetString("log.level")),
		AutoMigrate:             v.GetBool("auto_migrate"),
		DatabaseURL:             v.GetString("database.url"),
		RedisURL:                v.GetString("redis.url"),
		NATSURL:                 v.GetString("nats.url"),
		SandboxURL:              v.GetString("sandbox.url"),
		SandboxDriver:           strings.ToLower(v.GetString("sandbox.driver")),
		SandboxMaxConns:         v.GetInt("sandbox.max_conns"),
		SandboxStatementTimeout: durations["sandbox.statement_timeout"],
		SandboxAcquireTimeout:   durations["sandbox.acquire_timeout"],
		SandboxMaxRows:          v.GetInt("sandbox.max_rows"),
		SandboxLearnerRole:      strings.TrimSpace(v.GetString("sandbox.learner_role")),
		QueryMaxLength:          v.GetInt("query.max_length"),
		ExecuteRateLimit:        v.GetInt("execute.rate_limit"),
		FastSolveThreshold:      durations["fast_solve.threshold"],
		JWTSecret:               v.GetString("jwt.secret"),
		JWTTTL:                  durations["jwt.ttl"],
		CacheTTL:                durations["cache.ttl"],
		BookkeepingWorkers:      v.GetInt("bookkeeping.workers"),
		BookkeepingBuffer:       v.GetInt("bookkeeping.buffer"),
		OpenAIAPIKey:            v.GetString("openai.api_key"),
		OpenAIModel:             v.GetString("openai.model"),
		CloudinaryURL:           v.GetString("cloudinary.url"),
		BackupFolder:            v.GetString("backup.folder"),
		AllowedOrigins:          v.GetString("allowed_origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}
	if cfg.SandboxDriver != "pgx" && cfg.SandboxDriver != "sqlite" {
		return Config{}, fmt.Errorf("unsupported sandbox driver %q", cfg.SandboxDriver)
	}
	if cfg.SandboxURL == "" && cfg.SandboxDriver == "pgx" {
		cfg.SandboxURL = cfg.DatabaseURL
	}

	if strings.EqualFold(cfg.SandboxLearnerRole, "none") {
		cfg.SandboxLearnerRole = ""
	}
	if cfg.SandboxMaxConns <= 0 {
		cfg.SandboxMaxConns = 5
	}
	if cfg.SandboxMaxRows <= 0 {
		cfg.SandboxMaxRows = 1000
	}
	if cfg.QueryMaxLength <= 0 {
		cfg.QueryMaxLength = 5000
	}
	if cfg.BookkeepingWorkers <= 0 {
		cfg.BookkeepingWorkers = 4
	}

	return cfg, nil
}

// ProvisionerConfig holds the settings of the sandbox container tooling.
type ProvisionerConfig struct {
	LogLevel      string
	DockerHost    string
	Image         string
	Name          string
	HostPort      string
	MemoryLimitMB int64
	CPUShares     int64
	ReadyTimeout  time.Duration
	LearnerRole   string
}

// LoadProvisioner reads the sandbox container settings. Unlike Load it needs
// neither a database nor a JWT secret.
func LoadProvisioner() (ProvisionerConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SQLP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("log.level", "info")
	v.SetDefault("sandbox.image", "postgres:16-alpine")
	v.SetDefault("sandbox.container", "sqlp-sandbox")
	v.SetDefault("sandbox.host_port", "55432")
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.ready_timeout", "30s")
	v.SetDefault("sandbox.learner_role", "sqlp_learner")

	readyTimeout, err := time.ParseDuration(v.GetString("sandbox.ready_timeout"))
	if err != nil {
		return ProvisionerConfig{}, fmt.Errorf("invalid sandbox.ready_timeout: %w", err)
	}

	return ProvisionerConfig{
		LogLevel:      strings.ToLower(v.GetString("log.level")),
		DockerHost:    v.GetString("docker_host"),
		Image:         v.GetString("sandbox.image"),
		Name:          v.GetString("sandbox.container"),
		HostPort:      v.GetString("sandbox.host_port"),
		MemoryLimitMB: v.GetInt64("sandbox.memory_mb"),
		CPUShares:     v.GetInt64("sandbox.cpu_shares"),
		ReadyTimeout:  readyTimeout,
		LearnerRole:   strings.TrimSpace(v.GetString("sandbox.learner_role")),
	}, nil
}
