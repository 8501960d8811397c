package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Remote store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Blob storage backends
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Analyzer providers
const (
	AnalyzerOpenAI = "openai"
	AnalyzerRules  = "rules"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	WebSocket struct {
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
	} `yaml:"websocket"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Issuer         string        `yaml:"issuer"`
	} `yaml:"auth"`

	Storage struct {
		Backend      string `yaml:"backend"`
		UploadDir    string `yaml:"upload_dir"`
		PublicPrefix string `yaml:"public_prefix"`

		S3 struct {
			Endpoint       string `yaml:"endpoint"`
			Region         string `yaml:"region"`
			Bucket         string `yaml:"bucket"`
			Prefix         string `yaml:"prefix"`
			AccessKey      string `yaml:"access_key"`
			SecretKey      string `yaml:"secret_key"`
			ForcePathStyle bool   `yaml:"force_path_style"`
			PublicURL      string `yaml:"public_url"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	Queue struct {
		Dir string `yaml:"dir"`
	} `yaml:"queue"`

	RemoteStore struct {
		Backend string `yaml:"backend"`

		Retry struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
		} `yaml:"retry"`

		CircuitBreaker struct {
			Enabled     bool          `yaml:"enabled"`
			MaxFailures int           `yaml:"max_failures"`
			Timeout     time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"remote_store"`

	Redis struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Postgres struct {
		DSN            string        `yaml:"dsn"`
		MaxConns       int32         `yaml:"max_conns"`
		QueryTimeout   time.Duration `yaml:"query_timeout"`
		MigrateOnStart bool          `yaml:"migrate_on_start"`
	} `yaml:"postgres"`

	Analyzer struct {
		Provider    string        `yaml:"provider"`
		APIKey      string        `yaml:"api_key"`
		BaseURL     string        `yaml:"base_url"`
		Model       string        `yaml:"model"`
		Temperature float32       `yaml:"temperature"`
		MaxTokens   int           `yaml:"max_tokens"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"analyzer"`

	Ingestion struct {
		HistoryWindow   int  `yaml:"history_window"`
		AsyncAnalysis   bool `yaml:"async_analysis"`
		LegacyBroadcast bool `yaml:"legacy_broadcast"`
	} `yaml:"ingestion"`

	Sync struct {
		Interval   time.Duration `yaml:"interval"` // 0 disables the background replay
		RunOnStart bool          `yaml:"run_on_start"`
		// LockTTL bounds the Redis replay lock shared with qdsync. Only used
		// with the redis backend.
		LockTTL time.Duration `yaml:"lock_ttl"`
	} `yaml:"sync"`

	Reporting struct {
		KPICacheTTL time.Duration `yaml:"kpi_cache_ttl"`
		AlertLimit  int           `yaml:"alert_limit"`
		MaxPageSize int           `yaml:"max_page_size"`
		Machines    []string      `yaml:"machines"`
	} `yaml:"reporting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		// Submissions throttles the endpoints that create downtime records,
		// per client, on top of the HTTP limit.
		Submissions struct {
			PerMinute float64 `yaml:"per_minute"`
			Burst     int     `yaml:"burst"`
		} `yaml:"submissions"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}

	// WebSocket
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be > 0")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be > websocket.ping_interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket.write_timeout must be > 0")
	}
	if c.WebSocket.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("websocket.max_message_size_bytes must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.UploadDir == "" {
			return fmt.Errorf("storage.upload_dir must not be empty for the local backend")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must not be empty for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", StorageLocal, StorageS3)
	}

	// Queue
	if c.Queue.Dir == "" {
		return fmt.Errorf("queue.dir must not be empty")
	}

	// Remote store
	switch c.RemoteStore.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must not be empty when remote_store.backend=postgres")
		}
		if c.Postgres.MaxConns <= 0 {
			return fmt.Errorf("postgres.max_conns must be > 0")
		}
	case StoreRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when remote_store.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when remote_store.backend=redis")
		}
	default:
		return fmt.Errorf("remote_store.backend must be one of %q, %q, %q", StoreMemory, StorePostgres, StoreRedis)
	}
	if c.RemoteStore.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("remote_store.retry.max_attempts must be > 0")
	}
	if c.RemoteStore.Retry.Multiplier < 1 {
		return fmt.Errorf("remote_store.retry.multiplier must be >= 1")
	}
	if c.RemoteStore.CircuitBreaker.Enabled {
		if c.RemoteStore.CircuitBreaker.MaxFailures <= 0 {
			return fmt.Errorf("remote_store.circuit_breaker.max_failures must be > 0")
		}
		if c.RemoteStore.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("remote_store.circuit_breaker.timeout must be > 0")
		}
	}

	// Analyzer
	switch c.Analyzer.Provider {
	case AnalyzerRules:
	case AnalyzerOpenAI:
		if c.Analyzer.APIKey == "" {
			return fmt.Errorf("analyzer.api_key must not be empty for the openai provider")
		}
		if c.Analyzer.Model == "" {
			return fmt.Errorf("analyzer.model must not be empty for the openai provider")
		}
	default:
		return fmt.Errorf("analyzer.provider must be %q or %q", AnalyzerOpenAI, AnalyzerRules)
	}
	if c.Analyzer.Timeout <= 0 {
		return fmt.Errorf("analyzer.timeout must be > 0")
	}

	// Ingestion
	if c.Ingestion.HistoryWindow <= 0 {
		return fmt.Errorf("ingestion.history_window must be > 0")
	}

	// Sync
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must be >= 0")
	}
	if c.Sync.LockTTL < 0 {
		return fmt.Errorf("sync.lock_ttl must be >= 0")
	}

	// Reporting
	if c.Reporting.MaxPageSize <= 0 {
		return fmt.Errorf("reporting.max_page_size must be > 0")
	}
	if c.Reporting.AlertLimit <= 0 {
		return fmt.Errorf("reporting.alert_limit must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Submissions.PerMinute < 0 || c.RateLimiting.Submissions.Burst < 0 {
			return fmt.Errorf("rate_limiting.submissions values must be >= 0")
		}
		if c.RateLimiting.Submissions.PerMinute > 0 && c.RateLimiting.Submissions.Burst == 0 {
			return fmt.Errorf("rate_limiting.submissions.burst must be > 0 when per_minute is set")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SearchPaths are tried in order when no config file is named.
var SearchPaths = []string{
	"configs/config.yaml",
	"config.yaml",
	"/etc/quickdowntime/config.yaml",
}

// Locate returns the first of paths that names an existing file, or "".
func Locate(paths ...string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.MaxUploadBytes = 32 << 20

	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	cfg.WebSocket.MaxMessageSizeBytes = 64 * 1024
	cfg.WebSocket.AllowedOrigins = []string{"*"}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 12 * time.Hour
	cfg.Auth.Issuer = "quickdowntime"

	cfg.Storage.Backend = StorageLocal
	cfg.Storage.UploadDir = "uploads"
	cfg.Storage.PublicPrefix = "/uploads"
	cfg.Storage.S3.Region = "us-east-1"
	cfg.Storage.S3.ForcePathStyle = true

	cfg.Queue.Dir = "local_queue"

	cfg.RemoteStore.Backend = StoreMemory
	cfg.RemoteStore.Retry.MaxAttempts = 3
	cfg.RemoteStore.Retry.InitialDelay = 100 * time.Millisecond
	cfg.RemoteStore.Retry.MaxDelay = 2 * time.Second
	cfg.RemoteStore.Retry.Multiplier = 2.0
	cfg.RemoteStore.CircuitBreaker.Enabled = true
	cfg.RemoteStore.CircuitBreaker.MaxFailures = 5
	cfg.RemoteStore.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "quickdowntime"

	cfg.Postgres.MaxConns = 10
	cfg.Postgres.QueryTimeout = 5 * time.Second
	cfg.Postgres.MigrateOnStart = true

	cfg.Analyzer.Provider = AnalyzerRules
	cfg.Analyzer.Model = "gemini-2.5-flash"
	cfg.Analyzer.Temperature = 0.2
	cfg.Analyzer.MaxTokens = 1024
	cfg.Analyzer.Timeout = 10 * time.Second

	cfg.Ingestion.HistoryWindow = 20
	cfg.Ingestion.LegacyBroadcast = true

	cfg.Sync.LockTTL = 2 * time.Minute

	cfg.Reporting.KPICacheTTL = 30 * time.Second
	cfg.Reporting.AlertLimit = 5
	cfg.Reporting.MaxPageSize = 200
	cfg.Reporting.Machines = []string{"M-1", "M-2", "M-3", "M-4", "M-5"}

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.Submissions.PerMinute = 30
	cfg.RateLimiting.Submissions.Burst = 5

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("QUICKDOWNTIME_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("QUICKDOWNTIME_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("QUICKDOWNTIME_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if dsn := os.Getenv("QUICKDOWNTIME_DATABASE_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
		c.RemoteStore.Backend = StorePostgres
	}
	if key := os.Getenv("QUICKDOWNTIME_ANALYZER_API_KEY"); key != "" {
		c.Analyzer.APIKey = key
		c.Analyzer.Provider = AnalyzerOpenAI
	}
	if dir := os.Getenv("QUICKDOWNTIME_UPLOAD_DIR"); dir != "" {
		c.Storage.UploadDir = dir
	}
	if dir := os.Getenv("QUICKDOWNTIME_QUEUE_DIR"); dir != "" {
		c.Queue.Dir = dir
	}
}
