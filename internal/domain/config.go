package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	// Scoring
	Oracle    OracleConfig    `json:"oracle" yaml:"oracle"`
	Fallback  FallbackConfig  `json:"fallback" yaml:"fallback"`
	Batch     BatchConfig     `json:"batch" yaml:"batch"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rate_limit"`

	// PolicyFile optionally seeds policies at startup.
	PolicyFile string `json:"policyFile" yaml:"policy_file"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds

	// SlowRequestThreshold marks requests logged at WARN.
	SlowRequestThreshold time.Duration `json:"slowRequestThreshold" yaml:"slow_request_threshold"`
}

// OracleConfig configures the external scoring service client.
type OracleConfig struct {
	BaseURL        string        `json:"baseUrl" yaml:"base_url"`
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `json:"readTimeout" yaml:"read_timeout"`

	// Retry policy: MaxAttempts counts the first call.
	MaxAttempts       int           `json:"maxAttempts" yaml:"max_attempts"`
	InitialBackoff    time.Duration `json:"initialBackoff" yaml:"initial_backoff"`
	BackoffMultiplier float64       `json:"backoffMultiplier" yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `json:"maxBackoff" yaml:"max_backoff"`
}

// FallbackConfig holds the bucket thresholds used by the fallback scorer.
type FallbackConfig struct {
	LowThreshold    float64 `json:"lowThreshold" yaml:"low_threshold"`       // score >= this is LOW
	MediumThreshold float64 `json:"mediumThreshold" yaml:"medium_threshold"` // score >= this is MEDIUM
}

// BatchConfig bounds batch scoring.
type BatchConfig struct {
	Workers  int           `json:"workers" yaml:"workers"`
	MaxItems int           `json:"maxItems" yaml:"max_items"`
	Deadline time.Duration `json:"deadline" yaml:"deadline"`
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	PerMinute       int64         `json:"perMinute" yaml:"per_minute"`
	PerHour         int64         `json:"perHour" yaml:"per_hour"`
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanup_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"serviceName" yaml:"service_name"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"` // OTLP/HTTP host:port, empty keeps spans local
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRatio float64 `json:"sampleRatio" yaml:"sample_ratio"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			ReadTimeout:          30,
			WriteTimeout:         60,
			SlowRequestThreshold: 5 * time.Second,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ViewTTL:      10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Oracle: OracleConfig{
			BaseURL:           "http://localhost:8000",
			ConnectTimeout:    5 * time.Second,
			ReadTimeout:       10 * time.Second,
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			BackoffMultiplier: 2,
			MaxBackoff:        4 * time.Second,
		},
		Fallback: FallbackConfig{
			LowThreshold:    0.7,
			MediumThreshold: 0.4,
		},
		Batch: BatchConfig{
			Workers:  10,
			MaxItems: 1000,
			Deadline: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			PerMinute:       100,
			PerHour:         1000,
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
			SampleRatio: 1,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ViewTTL:        10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfigFile overlays a YAML file onto cfg. ${VAR} references are expanded.
func LoadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.Validate()
}

// ApplyEnv overrides individual fields from KESTREL_* variables.
// Unparseable numeric values are reported and leave the field unchanged.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, key)
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, key)
			return
		}
		*dst = b
	}

	str("KESTREL_HOST", &c.Server.Host)
	num("KESTREL_PORT", &c.Server.Port)
	str("KESTREL_ORACLE_URL", &c.Oracle.BaseURL)
	num("KESTREL_ORACLE_MAX_ATTEMPTS", &c.Oracle.MaxAttempts)

	str("KESTREL_DB_PATH", &c.Repository.SQLitePath)
	str("KESTREL_POSTGRES_HOST", &c.Repository.PostgresHost)
	num("KESTREL_POSTGRES_PORT", &c.Repository.PostgresPort)
	str("KESTREL_POSTGRES_USER", &c.Repository.PostgresUser)
	str("KESTREL_POSTGRES_PASSWORD", &c.Repository.PostgresPassword)
	str("KESTREL_POSTGRES_DB", &c.Repository.PostgresDB)
	str("KESTREL_POSTGRES_SSLMODE", &c.Repository.PostgresSSLMode)
	str("KESTREL_POSTGRES_DSN", &c.Repository.PostgresDSN)

	str("KESTREL_REDIS_ADDR", &c.Cache.RedisAddr)
	str("KESTREL_REDIS_PASSWORD", &c.Cache.RedisPassword)
	str("KESTREL_NATS_URL", &c.EventBus.NATSUrl)
	str("KESTREL_NATS_QUEUE_GROUP", &c.EventBus.NATSQueueGroup)

	num("KESTREL_BATCH_WORKERS", &c.Batch.Workers)
	num("KESTREL_BATCH_MAX_ITEMS", &c.Batch.MaxItems)
	flag("KESTREL_RATE_LIMIT", &c.RateLimit.Enabled)

	str("KESTREL_POLICY_FILE", &c.PolicyFile)
	str("KESTREL_LOG_LEVEL", &c.Logging.Level)
	str("KESTREL_LOG_FORMAT", &c.Logging.Format)
	str("KESTREL_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	flag("KESTREL_TRACING", &c.Tracing.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Oracle.MaxAttempts <= 0 {
		return fmt.Errorf("oracle.max_attempts must be positive")
	}
	if c.Oracle.BackoffMultiplier < 1 {
		return fmt.Errorf("oracle.backoff_multiplier must be >= 1")
	}
	f := c.Fallback
	if f.MediumThreshold < 0 || f.LowThreshold > 1 || f.MediumThreshold > f.LowThreshold {
		return fmt.Errorf("fallback thresholds must satisfy 0 <= medium <= low <= 1")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0) {
		return fmt.Errorf("rate_limit limits must be positive when enabled")
	}
	return nil
}
