package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/fleetauthz/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Isolation     IsolationConfig     `yaml:"isolation"`
	Auth          AuthConfig          `yaml:"auth"`
	Audit         AuditConfig         `yaml:"audit"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// Addr returns the listen address of the API server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RunMigrations   bool          `yaml:"run_migrations"`
}

// RedisConfig holds the shared Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

// Enabled reports whether a Redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// IsolationConfig controls accessible-organization caching
type IsolationConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheSize    int           `yaml:"cache_size"`
	CacheBackend string        `yaml:"cache_backend"` // memory or redis
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// AuditConfig controls audit sinks and retention
type AuditConfig struct {
	Dir               string `yaml:"dir"`
	Async             bool   `yaml:"async"`
	RetentionDays     int    `yaml:"retention_days"`
	RetentionSchedule string `yaml:"retention_schedule"`
	ArchiveEnabled    bool   `yaml:"archive_enabled"`
	ArchivePrefix     string `yaml:"archive_prefix"`

	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// RateLimitConfig holds request limits for authenticated and anonymous callers
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Backend           string        `yaml:"backend"` // memory or redis
	Window            time.Duration `yaml:"window"`
	UserRequests      int           `yaml:"user_requests"`
	UserBurst         int           `yaml:"user_burst"`
	AnonymousRequests int           `yaml:"anonymous_requests"`
	AnonymousBurst    int           `yaml:"anonymous_burst"`
	FailOpen          bool          `yaml:"fail_open"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			RunMigrations:   true,
		},
		Redis: RedisConfig{PoolSize: 10},
		Isolation: IsolationConfig{
			CacheTTL:     10 * time.Minute,
			CacheSize:    10000,
			CacheBackend: "memory",
		},
		Auth: AuthConfig{
			Issuer:   "fleetauthz",
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Dir:               "/var/log/fleetauthz/audit",
			RetentionDays:     90,
			RetentionSchedule: "0 3 * * *",
			ArchivePrefix:     "audit-archive",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			Backend:           "memory",
			Window:            time.Minute,
			UserRequests:      1000,
			UserBurst:         50,
			AnonymousRequests: 100,
			AnonymousBurst:    10,
			FailOpen:          true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "fleetauthz",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads and validates the server configuration
func LoadConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load builds the configuration from defaults, the optional YAML file named
// by FLEETAUTHZ_CONFIG_FILE and FLEETAUTHZ_* environment variables, in that
// order of precedence. The result is not validated; tools that need only part
// of it check what they use.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("FLEETAUTHZ_CONFIG_FILE", ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server = loadServerConfig(c.Server)
	c.Database = loadDatabaseConfig(c.Database)
	c.Redis = loadRedisConfig(c.Redis)
	c.Isolation = loadIsolationConfig(c.Isolation)
	c.Auth = loadAuthConfig(c.Auth)
	c.Audit = loadAuditConfig(c.Audit)
	c.RateLimit = loadRateLimitConfig(c.RateLimit)
	c.Observability = loadObservabilityConfig(c.Observability)
}

// loadServerConfig loads server configuration from environment
func loadServerConfig(cfg ServerConfig) ServerConfig {
	cfg.Host = getEnv("FLEETAUTHZ_HOST", cfg.Host)
	cfg.Port = getEnv("FLEETAUTHZ_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("FLEETAUTHZ_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("FLEETAUTHZ_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("FLEETAUTHZ_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("FLEETAUTHZ_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.RequestTimeout = getEnvDuration("FLEETAUTHZ_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxBodyBytes = getEnvInt64("FLEETAUTHZ_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.CORSOrigins = getEnvList("FLEETAUTHZ_CORS_ORIGINS", cfg.CORSOrigins)
	cfg.HealthPort = getEnv("FLEETAUTHZ_HEALTH_PORT", cfg.HealthPort)
	return cfg
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig(cfg DatabaseConfig) DatabaseConfig {
	cfg.URL = getEnv("FLEETAUTHZ_POSTGRES_URL", cfg.URL)
	cfg.MaxOpenConns = getEnvInt("FLEETAUTHZ_POSTGRES_MAX_CONNS", cfg.MaxOpenConns)
	cfg.MaxIdleConns = getEnvInt("FLEETAUTHZ_POSTGRES_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.ConnMaxLifetime = getEnvDuration("FLEETAUTHZ_POSTGRES_CONN_LIFETIME", cfg.ConnMaxLifetime)
	cfg.RunMigrations = getEnvBool("FLEETAUTHZ_RUN_MIGRATIONS", cfg.RunMigrations)
	return cfg
}

func loadRedisConfig(cfg RedisConfig) RedisConfig {
	cfg.URL = getEnv("FLEETAUTHZ_REDIS_URL", cfg.URL)
	cfg.PoolSize = getEnvInt("FLEETAUTHZ_REDIS_POOL_SIZE", cfg.PoolSize)
	return cfg
}

func loadIsolationConfig(cfg IsolationConfig) IsolationConfig {
	cfg.CacheTTL = getEnvDuration("FLEETAUTHZ_ISOLATION_CACHE_TTL", cfg.CacheTTL)
	cfg.CacheSize = getEnvInt("FLEETAUTHZ_ISOLATION_CACHE_SIZE", cfg.CacheSize)
	cfg.CacheBackend = strings.ToLower(getEnv("FLEETAUTHZ_ISOLATION_CACHE_BACKEND", cfg.CacheBackend))
	return cfg
}

func loadAuthConfig(cfg AuthConfig) AuthConfig {
	cfg.Secret = getEnv("FLEETAUTHZ_JWT_SECRET", cfg.Secret)
	cfg.Issuer = getEnv("FLEETAUTHZ_JWT_ISSUER", cfg.Issuer)
	cfg.TokenTTL = getEnvDuration("FLEETAUTHZ_JWT_TTL", cfg.TokenTTL)
	return cfg
}

// loadAuditConfig loads audit sink and retention configuration from environment
func loadAuditConfig(cfg AuditConfig) AuditConfig {
	cfg.Dir = getEnv("FLEETAUTHZ_AUDIT_DIR", cfg.Dir)
	cfg.Async = getEnvBool("FLEETAUTHZ_AUDIT_ASYNC", cfg.Async)
	cfg.RetentionDays = getEnvInt("FLEETAUTHZ_AUDIT_RETENTION_DAYS", cfg.RetentionDays)
	cfg.RetentionSchedule = getEnv("FLEETAUTHZ_AUDIT_RETENTION_SCHEDULE", cfg.RetentionSchedule)
	cfg.ArchiveEnabled = getEnvBool("FLEETAUTHZ_AUDIT_ARCHIVE_ENABLED", cfg.ArchiveEnabled)
	cfg.ArchivePrefix = getEnv("FLEETAUTHZ_AUDIT_ARCHIVE_PREFIX", cfg.ArchivePrefix)

	// S3 config
	cfg.S3Bucket = getEnv("FLEETAUTHZ_S3_BUCKET", cfg.S3Bucket)
	cfg.S3Region = getEnv("FLEETAUTHZ_S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = getEnv("FLEETAUTHZ_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKey = getEnv("FLEETAUTHZ_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("FLEETAUTHZ_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("FLEETAUTHZ_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	return cfg
}

func loadRateLimitConfig(cfg RateLimitConfig) RateLimitConfig {
	cfg.Enabled = getEnvBool("FLEETAUTHZ_RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.Backend = strings.ToLower(getEnv("FLEETAUTHZ_RATE_LIMIT_BACKEND", cfg.Backend))
	cfg.Window = getEnvDuration("FLEETAUTHZ_RATE_LIMIT_WINDOW", cfg.Window)
	cfg.UserRequests = getEnvInt("FLEETAUTHZ_RATE_LIMIT_USER_REQUESTS", cfg.UserRequests)
	cfg.UserBurst = getEnvInt("FLEETAUTHZ_RATE_LIMIT_USER_BURST", cfg.UserBurst)
	cfg.AnonymousRequests = getEnvInt("FLEETAUTHZ_RATE_LIMIT_ANON_REQUESTS", cfg.AnonymousRequests)
	cfg.AnonymousBurst = getEnvInt("FLEETAUTHZ_RATE_LIMIT_ANON_BURST", cfg.AnonymousBurst)
	cfg.FailOpen = getEnvBool("FLEETAUTHZ_RATE_LIMIT_FAIL_OPEN", cfg.FailOpen)
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig(cfg ObservabilityConfig) ObservabilityConfig {
	cfg.LogLevel = getEnv("FLEETAUTHZ_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("FLEETAUTHZ_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("FLEETAUTHZ_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("FLEETAUTHZ_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("FLEETAUTHZ_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("FLEETAUTHZ_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("FLEETAUTHZ_OTEL_INSECURE", cfg.OTelInsecure)
	cfg.OTelSampleRatio = getEnvFloat("FLEETAUTHZ_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	switch c.Isolation.CacheBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis URL is required for the redis isolation cache")
		}
	default:
		return fmt.Errorf("invalid isolation cache backend: %s (must be memory or redis)", c.Isolation.CacheBackend)
	}
	if c.Isolation.CacheTTL <= 0 {
		return fmt.Errorf("isolation cache TTL must be positive")
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled() {
				return fmt.Errorf("redis URL is required for the redis rate limiter")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if c.RateLimit.Window <= 0 || c.RateLimit.UserRequests <= 0 || c.RateLimit.AnonymousRequests <= 0 {
			return fmt.Errorf("rate limit window and request counts must be positive")
		}
	}

	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	if c.Audit.ArchiveEnabled && c.Audit.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit archiving is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
