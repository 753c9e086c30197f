package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Feature flag catalog configuration
	Features FeaturesConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// FeaturesConfig holds flag catalog and cache settings
type FeaturesConfig struct {
	// SeedFile is the YAML flag catalog loaded at startup. Empty disables
	// seeding; flags are then managed through the API only.
	SeedFile string

	// WatchSeedFile reloads the catalog when the seed file changes on disk.
	WatchSeedFile bool

	CacheSize int
	CacheTTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Features:      loadFeaturesConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ENTITLE_HOST", "0.0.0.0"),
		Port:            getEnv("ENTITLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ENTITLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ENTITLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ENTITLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ENTITLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ENTITLE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("ENTITLE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("ENTITLE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("ENTITLE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("ENTITLE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisURL := getEnv("ENTITLE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("ENTITLE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("ENTITLE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisPoolSize := getEnvInt("ENTITLE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadFeaturesConfig loads flag catalog configuration from environment
func loadFeaturesConfig() FeaturesConfig {
	return FeaturesConfig{
		SeedFile:      getEnv("ENTITLE_FEATURES_SEED_FILE", ""),
		WatchSeedFile: getEnvBool("ENTITLE_FEATURES_WATCH_SEED", true),
		CacheSize:     getEnvInt("ENTITLE_FEATURES_CACHE_SIZE", 256),
		CacheTTL:      getEnvDuration("ENTITLE_FEATURES_CACHE_TTL", 30*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("ENTITLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ENTITLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ENTITLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ENTITLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ENTITLE_OTEL_SERVICE_NAME", "entitlements"),
		OTelServiceVersion: getEnv("ENTITLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ENTITLE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Features.CacheSize <= 0 {
		return fmt.Errorf("features cache size must be positive")
	}
	if c.Features.CacheTTL <= 0 {
		return fmt.Errorf("features cache TTL must be positive")
	}

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

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
