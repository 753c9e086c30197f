// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	ENTITLE_HOST="0.0.0.0"
//	ENTITLE_PORT="8080"
//	ENTITLE_HEALTH_PORT="9090"
//	ENTITLE_READ_TIMEOUT="15s"
//	ENTITLE_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	ENTITLE_POSTGRES_URL="postgres://localhost/entitlements"
//	ENTITLE_POSTGRES_MAX_CONNS="25"
//	ENTITLE_REDIS_URL="redis://localhost:6379"
//	ENTITLE_REDIS_POOL_SIZE="10"
//
// Feature catalog settings:
//
//	ENTITLE_FEATURES_SEED_FILE="/etc/entitlements/features.yaml"
//	ENTITLE_FEATURES_WATCH_SEED="true"
//	ENTITLE_FEATURES_CACHE_SIZE="256"
//	ENTITLE_FEATURES_CACHE_TTL="30s"
//
// Observability settings:
//
//	ENTITLE_LOG_LEVEL="info"  # debug, info, warn, error
//	ENTITLE_METRICS_ENABLED="true"
//	ENTITLE_OTEL_ENABLED="true"
//	ENTITLE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
