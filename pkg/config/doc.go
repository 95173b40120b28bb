// Package config provides application configuration management from
// environment variables and an optional YAML file.
//
// # Overview
//
// Values are resolved in three layers: built-in defaults, then the YAML file
// named by FLEETAUTHZ_CONFIG_FILE, then FLEETAUTHZ_* environment variables.
// The result is validated before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	FLEETAUTHZ_HOST="0.0.0.0"
//	FLEETAUTHZ_PORT="8080"
//	FLEETAUTHZ_HEALTH_PORT="9090"
//	FLEETAUTHZ_REQUEST_TIMEOUT="10s"
//	FLEETAUTHZ_CORS_ORIGINS="https://portal.example"
//
// Storage settings:
//
//	FLEETAUTHZ_POSTGRES_URL="postgres://localhost/fleetauthz"
//	FLEETAUTHZ_POSTGRES_MAX_CONNS="20"
//	FLEETAUTHZ_REDIS_URL="redis://localhost:6379/0"
//
// Isolation and auth:
//
//	FLEETAUTHZ_ISOLATION_CACHE_BACKEND="memory"  # memory, redis
//	FLEETAUTHZ_ISOLATION_CACHE_TTL="10m"
//	FLEETAUTHZ_JWT_SECRET="..."                  # at least 32 bytes
//	FLEETAUTHZ_JWT_TTL="1h"
//
// Audit settings:
//
//	FLEETAUTHZ_AUDIT_DIR="/var/log/fleetauthz/audit"
//	FLEETAUTHZ_AUDIT_RETENTION_DAYS="90"
//	FLEETAUTHZ_AUDIT_RETENTION_SCHEDULE="0 3 * * *"
//	FLEETAUTHZ_AUDIT_ARCHIVE_ENABLED="true"
//	FLEETAUTHZ_S3_BUCKET="fleet-audit-archive"
//
// Observability settings:
//
//	FLEETAUTHZ_LOG_LEVEL="info"  # debug, info, warn, error
//	FLEETAUTHZ_METRICS_ENABLED="true"
//	FLEETAUTHZ_OTEL_ENABLED="true"
//	FLEETAUTHZ_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
package config
