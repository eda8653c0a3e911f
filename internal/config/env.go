// internal/config/env.go
package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies environment overrides. The PG* variables follow
// libpq conventions so the exporter can run inside a standard Postgres
// container without extra wiring.
func LoadFromEnv(cfg *Config) {
	if host := os.Getenv("PGHOST"); host != "" {
		cfg.Postgres.Host = host
	}
	if port := os.Getenv("PGPORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Postgres.Port = p
		}
	}
	if user := os.Getenv("PGUSER"); user != "" {
		cfg.Postgres.User = user
	}
	if password := os.Getenv("PGPASSWORD"); password != "" {
		cfg.Postgres.Password = password
	}
	if db := os.Getenv("PGDATABASE"); db != "" {
		cfg.Postgres.Database = db
	}

	if dir := os.Getenv("WALG_EXPORTER_ARCHIVE_DIR"); dir != "" {
		cfg.Archive.StatusDir = dir
	}
	if port := os.Getenv("WALG_EXPORTER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("WALG_EXPORTER_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
	if interval := os.Getenv("UPDATE_BASEBACKUP_INTERVAL"); interval != "" {
		// Seconds, for compatibility with existing deployments.
		if secs, err := strconv.ParseFloat(interval, 64); err == nil && secs > 0 {
			cfg.Archive.RefreshInterval = time.Duration(secs * float64(time.Second))
		}
	}

	if endpoint := os.Getenv("AWS_ENDPOINT"); endpoint != "" {
		cfg.Remote.Endpoint = endpoint
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Remote.Region = region
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		cfg.Remote.AccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		cfg.Remote.SecretKey = secret
	}
	if bucket := os.Getenv("WALG_S3_BUCKET"); bucket != "" {
		cfg.Remote.Bucket = bucket
	}
	if prefix := os.Getenv("WALG_S3_PREFIX"); prefix != "" {
		cfg.Remote.Prefix = prefix
	}
}

// GetEnvOrDefault returns an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
