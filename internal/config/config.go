package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the wal-analyzer service.
type Config struct {
	Environment string
	Postgres    PostgresConfig
	Metastore   MetastoreConfig
	Poll        PollConfig
	Report      ReportConfig
	Telemetry   TelemetryConfig
}

type PostgresConfig struct {
	DSN string
}

type MetastoreConfig struct {
	Path string
}

type PollConfig struct {
	Interval time.Duration
}

type ReportConfig struct {
	Dir string
}

type TelemetryConfig struct {
	ServiceName string
}

// Load loads config from environment for now. File parsing will be added later.
func Load(_ string) (*Config, error) {
	cfg := &Config{
		Environment: getenv("WALANALYZER_ENV", "dev"),
		Postgres: PostgresConfig{
			DSN: getenv("WALANALYZER_POSTGRES_DSN", ""),
		},
		Metastore: MetastoreConfig{
			Path: getenv("WALANALYZER_METASTORE_PATH", "wal_analyzer.db"),
		},
		Poll: PollConfig{
			Interval: getenvDuration("WALANALYZER_POLL_INTERVAL", 30*time.Second),
		},
		Report: ReportConfig{
			Dir: getenv("WALANALYZER_REPORT_DIR", "."),
		},
		Telemetry: TelemetryConfig{
			ServiceName: getenv("WALANALYZER_OTEL_SERVICE", "wal-analyzer"),
		},
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
