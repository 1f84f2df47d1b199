package server

import (
	"os"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
	APIKeys         []string
	SeedDemo        bool
}

// LoadConfig reads POSYNC_SERVER_* environment variables over defaults
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/posync-server.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",
		SeedDemo:        true,
	}

	if v := os.Getenv("POSYNC_SERVER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("POSYNC_SERVER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("POSYNC_SERVER_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("POSYNC_SERVER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("POSYNC_SERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("POSYNC_SERVER_API_KEYS"); v != "" {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.APIKeys = append(cfg.APIKeys, k)
			}
		}
	}
	if v := os.Getenv("POSYNC_SERVER_SEED"); v == "false" || v == "0" {
		cfg.SeedDemo = false
	}

	return cfg
}
