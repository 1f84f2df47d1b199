package server

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.ListenAddr != ":8080" || !cfg.SeedDemo || len(cfg.APIKeys) != 0 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("POSYNC_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("POSYNC_SERVER_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("POSYNC_SERVER_API_KEYS", " k1, ,k2 ")
	t.Setenv("POSYNC_SERVER_SEED", "false")

	cfg := LoadConfig()
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "k1" || cfg.APIKeys[1] != "k2" {
		t.Errorf("APIKeys = %q", cfg.APIKeys)
	}
	if cfg.SeedDemo {
		t.Error("SeedDemo should be off")
	}
}
