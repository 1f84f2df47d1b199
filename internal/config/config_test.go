package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func useTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posync", "config.toml")
	t.Setenv(EnvPath, path)
	for _, key := range Keys() {
		t.Setenv(EnvName(key), "")
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	useTempConfig(t)
	f, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *f != (File{}) {
		t.Errorf("expected empty config, got %+v", f)
	}
}

func TestSetAndLookup(t *testing.T) {
	path := useTempConfig(t)

	if err := Set(KeyServerURL, "https://pos.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, src, err := Lookup(KeyServerURL)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v != "https://pos.example" || src != SourceFile {
		t.Errorf("got %q from %s", v, src)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	t.Setenv("POSYNC_SERVER_URL", "http://override:9000")
	v, src, _ = Lookup(KeyServerURL)
	if v != "http://override:9000" || src != SourceEnv {
		t.Errorf("env did not win: %q from %s", v, src)
	}
}

func TestLookupDefaults(t *testing.T) {
	useTempConfig(t)
	v, src, err := Lookup(KeyRequestTimeout)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v != "10s" || src != SourceDefault {
		t.Errorf("got %q from %s, want 10s default", v, src)
	}
}

func TestInvalidEnvFallsThrough(t *testing.T) {
	useTempConfig(t)
	if err := Set(KeyBackoffMax, "2m"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	t.Setenv("POSYNC_BACKOFF_MAX", "soon")

	v, src, _ := Lookup(KeyBackoffMax)
	if v != "2m" || src != SourceFile {
		t.Errorf("got %q from %s, want 2m from file", v, src)
	}
}

func TestSetValidates(t *testing.T) {
	useTempConfig(t)
	tests := []struct {
		key, value string
	}{
		{KeyRequestTimeout, "ten seconds"},
		{KeyAutoSyncInterval, "-1s"},
		{KeyLogLevel, "loud"},
		{KeyLogFormat, "xml"},
	}
	for _, tt := range tests {
		if err := Set(tt.key, tt.value); err == nil {
			t.Errorf("Set(%s, %q) accepted", tt.key, tt.value)
		}
	}
	if err := Set("colour", "blue"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := useTempConfig(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("server_url = \"http://x\"\nserver = \"typo\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestTerminalIDGeneratedOnce(t *testing.T) {
	useTempConfig(t)
	first, err := TerminalID()
	if err != nil {
		t.Fatalf("TerminalID: %v", err)
	}
	if first == "" {
		t.Fatal("empty terminal id")
	}
	second, err := TerminalID()
	if err != nil {
		t.Fatalf("TerminalID: %v", err)
	}
	if first != second {
		t.Errorf("terminal id changed: %s then %s", first, second)
	}
}

func TestResolve(t *testing.T) {
	useTempConfig(t)
	if err := Set(KeyAutoSyncInterval, "45s"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	t.Setenv("POSYNC_LOG_LEVEL", "debug")

	s, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.AutoSyncInterval != 45*time.Second {
		t.Errorf("AutoSyncInterval = %v", s.AutoSyncInterval)
	}
	if s.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v", s.RequestTimeout)
	}
	if s.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", s.LogLevel)
	}
	if s.TerminalID == "" {
		t.Error("TerminalID not set")
	}
	if s.LogFormat != "text" {
		t.Errorf("LogFormat = %q", s.LogFormat)
	}
}
