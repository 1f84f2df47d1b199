// Package config reads and writes the terminal's TOML config file and
// resolves each setting with the priority env > file > default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// EnvPath overrides the config file location
const EnvPath = "POSYNC_CONFIG"

// Setting names, as written in the file
const (
	KeyServerURL        = "server_url"
	KeyAPIKey           = "api_key"
	KeyTerminalID       = "terminal_id"
	KeyDataDir          = "data_dir"
	KeyRequestTimeout   = "request_timeout"
	KeyAutoSyncInterval = "auto_sync_interval"
	KeyProbeInterval    = "probe_interval"
	KeyBackoffBase      = "backoff_base"
	KeyBackoffMax       = "backoff_max"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
)

// ErrUnknownKey is returned for a setting name that does not exist
var ErrUnknownKey = errors.New("unknown config key")

// File is the on-disk config. Empty fields fall back to defaults.
type File struct {
	ServerURL        string `toml:"server_url,omitempty"`
	APIKey           string `toml:"api_key,omitempty"`
	TerminalID       string `toml:"terminal_id,omitempty"`
	DataDir          string `toml:"data_dir,omitempty"`
	RequestTimeout   string `toml:"request_timeout,omitempty"`
	AutoSyncInterval string `toml:"auto_sync_interval,omitempty"`
	ProbeInterval    string `toml:"probe_interval,omitempty"`
	BackoffBase      string `toml:"backoff_base,omitempty"`
	BackoffMax       string `toml:"backoff_max,omitempty"`
	LogLevel         string `toml:"log_level,omitempty"`
	LogFormat        string `toml:"log_format,omitempty"`
}

func (f *File) field(key string) *string {
	switch key {
	case KeyServerURL:
		return &f.ServerURL
	case KeyAPIKey:
		return &f.APIKey
	case KeyTerminalID:
		return &f.TerminalID
	case KeyDataDir:
		return &f.DataDir
	case KeyRequestTimeout:
		return &f.RequestTimeout
	case KeyAutoSyncInterval:
		return &f.AutoSyncInterval
	case KeyProbeInterval:
		return &f.ProbeInterval
	case KeyBackoffBase:
		return &f.BackoffBase
	case KeyBackoffMax:
		return &f.BackoffMax
	case KeyLogLevel:
		return &f.LogLevel
	case KeyLogFormat:
		return &f.LogFormat
	}
	return nil
}

// Keys lists every setting name in file order
func Keys() []string {
	return []string{
		KeyServerURL, KeyAPIKey, KeyTerminalID, KeyDataDir,
		KeyRequestTimeout, KeyAutoSyncInterval, KeyProbeInterval,
		KeyBackoffBase, KeyBackoffMax, KeyLogLevel, KeyLogFormat,
	}
}

// EnvName returns the environment variable for key, e.g. POSYNC_SERVER_URL
func EnvName(key string) string {
	return "POSYNC_" + strings.ToUpper(key)
}

var durationKeys = []string{KeyRequestTimeout, KeyAutoSyncInterval, KeyProbeInterval, KeyBackoffBase, KeyBackoffMax}

func defaultValue(key string) string {
	switch key {
	case KeyServerURL:
		return "http://localhost:8080"
	case KeyDataDir:
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "posync")
		}
		return ".posync"
	case KeyRequestTimeout:
		return "10s"
	case KeyAutoSyncInterval:
		return "30s"
	case KeyProbeInterval:
		return "15s"
	case KeyBackoffBase:
		return "2s"
	case KeyBackoffMax:
		return "5m"
	case KeyLogLevel:
		return "info"
	case KeyLogFormat:
		return "text"
	}
	return ""
}

// validate checks a value before it is stored
func validate(key, value string) error {
	if value == "" {
		return nil
	}
	switch {
	case slices.Contains(durationKeys, key):
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive", key)
		}
	case key == KeyLogLevel:
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	case key == KeyLogFormat:
		if value != "text" && value != "json" {
			return fmt.Errorf("%s: want text or json, got %q", key, value)
		}
	}
	return nil
}

// Path returns $POSYNC_CONFIG or ~/.config/posync/config.toml
func Path() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "posync", "config.toml"), nil
}

// Load reads the config file. A missing file is an empty config.
func Load() (*File, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, err
	}

	var f File
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: %w %q", path, ErrUnknownKey, undecoded[0].String())
	}
	return &f, nil
}

// Save writes f with an atomic write (temp file + rename)
func Save(f *File) error {
	path, err := Path()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.toml.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	// The file holds the API key.
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Source says where a resolved value came from
type Source string

const (
	SourceEnv     Source = "env"
	SourceFile    Source = "file"
	SourceDefault Source = "default"
)

// Lookup resolves key. Invalid env or file values fall through to the next
// source.
func Lookup(key string) (string, Source, error) {
	f, err := Load()
	if err != nil {
		return "", "", err
	}
	return lookup(f, key)
}

func lookup(f *File, key string) (string, Source, error) {
	field := f.field(key)
	if field == nil {
		return "", "", fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	if v := os.Getenv(EnvName(key)); v != "" && validate(key, v) == nil {
		return v, SourceEnv, nil
	}
	if *field != "" && validate(key, *field) == nil {
		return *field, SourceFile, nil
	}
	return defaultValue(key), SourceDefault, nil
}

// Set validates value and stores it in the file. An empty value removes the
// setting.
func Set(key, value string) error {
	f, err := Load()
	if err != nil {
		return err
	}
	field := f.field(key)
	if field == nil {
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	if err := validate(key, value); err != nil {
		return err
	}
	*field = value
	return Save(f)
}

// TerminalID returns the terminal id, generating and saving one on first
// use
func TerminalID() (string, error) {
	f, err := Load()
	if err != nil {
		return "", err
	}
	if v, src, _ := lookup(f, KeyTerminalID); src != SourceDefault {
		return v, nil
	}
	f.TerminalID = uuid.NewString()
	if err := Save(f); err != nil {
		return "", fmt.Errorf("save terminal id: %w", err)
	}
	return f.TerminalID, nil
}

// Settings are the resolved values the CLI runs with
type Settings struct {
	ServerURL        string
	APIKey           string
	TerminalID       string
	DataDir          string
	RequestTimeout   time.Duration
	AutoSyncInterval time.Duration
	ProbeInterval    time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	LogLevel         slog.Level
	LogFormat        string
}

// Resolve loads every setting
func Resolve() (*Settings, error) {
	id, err := TerminalID()
	if err != nil {
		return nil, err
	}
	f, err := Load()
	if err != nil {
		return nil, err
	}

	get := func(key string) string {
		v, _, _ := lookup(f, key)
		return v
	}
	dur := func(key string) time.Duration {
		d, _ := time.ParseDuration(get(key))
		return d
	}

	s := &Settings{
		ServerURL:        get(KeyServerURL),
		APIKey:           get(KeyAPIKey),
		TerminalID:       id,
		DataDir:          get(KeyDataDir),
		RequestTimeout:   dur(KeyRequestTimeout),
		AutoSyncInterval: dur(KeyAutoSyncInterval),
		ProbeInterval:    dur(KeyProbeInterval),
		BackoffBase:      dur(KeyBackoffBase),
		BackoffMax:       dur(KeyBackoffMax),
		LogFormat:        get(KeyLogFormat),
	}
	if err := s.LogLevel.UnmarshalText([]byte(get(KeyLogLevel))); err != nil {
		s.LogLevel = slog.LevelInfo
	}
	return s, nil
}
