package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.lostlink/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Server         Server    `toml:"server"`
	Reconnect      Reconnect `toml:"reconnect"`
	Match          Match     `toml:"match"`
}

// Server holds the remote event-channel endpoints.
type Server struct {
	URL        string `toml:"url"`
	ChatPath   string `toml:"chat_path"`
	NotifyPath string `toml:"notify_path"`
}

// Reconnect bounds the linear backoff applied after channel errors.
type Reconnect struct {
	MaxAttempts int `toml:"max_attempts"`
	DelayMS     int `toml:"delay_ms"`
}

// Match configures reconciliation and notification protection.
type Match struct {
	MinScore            int   `toml:"min_score"`
	ProtectedScores     []int `toml:"protected_scores"`
	ReconcileIntervalS  int   `toml:"reconcile_interval_s"`
	ReconcileConcurrent int   `toml:"reconcile_concurrent"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: Server{
			URL:        "wss://api.lostlink.app",
			ChatPath:   "/ws/chat",
			NotifyPath: "/ws/notify",
		},
		Reconnect: Reconnect{
			MaxAttempts: 5,
			DelayMS:     3000,
		},
		Match: Match{
			MinScore:            50,
			ProtectedScores:     []int{91, 81},
			ReconcileIntervalS:  300,
			ReconcileConcurrent: 4,
		},
	}
}

// Delay returns the inter-attempt reconnect delay.
func (r Reconnect) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Interval returns the reconciliation pass interval.
func (m Match) Interval() time.Duration {
	return time.Duration(m.ReconcileIntervalS) * time.Second
}

// Load reads config from the given path, layered over Default.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
