// Package config provides configuration types and defaults for the
// registry. Values load from a YAML file and MPAK_-prefixed environment
// variables; the cmd package owns the viper wiring.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all configuration options for the registry.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	Scanner  ScannerConfig  `mapstructure:"scanner" yaml:"scanner"`
	Tasks    TasksConfig    `mapstructure:"tasks" yaml:"tasks"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP listener options.
type ServerConfig struct {
	// Addr is the listen address, host:port. Port 0 picks a free port.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// MaxUploadMB caps publish request bodies.
	MaxUploadMB int `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`

	// DownloadTTLMinutes is the signed download URL lifetime.
	DownloadTTLMinutes int `mapstructure:"download_ttl_minutes" yaml:"download_ttl_minutes"`
}

// DatabaseConfig holds SQLite options.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for
	// throwaway instances.
	Path string `mapstructure:"path" yaml:"path"`
}

// StorageConfig holds bundle storage options.
type StorageConfig struct {
	// Root is the directory artifacts are stored under.
	Root string `mapstructure:"root" yaml:"root"`

	// SigningSecret keys download URL signatures. Generated and
	// persisted on first run when empty.
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`
}

// GitHubConfig holds GitHub API client options.
type GitHubConfig struct {
	// Token is an optional API token; unauthenticated requests are
	// heavily rate limited.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// StatsTTLMinutes is the repo statistics cache lifetime.
	StatsTTLMinutes int `mapstructure:"stats_ttl_minutes" yaml:"stats_ttl_minutes"`
}

// ScannerConfig holds certification engine options.
type ScannerConfig struct {
	// Enabled controls whether publishes trigger security scans.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// URL is the certification engine's scan endpoint.
	URL string `mapstructure:"url" yaml:"url,omitempty"`

	// CallbackURL is this registry's externally reachable callback
	// endpoint, handed to the engine with each scan.
	CallbackURL string `mapstructure:"callback_url" yaml:"callback_url,omitempty"`

	// CallbackSecret authenticates engine callbacks.
	CallbackSecret string `mapstructure:"callback_secret" yaml:"callback_secret,omitempty"`

	// FreshnessMinutes suppresses duplicate scan triggers for a version
	// while a recent scan is still in flight.
	FreshnessMinutes int `mapstructure:"freshness_minutes" yaml:"freshness_minutes"`
}

// TasksConfig holds background worker pool options.
type TasksConfig struct {
	MaxWorkers    int `mapstructure:"max_workers" yaml:"max_workers"`
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
}

// LogConfig holds logging options.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// File receives log output; empty logs to stderr.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// TracingConfig holds distributed tracing options.
type TracingConfig struct {
	// Enabled controls whether spans are exported at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Exporter selects the backend: "stdout" or "otlp".
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// OTLPEndpoint is the collector endpoint for the otlp exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// DefaultDataDir returns the default root for registry state.
// Returns ~/.mpak-registry or the current directory if home is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mpak-registry"
	}
	return filepath.Join(home, ".mpak-registry")
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	dataDir := DefaultDataDir()
	return Config{
		Server: ServerConfig{
			Addr:               ":8080",
			MaxUploadMB:        256,
			DownloadTTLMinutes: 15,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "registry.db"),
		},
		Storage: StorageConfig{
			Root: filepath.Join(dataDir, "bundles"),
		},
		GitHub: GitHubConfig{
			StatsTTLMinutes: 60,
		},
		Scanner: ScannerConfig{
			FreshnessMinutes: 15,
		},
		Tasks: TasksConfig{
			MaxWorkers:    4,
			QueueCapacity: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for contradictions that would only
// surface later at runtime.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Scanner.Enabled {
		if c.Scanner.URL == "" {
			return fmt.Errorf("scanner.url is required when the scanner is enabled")
		}
		if c.Scanner.CallbackURL == "" {
			return fmt.Errorf("scanner.callback_url is required when the scanner is enabled")
		}
		if c.Scanner.CallbackSecret == "" {
			return fmt.Errorf("scanner.callback_secret is required when the scanner is enabled")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if c.Tracing.OTLPEndpoint == "" {
				return fmt.Errorf("tracing.otlp_endpoint is required for the otlp exporter")
			}
		default:
			return fmt.Errorf("tracing.exporter %q is not one of stdout, otlp", c.Tracing.Exporter)
		}
	}
	return nil
}
