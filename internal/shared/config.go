package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Tracker   TrackerConfig   `toml:"tracker"`
	Sync      SyncConfig      `toml:"sync"`
	Queue     QueueConfig     `toml:"queue"`
	Network   NetworkConfig   `toml:"network"`
	Downloads DownloadsConfig `toml:"downloads"`
	Providers ProvidersConfig `toml:"providers"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local OAuth callback server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TrackerConfig contains the remote tracking service credentials and endpoints.
type TrackerConfig struct {
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	RedirectURI       string `toml:"redirect_uri"`
	APIURL            string `toml:"api_url"`
	TokenPath         string `toml:"token_path"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// SyncConfig controls the synchronization engine and its scheduler.
type SyncConfig struct {
	Interval    Duration `toml:"interval"`
	ItemDelay   Duration `toml:"item_delay"`
	NotifyDelay Duration `toml:"notify_delay"`
	Notify      bool     `toml:"notify"`
}

// QueueConfig bounds the offline mutation queue.
type QueueConfig struct {
	MaxItems int `toml:"max_items"`
	// DeadLetterPermanent moves items whose replay failed permanently to the dead-letter list instead of
	// retrying them on every drain.
	DeadLetterPermanent bool `toml:"dead_letter_permanent"`
}

// NetworkConfig controls connectivity probing.
type NetworkConfig struct {
	ProbeURL      string   `toml:"probe_url"`
	ProbeInterval Duration `toml:"probe_interval"`
}

// DownloadsConfig controls where downloaded content units are written.
type DownloadsConfig struct {
	Dir string `toml:"dir"`
}

// ProvidersConfig lists where content providers are loaded from.
type ProvidersConfig struct {
	ManifestDir string `toml:"manifest_dir"`
	LocalRoot   string `toml:"local_root"`
}

// Duration is a [time.Duration] that decodes from TOML strings such as "60s" or "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
