package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./tsundoku.db" {
			t.Errorf("expected database path ./tsundoku.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Sync.Interval.Duration != 60*time.Second {
			t.Errorf("expected sync interval 60s, got %v", config.Sync.Interval)
		}

		if config.Sync.NotifyDelay.Duration != 1500*time.Millisecond {
			t.Errorf("expected notify delay 1.5s, got %v", config.Sync.NotifyDelay)
		}

		if config.Queue.MaxItems != 500 {
			t.Errorf("expected queue max items 500, got %d", config.Queue.MaxItems)
		}

		if config.Queue.DeadLetterPermanent {
			t.Error("expected permanent failures to stay queued by default")
		}

		if config.Tracker.APIURL != "https://graphql.anilist.co" {
			t.Errorf("expected anilist api url, got %s", config.Tracker.APIURL)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[sync]
interval = "5m"
item_delay = "250ms"

[tracker]
client_id = "test_client_id"

[queue]
dead_letter_permanent = true
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Sync.Interval.Duration != 5*time.Minute {
			t.Errorf("expected interval 5m, got %v", config.Sync.Interval)
		}

		if config.Sync.ItemDelay.Duration != 250*time.Millisecond {
			t.Errorf("expected item delay 250ms, got %v", config.Sync.ItemDelay)
		}

		if config.Tracker.ClientID != "test_client_id" {
			t.Errorf("expected client_id test_client_id, got %s", config.Tracker.ClientID)
		}

		if !config.Queue.DeadLetterPermanent || config.Queue.MaxItems != 500 {
			t.Errorf("unexpected queue config %+v", config.Queue)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected default port to survive partial config, got %d", config.Server.Port)
		}
	})

	t.Run("LoadConfig rejects bad duration", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[sync]\ninterval = \"soon\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Fatal("expected error for invalid duration")
		}
	})
}

func TestDuration(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1500ms")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d.Duration)
	}

	err := d.UnmarshalText([]byte("later"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	text, err := d.MarshalText()
	if err != nil || string(text) != "1.5s" {
		t.Errorf("MarshalText() = %q, %v", text, err)
	}
}
