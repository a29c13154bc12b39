package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	for _, dir := range []string{config.Downloads.Dir, config.Providers.ManifestDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			r.logger.Warn("failed to create directory", "path", dir, "error", err)
		}
	}

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	r.writePlain("%s\n", ui.Styles.OK("✓ Setup complete"))
	r.writePlain("Config:   %s\n", configPath)
	r.writePlain("Database: %s\n", config.Database.Path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set tracker.client_id and tracker.client_secret in %s\n", configPath)
	r.writePlain("2. Run 'tsundoku auth login' to connect your AniList account\n")
	return nil
}

// SetupMigrations lists every embedded migration and whether it has been applied.
func (r *Runner) SetupMigrations(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}
	if r.db == nil {
		return fmt.Errorf("%w: no database configured", shared.ErrServiceUnavailable)
	}

	states, err := shared.MigrationStatus(r.db)
	if err != nil {
		return err
	}

	for _, s := range states {
		mark := ui.Styles.Warn("pending")
		if s.Applied {
			mark = ui.Styles.OK("applied")
		}
		r.writePlain("%03d %-24s %s\n", s.Version, s.Name, mark)
	}
	return nil
}

// SetupRollback reverts the latest applied migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}
	if r.db == nil {
		return fmt.Errorf("%w: no database configured", shared.ErrServiceUnavailable)
	}

	if err := shared.RollbackMigration(r.db); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return r.writePlain("%s\n", ui.Styles.OK("✓ Rolled back the latest migration"))
}
