package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/harmonize/internal/shared"
)

// SetupDatabase creates the config file when missing, initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", r.configPath)
			if config, err := shared.LoadConfig(r.configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
			} else {
				r.config = config
			}
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)

	r.writePlain("✓ Database ready at %s\n", r.config.Database.Path)
	if r.config.Credentials.Spotify.Token() == nil {
		r.writePlain("Next: fill in [credentials.spotify] in %s and run `harmonize spotify auth`\n", r.configPath)
	}
	return nil
}

// SetupStatus prints the applied migrations.
func (r *Runner) SetupStatus(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	applied, err := shared.MigrationStatus(db)
	if err != nil {
		return err
	}

	r.writePlainHeader("Database Migrations")
	r.writePlain("Database: %s\n", r.config.Database.Path)
	if len(applied) == 0 {
		r.writePlain("No migrations applied\n")
		return nil
	}
	for _, m := range applied {
		r.writePlain("  %04d  applied %s\n", m.Version, m.AppliedAt)
	}
	return nil
}

// SetupRollback reverts the latest migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return err
	}

	r.logger.Info("rolled back latest migration", "path", r.config.Database.Path)
	r.writePlain("✓ Rolled back the latest migration\n")
	return nil
}
