package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, version, force")
		steps      = flag.Int("steps", 0, "Number of migrations to roll back (0 = all)")
		version    = flag.Int("version", -1, "Version to record (force action)")
		dir        = flag.String("dir", "", "Migrations directory (defaults to database.migrations_path)")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := telemetry.SetupLogger(cfg.LogLevel)

	migrationsDir := *dir
	if migrationsDir == "" {
		migrationsDir = cfg.Database.MigrationsPath
	}

	if err := run(cfg.Database.URL, migrationsDir, *action, *steps, *version, logger); err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func run(databaseURL, dir, action string, steps, version int, logger *slog.Logger) error {
	m, err := database.NewMigrator(databaseURL, dir)
	if err != nil {
		return err
	}
	defer m.Close()

	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down(steps)
	case "force":
		if version < 0 {
			return fmt.Errorf("-version is required for force")
		}
		err = m.Force(version)
	case "version":
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return err
	}

	current, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("migrations complete", "action", action, "version", current, "dirty", dirty)
	return nil
}
