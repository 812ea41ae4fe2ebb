package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/cassiomorais/orderrecon/internal/infrastructure/config"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

func main() {
	var (
		command string
		steps   int
		dbURL   string
		path    string
	)

	flag.StringVar(&command, "command", "up", "up, down, steps, version or force")
	flag.IntVar(&steps, "n", 1, "Step count for 'steps' (negative rolls back) or version for 'force'")
	flag.StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL, or RECON_DATABASE_* settings)")
	flag.StringVar(&path, "path", "internal/infrastructure/postgres/migrations", "Path to migration files")
	flag.Parse()

	logger := observability.InitLogger("info", "console", os.Stderr)

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load config")
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create migrate instance")
	}
	defer m.Close()

	if err := run(m, command, steps, logger); err != nil {
		logger.Error().Err(err).Str("command", command).Msg("Migration failed")
		m.Close()
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, command string, n int, logger zerolog.Logger) error {
	var err error
	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(n)
	case "force":
		err = m.Force(n)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info().Msg("No migrations applied")
			return nil
		}
		if verr != nil {
			return verr
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Str("command", command).Msg("Schema already up to date")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info().Str("command", command).Msg("Migrations applied")
	return nil
}
