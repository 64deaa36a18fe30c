package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stellarion/api/config"
	"go.uber.org/zap"
)

// Direction selects which way migrations run
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// RunMigrations applies the SQL files under dir (e.g. "migrations") to the database.
// steps limits the number of migrations; zero means all of them.
func RunMigrations(cfg config.DatabaseConfig, dir string, direction Direction, steps int, logger *zap.Logger) error {
	migrator, err := migrate.New("file://"+dir, cfg.URL())
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	switch {
	case steps > 0 && direction == DirectionDown:
		err = migrator.Steps(-steps)
	case steps > 0:
		err = migrator.Steps(steps)
	case direction == DirectionDown:
		err = migrator.Down()
	default:
		err = migrator.Up()
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to apply")
			return nil
		}
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}

	version, dirty, _ := migrator.Version()
	logger.Info("migrations applied",
		zap.String("direction", string(direction)),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
