package postgres

import (
	"github.com/stellarion/api/config"
	"github.com/stellarion/api/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages the Postgres-backed repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and creates a new repository factory
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// Profiles returns the profile system of record
func (f *RepositoryFactory) Profiles() repositories.ProfileRepository {
	return NewProfileRepository(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
