package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stellarion/api/config"
	"github.com/stellarion/api/repositories/postgres"
)

func newMigrateCmd() *cobra.Command {
	var (
		dir   string
		steps int
	)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	migrateCmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (defaults to DB_MIGRATIONS_DIR)")
	migrateCmd.PersistentFlags().IntVar(&steps, "steps", 0, "number of migrations to apply; zero applies all")

	run := func(direction postgres.Direction) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("steps must not be negative, got %d", steps)
			}

			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return errors.New("no database configured; set DATABASE_URL or DB_HOST")
			}

			logger, err := initLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if dir == "" {
				dir = cfg.Database.MigrationsDir
			}
			return postgres.RunMigrations(cfg.Database, dir, direction, steps, logger)
		}
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply up migrations",
		RunE:  run(postgres.DirectionUp),
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE:  run(postgres.DirectionDown),
	})
	return migrateCmd
}
