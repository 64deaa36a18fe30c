package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stellarion/api/internal/observability"
	"go.uber.org/zap"
)

// newRootCmd builds the stellarion command tree
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stellarion",
		Short:         "Stellarion session and access API",
		SilenceUsage:  true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newRolesCmd())
	return root
}

// initLogger initializes the zap logger from LOG_LEVEL and LOG_FORMAT
func initLogger() (*zap.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = observability.FormatJSON
	}
	return observability.NewLogger(level, format)
}
