package cmd

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pipscreen/internal/platform/config"
	"pipscreen/internal/platform/logger"
	"pipscreen/internal/platform/postgres"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "pipctl",
	Short:        "Operator tooling for the PIP screening registry",
	SilenceUsage: true,
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(adminTokenCmd)
	rootCmd.AddCommand(auditCmd)
}

func loadConfig() (config.Server, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Server{}, nil, err
	}
	return cfg, logger.New(cfg.LogFormat, cfg.LogLevel), nil
}

func openDatabase(ctx context.Context, cfg config.Server) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return postgres.Open(ctx, cfg.DatabaseURL)
}
