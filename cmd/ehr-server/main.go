package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mentalspace/ehr/internal/config"
	"github.com/mentalspace/ehr/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "ehr-server",
		Short:        "MentalSpace EHR API server and worker",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run reminder dispatch, remittance polling and the credential sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// bootstrap loads and validates config, builds the logger and opens the pool.
func bootstrap(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	logger := newLogger(os.Getenv("ENV"))
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = newLogger(cfg.Env)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, logger, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")
	return cfg, logger, pool, nil
}
