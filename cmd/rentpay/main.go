package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rentpay/internal/config"
	"rentpay/internal/infrastructure/database"

	_ "time/tzdata"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "rentpay",
		Short:         "Rent collection over M-Pesa STK push, one merchant account per landlord",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	return zapConfig.Build()
}

// bootstrap loads configuration, builds the logger and connects to Postgres.
// Every subcommand starts here.
func bootstrap(maxRetries int) (*config.Config, *zap.Logger, *sql.DB, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create zap logger: %w", err)
	}

	logger.Info("Waiting for database to be available...")
	db, err := database.ConnectWithRetry(database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}, maxRetries, 5*time.Second, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, db, nil
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Error("Error closing database connection", zap.Error(err))
		return
	}
	logger.Info("Database connection closed")
}
