package main

import (
	"github.com/spf13/cobra"

	"rentpay/internal/infrastructure/database"
)

func migrateCmd() *cobra.Command {
	var retries int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := bootstrap(retries)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer closeDB(db, logger)

			return database.RunMigrations(db, logger)
		},
	}
	cmd.Flags().IntVar(&retries, "db-retries", 10, "database connection attempts before giving up")
	return cmd
}
