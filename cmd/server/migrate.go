package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/auth-service/internal/config"
	"github.com/sakif/auth-service/internal/logging"
	sqliteRepo "github.com/sakif/auth-service/internal/repository/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadMigrate()
		if err != nil {
			return err
		}
		logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

		if err := ensureDataDir(cfg.DatabaseURL); err != nil {
			return err
		}

		db, err := sqliteRepo.New(cmd.Context(), cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		return db.Migrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
}
