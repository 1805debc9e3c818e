package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/auth-service/internal/config"
	"github.com/sakif/auth-service/internal/logging"
	"github.com/sakif/auth-service/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server. Pending migrations are applied first.
The server stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	if err := ensureDataDir(cfg.DatabaseURL); err != nil {
		return err
	}

	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until the server is shut down.
	return srv.Start()
}
