// Command server runs the authentication service.
//
//	server            start the HTTP server (same as "server serve")
//	server serve      start the HTTP server
//	server migrate up apply database migrations and exit
//
// Settings come from the environment and an optional .env file; see
// internal/config.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	sqliteRepo "github.com/sakif/auth-service/internal/repository/sqlite"
)

var rootCmd = &cobra.Command{
	Use:          "server",
	Short:        "Authentication service: password and OAuth login with JWT access tokens",
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ensureDataDir creates the directory holding a file database, like
// `mkdir -p`. In-memory and URI paths are left alone.
func ensureDataDir(dbPath string) error {
	if dbPath == sqliteRepo.MemoryPath || strings.HasPrefix(dbPath, "file:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
