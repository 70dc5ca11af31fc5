package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"quizgen/internal/application/common/slogger"

	"github.com/spf13/cobra"
)

const migrateTimeout = 5 * time.Minute

// newMigrateCmd creates and returns the migrate command.
func newMigrateCmd() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run database migrations to set up or update the database schema.

Applies every .sql file in the migrations directory in lexical order. The
files are idempotent (CREATE ... IF NOT EXISTS), so re-running is safe.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrations(migrationsDir)
		},
	}

	cmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "Directory containing migration files")
	return cmd
}

func runMigrations(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return fmt.Errorf("no migration files found in %s", dir)
	}

	pool, err := setupDatabaseConnection(GetConfig())
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	for _, file := range files {
		sql, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		slogger.InfoNoCtx("Applied migration", slogger.Fields{"file": file})
	}
	return nil
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newMigrateCmd())
}
