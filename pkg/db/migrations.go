package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// LoadMigrationFiles reads all .sql files in the given directory, sorted by
// file name, and returns their contents.
func LoadMigrationFiles(migrationPath string) ([]string, error) {
	entries, err := os.ReadDir(migrationPath)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, migrationPath, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var files []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(migrationPath, name))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, name, err)
		}
		files = append(files, string(data))
	}
	return files, nil
}

// RunMigrations applies SQL migration files in order. Migrations are
// forward-only.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", migrationsLogPrefix, len(migrationFiles)))

	for _, sql := range migrationFiles {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration failed: %w", migrationsLogPrefix, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", migrationsLogPrefix))
	return nil
}
