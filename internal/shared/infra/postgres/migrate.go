package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// RunMigrations applies the pending SQL migrations found under subdir of fsys.
// Each service tracks its own version in tableName so the quote and notifier
// schemas can share one database. goose needs database/sql, so a short-lived
// connection is opened next to the pool.
func RunMigrations(ctx context.Context, databaseURL string, fsys fs.FS, subdir, tableName string, logger *slog.Logger) error {
	migrations, err := fs.Sub(fsys, subdir)
	if err != nil {
		return fmt.Errorf("failed to open migrations dir %q: %w", subdir, err)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migration: %w", err)
	}
	defer db.Close()

	store, err := database.NewStore(database.DialectPostgres, tableName)
	if err != nil {
		return fmt.Errorf("failed to create goose store: %w", err)
	}

	provider, err := goose.NewProvider("", db, migrations, goose.WithStore(store))
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			"table", tableName,
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}
	return nil
}
