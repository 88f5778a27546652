package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies the embedded migrations for d's dialect.
func Migrate(ctx context.Context, d *Database) error {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch d.Dialect {
	case config.StorageSQLite:
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	case config.StorageMySQL:
		dialect, dir = goose.DialectMySQL, "migrations/mysql"
	default:
		return fmt.Errorf("no migrations for dialect %q", d.Dialect)
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(dialect, d.DB, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		logger.Log.Info("Applied migration",
			zap.String("source", r.Source.Path),
			zap.Duration("duration", r.Duration))
	}
	return nil
}
