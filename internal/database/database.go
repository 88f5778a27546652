package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
)

// ErrStoreLocked is returned when another process already holds the local store.
var ErrStoreLocked = errors.New("local store is locked by another process")

type Database struct {
	DB      *sql.DB
	Dialect string
	Config  config.StateStorage

	lock *flock.Flock
}

// Open connects to the configured SQL backend and applies migrations.
func Open(ctx context.Context, cfg config.StateStorage) (*Database, error) {
	switch cfg.Type {
	case config.StorageSQLite:
		return openSQLite(ctx, cfg)
	case config.StorageMySQL:
		return openMySQL(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported sql storage type %q", cfg.Type)
	}
}

func openSQLite(ctx context.Context, cfg config.StateStorage) (*Database, error) {
	lock := flock.New(cfg.FilePath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, lock.Path())
	}

	db, err := sql.Open("sqlite3", cfg.FilePath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &Database{DB: db, Dialect: config.StorageSQLite, Config: cfg, lock: lock}
	if err := d.applyPragmas(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := Migrate(ctx, d); err != nil {
		d.Close()
		return nil, err
	}

	logger.Log.Info("Opened local store", zap.String("path", cfg.FilePath))
	return d, nil
}

func (d *Database) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := d.DB.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func openMySQL(ctx context.Context, cfg config.StateStorage) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{DB: db, Dialect: config.StorageMySQL, Config: cfg}
	if err := Migrate(ctx, d); err != nil {
		d.Close()
		return nil, err
	}

	logger.Log.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return d, nil
}

func (d *Database) Close() error {
	err := d.DB.Close()
	if d.lock != nil {
		if uerr := d.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
