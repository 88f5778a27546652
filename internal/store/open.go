package store

import (
	"context"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/database"
)

// Open returns the Store selected by cfg.Type.
func Open(ctx context.Context, cfg config.StateStorage) (Store, error) {
	if cfg.Type == config.StorageMemory {
		return NewMemoryStore(), nil
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db), nil
}
