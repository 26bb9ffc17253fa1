package queueaccess

import (
	"context"
	"fmt"

	"iencode/internal/config"
	"iencode/internal/mongoqueue"
	"iencode/internal/pgqueue"
	"iencode/internal/queue"
)

// OpenStore opens the job store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (queue.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open store: configuration required")
	}
	switch cfg.Store.Driver {
	case config.StoreSQLite, "":
		store, err := queue.OpenSQLite(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		store, err := pgqueue.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMongo:
		store, err := mongoqueue.Open(ctx, cfg.Store.DSN, cfg.Store.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		return queue.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("open store: unsupported driver %q", cfg.Store.Driver)
	}
}
