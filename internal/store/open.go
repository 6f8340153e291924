package store

import (
	"context"
	"fmt"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/logger"
)

// Open opens the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		logger.Info("Opening SQLite store at %s", cfg.SQLitePath)
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		logger.Info("Opening PostgreSQL store")
		return OpenPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
