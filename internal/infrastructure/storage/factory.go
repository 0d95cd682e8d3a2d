package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	"ContrarianTracker/internal/config"
	"ContrarianTracker/internal/ports"
)

// NewMasterStore creates the configured master-store backend.
func NewMasterStore(logger *slog.Logger, cfg config.DatabaseConfig) (ports.MasterStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, logger)
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return NewPostgresStore(db)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
