package storage

import (
	"errors"
	"strings"

	logx "datealerts/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (*SQLiteStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "none":
		return nil, ErrDisabled
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
