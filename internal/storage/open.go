package storage

import (
	"context"
	"errors"
	"strings"

	logx "rafflebot/pkg/logx"
)

const DefaultFilePath = "raffle.txt"

// Store is the result log API used by the drawing service and the operator console.
type Store interface {
	Append(ctx context.Context, r Result) error
	// Recent returns up to n results, newest first.
	Recent(ctx context.Context, n int) ([]Result, error)
	Close() error
}

// Open initializes the configured store. An empty driver means "file".
// It returns (nil, ErrDisabled) if storage is turned off.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "none", "off":
		return nil, ErrDisabled
	case "", "file":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultFilePath
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
