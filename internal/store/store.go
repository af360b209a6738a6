// Package store provides the durable key-value slots that hold serialized
// ledgers. Every backend keeps one opaque value per key and overwrites it in
// full on Put.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Store is a durable key-value slot.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the backend's resources.
	Close() error
}

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverLevelDB  = "leveldb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverS3       = "s3"
)

// Config selects and parameterises a backend.
type Config struct {
	Driver string

	// Path is the directory (file, leveldb) or database file (sqlite).
	Path string

	// DSN is the PostgreSQL connection string.
	DSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3 ObjectConfig

	// Timeout bounds connection setup for network backends.
	Timeout time.Duration
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMemory, "":
		s = NewMemory()
	case DriverFile:
		s, err = NewFile(cfg.Path)
	case DriverLevelDB:
		s, err = NewLevelDB(cfg.Path)
	case DriverSQLite:
		s, err = NewSQLite(ctx, cfg.Path)
	case DriverPostgres:
		s, err = NewPostgres(ctx, cfg.DSN, logger)
	case DriverRedis:
		s, err = NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case DriverS3:
		s, err = NewObjectStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	logger.Info("store opened", zap.String("driver", driverName(cfg.Driver)))
	return s, nil
}

func driverName(d string) string {
	if d == "" {
		return DriverMemory
	}
	return d
}
