package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB stores slots in an embedded LevelDB database.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) the database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, errors.New("leveldb store requires a path")
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Get implements Store.
func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %q: %w", key, err)
	}
	return v, nil
}

// Put implements Store. The write is synced before returning.
func (l *LevelDB) Put(_ context.Context, key string, value []byte) error {
	if err := l.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb put %q: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (l *LevelDB) Close() error { return l.db.Close() }
