package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres stores slots in a PostgreSQL table. Values are kept as BYTEA, not
// JSONB, because JSONB normalises key order and whitespace and the ledger must
// read back byte for byte.
type Postgres struct {
	pool   *pgxpool.Pool
	owned  bool // close the pool on Close
	logger *zap.Logger
}

// NewPostgres connects to dsn, pings, and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires a DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := NewPostgresFromPool(pool, logger)
	p.owned = true
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromPool wraps an existing pool. The pool is not closed by Close.
func NewPostgresFromPool(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// Migrate creates the ledger_slots table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_slots (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create ledger_slots: %w", err)
	}
	return nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM ledger_slots WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select slot %q: %w", key, err)
	}
	return value, nil
}

// Put implements Store.
func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO ledger_slots (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert slot %q: %w", key, err)
	}
	p.logger.Debug("postgres slot written",
		zap.String("key", key),
		zap.Int("bytes", len(value)),
		zap.Int64("rows", tag.RowsAffected()),
	)
	return nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	if p.owned {
		p.pool.Close()
	}
	return nil
}
