package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmerrifield20/ParcelLedger/internal/store"
	"go.uber.org/zap"
)

// DefaultKey is the store key under which the top-level Ledger is kept.
const DefaultKey = "blockchain"

// Adapter persists a whole top-level Ledger, embedded ledgers included, as a
// single value under a fixed key of a store.Store. It implements Saver.
type Adapter struct {
	store  store.Store
	key    string
	opts   []Option // applied to every loaded or created Ledger
	logger *zap.Logger
}

// NewAdapter creates an Adapter. An empty key selects DefaultKey.
func NewAdapter(s store.Store, key string, logger *zap.Logger, opts ...Option) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	return &Adapter{store: s, key: key, opts: opts, logger: logger}
}

// Key returns the store key the Adapter writes to.
func (a *Adapter) Key() string { return a.key }

// Save implements Saver. The Ledger is rewritten in full on every call.
func (a *Adapter) Save(ctx context.Context, l *Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, a.key, data); err != nil {
		return fmt.Errorf("%w: put %q: %w", ErrStorage, a.key, err)
	}

	a.logger.Debug("ledger saved",
		zap.String("key", a.key),
		zap.Int("entries", l.Len()),
		zap.Int("bytes", len(data)),
		zap.String("root", l.Root()),
	)
	return nil
}

// Load reads and decodes the stored Ledger without recomputing any hash.
// A missing or undecodable slot yields ErrEmpty; a failing store yields
// ErrStorage. The returned Ledger is not bound.
func (a *Adapter) Load(ctx context.Context) (*Ledger, error) {
	data, err := a.store.Get(ctx, a.key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("key %q: %w", a.key, ErrEmpty)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", ErrStorage, a.key, err)
	}

	l, err := Decode(data, a.opts...)
	if err != nil {
		a.logger.Warn("stored ledger is corrupt; treating slot as empty",
			zap.String("key", a.key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("key %q: %w: %v", a.key, ErrEmpty, err)
	}
	return l, nil
}

// LoadOrNew loads the stored Ledger or, when the slot is empty, creates and
// saves a fresh one seeded with genesis. Either way the result is bound to a.
func (a *Adapter) LoadOrNew(ctx context.Context, genesis any) (*Ledger, error) {
	l, err := a.Load(ctx)
	switch {
	case err == nil:
		a.logger.Info("ledger loaded",
			zap.String("key", a.key),
			zap.Int("entries", l.Len()),
			zap.String("root", l.Root()),
		)
	case errors.Is(err, ErrEmpty):
		l, err = New(genesis, a.opts...)
		if err != nil {
			return nil, err
		}
		if err := a.Save(ctx, l); err != nil {
			return nil, fmt.Errorf("save fresh ledger: %w", err)
		}
		a.logger.Info("ledger created", zap.String("key", a.key), zap.String("genesis", l.Root()))
	default:
		return nil, err
	}

	l.Bind(a)
	return l, nil
}

// Encode returns the persisted form of l: a JSON array of Records.
func Encode(l *Ledger) ([]byte, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// Decode parses the persisted form produced by Encode, trusting every stored
// field verbatim.
func Decode(data []byte, opts ...Option) (*Ledger, error) {
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return FromRecords(records, opts...)
}
