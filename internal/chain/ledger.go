package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Saver persists a top-level Ledger. *Adapter satisfies this interface.
type Saver interface {
	Save(ctx context.Context, l *Ledger) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now as the source of creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger is an ordered, append-only sequence of Records that always begins
// with a genesis Record.
type Ledger struct {
	entries []*Record
	now     func() time.Time
	saver   Saver // nil = in-memory only
}

// New creates a Ledger whose genesis Record carries the given payload.
func New(genesis any, opts ...Option) (*Ledger, error) {
	l := &Ledger{now: time.Now}
	l.Configure(opts...)

	first, err := NewRecord(0, genesis, GenesisPrevHash, l.now())
	if err != nil {
		return nil, fmt.Errorf("create genesis record: %w", err)
	}
	l.entries = []*Record{first}
	return l, nil
}

// FromRecords rebuilds a Ledger from previously persisted Records. Stored
// hashes are trusted; only the genesis shape is checked. Use Verify for a
// full integrity pass.
func FromRecords(records []*Record, opts ...Option) (*Ledger, error) {
	if len(records) == 0 {
		return nil, errors.New("ledger has no records")
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("record %d is null", i)
		}
	}
	if g := records[0]; g.Sequence != 0 || g.PreviousHash != GenesisPrevHash {
		return nil, fmt.Errorf("first record is not a genesis record (sequence %d, previousHash %q)",
			g.Sequence, g.PreviousHash)
	}

	l := &Ledger{now: time.Now}
	l.Configure(opts...)
	l.entries = make([]*Record, len(records))
	for i, r := range records {
		l.entries[i] = r.clone()
	}
	return l, nil
}

// Configure applies opts to an existing Ledger, e.g. one decoded from JSON.
func (l *Ledger) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(l)
	}
}

// Bind makes every subsequent mutation write the Ledger through s.
// Only the top-level Ledger is bound; embedded ledgers are saved with it.
func (l *Ledger) Bind(s Saver) {
	l.saver = s
}

// Append adds a Record chained to the current tail and returns a copy of it.
//
// If the Ledger is bound, the whole Ledger is saved before Append returns. A
// failed save still returns the new Record, alongside an error matching
// ErrStorage: the in-memory Ledger keeps the Record even though it was not
// persisted.
func (l *Ledger) Append(ctx context.Context, payload any) (*Record, error) {
	prev := l.entries[len(l.entries)-1]
	rec, err := NewRecord(prev.Sequence+1, payload, prev.Hash, l.now())
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, rec)

	if err := l.Persist(ctx); err != nil {
		return rec.clone(), fmt.Errorf("persist appended record %d: %w", rec.Sequence, err)
	}
	return rec.clone(), nil
}

// Amend replaces the payload of the first Record whose hash matches, leaving
// the Record's hash as originally computed. It exists for payloads that embed
// a growing sub-ledger; a plain Verify reports amended Records, so callers
// that amend verify with VerifyWith.
func (l *Ledger) Amend(ctx context.Context, hash string, payload any) (*Record, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	rec := l.find(hash)
	if rec == nil {
		return nil, fmt.Errorf("amend %q: %w", hash, ErrNotFound)
	}
	rec.Payload = canonical

	if err := l.Persist(ctx); err != nil {
		return rec.clone(), fmt.Errorf("persist amended record %d: %w", rec.Sequence, err)
	}
	return rec.clone(), nil
}

// Persist saves the Ledger through its bound Saver. It is a no-op when the
// Ledger is not bound.
func (l *Ledger) Persist(ctx context.Context) error {
	if l.saver == nil {
		return nil
	}
	if err := l.saver.Save(ctx, l); err != nil {
		if errors.Is(err, ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Get returns a copy of the Record at the given zero-based position.
func (l *Ledger) Get(index int) (*Record, error) {
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d out of range: %w", index, ErrNotFound)
	}
	return l.entries[index].clone(), nil
}

// Len returns the number of Records, genesis included.
func (l *Ledger) Len() int { return len(l.entries) }

// Last returns a copy of the tail Record.
func (l *Ledger) Last() *Record { return l.entries[len(l.entries)-1].clone() }

// Root returns the hash of the tail Record.
func (l *Ledger) Root() string { return l.entries[len(l.entries)-1].Hash }

// Entries returns copies of all Records in sequence order.
func (l *Ledger) Entries() []*Record {
	out := make([]*Record, len(l.entries))
	for i, r := range l.entries {
		out[i] = r.clone()
	}
	return out
}

// FindByHash returns a copy of the first Record, in sequence order, whose hash
// equals hash.
func (l *Ledger) FindByHash(hash string) (*Record, error) {
	rec := l.find(hash)
	if rec == nil {
		return nil, fmt.Errorf("hash %q: %w", hash, ErrNotFound)
	}
	return rec.clone(), nil
}

func (l *Ledger) find(hash string) *Record {
	for _, r := range l.entries {
		if r.Hash == hash {
			return r
		}
	}
	return nil
}

// Verify walks the Ledger and checks the genesis shape, sequence continuity,
// previous-hash linkage, and that every hash matches its Record's fields.
func (l *Ledger) Verify() error {
	return l.VerifyWith(nil)
}

// VerifyWith is Verify with a hook that supplies, per Record, the payload its
// hash committed to. A nil committed func means the stored payload.
func (l *Ledger) VerifyWith(committed func(*Record) (json.RawMessage, error)) error {
	for i, curr := range l.entries {
		if i == 0 {
			if curr.Sequence != 0 || curr.PreviousHash != GenesisPrevHash {
				return integrityErrorf("genesis record has sequence %d and previousHash %q",
					curr.Sequence, curr.PreviousHash)
			}
		} else {
			prev := l.entries[i-1]
			if curr.Sequence != prev.Sequence+1 {
				return integrityErrorf("sequence jumps from %d to %d", prev.Sequence, curr.Sequence)
			}
			if curr.PreviousHash != prev.Hash {
				return integrityErrorf("hash chain broken at sequence %d", curr.Sequence)
			}
		}

		payload := curr.Payload
		if committed != nil {
			p, err := committed(curr)
			if err != nil {
				return integrityErrorf("record %d: %v", curr.Sequence, err)
			}
			payload = p
		}
		if curr.Hash != Digest(curr.Sequence, curr.CreatedAt, curr.PreviousHash, payload) {
			return integrityErrorf("record %d has invalid hash", curr.Sequence)
		}
	}
	return nil
}

// MarshalJSON encodes the Ledger as a JSON array of Records.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes a JSON array of Records with FromRecords semantics.
// The decoded Ledger uses time.Now and is unbound.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode ledger: %w", err)
	}
	decoded, err := FromRecords(records)
	if err != nil {
		return err
	}
	*l = *decoded
	return nil
}
