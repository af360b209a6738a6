// Package shipment implements shipment registration and status tracking on
// top of a two-level chain: one top-level record per shipment, each carrying
// its own status-history ledger in its payload.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"go.uber.org/zap"
)

var (
	// ErrInvalid is returned for requests missing required fields.
	ErrInvalid = errors.New("invalid shipment request")

	// ErrDelivered is returned when updating a shipment whose delivery has
	// already been confirmed.
	ErrDelivered = errors.New("shipment already delivered")
)

// Ledger names passed to the append recorder.
const (
	LedgerShipments = "shipments"
	LedgerHistory   = "history"
)

// AppendRecordFunc is an optional callback invoked after every successful
// in-memory append, with the name of the ledger that grew.
type AppendRecordFunc func(ledger string)

// Service owns the top-level ledger and serializes every operation on it.
// It is the only holder of the ledger; there is no package-level state.
type Service struct {
	mu       sync.Mutex
	ledger   *chain.Ledger
	now      func() time.Time
	onAppend AppendRecordFunc
	logger   *zap.Logger
}

// NewService creates a Service over ledger. Bind ledger to a chain.Adapter
// beforehand for write-through persistence.
func NewService(ledger *chain.Ledger, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, now: time.Now, logger: logger}
}

// SetClock replaces time.Now for history timestamps and delivery times.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.ledger.Configure(chain.WithClock(now))
}

// SetAppendRecorder configures the callback used to count appends.
func (s *Service) SetAppendRecorder(fn AppendRecordFunc) {
	s.onAppend = fn
}

func (s *Service) recordAppend(ledger string) {
	if s.onAppend != nil {
		s.onAppend(ledger)
	}
}

// Register appends a new shipment whose history is seeded with an
// at-origin status. The returned tracking code is the new record's hash.
//
// When only persistence fails, both the Shipment and an error matching
// chain.ErrStorage are returned: the shipment exists in memory but not on disk.
func (s *Service) Register(ctx context.Context, d Details) (*Shipment, error) {
	d = normalize(d)
	if d.Recipient == "" || d.Origin == "" || d.Destination == "" {
		return nil, fmt.Errorf("%w: recipient, origin and destination are required", ErrInvalid)
	}
	if d.Value < 0 || d.Weight < 0 {
		return nil, fmt.Errorf("%w: value and weight must not be negative", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	initial := Status{State: StateAtOrigin, CurrentCity: d.Origin}
	history, err := chain.New(initial, chain.WithClock(s.now))
	if err != nil {
		return nil, fmt.Errorf("seed history: %w", err)
	}

	rec, err := s.ledger.Append(ctx, payload{Shipment: d, History: history})
	if rec == nil {
		return nil, err
	}
	s.recordAppend(LedgerShipments)

	view := buildView(rec, d, history, initial)
	if err != nil {
		s.logger.Error("shipment registered but not persisted",
			zap.String("tracking_code", rec.Hash),
			zap.Error(err),
		)
		return view, err
	}

	s.logger.Info("shipment registered",
		zap.String("tracking_code", rec.Hash),
		zap.Uint64("sequence", rec.Sequence),
		zap.String("destination", d.Destination),
	)
	return view, nil
}

// UpdateStatus appends st to the history of the shipment identified by code.
// The shipment's top-level record keeps its original hash, so the tracking
// code does not change.
func (s *Service) UpdateStatus(ctx context.Context, code string, st Status) (*chain.Record, error) {
	st.State = strings.TrimSpace(st.State)
	st.CurrentCity = strings.TrimSpace(st.CurrentCity)
	if st.State == "" {
		return nil, fmt.Errorf("%w: state is required", ErrInvalid)
	}
	if strings.EqualFold(st.State, StateReceived) {
		return nil, fmt.Errorf("%w: use delivery confirmation to mark a shipment %s", ErrInvalid, StateReceived)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendStatus(ctx, code, func(Details) Status { return st })
}

// ConfirmDelivery records receipt of the shipment at its destination: state
// Received, the reported package condition, the declared value as amount
// paid, and the confirmation time. No further updates are accepted afterwards.
func (s *Service) ConfirmDelivery(ctx context.Context, code, condition string) (*chain.Record, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("%w: package condition is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendStatus(ctx, code, func(d Details) Status {
		paid := d.Value
		return Status{
			State:            StateReceived,
			CurrentCity:      d.Destination,
			PackageCondition: condition,
			AmountPaid:       &paid,
			VerifiedAt:       s.now().UTC().Format(time.RFC3339Nano),
		}
	})
}

// appendStatus must be called with s.mu held.
func (s *Service) appendStatus(ctx context.Context, code string, next func(Details) Status) (*chain.Record, error) {
	_, p, err := s.lookup(code)
	if err != nil {
		return nil, err
	}

	last, err := s.latestStatus(code, p.History)
	if err != nil {
		return nil, err
	}
	if last.State == StateReceived {
		return nil, fmt.Errorf("%s: %w", code, ErrDelivered)
	}

	// p is a decoded copy; nothing is visible until Amend succeeds.
	p.History.Configure(chain.WithClock(s.now))
	st := next(p.Shipment)
	statusRec, err := p.History.Append(ctx, st)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Amend(ctx, code, p); err != nil {
		if errors.Is(err, chain.ErrStorage) {
			s.recordAppend(LedgerHistory)
			s.logger.Error("status appended but not persisted",
				zap.String("tracking_code", code),
				zap.Error(err),
			)
			return statusRec, err
		}
		return nil, err
	}
	s.recordAppend(LedgerHistory)

	s.logger.Info("shipment status appended",
		zap.String("tracking_code", code),
		zap.Uint64("history_sequence", statusRec.Sequence),
		zap.String("state", st.State),
	)
	return statusRec, nil
}

// Track returns the tracking view of the shipment identified by code.
func (s *Service) Track(_ context.Context, code string) (*Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, p, err := s.lookup(code)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestStatus(rec.Hash, p.History)
	if err != nil {
		return nil, err
	}
	return buildView(rec, p.Shipment, p.History, latest), nil
}

// List returns a summary of every registered shipment in registration order.
func (s *Service) List(_ context.Context) ([]*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*Summary{}
	for _, rec := range s.ledger.Entries()[1:] {
		var p payload
		if err := rec.Decode(&p); err != nil {
			return nil, err
		}
		if p.History == nil {
			continue
		}
		latest, err := s.latestStatus(rec.Hash, p.History)
		if err != nil {
			return nil, err
		}
		out = append(out, &Summary{
			TrackingCode: rec.Hash,
			Sequence:     rec.Sequence,
			RegisteredAt: rec.CreatedAt.Time(),
			Recipient:    p.Shipment.Recipient,
			Destination:  p.Shipment.Destination,
			State:        latest.State,
			CurrentCity:  latest.CurrentCity,
			Updates:      p.History.Len() - 1,
		})
	}
	return out, nil
}

// Stats returns the top-level record count and tail hash.
func (s *Service) Stats() (entries int, root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Len(), s.ledger.Root()
}

// Entry returns the top-level record at position index.
func (s *Service) Entry(index int) (*chain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Get(index)
}

// Snapshot returns the persisted form of the top-level ledger.
func (s *Service) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chain.Encode(s.ledger)
}

// lookup resolves code to its top-level record and decoded payload.
// Must be called with s.mu held.
func (s *Service) lookup(code string) (*chain.Record, *payload, error) {
	code = strings.TrimSpace(code)
	rec, err := s.ledger.FindByHash(code)
	if err != nil {
		return nil, nil, err
	}
	var p payload
	if err := rec.Decode(&p); err != nil {
		return nil, nil, err
	}
	if p.History == nil {
		return nil, nil, fmt.Errorf("record %d is not a shipment: %w", rec.Sequence, chain.ErrNotFound)
	}
	return rec, &p, nil
}

func buildView(rec *chain.Record, d Details, history *chain.Ledger, latest Status) *Shipment {
	return &Shipment{
		TrackingCode: rec.Hash,
		Sequence:     rec.Sequence,
		RegisteredAt: rec.CreatedAt.Time(),
		Details:      d,
		Latest:       latest,
		History:      history.Entries(),
	}
}

// latestStatus decodes the last record of a shipment's history.
func (s *Service) latestStatus(code string, history *chain.Ledger) (Status, error) {
	var st Status
	if err := history.Last().Decode(&st); err != nil {
		s.logger.Error("undecodable status record",
			zap.String("tracking_code", code),
			zap.Error(err),
		)
		return Status{}, fmt.Errorf("decode latest status of %s: %w", code, err)
	}
	return st, nil
}

func normalize(d Details) Details {
	d.Recipient = strings.TrimSpace(d.Recipient)
	d.Origin = strings.TrimSpace(d.Origin)
	d.Destination = strings.TrimSpace(d.Destination)
	d.Description = strings.TrimSpace(d.Description)
	d.Dimensions = strings.TrimSpace(d.Dimensions)
	return d
}
