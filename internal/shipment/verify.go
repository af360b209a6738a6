package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"go.uber.org/zap"
)

// registeredHistoryLen is the number of history records a shipment carries
// when its top-level record is hashed.
const registeredHistoryLen = 1

// Verify checks both levels of the chain.
//
// Status updates rewrite a shipment's payload without rehashing its
// top-level record, so each top-level hash is checked against the payload as
// it was at registration: the stored shipment details plus the first
// registeredHistoryLen history records. Every history sub-ledger is then
// verified on its own, which covers the updates appended since.
func (s *Service) Verify(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ledger.VerifyWith(committedPayload)
	if err != nil {
		s.logger.Warn("ledger verification failed", zap.Error(err))
	}
	return err
}

func committedPayload(rec *chain.Record) (json.RawMessage, error) {
	if rec.Sequence == 0 {
		return rec.Payload, nil
	}

	var p rawPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.History == nil {
		return rec.Payload, nil
	}

	if err := p.History.Verify(); err != nil {
		return nil, fmt.Errorf("history of %s: %w", rec.Hash, err)
	}
	if p.History.Len() < registeredHistoryLen {
		return nil, errors.New("history is shorter than at registration")
	}

	registered, err := chain.FromRecords(p.History.Entries()[:registeredHistoryLen])
	if err != nil {
		return nil, err
	}
	return chain.Canonicalize(rawPayload{Shipment: p.Shipment, History: registered})
}
