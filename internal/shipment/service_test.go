package shipment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"github.com/jmerrifield20/ParcelLedger/internal/shipment"
	"github.com/jmerrifield20/ParcelLedger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

func clock() func() time.Time {
	t := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func sampleDetails() shipment.Details {
	return shipment.Details{
		Recipient:   "Ana Torres",
		Origin:      "Quito",
		Destination: "Guayaquil",
		Value:       120.5,
		Description: "books",
		Dimensions:  "30x20x10",
		Weight:      2.4,
	}
}

// newService returns a Service persisted to s (a fresh memory store when nil).
func newService(t *testing.T, s store.Store) (*shipment.Service, *chain.Adapter) {
	t.Helper()
	if s == nil {
		s = store.NewMemory()
	}
	adapter := chain.NewAdapter(s, "", zap.NewNop(), chain.WithClock(clock()))
	l, err := adapter.LoadOrNew(ctx, shipment.Genesis{Message: "genesis"})
	require.NoError(t, err)

	svc := shipment.NewService(l, zap.NewNop())
	svc.SetClock(clock())
	return svc, adapter
}

func TestRegister(t *testing.T) {
	svc, _ := newService(t, nil)

	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)

	entries, root := svc.Stats()
	assert.Equal(t, 2, entries, "genesis + one shipment")
	assert.Equal(t, root, sh.TrackingCode)
	assert.Equal(t, uint64(1), sh.Sequence)

	require.Len(t, sh.History, 1)
	assert.Equal(t, chain.GenesisPrevHash, sh.History[0].PreviousHash)
	assert.Equal(t, shipment.StateAtOrigin, sh.Latest.State)
	assert.Equal(t, "Quito", sh.Latest.CurrentCity)
	assert.Equal(t, sampleDetails(), sh.Details)
}

func TestRegister_invalid(t *testing.T) {
	svc, _ := newService(t, nil)
	d := sampleDetails()
	d.Origin = "   "

	_, err := svc.Register(ctx, d)
	assert.ErrorIs(t, err, shipment.ErrInvalid)

	entries, _ := svc.Stats()
	assert.Equal(t, 1, entries)
}

func TestUpdateStatus_extendsNestedHistory(t *testing.T) {
	svc, _ := newService(t, nil)
	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)

	rec, err := svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: "In transit", CurrentCity: "Ambato"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)

	entries, _ := svc.Stats()
	assert.Equal(t, 2, entries, "status updates must not add top-level records")

	tracked, err := svc.Track(ctx, sh.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, sh.TrackingCode, tracked.TrackingCode, "tracking code is stable")
	require.Len(t, tracked.History, 2)
	assert.Equal(t, tracked.History[0].Hash, tracked.History[1].PreviousHash)
	assert.Equal(t, rec.Hash, tracked.History[1].Hash)
	assert.Equal(t, "In transit", tracked.Latest.State)
	assert.Equal(t, "Ambato", tracked.Latest.CurrentCity)

	assert.NoError(t, svc.Verify(ctx))
}

func TestRegister_rejectsNegativeAmounts(t *testing.T) {
	svc, _ := newService(t, nil)

	for name, edit := range map[string]func(*shipment.Details){
		"value":  func(d *shipment.Details) { d.Value = -50 },
		"weight": func(d *shipment.Details) { d.Weight = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			d := sampleDetails()
			edit(&d)
			_, err := svc.Register(ctx, d)
			assert.ErrorIs(t, err, shipment.ErrInvalid)
		})
	}

	entries, _ := svc.Stats()
	assert.Equal(t, 1, entries)
}

func TestUpdateStatus_cannotMarkReceived(t *testing.T) {
	svc, _ := newService(t, nil)
	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)

	for _, state := range []string{shipment.StateReceived, " received "} {
		_, err = svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: state, CurrentCity: "Guayaquil"})
		assert.ErrorIs(t, err, shipment.ErrInvalid, state)
	}

	tracked, err := svc.Track(ctx, sh.TrackingCode)
	require.NoError(t, err)
	assert.Len(t, tracked.History, 1)

	rec, err := svc.ConfirmDelivery(ctx, sh.TrackingCode, "intact")
	require.NoError(t, err, "delivery must still be confirmable")
	var st shipment.Status
	require.NoError(t, rec.Decode(&st))
	assert.Equal(t, "intact", st.PackageCondition)
}

func TestUpdateStatus_unknownCode(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.UpdateStatus(ctx, "nope", shipment.Status{State: "Lost"})
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestUpdateStatus_requiresState(t *testing.T) {
	svc, _ := newService(t, nil)
	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{CurrentCity: "Loja"})
	assert.ErrorIs(t, err, shipment.ErrInvalid)
}

func TestConfirmDelivery(t *testing.T) {
	svc, _ := newService(t, nil)
	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)

	rec, err := svc.ConfirmDelivery(ctx, sh.TrackingCode, "intact")
	require.NoError(t, err)

	var st shipment.Status
	require.NoError(t, rec.Decode(&st))
	assert.Equal(t, shipment.StateReceived, st.State)
	assert.Equal(t, "intact", st.PackageCondition)
	assert.Equal(t, "Guayaquil", st.CurrentCity)
	require.NotNil(t, st.AmountPaid)
	assert.Equal(t, 120.5, *st.AmountPaid)
	_, err = time.Parse(time.RFC3339Nano, st.VerifiedAt)
	assert.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: "In transit"})
	assert.ErrorIs(t, err, shipment.ErrDelivered)
	_, err = svc.ConfirmDelivery(ctx, sh.TrackingCode, "intact")
	assert.ErrorIs(t, err, shipment.ErrDelivered)
}

func TestTrack_genesisIsNotAShipment(t *testing.T) {
	svc, _ := newService(t, nil)
	g, err := svc.Entry(0)
	require.NoError(t, err)

	_, err = svc.Track(ctx, g.Hash)
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestRestart_preservesShipments(t *testing.T) {
	s := store.NewMemory()
	svc, _ := newService(t, s)

	first, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)
	second, err := svc.Register(ctx, shipment.Details{Recipient: "Luis", Origin: "Cuenca", Destination: "Manta"})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, first.TrackingCode, shipment.Status{State: "In transit", CurrentCity: "Riobamba"})
	require.NoError(t, err)

	before, err := svc.Track(ctx, first.TrackingCode)
	require.NoError(t, err)

	restarted, _ := newService(t, s)
	after, err := restarted.Track(ctx, first.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	list, err := restarted.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.TrackingCode, list[0].TrackingCode)
	assert.Equal(t, 1, list[0].Updates)
	assert.Equal(t, "Riobamba", list[0].CurrentCity)
	assert.Equal(t, second.TrackingCode, list[1].TrackingCode)
	assert.Equal(t, shipment.StateAtOrigin, list[1].State)

	assert.NoError(t, restarted.Verify(ctx))
}

// tamper rewrites the stored ledger through a generic JSON round trip.
func tamper(t *testing.T, s store.Store, edit func(records []map[string]any)) {
	t.Helper()
	data, err := s.Get(ctx, chain.DefaultKey)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	edit(records)
	out, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, chain.DefaultKey, out))
}

func TestVerify_detectsTampering(t *testing.T) {
	cases := map[string]func(records []map[string]any){
		"shipment details": func(records []map[string]any) {
			p := records[1]["payload"].(map[string]any)
			p["shipment"].(map[string]any)["value"] = 1
		},
		"history status": func(records []map[string]any) {
			p := records[1]["payload"].(map[string]any)
			h := p["history"].([]any)[1].(map[string]any)
			h["payload"].(map[string]any)["currentCity"] = "Elsewhere"
		},
		"first history entry": func(records []map[string]any) {
			p := records[1]["payload"].(map[string]any)
			h := p["history"].([]any)[0].(map[string]any)
			h["payload"].(map[string]any)["currentCity"] = "Elsewhere"
		},
	}

	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			s := store.NewMemory()
			svc, _ := newService(t, s)
			sh, err := svc.Register(ctx, sampleDetails())
			require.NoError(t, err)
			_, err = svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: "In transit", CurrentCity: "Ambato"})
			require.NoError(t, err)

			tamper(t, s, func(records []map[string]any) {})
			untouched, _ := newService(t, s)
			require.NoError(t, untouched.Verify(ctx), "generic round trip alone must not break verification")

			tamper(t, s, edit)
			reloaded, _ := newService(t, s)
			assert.ErrorIs(t, reloaded.Verify(ctx), chain.ErrIntegrity)
		})
	}
}

func TestTrack_undecodableStatusIsReported(t *testing.T) {
	s := store.NewMemory()
	svc, _ := newService(t, s)
	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)

	tamper(t, s, func(records []map[string]any) {
		p := records[1]["payload"].(map[string]any)
		p["history"].([]any)[0].(map[string]any)["payload"] = "not a status"
	})
	reloaded, _ := newService(t, s)

	_, err = reloaded.Track(ctx, sh.TrackingCode)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, chain.ErrNotFound)

	_, err = reloaded.List(ctx)
	assert.Error(t, err)

	_, err = reloaded.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: "In transit"})
	assert.Error(t, err)
}

func TestSetClock_concurrentWithRegister(t *testing.T) {
	svc, _ := newService(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.SetClock(clock())
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, sampleDetails())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, _ := svc.Stats()
	assert.Equal(t, 5, entries)
}

// failingStore accepts the first n writes and then rejects every Put.
type failingStore struct {
	*store.Memory
	allowed int
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if f.allowed <= 0 {
		return errors.New("quota exceeded")
	}
	f.allowed--
	return f.Memory.Put(ctx, key, value)
}

func TestRegister_storageFailureIsSurfaced(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory(), allowed: 1} // genesis only
	svc, _ := newService(t, fs)

	sh, err := svc.Register(ctx, sampleDetails())
	assert.ErrorIs(t, err, chain.ErrStorage)
	require.NotNil(t, sh, "the in-memory shipment is still reported")

	tracked, err := svc.Track(ctx, sh.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, sh.TrackingCode, tracked.TrackingCode)

	_, err = svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: "In transit"})
	assert.ErrorIs(t, err, chain.ErrStorage)
}

func TestAppendRecorder(t *testing.T) {
	svc, _ := newService(t, nil)
	counts := map[string]int{}
	svc.SetAppendRecorder(func(ledger string) { counts[ledger]++ })

	sh, err := svc.Register(ctx, sampleDetails())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, sh.TrackingCode, shipment.Status{State: "In transit"})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{shipment.LedgerShipments: 1, shipment.LedgerHistory: 1}, counts)
}
