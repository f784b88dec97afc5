package exec

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"carry-engine/internal/config"
	"carry-engine/internal/state"
	"carry-engine/internal/strategy"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]state.Entry, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []state.Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, state.Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

type fakeSigner struct {
	err error
}

func (s *fakeSigner) Sign(ctx context.Context, payload OrderPayload) (Signature, error) {
	_ = ctx
	if s.err != nil {
		return Signature{}, s.err
	}
	return Signature{Digest: "sig-" + payload.ClientOrderID}, nil
}

type fakeVenue struct {
	mu        sync.Mutex
	submitErr error
	reports   []StatusReport
	submits   int
	polls     int
	closeAll  []string
}

func (v *fakeVenue) Submit(ctx context.Context, payload OrderPayload, sig Signature) (string, error) {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submits++
	if sig.Digest == "" {
		return "", errors.New("unsigned order")
	}
	if v.submitErr != nil {
		return "", v.submitErr
	}
	return "oid-" + payload.ClientOrderID, nil
}

func (v *fakeVenue) PollStatus(ctx context.Context, venueOrderID string) (StatusReport, bool, error) {
	_ = ctx
	_ = venueOrderID
	v.mu.Lock()
	defer v.mu.Unlock()
	v.polls++
	if len(v.reports) == 0 {
		return StatusReport{}, false, nil
	}
	report := v.reports[0]
	if len(v.reports) > 1 {
		v.reports = v.reports[1:]
	}
	return report, true, nil
}

func (v *fakeVenue) CloseAll(ctx context.Context, symbol string) error {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeAll = append(v.closeAll, symbol)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recorder) sink(ev OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderEvent(nil), r.events...)
}

var testTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func testOrderConfig() config.OrderConfig {
	return config.OrderConfig{PollInterval: time.Millisecond, PollAttempts: 3, SubmitTimeout: time.Second}
}

// newSyncCoordinator runs lifecycles inline so tests observe every event
// before Submit returns.
func newSyncCoordinator(venue *fakeVenue, signer *fakeSigner, store state.Store) (*Coordinator, *recorder) {
	routes := map[string]Route{
		"SPOT": {Signer: signer, Venue: venue},
		"PERP": {Signer: signer, Venue: venue},
	}
	c := New(testOrderConfig(), routes, store, nil, zap.NewNop())
	rec := &recorder{}
	c.SetSink(rec.sink)
	c.SetRunner(func(fn func()) { fn() })
	c.SetClock(func() time.Time { return testTime })
	return c, rec
}

func testInstrument() *strategy.Instrument {
	return strategy.NewInstrument("BTC", strategy.NewPosition("BTC", "SPOT", "BTC/USDC", "PERP", "BTC"))
}
