package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"carry-engine/internal/alerts"
	"carry-engine/internal/config"
	"carry-engine/internal/exec"
	"carry-engine/internal/market"
	"carry-engine/internal/state"
	"carry-engine/internal/strategy"

	"go.uber.org/zap"
)

var testStart = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

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

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, payload exec.OrderPayload) (exec.Signature, error) {
	_ = ctx
	return exec.Signature{Digest: "sig-" + payload.ClientOrderID}, nil
}

// fakeVenue fills every accepted order in full at its reference price. The
// next hold[symbol] orders on a symbol stay accepted until a test fills them.
type fakeVenue struct {
	mu       sync.Mutex
	reject   map[string]string
	hold     map[string]int
	held     map[string]bool
	orders   map[string]exec.OrderPayload
	closeAll []string
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		reject: make(map[string]string),
		hold:   make(map[string]int),
		held:   make(map[string]bool),
		orders: make(map[string]exec.OrderPayload),
	}
}

func (v *fakeVenue) Submit(ctx context.Context, payload exec.OrderPayload, sig exec.Signature) (string, error) {
	_ = ctx
	_ = sig
	v.mu.Lock()
	defer v.mu.Unlock()
	if reason, ok := v.reject[payload.Symbol]; ok {
		return "", exec.Reject(reason)
	}
	oid := "oid-" + payload.ClientOrderID
	v.orders[oid] = payload
	if v.hold[payload.Symbol] > 0 {
		v.hold[payload.Symbol]--
		v.held[oid] = true
	}
	return oid, nil
}

func (v *fakeVenue) PollStatus(ctx context.Context, venueOrderID string) (exec.StatusReport, bool, error) {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.orders[venueOrderID]
	if !ok {
		return exec.StatusReport{}, false, nil
	}
	if v.held[venueOrderID] {
		return exec.StatusReport{Status: exec.StatusAccepted}, true, nil
	}
	return exec.StatusReport{Status: exec.StatusFilled, FilledQty: p.Quantity, FilledPrice: p.RefPrice}, true, nil
}

func (v *fakeVenue) CloseAll(ctx context.Context, symbol string) error {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeAll = append(v.closeAll, symbol)
	return nil
}

func (v *fakeVenue) submitted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, alert alerts.Alert) error {
	_ = ctx
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, alert.Text())
	return nil
}

func (n *fakeNotifier) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, msg := range n.messages {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		TargetInstruments:        []string{"BTC"},
		MaxPositionSizeUSD:       10000,
		MaxTotalExposureUSD:      50000,
		RebalanceThresholdPct:    2,
		MinFundingRateAPY:        10,
		MaxLeverage:              3,
		RebalanceCooldownMinutes: 10,
		EmergencyExitLossPct:     5,
		SpotVenue:                "SPOT",
		PerpVenue:                "PERP",
		Symbols: map[string]config.SymbolConfig{
			"BTC": {Spot: "BTC/USDC", Perp: "BTC-PERP"},
		},
		EvaluationInterval: time.Hour,
	}
}

type harness struct {
	engine   *Engine
	venue    *fakeVenue
	store    *memoryStore
	notifier *fakeNotifier
	clock    *testClock
	cache    *market.Cache
}

func newHarness(t *testing.T, venue *fakeVenue, store *memoryStore) *harness {
	t.Helper()
	return newHarnessWithOrders(t, venue, store, config.OrderConfig{PollInterval: time.Millisecond, PollAttempts: 5, SubmitTimeout: time.Second})
}

// newHarnessWithOrders lets a test keep held orders polling for as long as it
// needs.
func newHarnessWithOrders(t *testing.T, venue *fakeVenue, store *memoryStore, orders config.OrderConfig) *harness {
	t.Helper()
	if venue == nil {
		venue = newFakeVenue()
	}
	if store == nil {
		store = newMemoryStore()
	}
	clock := &testClock{now: testStart}
	cache := market.NewCache(time.Minute)
	cache.SetClock(clock.Now)
	routes := map[string]exec.Route{
		"SPOT": {Signer: fakeSigner{}, Venue: venue},
		"PERP": {Signer: fakeSigner{}, Venue: venue},
	}
	coord := exec.New(orders, routes, store, nil, zap.NewNop())
	coord.SetClock(clock.Now)
	notifier := &fakeNotifier{}
	e, err := New(testEngineConfig(), Deps{
		Cache:       cache,
		Coordinator: coord,
		Store:       store,
		Notifier:    notifier,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.SetClock(clock.Now)
	return &harness{engine: e, venue: venue, store: store, notifier: notifier, clock: clock, cache: cache}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, e *Engine, instrument string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, _ := e.Snapshot(instrument)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// seedOpen persists a hedged BTC position for the engine to restore.
func seedOpen(t *testing.T, store *memoryStore, spotQty, perpQty, price float64) {
	t.Helper()
	inst := strategy.NewInstrument("BTC", strategy.NewPosition("BTC", "SPOT", "BTC/USDC", "PERP", "BTC-PERP"))
	inst.Position.Spot.ApplyFill(true, spotQty, price)
	inst.Position.Perp.ApplyFill(false, perpQty, price)
	inst.Position.OpenedAt = testStart.Add(-time.Hour)
	inst.Phase = strategy.StateHedgeOK
	if err := state.SaveInstrument(context.Background(), store, *inst); err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
}

func hasHistory(snap Snapshot, action string) bool {
	for _, h := range snap.History {
		if h.Action == action {
			return true
		}
	}
	return false
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func longPolling() config.OrderConfig {
	return config.OrderConfig{PollInterval: 5 * time.Millisecond, PollAttempts: 100000, SubmitTimeout: time.Second}
}

// liveOrder returns the live order on a leg once it reached the status.
func liveOrder(t *testing.T, e *Engine, role strategy.LegRole, status exec.Status) exec.PendingOrder {
	t.Helper()
	var found exec.PendingOrder
	waitFor(t, e, "BTC", func(s Snapshot) bool {
		for _, o := range s.PendingOrders {
			if o.Role == role && o.Status == status {
				found = o
				return true
			}
		}
		return false
	})
	return found
}

func fill(e *Engine, order exec.PendingOrder, price float64) {
	e.OnOrderEvent(exec.OrderEvent{
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  order.VenueOrderID,
		Status:        exec.StatusFilled,
		FilledQty:     order.Quantity,
		FilledPrice:   price,
	})
}
