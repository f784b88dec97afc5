package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"carry-engine/internal/alerts"
	"carry-engine/internal/config"
	"carry-engine/internal/exec"
	"carry-engine/internal/market"
	"carry-engine/internal/metrics"
	"carry-engine/internal/state"
	"carry-engine/internal/strategy"
	"carry-engine/internal/timescale"

	"go.uber.org/zap"
)

const (
	streamBuffer    = 256
	alertTimeout    = 10 * time.Second
	deadLetterLimit = 50
	persistTimeout  = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("engine already running")

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, alert alerts.Alert) error
}

// Recorder receives position samples and finished orders for history.
type Recorder interface {
	EnqueuePosition(timescale.PositionSnapshot)
	EnqueueOrder(timescale.OrderRecord)
}

type Deps struct {
	Cache       *market.Cache
	Coordinator *exec.Coordinator
	Store       state.Store
	Metrics     *metrics.Metrics
	Notifier    Notifier
	Recorder    Recorder
	Logger      *zap.Logger
}

type route struct {
	venue  string
	symbol string
}

// stream owns one instrument. Only its goroutine touches inst and book.
type stream struct {
	inst   *strategy.Instrument
	book   *exec.OrderBook
	events chan Event
	mkt    strategy.Market
	// last funding sample seen, for settling the boundary it announced
	funding market.FundingSample
	// a leg failed since the book was last empty
	failed bool
}

// Engine runs one event stream per target instrument. Feeds and the order
// coordinator push events in; decisions come out as leg orders.
type Engine struct {
	cfg      config.EngineConfig
	cache    *market.Cache
	coord    *exec.Coordinator
	store    state.Store
	metrics  *metrics.Metrics
	notifier Notifier
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time

	streams map[string]*stream
	names   []string
	prices  map[route][]*stream
	funding map[route][]*stream

	ownersMu sync.Mutex
	owners   map[string]*stream

	snapMu    sync.RWMutex
	snapshots map[string]Snapshot

	running atomic.Bool
	stopped chan struct{}
}

// New validates the engine config and builds one flat instrument per target.
// An invalid config fails with an error wrapping config.ErrConfiguration.
func New(cfg config.EngineConfig, deps Deps) (*Engine, error) {
	config.ApplyEngineDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Cache == nil || deps.Coordinator == nil {
		return nil, errors.New("engine requires a market cache and an order coordinator")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		cache:     deps.Cache,
		coord:     deps.Coordinator,
		store:     deps.Store,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		log:       deps.Logger,
		now:       time.Now,
		streams:   make(map[string]*stream, len(cfg.TargetInstruments)),
		prices:    make(map[route][]*stream),
		funding:   make(map[route][]*stream),
		owners:    make(map[string]*stream),
		snapshots: make(map[string]Snapshot, len(cfg.TargetInstruments)),
		stopped:   make(chan struct{}),
	}
	for _, name := range cfg.TargetInstruments {
		spotSymbol, perpSymbol := cfg.SymbolsFor(name)
		pos := strategy.NewPosition(name, cfg.SpotVenue, spotSymbol, cfg.PerpVenue, perpSymbol)
		s := &stream{
			inst:   strategy.NewInstrument(name, pos),
			book:   exec.NewOrderBook(),
			events: make(chan Event, streamBuffer),
		}
		e.streams[name] = s
		e.names = append(e.names, name)
		spot := route{cfg.SpotVenue, spotSymbol}
		perp := route{cfg.PerpVenue, perpSymbol}
		e.prices[spot] = append(e.prices[spot], s)
		if perp != spot {
			e.prices[perp] = append(e.prices[perp], s)
		}
		e.funding[perp] = append(e.funding[perp], s)
		e.publish(s)
	}
	deps.Coordinator.SetSink(e.OnOrderEvent)
	return e, nil
}

func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Instruments lists the target instruments in config order.
func (e *Engine) Instruments() []string {
	return append([]string(nil), e.names...)
}

// OnPriceUpdate stores a mid and wakes the instruments trading it.
func (e *Engine) OnPriceUpdate(venue, symbol string, mid float64) {
	if mid <= 0 {
		return
	}
	at := e.now()
	e.cache.SetMid(venue, symbol, mid, at)
	for _, s := range e.prices[route{venue, symbol}] {
		e.offer(s, PriceUpdate{Venue: venue, Symbol: symbol, Mid: mid, At: at})
	}
}

// OnFundingUpdate replaces the funding sample for venue/symbol.
func (e *Engine) OnFundingUpdate(venue, symbol string, sample market.FundingSample) {
	sample.Venue = venue
	sample.Symbol = symbol
	if sample.SampledAt.IsZero() {
		sample.SampledAt = e.now()
	}
	e.cache.SetFunding(sample)
	for _, s := range e.funding[route{venue, symbol}] {
		e.offer(s, FundingUpdate{Sample: sample})
	}
}

// OnOrderEvent feeds a leg order event into the stream that owns the order.
// Events for orders this engine never issued, or already finished, are dropped.
func (e *Engine) OnOrderEvent(ev exec.OrderEvent) {
	e.ownersMu.Lock()
	s, ok := e.owners[ev.ClientOrderID]
	e.ownersMu.Unlock()
	if !ok {
		e.log.Debug("ignoring event for unknown order", zap.String("cloid", ev.ClientOrderID), zap.String("status", string(ev.Status)))
		return
	}
	e.deliver(s, OrderUpdate{Event: ev})
}

// Snapshot returns the last published state of an instrument.
func (e *Engine) Snapshot(instrument string) (Snapshot, bool) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	snap, ok := e.snapshots[instrument]
	return snap, ok
}

// DeadLetters returns the persisted failed orders of an instrument.
func (e *Engine) DeadLetters(ctx context.Context, instrument string) ([]state.DeadLetter, error) {
	return state.ListDeadLetters(ctx, e.store, instrument, deadLetterLimit)
}

// Run restores persisted instruments, then processes events until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.stopped)
	e.restore(ctx)

	var wg sync.WaitGroup
	for _, name := range e.names {
		s := e.streams[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.loop(ctx, s)
		}()
	}

	var tick <-chan time.Time
	if e.cfg.EvaluationInterval > 0 {
		ticker := time.NewTicker(e.cfg.EvaluationInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-tick:
			at := e.now()
			for _, name := range e.names {
				e.offer(e.streams[name], Tick{At: at})
			}
		}
	}
}

func (e *Engine) loop(ctx context.Context, s *stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			e.handle(ctx, s, ev)
		}
	}
}

// offer enqueues a market or tick event. A full queue drops it: the cache
// already holds the newer value and the next event re-evaluates.
func (e *Engine) offer(s *stream, ev Event) {
	select {
	case s.events <- ev:
	default:
		e.log.Debug("stream busy, dropping event", zap.String("instrument", s.inst.Name))
	}
}

// deliver enqueues an order event. Order events are never dropped while the
// engine runs.
func (e *Engine) deliver(s *stream, ev Event) {
	select {
	case s.events <- ev:
	case <-e.stopped:
	}
}

func (e *Engine) own(clientOrderID string, s *stream) {
	e.ownersMu.Lock()
	e.owners[clientOrderID] = s
	e.ownersMu.Unlock()
}

func (e *Engine) forget(clientOrderID string) {
	e.ownersMu.Lock()
	delete(e.owners, clientOrderID)
	e.ownersMu.Unlock()
}

func (e *Engine) publish(s *stream) {
	snap := buildSnapshot(s, e.now())
	e.snapMu.Lock()
	e.snapshots[s.inst.Name] = snap
	e.snapMu.Unlock()
}

func (e *Engine) persist(ctx context.Context, s *stream) {
	if e.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := state.SaveInstrument(pctx, e.store, *s.inst); err != nil {
		e.log.Warn("failed to persist instrument", zap.String("instrument", s.inst.Name), zap.Error(err))
	}
}

// restore rehydrates legs, cooldown and stats. Venue routing always comes
// from config. Orders that were in flight at shutdown are not restored.
func (e *Engine) restore(ctx context.Context) {
	for _, name := range e.names {
		s := e.streams[name]
		saved, ok, err := state.LoadInstrument(ctx, e.store, name)
		if err != nil {
			e.log.Warn("failed to load instrument", zap.String("instrument", name), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		inst := s.inst
		restoreLeg(&inst.Position.Spot, saved.Position.Spot)
		restoreLeg(&inst.Position.Perp, saved.Position.Perp)
		if saved.Position.Spot.Venue != inst.Position.Spot.Venue || saved.Position.Perp.Venue != inst.Position.Perp.Venue ||
			saved.Position.Spot.Symbol != inst.Position.Spot.Symbol || saved.Position.Perp.Symbol != inst.Position.Perp.Symbol {
			e.log.Warn("persisted legs were routed differently; keeping configured routing",
				zap.String("instrument", name),
				zap.String("spot", saved.Position.Spot.Venue+"/"+saved.Position.Spot.Symbol),
				zap.String("perp", saved.Position.Perp.Venue+"/"+saved.Position.Perp.Symbol),
			)
		}
		inst.Position.OpenedAt = saved.Position.OpenedAt
		inst.LastRebalanceAt = saved.LastRebalanceAt
		inst.Stats = saved.Stats
		inst.History = saved.History
		inst.Phase = saved.Phase
		inst.Hedged = saved.Hedged || saved.Phase == strategy.StateHedgeOK
		if inst.SyncPhase(strategy.Inflight{}) == strategy.StateIdle {
			inst.Hedged = false
		}
		e.log.Info("restored instrument",
			zap.String("instrument", name),
			zap.String("phase", string(inst.Phase)),
			zap.Float64("spot_qty", inst.Position.Spot.SignedQuantity()),
			zap.Float64("perp_qty", inst.Position.Perp.SignedQuantity()),
			zap.Time("last_rebalance_at", inst.LastRebalanceAt),
		)
		if inst.Phase == strategy.StateEnter || inst.Phase == strategy.StateExit {
			e.log.Warn("instrument stopped mid-transition; in-flight orders are not restored", zap.String("instrument", name))
		}
		e.publish(s)
	}
}

func restoreLeg(dst *strategy.Leg, src strategy.Leg) {
	if src.IsFlat() {
		return
	}
	dst.Side = src.Side
	dst.Quantity = src.Quantity
	dst.AvgEntryPrice = src.AvgEntryPrice
}
