package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"carry-engine/internal/alerts"
	"carry-engine/internal/config"
	"carry-engine/internal/engine"
	"carry-engine/internal/exec"
	"carry-engine/internal/hl/exchange"
	"carry-engine/internal/market"
	"carry-engine/internal/metrics"
	"carry-engine/internal/state/sqlite"
	"carry-engine/internal/timescale"

	"go.uber.org/zap"
)

type feed interface {
	Run(ctx context.Context, sink market.Sink) error
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	cache     *market.Cache
	engine    *engine.Engine
	prom      *metrics.Prometheus
	timescale *timescale.Writer
	exchanges []*exchange.Client
	feeds     map[string]feed
	sink      *fanout
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:   cfg,
		log:   log,
		store: store,
		cache: market.NewCache(cfg.Engine.MaxPriceAge),
		feeds: make(map[string]feed),
	}
	if err := a.build(); err != nil {
		_ = store.Close()
		if a.timescale != nil {
			_ = a.timescale.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		m = a.prom.Metrics
	}
	applyFundingPeriods(&cfg.Engine, cfg.Venues)

	routes := make(map[string]exec.Route, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		route, err := a.buildVenue(vc)
		if err != nil {
			return err
		}
		routes[vc.Name] = route
	}
	coord := exec.New(cfg.Orders, routes, a.store, m, a.log)

	deps := engine.Deps{
		Cache:       a.cache,
		Coordinator: coord,
		Store:       a.store,
		Metrics:     m,
		Logger:      a.log,
	}
	if cfg.Telegram.Enabled {
		deps.Notifier = alerts.NewTelegram(cfg.Telegram, a.log)
	}
	if cfg.Timescale.Enabled {
		writer, err := timescale.New(cfg.Timescale, a.log)
		if err != nil {
			return err
		}
		a.timescale = writer
		deps.Recorder = writer
	}
	eng, err := engine.New(cfg.Engine, deps)
	if err != nil {
		return err
	}
	a.engine = eng
	a.sink = newFanout(eng, cfg.Venues)
	for _, vc := range cfg.Venues {
		if vc.Kind == config.VenueKindPaper && vc.PriceFeed == "" {
			a.log.Warn("paper venue has no price_feed; its orders will be rejected", zap.String("venue", vc.Name))
		}
	}
	return nil
}

// Engine exposes the running engine, mainly for tests.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	for _, client := range a.exchanges {
		if err := client.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if st, ok := client.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
		}
	}
	if a.timescale != nil {
		a.timescale.Start(ctx)
		defer a.timescale.Close()
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.prom != nil {
		srv := newServer(a.cfg.Metrics, a.prom, a.engine, a.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.run(ctx)
		}()
	}
	for name, f := range a.feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.Run(ctx, a.sink); err != nil && ctx.Err() == nil {
				a.log.Error("market feed stopped", zap.String("venue", name), zap.Error(err))
			}
		}()
	}
	a.log.Info("engine starting", zap.Strings("instruments", a.engine.Instruments()))
	return a.engine.Run(ctx)
}
