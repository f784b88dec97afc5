package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"carry-engine/internal/hl/ws"

	"go.uber.org/zap"
)

const allMidsChannel = "allMids"

// Sink receives normalized market data.
type Sink interface {
	OnPriceUpdate(venue, symbol string, mid float64)
	OnFundingUpdate(venue, symbol string, sample FundingSample)
}

type InfoClient interface {
	MetaAndAssetCtxs(ctx context.Context) (any, error)
	SpotMeta(ctx context.Context) (any, error)
}

type Stream interface {
	Subscribe(ctx context.Context, sub ws.Subscription) error
	Run(ctx context.Context, handler func(json.RawMessage)) error
}

type FeedConfig struct {
	Venue               string
	FundingPollInterval time.Duration
	// FundingPeriodsPerDay sets the funding grid used for NextFundingAt.
	FundingPeriodsPerDay float64
	// Symbols restricts what is forwarded; empty forwards everything.
	Symbols []string
}

// HyperliquidFeed streams allMids over the websocket and polls
// metaAndAssetCtxs for funding. Spot mids keyed by "@index" are renamed to
// their BASE/QUOTE pair.
type HyperliquidFeed struct {
	cfg    FeedConfig
	info   InfoClient
	stream Stream
	log    *zap.Logger
	now    func() time.Time
	want   map[string]struct{}

	mu        sync.RWMutex
	spotNames map[string]string
}

func NewHyperliquidFeed(cfg FeedConfig, info InfoClient, stream Stream, log *zap.Logger) *HyperliquidFeed {
	if log == nil {
		log = zap.NewNop()
	}
	var want map[string]struct{}
	if len(cfg.Symbols) > 0 {
		want = make(map[string]struct{}, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			want[s] = struct{}{}
		}
	}
	return &HyperliquidFeed{
		cfg:       cfg,
		info:      info,
		stream:    stream,
		log:       log.With(zap.String("venue", cfg.Venue)),
		now:       time.Now,
		want:      want,
		spotNames: make(map[string]string),
	}
}

// Run blocks until ctx ends or the websocket gives up.
func (f *HyperliquidFeed) Run(ctx context.Context, sink Sink) error {
	if err := f.RefreshSpotNames(ctx); err != nil {
		f.log.Warn("spot meta refresh failed; spot mids keep raw names", zap.Error(err))
	}
	if err := f.PollFunding(ctx, sink); err != nil {
		f.log.Warn("funding poll failed", zap.Error(err))
	}
	if err := f.stream.Subscribe(ctx, ws.AllMids()); err != nil {
		return err
	}
	go f.pollLoop(ctx, sink)
	return f.stream.Run(ctx, func(raw json.RawMessage) {
		f.HandleMessage(raw, sink)
	})
}

func (f *HyperliquidFeed) RefreshSpotNames(ctx context.Context) error {
	payload, err := f.info.SpotMeta(ctx)
	if err != nil {
		return err
	}
	metas, err := ParseSpotMeta(payload)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(metas))
	for key, meta := range metas {
		if key == meta.RawName && meta.RawName != meta.Symbol {
			names[meta.RawName] = meta.Symbol
		}
	}
	f.mu.Lock()
	f.spotNames = names
	f.mu.Unlock()
	return nil
}

// HandleMessage forwards the mids of one websocket message.
func (f *HyperliquidFeed) HandleMessage(raw json.RawMessage, sink Sink) {
	msg, err := ws.Decode(raw)
	if err != nil {
		f.log.Debug("dropping undecodable ws message", zap.Error(err))
		return
	}
	if msg.Channel != allMidsChannel {
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		f.log.Debug("dropping malformed allMids push", zap.Error(err))
		return
	}
	mids := ParseMids(payload)
	if len(mids) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for name, mid := range mids {
		symbol := name
		if pair, ok := f.spotNames[name]; ok {
			symbol = pair
		}
		if f.wanted(symbol) {
			sink.OnPriceUpdate(f.cfg.Venue, symbol, mid)
		}
	}
}

// PollFunding fetches one round of perp funding rates.
func (f *HyperliquidFeed) PollFunding(ctx context.Context, sink Sink) error {
	payload, err := f.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return err
	}
	metas, err := ParsePerpMeta(payload)
	if err != nil {
		return err
	}
	now := f.now()
	var next time.Time
	if f.cfg.FundingPeriodsPerDay > 0 {
		interval := time.Duration(float64(24*time.Hour) / f.cfg.FundingPeriodsPerDay)
		next = nextFundingAfter(now, interval)
	}
	for name, meta := range metas {
		if !f.wanted(name) {
			continue
		}
		sink.OnFundingUpdate(f.cfg.Venue, name, FundingSample{
			Venue:         f.cfg.Venue,
			Symbol:        name,
			Rate:          meta.FundingRate,
			SampledAt:     now,
			NextFundingAt: next,
		})
	}
	return nil
}

func (f *HyperliquidFeed) pollLoop(ctx context.Context, sink Sink) {
	if f.cfg.FundingPollInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.cfg.FundingPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.PollFunding(ctx, sink); err != nil && ctx.Err() == nil {
				f.log.Warn("funding poll failed", zap.Error(err))
			}
		}
	}
}

func (f *HyperliquidFeed) wanted(symbol string) bool {
	if f.want == nil {
		return true
	}
	_, ok := f.want[symbol]
	return ok
}
