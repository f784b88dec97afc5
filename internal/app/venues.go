package app

import (
	"fmt"
	"strings"

	"carry-engine/internal/config"
	"carry-engine/internal/engine"
	"carry-engine/internal/exec"
	"carry-engine/internal/hl/exchange"
	"carry-engine/internal/hl/rest"
	"carry-engine/internal/hl/ws"
	"carry-engine/internal/market"
	"carry-engine/internal/venue/hyperliquid"
	"carry-engine/internal/venue/paper"

	"go.uber.org/zap"
)

func (a *App) buildVenue(vc config.VenueConfig) (exec.Route, error) {
	log := a.log.With(zap.String("venue", vc.Name))
	switch vc.Kind {
	case config.VenueKindHyperliquid:
		restClient := rest.New(vc.RESTURL, vc.Timeout, vc.RequestsPerSecond, log)
		signer, err := exchange.NewSigner(vc.PrivateKey, vc.Mainnet())
		if err != nil {
			return exec.Route{}, fmt.Errorf("venue %s: %w", vc.Name, err)
		}
		user := accountUser(vc, signer.Address().Hex())
		if vc.AccountAddress != "" && vc.VaultAddress == "" && !strings.EqualFold(vc.AccountAddress, signer.Address().Hex()) {
			log.Warn("account address differs from signer; assuming an agent wallet",
				zap.String("account", vc.AccountAddress),
				zap.String("signer", signer.Address().Hex()),
			)
		}
		exClient, err := exchange.NewClient(vc.RESTURL, vc.Timeout, signer, vc.VaultAddress)
		if err != nil {
			return exec.Route{}, err
		}
		exClient.SetLogger(log)
		a.exchanges = append(a.exchanges, exClient)
		v, err := hyperliquid.New(hyperliquid.Config{
			Name:            vc.Name,
			User:            user,
			SlippageBps:     vc.SlippageBps,
			BreakerFailures: vc.BreakerFailures,
			BreakerTimeout:  vc.BreakerTimeout,
		}, restClient, exClient, a.cache, log)
		if err != nil {
			return exec.Route{}, err
		}
		a.feeds[vc.Name] = market.NewHyperliquidFeed(market.FeedConfig{
			Venue:                vc.Name,
			FundingPollInterval:  vc.FundingPollInterval,
			FundingPeriodsPerDay: vc.FundingPeriodsPerDay,
		}, restClient, ws.New(vc.WSURL, vc.ReconnectDelay, vc.PingInterval, log), log)
		return exec.Route{Signer: v, Venue: v}, nil
	case config.VenueKindPaper:
		v, err := paper.New(paper.Config{Name: vc.Name, SlippageBps: vc.SlippageBps, FeeBps: vc.FeeBps}, a.cache, log)
		if err != nil {
			return exec.Route{}, err
		}
		return exec.Route{Signer: v, Venue: v}, nil
	default:
		return exec.Route{}, fmt.Errorf("venue %s: unknown kind %q", vc.Name, vc.Kind)
	}
}

// accountUser picks the address whose orders and positions are queried.
func accountUser(vc config.VenueConfig, signer string) string {
	switch {
	case vc.VaultAddress != "":
		return vc.VaultAddress
	case vc.AccountAddress != "":
		return vc.AccountAddress
	default:
		return signer
	}
}

// applyFundingPeriods copies each venue's funding cadence into the engine
// unless the engine config already names one.
func applyFundingPeriods(eng *config.EngineConfig, venues []config.VenueConfig) {
	for _, vc := range venues {
		if vc.FundingPeriodsPerDay <= 0 {
			continue
		}
		if _, ok := eng.FundingPeriodsPerDay[vc.Name]; ok {
			continue
		}
		if eng.FundingPeriodsPerDay == nil {
			eng.FundingPeriodsPerDay = make(map[string]float64)
		}
		eng.FundingPeriodsPerDay[vc.Name] = vc.FundingPeriodsPerDay
	}
}

// fanout forwards feed data to the engine under the feed's venue and under
// every venue that prices off it.
type fanout struct {
	engine  *engine.Engine
	mirrors map[string][]string
}

func newFanout(eng *engine.Engine, venues []config.VenueConfig) *fanout {
	mirrors := make(map[string][]string)
	for _, vc := range venues {
		if vc.PriceFeed != "" && vc.PriceFeed != vc.Name {
			mirrors[vc.PriceFeed] = append(mirrors[vc.PriceFeed], vc.Name)
		}
	}
	return &fanout{engine: eng, mirrors: mirrors}
}

func (f *fanout) OnPriceUpdate(venue, symbol string, mid float64) {
	f.engine.OnPriceUpdate(venue, symbol, mid)
	for _, mirror := range f.mirrors[venue] {
		f.engine.OnPriceUpdate(mirror, symbol, mid)
	}
}

func (f *fanout) OnFundingUpdate(venue, symbol string, sample market.FundingSample) {
	f.engine.OnFundingUpdate(venue, symbol, sample)
	for _, mirror := range f.mirrors[venue] {
		f.engine.OnFundingUpdate(mirror, symbol, sample)
	}
}
