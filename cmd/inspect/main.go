// Command inspect prints the persisted engine state, and optionally the live
// funding yield of every target instrument, without starting the engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"carry-engine/internal/config"
	"carry-engine/internal/hl/rest"
	"carry-engine/internal/logging"
	"carry-engine/internal/market"
	"carry-engine/internal/state"
	"carry-engine/internal/state/sqlite"

	"go.uber.org/zap"
)

const deadLetterLimit = 20

type instrumentReport struct {
	Instrument  string             `json:"instrument"`
	Record      any                `json:"record,omitempty"`
	DeadLetters []state.DeadLetter `json:"dead_letters,omitempty"`
	Funding     *fundingReport     `json:"funding,omitempty"`
}

type fundingReport struct {
	Venue  string  `json:"venue"`
	Symbol string  `json:"symbol"`
	Rate   float64 `json:"rate"`
	APY    float64 `json:"apy_pct"`
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	funding := flag.Bool("funding", false, "query current perp funding from the perp venue")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var rates map[string]market.PerpMeta
	if *funding {
		rates = fetchFunding(ctx, cfg, log)
	}

	reports := make([]instrumentReport, 0, len(cfg.Engine.TargetInstruments))
	for _, name := range cfg.Engine.TargetInstruments {
		report := instrumentReport{Instrument: name}
		inst, ok, err := state.LoadInstrument(ctx, store, name)
		if err != nil {
			fatal(err)
		}
		if ok {
			report.Record = inst
		}
		report.DeadLetters, err = state.ListDeadLetters(ctx, store, name, deadLetterLimit)
		if err != nil {
			fatal(err)
		}
		_, perp := cfg.Engine.SymbolsFor(name)
		if meta, ok := rates[perp]; ok {
			report.Funding = &fundingReport{
				Venue:  cfg.Engine.PerpVenue,
				Symbol: perp,
				Rate:   meta.FundingRate,
				APY:    market.Annualize(meta.FundingRate, cfg.Engine.PeriodsPerDay(cfg.Engine.PerpVenue)),
			}
		}
		reports = append(reports, report)
	}
	pretty, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func fetchFunding(ctx context.Context, cfg *config.Config, log *zap.Logger) map[string]market.PerpMeta {
	for _, vc := range cfg.Venues {
		if vc.Name != cfg.Engine.PerpVenue {
			continue
		}
		if vc.Kind != config.VenueKindHyperliquid {
			log.Warn("perp venue has no funding endpoint", zap.String("venue", vc.Name), zap.String("kind", vc.Kind))
			return nil
		}
		if _, ok := cfg.Engine.FundingPeriodsPerDay[vc.Name]; !ok && vc.FundingPeriodsPerDay > 0 {
			if cfg.Engine.FundingPeriodsPerDay == nil {
				cfg.Engine.FundingPeriodsPerDay = make(map[string]float64)
			}
			cfg.Engine.FundingPeriodsPerDay[vc.Name] = vc.FundingPeriodsPerDay
		}
		client := rest.New(vc.RESTURL, vc.Timeout, vc.RequestsPerSecond, log)
		payload, err := client.MetaAndAssetCtxs(ctx)
		if err != nil {
			fatal(err)
		}
		metas, err := market.ParsePerpMeta(payload)
		if err != nil {
			fatal(err)
		}
		return metas
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
