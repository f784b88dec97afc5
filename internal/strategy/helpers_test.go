package strategy

import (
	"time"

	"carry-engine/internal/config"
	"carry-engine/internal/market"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.EngineConfig {
	cfg := config.EngineConfig{
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
	}
	config.ApplyEngineDefaults(&cfg)
	return cfg
}

func testMarket(spot, perp, rate float64) Market {
	return Market{
		Now:           testNow,
		SpotMid:       spot,
		HasSpot:       spot > 0,
		PerpMid:       perp,
		HasPerp:       perp > 0,
		Funding:       market.FundingSample{Venue: "PERP", Symbol: "BTC", Rate: rate, SampledAt: testNow},
		HasFunding:    true,
		PeriodsPerDay: 3,
	}
}

func openInstrument(spotQty, spotPx, perpQty, perpPx float64) Instrument {
	inst := NewInstrument("BTC", NewPosition("BTC", "SPOT", "BTC", "PERP", "BTC"))
	inst.Position.Spot.ApplyFill(true, spotQty, spotPx)
	inst.Position.Perp.ApplyFill(false, perpQty, perpPx)
	return *inst
}
