package strategy

import (
	"math"

	"carry-engine/internal/config"
)

// EvaluateOpportunity decides entry on a flat instrument and funding-decay
// exit on an open one. Entry needs the full threshold; exit fires strictly
// below half of it.
func EvaluateOpportunity(cfg config.EngineConfig, inst Instrument, mkt Market, inflight Inflight) Command {
	if !mkt.HasFunding {
		return nil
	}
	apy := mkt.FundingAPY()
	if inst.Position.IsOpen() {
		if inflight.Closing || !(apy < cfg.MinFundingRateAPY/2) {
			return nil
		}
		return ClosePosition{Instrument: inst.Name, Reason: ReasonFundingDecay}
	}
	if inflight.Live > 0 || !mkt.HasSpot || !mkt.HasPerp {
		return nil
	}
	if apy < cfg.MinFundingRateAPY {
		return nil
	}
	avg := (mkt.SpotMid + mkt.PerpMid) / 2
	if avg <= 0 {
		return nil
	}
	notional := math.Min(cfg.MaxPositionSizeUSD, cfg.MaxTotalExposureUSD)
	return OpenPosition{
		Instrument: inst.Name,
		Quantity:   notional / avg,
		SpotPrice:  mkt.SpotMid,
		PerpPrice:  mkt.PerpMid,
		YieldAPY:   apy,
	}
}
