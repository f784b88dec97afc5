package strategy

import (
	"math"
	"time"

	"carry-engine/internal/config"
)

// CooldownElapsed reports whether a rebalance may fire at now.
func CooldownElapsed(cfg config.EngineConfig, last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= cfg.RebalanceCooldown()
}

// EvaluateRebalance returns a half-size spot correction when the deviation
// reaches the threshold and the cooldown has elapsed.
func EvaluateRebalance(cfg config.EngineConfig, inst Instrument, delta DeltaState, mkt Market, inflight Inflight) Command {
	pos := inst.Position
	if !pos.IsOpen() || pos.Spot.IsFlat() || pos.Perp.IsFlat() {
		return nil
	}
	if inflight.Closing || inflight.RebalanceUnsubmitted {
		return nil
	}
	if !CooldownElapsed(cfg, inst.LastRebalanceAt, mkt.Now) {
		return nil
	}
	if delta.DeviationPct < cfg.RebalanceThresholdPct {
		return nil
	}
	amount := math.Abs(delta.NetDelta) / 2
	if amount < flatEpsilon {
		return nil
	}
	var price float64
	if mkt.HasSpot {
		price = mkt.SpotMid
	}
	return Rebalance{
		Instrument:       inst.Name,
		IsBuy:            delta.NetDelta < 0,
		Quantity:         amount,
		NetDelta:         delta.NetDelta,
		DeviationPct:     delta.DeviationPct,
		SpotPrice:        price,
		EstimatedCostUSD: RebalanceCostUSD(amount, price, cfg.RebalanceCostBpsValue()),
	}
}
