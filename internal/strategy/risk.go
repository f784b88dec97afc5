package strategy

import (
	"math"

	"carry-engine/internal/config"
)

type PnL struct {
	Spot  float64 `json:"spot_pnl"`
	Perp  float64 `json:"perp_pnl"`
	Total float64 `json:"total_pnl"`
	Pct   float64 `json:"pnl_pct"`
	Valid bool    `json:"valid"`
}

// UnrealizedPnL marks both legs. A short leg profits as price falls. The
// percentage is taken against the spot cost basis, or the perp basis when the
// spot leg is flat. Valid is false when a held leg has no price or no basis
// exists.
func UnrealizedPnL(pos Position, mkt Market) PnL {
	var out PnL
	if !pos.Spot.IsFlat() {
		if !mkt.HasSpot {
			return PnL{}
		}
		out.Spot = (mkt.SpotMid - pos.Spot.AvgEntryPrice) * pos.Spot.SignedQuantity()
	}
	if !pos.Perp.IsFlat() {
		if !mkt.HasPerp {
			return PnL{}
		}
		out.Perp = (mkt.PerpMid - pos.Perp.AvgEntryPrice) * pos.Perp.SignedQuantity()
	}
	out.Total = out.Spot + out.Perp
	basis := pos.Spot.AvgEntryPrice * math.Abs(pos.Spot.Quantity)
	if basis <= 0 {
		basis = pos.Perp.AvgEntryPrice * math.Abs(pos.Perp.Quantity)
	}
	if basis <= 0 {
		return PnL{}
	}
	out.Pct = out.Total * 100 / basis
	out.Valid = true
	return out
}

// EvaluateRisk returns an emergency close when the loss strictly exceeds the
// configured percentage. The rebalance cooldown never applies here.
func EvaluateRisk(cfg config.EngineConfig, inst Instrument, mkt Market, inflight Inflight) (PnL, Command) {
	if !inst.Position.IsOpen() {
		return PnL{}, nil
	}
	pnl := UnrealizedPnL(inst.Position, mkt)
	if !pnl.Valid || inflight.Closing {
		return pnl, nil
	}
	if pnl.Pct < -cfg.EmergencyExitLossPct {
		return pnl, ClosePosition{
			Instrument: inst.Name,
			Emergency:  true,
			Reason:     ReasonEmergency,
			PnLPct:     pnl.Pct,
		}
	}
	return pnl, nil
}
