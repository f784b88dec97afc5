package strategy

import "carry-engine/internal/config"

type Decision struct {
	Delta    DeltaState
	PnL      PnL
	APY      float64
	Commands []Command
}

// Evaluate runs risk, opportunity and rebalance checks in that order against
// one instrument. A close decision ends the evaluation.
func Evaluate(cfg config.EngineConfig, inst Instrument, mkt Market, inflight Inflight) Decision {
	d := Decision{
		Delta: ComputeDelta(inst.Position.Spot, inst.Position.Perp),
		APY:   mkt.FundingAPY(),
	}
	pnl, cmd := EvaluateRisk(cfg, inst, mkt, inflight)
	d.PnL = pnl
	if cmd != nil {
		d.Commands = append(d.Commands, cmd)
		return d
	}
	if cmd := EvaluateOpportunity(cfg, inst, mkt, inflight); cmd != nil {
		d.Commands = append(d.Commands, cmd)
		return d
	}
	if cmd := EvaluateRebalance(cfg, inst, d.Delta, mkt, inflight); cmd != nil {
		d.Commands = append(d.Commands, cmd)
	}
	return d
}
