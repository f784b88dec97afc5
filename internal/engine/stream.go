package engine

import (
	"context"
	"fmt"
	"time"

	"carry-engine/internal/alerts"
	"carry-engine/internal/exec"
	"carry-engine/internal/market"
	"carry-engine/internal/strategy"

	"go.uber.org/zap"
)

// handle processes one event to completion. Order updates are folded in
// before the instrument is re-evaluated, so every decision sees the latest
// confirmed legs.
func (e *Engine) handle(ctx context.Context, s *stream, ev Event) {
	dirty := false
	record := false
	switch ev := ev.(type) {
	case PriceUpdate:
	case FundingUpdate:
		dirty = e.accrueFunding(s, ev.Sample)
	case OrderUpdate:
		dirty = e.applyOrder(s, ev.Event)
	case Tick:
		record = true
	default:
		e.log.Warn("unhandled engine event", zap.String("instrument", s.inst.Name), zap.String("type", fmt.Sprintf("%T", ev)))
		return
	}
	if e.syncPhase(s) {
		dirty = true
	}
	if e.evaluate(ctx, s) {
		dirty = true
	}
	if e.syncPhase(s) {
		dirty = true
	}
	if dirty {
		e.persist(ctx, s)
	}
	e.publish(s)
	if record && e.recorder != nil {
		snap, _ := e.Snapshot(s.inst.Name)
		e.recorder.EnqueuePosition(positionRecord(snap))
	}
}

// syncPhase advances the lifecycle from the legs and live orders. A position
// counts as opened when it first becomes hedged, and as closed when a hedged
// position gets back to IDLE. Legs that go flat while a sibling order is
// still live count as neither.
func (e *Engine) syncPhase(s *stream) bool {
	inst := s.inst
	prev := inst.Phase
	next := inst.SyncPhase(s.book.Inflight())
	if next == prev {
		return false
	}
	at := e.now()
	switch {
	case next == strategy.StateHedgeOK && !inst.Hedged:
		inst.Hedged = true
		inst.Stats.Opens++
		e.metrics.PositionsOpened.Inc()
		pos := inst.Position
		detail := fmt.Sprintf("spot %.8g @ %.8g perp %.8g @ %.8g",
			pos.Spot.SignedQuantity(), pos.Spot.AvgEntryPrice, pos.Perp.SignedQuantity(), pos.Perp.AvgEntryPrice)
		inst.Record(at, "open", detail)
		e.alert(alerts.KindOpened, inst.Name, detail)
	case next == strategy.StateIdle && inst.Hedged:
		inst.Hedged = false
		inst.Stats.Closes++
		e.metrics.PositionsClosed.Inc()
		detail := fmt.Sprintf("realized_pnl=%.2f funding=%.2f", inst.Stats.RealizedPnL, inst.Stats.FundingEarnedUSD)
		inst.Record(at, "close", detail)
		e.alert(alerts.KindClosed, inst.Name, detail)
	}
	e.log.Info("phase changed", zap.String("instrument", inst.Name), zap.String("from", string(prev)), zap.String("to", string(next)))
	return true
}

// accrueFunding settles the funding boundary the previous sample announced
// once a sample taken at or after it arrives. The carry uses the previous
// sample's rate on the perp leg held at that moment.
func (e *Engine) accrueFunding(s *stream, sample market.FundingSample) bool {
	prev := s.funding
	s.funding = sample
	if prev.NextFundingAt.IsZero() || sample.SampledAt.Before(prev.NextFundingAt) {
		return false
	}
	inst := s.inst
	perp := inst.Position.Perp
	if perp.IsFlat() {
		return false
	}
	mark, ok := e.cache.Mid(perp.Venue, perp.Symbol)
	if !ok {
		mark = perp.AvgEntryPrice
	}
	earned := strategy.FundingCarryUSD(perp, mark, prev.Rate)
	if earned == 0 {
		return false
	}
	inst.Stats.FundingEarnedUSD += earned
	inst.Record(prev.NextFundingAt, "funding", fmt.Sprintf("rate=%.6g earned=%.4f", prev.Rate, earned))
	e.log.Info("funding settled",
		zap.String("instrument", inst.Name),
		zap.Float64("rate", prev.Rate),
		zap.Float64("earned_usd", earned),
		zap.Float64("total_usd", inst.Stats.FundingEarnedUSD),
	)
	return true
}

// applyOrder folds an order event into the instrument and reacts to what
// changed. It reports whether anything was applied.
func (e *Engine) applyOrder(s *stream, ev exec.OrderEvent) bool {
	inst := s.inst
	up := e.coord.Apply(inst, s.book, ev)
	if !up.Applied {
		return false
	}
	order := up.Order
	at := order.UpdatedAt
	switch order.Status {
	case exec.StatusSubmitted:
		if order.Purpose == exec.PurposeRebalance {
			// submission, not the fill, starts the cooldown
			cost := strategy.RebalanceCostUSD(order.Quantity, order.RefPrice, e.cfg.RebalanceCostBpsValue())
			inst.LastRebalanceAt = at
			inst.Stats.Rebalances++
			inst.Stats.RebalanceCostUSD += cost
			e.metrics.Rebalances.Inc()
			inst.Record(at, "rebalance", fmt.Sprintf("%s %.8g %s est_cost=%.2f", order.Side(), order.Quantity, order.Symbol, cost))
			e.log.Info("rebalance submitted",
				zap.String("instrument", inst.Name),
				zap.String("side", order.Side()),
				zap.Float64("qty", order.Quantity),
				zap.Float64("est_cost_usd", cost),
			)
		}
	case exec.StatusFilled:
		e.log.Info("leg filled",
			zap.String("instrument", inst.Name),
			zap.String("cloid", order.ClientOrderID),
			zap.String("leg", string(order.Role)),
			zap.String("purpose", string(order.Purpose)),
			zap.String("side", order.Side()),
			zap.Float64("qty", order.FilledQty),
			zap.Float64("price", order.FilledPrice),
			zap.Float64("realized", up.Realized),
		)
		if up.Flattened {
			inst.Position.Reset()
		}
	case exec.StatusRejected, exec.StatusTimedOut:
		s.failed = true
		inst.Record(at, "order_failed", fmt.Sprintf("%s %s leg %s: %s", order.Purpose, order.Role, order.Failure, order.Reason))
	}
	if order.Status.Terminal() {
		e.forget(order.ClientOrderID)
		if e.recorder != nil {
			e.recorder.EnqueueOrder(orderRecord(order))
		}
		if len(s.book.Live()) == 0 {
			e.checkImbalance(s, at)
		}
	}
	return true
}

// checkImbalance surfaces a one-sided position left behind by a failed leg.
// It is never corrected here.
func (e *Engine) checkImbalance(s *stream, at time.Time) {
	if !s.failed {
		return
	}
	s.failed = false
	inst := s.inst
	if !inst.Position.IsOpen() {
		return
	}
	delta := strategy.ComputeDelta(inst.Position.Spot, inst.Position.Perp)
	if delta.DeviationPct < e.cfg.RebalanceThresholdPct {
		return
	}
	detail := fmt.Sprintf("net_delta=%.8g deviation=%.2f%%", delta.NetDelta, delta.DeviationPct)
	inst.Record(at, "imbalance", detail)
	e.log.Warn("leg imbalance after failed order",
		zap.String("instrument", inst.Name),
		zap.Float64("net_delta", delta.NetDelta),
		zap.Float64("deviation_pct", delta.DeviationPct),
	)
	e.alert(alerts.KindImbalance, inst.Name, detail)
}

// evaluate runs the decision functions against the cache and executes the
// commands they return. It reports whether any command was issued.
func (e *Engine) evaluate(ctx context.Context, s *stream) bool {
	inst := s.inst
	mkt := e.marketView(inst.Position)
	s.mkt = mkt
	d := strategy.Evaluate(e.cfg, *inst, mkt, s.book.Inflight())

	e.metrics.NetDelta.Set(inst.Name, d.Delta.NetDelta)
	e.metrics.DeltaDeviation.Set(inst.Name, d.Delta.DeviationPct)
	if mkt.HasFunding {
		e.metrics.FundingAPY.Set(inst.Name, d.APY)
	}
	if d.PnL.Valid {
		e.metrics.UnrealizedPnL.Set(inst.Name, d.PnL.Total)
	}

	for _, cmd := range d.Commands {
		e.execute(ctx, s, cmd, mkt)
	}
	return len(d.Commands) > 0
}

func (e *Engine) marketView(pos strategy.Position) strategy.Market {
	mkt := strategy.Market{
		Now:           e.now(),
		PeriodsPerDay: e.cfg.PeriodsPerDay(pos.Perp.Venue),
	}
	mkt.SpotMid, mkt.HasSpot = e.cache.Mid(pos.Spot.Venue, pos.Spot.Symbol)
	mkt.PerpMid, mkt.HasPerp = e.cache.Mid(pos.Perp.Venue, pos.Perp.Symbol)
	mkt.Funding, mkt.HasFunding = e.cache.Funding(pos.Perp.Venue, pos.Perp.Symbol)
	return mkt
}

func (e *Engine) execute(ctx context.Context, s *stream, cmd strategy.Command, mkt strategy.Market) {
	inst := s.inst
	at := mkt.Now
	switch cmd := cmd.(type) {
	case strategy.OpenPosition:
		inst.Apply(strategy.EventEnter)
		inst.Record(at, "enter", fmt.Sprintf("qty=%.8g apy=%.2f%%", cmd.Quantity, cmd.YieldAPY))
		e.log.Info("opening position",
			zap.String("instrument", inst.Name),
			zap.Float64("qty", cmd.Quantity),
			zap.Float64("spot_mid", cmd.SpotPrice),
			zap.Float64("perp_mid", cmd.PerpPrice),
			zap.Float64("funding_apy", cmd.YieldAPY),
		)
	case strategy.ClosePosition:
		inst.Apply(strategy.EventExit)
		if cmd.Emergency {
			inst.Stats.EmergencyExits++
			e.metrics.EmergencyExits.Inc()
			detail := fmt.Sprintf("pnl=%.2f%%", cmd.PnLPct)
			inst.Record(at, "emergency_exit", detail)
			e.alert(alerts.KindEmergency, inst.Name, detail)
			e.log.Warn("emergency exit", zap.String("instrument", inst.Name), zap.Float64("pnl_pct", cmd.PnLPct))
		} else {
			inst.Record(at, "exit", cmd.Reason)
			e.log.Info("closing position", zap.String("instrument", inst.Name), zap.String("reason", cmd.Reason))
		}
	case strategy.Rebalance:
		e.log.Info("rebalancing",
			zap.String("instrument", inst.Name),
			zap.Bool("buy", cmd.IsBuy),
			zap.Float64("qty", cmd.Quantity),
			zap.Float64("net_delta", cmd.NetDelta),
			zap.Float64("deviation_pct", cmd.DeviationPct),
		)
	}

	plan := e.coord.Plan(cmd, *inst, mkt, s.book.Live())
	for _, order := range plan.Orders {
		s.book.Add(order)
		e.own(order.ClientOrderID, s)
		e.coord.Submit(ctx, order)
	}
	for _, leg := range plan.CloseAll {
		e.coord.CloseAll(ctx, leg)
	}
}

func (e *Engine) alert(kind alerts.Kind, instrument, detail string) {
	if e.notifier == nil {
		return
	}
	a := alerts.Alert{Kind: kind, Instrument: instrument, Detail: detail}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, a); err != nil {
			e.log.Warn("alert failed", zap.String("instrument", instrument), zap.String("kind", string(kind)), zap.Error(err))
		}
	}()
}
