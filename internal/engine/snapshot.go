package engine

import (
	"time"

	"carry-engine/internal/exec"
	"carry-engine/internal/strategy"
	"carry-engine/internal/timescale"
)

// Snapshot is a read-only copy of one instrument's state, published after
// every event the stream handles.
type Snapshot struct {
	Instrument       string                  `json:"instrument"`
	Phase            strategy.State          `json:"phase"`
	NetDelta         float64                 `json:"net_delta"`
	DeviationPct     float64                 `json:"delta_deviation_pct"`
	Spot             strategy.Leg            `json:"spot"`
	Perp             strategy.Leg            `json:"perp"`
	OpenedAt         time.Time               `json:"opened_at,omitempty"`
	PendingOrders    []exec.PendingOrder     `json:"pending_orders"`
	RecentOrders     []exec.PendingOrder     `json:"recent_orders,omitempty"`
	LastRebalanceAt  time.Time               `json:"last_rebalance_at,omitempty"`
	SpotMid          float64                 `json:"spot_mid,omitempty"`
	PerpMid          float64                 `json:"perp_mid,omitempty"`
	FundingRate      float64                 `json:"funding_rate"`
	FundingAPY       float64                 `json:"funding_apy"`
	PnL              strategy.PnL            `json:"unrealized"`
	ExpectedCarryUSD float64                 `json:"expected_carry_usd"`
	NetProfitUSD     float64                 `json:"net_profit_usd"`
	Stats            strategy.Stats          `json:"stats"`
	History          []strategy.HistoryEntry `json:"history,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

func buildSnapshot(s *stream, at time.Time) Snapshot {
	inst := s.inst
	pos := inst.Position
	delta := strategy.ComputeDelta(pos.Spot, pos.Perp)
	snap := Snapshot{
		Instrument:      inst.Name,
		Phase:           inst.Phase,
		NetDelta:        delta.NetDelta,
		DeviationPct:    delta.DeviationPct,
		Spot:            pos.Spot,
		Perp:            pos.Perp,
		OpenedAt:        pos.OpenedAt,
		PendingOrders:   s.book.Live(),
		RecentOrders:    s.book.Finished(),
		LastRebalanceAt: inst.LastRebalanceAt,
		NetProfitUSD:    inst.Stats.NetProfitUSD(),
		Stats:           inst.Stats,
		History:         append([]strategy.HistoryEntry(nil), inst.History...),
		UpdatedAt:       at,
	}
	mkt := s.mkt
	if mkt.HasSpot {
		snap.SpotMid = mkt.SpotMid
	}
	if mkt.HasPerp {
		snap.PerpMid = mkt.PerpMid
	}
	if mkt.HasFunding {
		snap.FundingRate = mkt.Funding.Rate
		snap.FundingAPY = mkt.FundingAPY()
		if mkt.HasPerp {
			snap.ExpectedCarryUSD = strategy.FundingCarryUSD(pos.Perp, mkt.PerpMid, mkt.Funding.Rate)
		}
	}
	if pos.IsOpen() {
		snap.PnL = strategy.UnrealizedPnL(pos, mkt)
	}
	return snap
}

func positionRecord(snap Snapshot) timescale.PositionSnapshot {
	return timescale.PositionSnapshot{
		Time:          snap.UpdatedAt,
		Instrument:    snap.Instrument,
		Phase:         string(snap.Phase),
		SpotVenue:     snap.Spot.Venue,
		PerpVenue:     snap.Perp.Venue,
		SpotQty:       snap.Spot.SignedQuantity(),
		PerpQty:       snap.Perp.SignedQuantity(),
		SpotEntry:     snap.Spot.AvgEntryPrice,
		PerpEntry:     snap.Perp.AvgEntryPrice,
		SpotMid:       snap.SpotMid,
		PerpMid:       snap.PerpMid,
		FundingRate:   snap.FundingRate,
		FundingAPY:    snap.FundingAPY,
		NetDelta:      snap.NetDelta,
		DeviationPct:  snap.DeviationPct,
		UnrealizedPnL: snap.PnL.Total,
		RealizedPnL:   snap.Stats.RealizedPnL,
		PendingOrders: len(snap.PendingOrders),
	}
}

func orderRecord(order exec.PendingOrder) timescale.OrderRecord {
	return timescale.OrderRecord{
		Time:          order.UpdatedAt,
		Instrument:    order.Instrument,
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  order.VenueOrderID,
		Venue:         order.Venue,
		Symbol:        order.Symbol,
		Role:          string(order.Role),
		Purpose:       string(order.Purpose),
		Side:          order.Side(),
		Quantity:      order.Quantity,
		Status:        string(order.Status),
		FilledQty:     order.FilledQty,
		FilledPrice:   order.FilledPrice,
		Failure:       order.Failure,
		Reason:        order.Reason,
	}
}
