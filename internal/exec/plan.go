package exec

import (
	"math"

	"carry-engine/internal/strategy"
)

const sizeEpsilon = 1e-9

// Plan is the set of actions a command turns into.
type Plan struct {
	Orders []PendingOrder
	// CloseAll lists flat legs that still get a best-effort close-all request.
	CloseAll []strategy.Leg
}

// Plan turns a strategy command into leg orders. Open sends both legs,
// close reduces every held leg, and rebalance trades the spot leg only.
// live is the instrument's book; a close only covers what its live orders
// leave on each leg.
func (c *Coordinator) Plan(cmd strategy.Command, inst strategy.Instrument, mkt strategy.Market, live []PendingOrder) Plan {
	pos := inst.Position
	switch cmd := cmd.(type) {
	case strategy.OpenPosition:
		return Plan{Orders: []PendingOrder{
			c.newOrder(inst.Name, pos.Spot, strategy.RoleSpot, PurposeOpen, true, cmd.Quantity, cmd.SpotPrice, false),
			c.newOrder(inst.Name, pos.Perp, strategy.RolePerp, PurposeOpen, false, cmd.Quantity, cmd.PerpPrice, false),
		}}
	case strategy.ClosePosition:
		var plan Plan
		legs := []struct {
			leg   strategy.Leg
			role  strategy.LegRole
			price float64
			ok    bool
		}{
			{pos.Spot, strategy.RoleSpot, mkt.SpotMid, mkt.HasSpot},
			{pos.Perp, strategy.RolePerp, mkt.PerpMid, mkt.HasPerp},
		}
		for _, l := range legs {
			if l.leg.IsFlat() {
				if cmd.Emergency {
					plan.CloseAll = append(plan.CloseAll, l.leg)
				}
				continue
			}
			qty := closeSize(l.leg, l.role, live)
			if qty < sizeEpsilon {
				continue
			}
			price := l.leg.AvgEntryPrice
			if l.ok {
				price = l.price
			}
			isBuy := l.leg.Side == strategy.SideShort
			plan.Orders = append(plan.Orders, c.newOrder(inst.Name, l.leg, l.role, PurposeClose, isBuy, qty, price, l.role == strategy.RolePerp))
		}
		return plan
	case strategy.Rebalance:
		price := cmd.SpotPrice
		if price <= 0 {
			price = pos.Spot.AvgEntryPrice
		}
		return Plan{Orders: []PendingOrder{
			c.newOrder(inst.Name, pos.Spot, strategy.RoleSpot, PurposeRebalance, cmd.IsBuy, cmd.Quantity, price, false),
		}}
	}
	return Plan{}
}

// closeSize is what is left on a held leg once its live non-close orders
// fill. Zero when they already take the leg flat or through it.
func closeSize(leg strategy.Leg, role strategy.LegRole, live []PendingOrder) float64 {
	held := leg.SignedQuantity()
	net := held
	for _, o := range live {
		if o.Role != role || o.Purpose == PurposeClose || o.Status.Terminal() {
			continue
		}
		if o.IsBuy {
			net += o.Quantity
		} else {
			net -= o.Quantity
		}
	}
	if net*held <= 0 {
		return 0
	}
	return math.Abs(net)
}

func (c *Coordinator) newOrder(instrument string, leg strategy.Leg, role strategy.LegRole, purpose Purpose, isBuy bool, qty, price float64, reduceOnly bool) PendingOrder {
	now := c.now()
	return PendingOrder{
		ClientOrderID: c.newID(),
		Instrument:    instrument,
		Venue:         leg.Venue,
		Symbol:        leg.Symbol,
		Role:          role,
		Purpose:       purpose,
		IsBuy:         isBuy,
		Quantity:      qty,
		RefPrice:      price,
		ReduceOnly:    reduceOnly,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
