package strategy

import (
	"math"
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type LegRole string

const (
	RoleSpot LegRole = "spot"
	RolePerp LegRole = "perp"
)

const flatEpsilon = 1e-9

const maxHistory = 50

// Leg is one side of the paired trade. Quantity is an absolute size; the
// direction is carried by Side. Only confirmed fills mutate it.
type Leg struct {
	Venue         string  `json:"venue"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"average_entry_price"`
}

func (l Leg) SignedQuantity() float64 {
	if l.Side == SideShort {
		return -l.Quantity
	}
	return l.Quantity
}

func (l Leg) IsFlat() bool {
	return math.Abs(l.Quantity) < flatEpsilon
}

// ApplyFill folds a confirmed fill into the leg and returns the P&L realized
// by the part of the fill that reduced the leg. Growing the leg moves the
// weighted-average entry; reducing it keeps the entry; reaching zero resets it.
func (l *Leg) ApplyFill(isBuy bool, qty, price float64) float64 {
	if qty <= 0 || price <= 0 {
		return 0
	}
	signed := l.SignedQuantity()
	delta := qty
	if !isBuy {
		delta = -qty
	}
	next := signed + delta
	held := math.Abs(signed)

	var realized float64
	if held < flatEpsilon || (signed > 0) == (delta > 0) {
		l.AvgEntryPrice = (held*l.AvgEntryPrice + qty*price) / (held + qty)
	} else {
		closed := math.Min(qty, held)
		if signed > 0 {
			realized = closed * (price - l.AvgEntryPrice)
		} else {
			realized = closed * (l.AvgEntryPrice - price)
		}
		if qty > held {
			// crossed through zero: the remainder is a fresh leg at the fill price
			l.AvgEntryPrice = price
		}
	}

	if math.Abs(next) < flatEpsilon {
		l.Quantity = 0
		l.AvgEntryPrice = 0
		return realized
	}
	l.Quantity = math.Abs(next)
	if next > 0 {
		l.Side = SideLong
	} else {
		l.Side = SideShort
	}
	return realized
}

// Position pairs the spot and perp legs of one underlying.
type Position struct {
	Instrument string    `json:"instrument"`
	Spot       Leg       `json:"spot"`
	Perp       Leg       `json:"perp"`
	OpenedAt   time.Time `json:"opened_at,omitempty"`
}

func NewPosition(instrument, spotVenue, spotSymbol, perpVenue, perpSymbol string) Position {
	return Position{
		Instrument: instrument,
		Spot:       Leg{Venue: spotVenue, Symbol: spotSymbol, Side: SideLong},
		Perp:       Leg{Venue: perpVenue, Symbol: perpSymbol, Side: SideShort},
	}
}

// IsOpen reports whether at least one leg holds a quantity.
func (p Position) IsOpen() bool {
	return !p.Spot.IsFlat() || !p.Perp.IsFlat()
}

func (p *Position) Leg(role LegRole) *Leg {
	if role == RolePerp {
		return &p.Perp
	}
	return &p.Spot
}

// Reset destroys both legs while keeping their venue routing.
func (p *Position) Reset() {
	p.Spot = Leg{Venue: p.Spot.Venue, Symbol: p.Spot.Symbol, Side: SideLong}
	p.Perp = Leg{Venue: p.Perp.Venue, Symbol: p.Perp.Symbol, Side: SideShort}
	p.OpenedAt = time.Time{}
}

type Stats struct {
	Opens            int     `json:"opens"`
	Closes           int     `json:"closes"`
	Rebalances       int     `json:"rebalances"`
	EmergencyExits   int     `json:"emergency_exits"`
	RealizedPnL      float64 `json:"realized_pnl"`
	RebalanceCostUSD float64 `json:"rebalance_cost_usd"`
	FundingEarnedUSD float64 `json:"funding_earned_usd"`
}

// NetProfitUSD is the funding collected less the estimated rebalance cost.
func (s Stats) NetProfitUSD() float64 {
	return s.FundingEarnedUSD - s.RebalanceCostUSD
}

type HistoryEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

// Instrument is the per-instrument state owned by exactly one event stream.
type Instrument struct {
	Name            string         `json:"name"`
	Position        Position       `json:"position"`
	Phase           State          `json:"phase"`
	// Hedged is set once both legs filled and cleared when the phase returns
	// to IDLE.
	Hedged          bool           `json:"hedged,omitempty"`
	LastRebalanceAt time.Time      `json:"last_rebalance_at,omitempty"`
	Stats           Stats          `json:"stats"`
	History         []HistoryEntry `json:"history,omitempty"`
}

func NewInstrument(name string, pos Position) *Instrument {
	return &Instrument{Name: name, Position: pos, Phase: StateIdle}
}

func (i *Instrument) Record(at time.Time, action, detail string) {
	i.History = append(i.History, HistoryEntry{At: at, Action: action, Detail: detail})
	if len(i.History) > maxHistory {
		i.History = append([]HistoryEntry(nil), i.History[len(i.History)-maxHistory:]...)
	}
}

// Inflight summarizes the live orders of an instrument for the evaluators.
type Inflight struct {
	Live                 int
	Closing              bool
	RebalanceUnsubmitted bool
}
