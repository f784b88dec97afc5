package engine

import (
	"time"

	"carry-engine/internal/exec"
	"carry-engine/internal/market"
)

// Event is one input to an instrument's stream. The variants are closed to
// this package; handle switches over all of them.
type Event interface {
	event()
}

// PriceUpdate signals that a mid for a routed venue/symbol changed. The price
// itself lives in the cache.
type PriceUpdate struct {
	Venue  string
	Symbol string
	Mid    float64
	At     time.Time
}

type FundingUpdate struct {
	Sample market.FundingSample
}

// OrderUpdate carries a leg order lifecycle event back into its stream.
type OrderUpdate struct {
	Event exec.OrderEvent
}

// Tick drives periodic evaluation and snapshot recording.
type Tick struct {
	At time.Time
}

func (PriceUpdate) event()   {}
func (FundingUpdate) event() {}
func (OrderUpdate) event()   {}
func (Tick) event()          {}
