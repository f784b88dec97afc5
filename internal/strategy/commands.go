package strategy

// Command is a decision returned by the evaluators for the order coordinator
// to carry out. The set of variants is closed.
type Command interface {
	command()
}

// OpenPosition opens both legs with the same quantity.
type OpenPosition struct {
	Instrument string
	Quantity   float64
	SpotPrice  float64
	PerpPrice  float64
	YieldAPY   float64
}

// ClosePosition unwinds both legs. Emergency closes also send a close-all
// request for legs that are already flat.
type ClosePosition struct {
	Instrument string
	Emergency  bool
	Reason     string
	PnLPct     float64
}

// Rebalance is a single corrective order on the spot leg.
type Rebalance struct {
	Instrument       string
	IsBuy            bool
	Quantity         float64
	NetDelta         float64
	DeviationPct     float64
	SpotPrice        float64
	EstimatedCostUSD float64
}

func (OpenPosition) command()  {}
func (ClosePosition) command() {}
func (Rebalance) command()     {}

const (
	ReasonFundingDecay = "funding_decay"
	ReasonEmergency    = "emergency_loss"
)
